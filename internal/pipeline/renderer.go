package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/refcheck/internal/model"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Debug artifact names
const (
	ConversionArtifact = "conversion_output.json"
	ValidationArtifact = "validation_output.json"
)

const footer = "Verdicts are produced by a language model reading the reference documents. Review the quoted evidence before relying on a verdict."

// Renderer writes run reports
type Renderer struct {
	includeFooter bool
}

// NewRenderer creates a new renderer
func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter}
}

// RenderJSON writes the full report as indented JSON
func (r *Renderer) RenderJSON(report *model.RunReport, path string) error {
	return writeJSON(path, report)
}

// RenderMarkdown writes the Markdown report
func (r *Renderer) RenderMarkdown(report *model.RunReport, path string) error {
	return writeFile(path, []byte(r.Markdown(report)))
}

// RenderHTML converts the Markdown report to a standalone HTML page
func (r *Renderer) RenderHTML(report *model.RunReport, path string) error {
	var body bytes.Buffer
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(r.Markdown(report)), &body); err != nil {
		return fmt.Errorf("markdown convert: %w", err)
	}

	page := "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(report.JobName) + " | refcheck</title>" +
		"<style>body{font-family:system-ui,sans-serif;max-width:1100px;margin:2rem auto;padding:0 1rem;color:#1c1917;} " +
		"table{border-collapse:collapse;width:100%;font-size:0.85rem;} th,td{border:1px solid #d6d3d1;padding:0.3rem 0.45rem;text-align:left;vertical-align:top;} " +
		"thead th{background:#f5f5f4;} code{font-size:0.85em;}</style></head><body>" +
		body.String() +
		"</body></html>"
	return writeFile(path, []byte(page))
}

// WriteArtifacts writes the grouped input view and the expanded result view into dir
func (r *Renderer) WriteArtifacts(report *model.RunReport, dir string) ([]string, error) {
	conversion := filepath.Join(dir, ConversionArtifact)
	if err := writeJSON(conversion, report.Groups); err != nil {
		return nil, err
	}
	validation := filepath.Join(dir, ValidationArtifact)
	if err := writeJSON(validation, report.Results); err != nil {
		return nil, err
	}
	return []string{conversion, validation}, nil
}

// Markdown builds the Markdown report
func (r *Renderer) Markdown(report *model.RunReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Reference validation: %s\n\n", report.JobName)
	fmt.Fprintf(&b, "- **Run:** `%s`\n", report.RunID)
	fmt.Fprintf(&b, "- **Mode:** %s\n", report.Mode)
	fmt.Fprintf(&b, "- **Backend:** %s %s\n", report.Provider, report.Model)
	fmt.Fprintf(&b, "- **Started:** %s\n", report.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Duration:** %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Second))
	fmt.Fprintf(&b, "- **Reference documents:** %d\n\n", len(report.Documents))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Verdict | Rows |\n|---|---|\n")
	for _, v := range sortedVerdicts(report.Summary.ByVerdict) {
		fmt.Fprintf(&b, "| %s | %d |\n", v, report.Summary.ByVerdict[v])
	}
	fmt.Fprintf(&b, "| **Total** | **%d** |\n\n", report.Summary.Total)
	fmt.Fprintf(&b, "Average confidence: **%.2f**\n\n", report.Summary.AverageConfidence)

	b.WriteString("## Results\n\n")
	b.WriteString("| # | Statement | Ref | Verdict | Confidence | Matched paper |\n|---|---|---|---|---|---|\n")
	for i, rec := range report.Results {
		conf := fmt.Sprintf("%.2f", rec.ConfidenceScore)
		if rec.ConfidenceBand != "" {
			conf += " (" + string(rec.ConfidenceBand) + ")"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n",
			i+1, cell(rec.Statement, 160), cell(rec.ReferenceNo, 20), rec.ValidationResult, conf, cell(rec.MatchedPaper, 60))
	}
	b.WriteString("\n")

	b.WriteString("## Evidence\n\n")
	seen := make(map[string]bool)
	for _, rec := range report.Results {
		if seen[rec.Statement] || rec.MatchedEvidence == "" {
			continue
		}
		seen[rec.Statement] = true

		fmt.Fprintf(&b, "### %s\n\n", oneLine(rec.Statement))
		fmt.Fprintf(&b, "**%s** via %s", rec.ValidationResult, rec.MatchingMethod)
		if rec.PageLocation != "" {
			fmt.Fprintf(&b, ", %s", oneLine(rec.PageLocation))
		}
		b.WriteString("\n\n")
		for _, line := range strings.Split(rec.MatchedEvidence, "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
		b.WriteString("\n")
		if rec.AnalysisSummary != "" {
			fmt.Fprintf(&b, "%s\n\n", rec.AnalysisSummary)
		}
	}

	if r.includeFooter {
		b.WriteString("---\n\n")
		b.WriteString("_" + footer + "_\n")
	}

	return b.String()
}

// RenderSummary prints verdict counts to w
func (r *Renderer) RenderSummary(w io.Writer, report *model.RunReport) {
	fmt.Fprintf(w, "\n%s (%s)\n", report.JobName, report.RunID)
	fmt.Fprintf(w, "  Rows:               %d\n", report.Summary.Total)
	for _, v := range sortedVerdicts(report.Summary.ByVerdict) {
		fmt.Fprintf(w, "  %-19s %d\n", string(v)+":", report.Summary.ByVerdict[v])
	}
	fmt.Fprintf(w, "  Average confidence: %.2f\n", report.Summary.AverageConfidence)
}

// sortedVerdicts orders verdicts by aggregation priority, placeholders last
func sortedVerdicts(counts map[model.Verdict]int) []model.Verdict {
	out := make([]model.Verdict, 0, len(counts))
	for v := range counts {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank() != out[j].Rank() {
			return out[i].Rank() < out[j].Rank()
		}
		return out[i] < out[j]
	})
	return out
}

func cell(s string, max int) string {
	s = oneLine(s)
	if r := []rune(s); len(r) > max {
		s = string(r[:max]) + "…"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
