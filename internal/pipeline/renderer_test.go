package pipeline

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/refcheck/internal/model"
)

func testReport() *model.RunReport {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	results := []model.VerdictRecord{
		{
			Statement:        "Drug X is stable | at pH 4.5",
			ReferenceNo:      "1,2",
			Reference:        "Smith 2020",
			MatchedPaper:     "Multiple PDFs (1/2 support)",
			MatchedEvidence:  "- 1. Smith 2020.pdf: remained stable",
			ValidationResult: model.VerdictSupported,
			PageLocation:     "Page 3",
			ConfidenceScore:  0.9,
			MatchingMethod:   "Aggregated (Supported)",
			AnalysisSummary:  "Consolidated results from 2 sources",
			ConfidenceBand:   model.BandHigh,
		},
		{
			Statement:        "Compound Z degrades",
			ReferenceNo:      "4",
			MatchedPaper:     "N/A",
			MatchedEvidence:  "No matching reference PDF was found for the extraction: 4",
			ValidationResult: model.VerdictReferenceMissing,
			MatchingMethod:   "Reference Filter",
		},
	}
	return &model.RunReport{
		JobName:    "brochure",
		RunID:      "run-1",
		Mode:       "research",
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Documents:  []string{"1. Smith 2020.pdf", "2. Jones 2019.pdf"},
		Groups:     []model.GroupView{{Statement: "Drug X is stable | at pH 4.5", ReferenceNos: []string{"1", "2"}, Combined: "1,2", Rows: []int{0}}},
		Results:    results,
		Summary:    model.Summarize(results),
	}
}

func TestRenderer_Markdown(t *testing.T) {
	md := NewRenderer(true).Markdown(testReport())

	for _, want := range []string{
		"# Reference validation: brochure",
		"| Supported | 1 |",
		"| Reference Missing | 1 |",
		"| **Total** | **2** |",
		`Drug X is stable \| at pH 4.5`,
		"0.90 (HIGH)",
		"> - 1. Smith 2020.pdf: remained stable",
		"**Supported** via Aggregated (Supported), Page 3",
		footer,
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}

	// Supported sorts before placeholder verdicts
	if strings.Index(md, "| Supported |") > strings.Index(md, "| Reference Missing |") {
		t.Error("summary rows out of priority order")
	}

	if strings.Contains(NewRenderer(false).Markdown(testReport()), footer) {
		t.Error("footer should be omitted")
	}
}

func TestRenderer_Files(t *testing.T) {
	dir := t.TempDir()
	r := NewRenderer(false)
	report := testReport()

	if err := r.RenderJSON(report, filepath.Join(dir, "report.json")); err != nil {
		t.Fatalf("RenderJSON() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded model.RunReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report.json is not valid JSON: %v", err)
	}
	if decoded.RunID != "run-1" || len(decoded.Results) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}

	if err := r.RenderHTML(report, filepath.Join(dir, "nested", "report.html")); err != nil {
		t.Fatalf("RenderHTML() error: %v", err)
	}
	page, err := os.ReadFile(filepath.Join(dir, "nested", "report.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(page, []byte("<table>")) || !bytes.Contains(page, []byte("<title>brochure | refcheck</title>")) {
		t.Error("HTML report should contain a rendered table and title")
	}

	paths, err := r.WriteArtifacts(report, dir)
	if err != nil {
		t.Fatalf("WriteArtifacts() error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}
	var groups []model.GroupView
	data, _ = os.ReadFile(filepath.Join(dir, ConversionArtifact))
	if err := json.Unmarshal(data, &groups); err != nil || len(groups) != 1 || groups[0].Combined != "1,2" {
		t.Errorf("conversion artifact = %s (%v)", data, err)
	}
}

func TestRenderer_Summary(t *testing.T) {
	var buf bytes.Buffer
	NewRenderer(false).RenderSummary(&buf, testReport())
	out := buf.String()
	if !strings.Contains(out, "brochure (run-1)") || !strings.Contains(out, "Supported:") || !strings.Contains(out, "Average confidence: 0.45") {
		t.Errorf("summary = %q", out)
	}
}

func TestCell(t *testing.T) {
	if got := cell("a\n b | c", 100); got != `a b \| c` {
		t.Errorf("cell() = %q", got)
	}
	if got := cell("abcdef", 3); got != "abc…" {
		t.Errorf("cell() = %q", got)
	}
}
