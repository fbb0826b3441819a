package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ppiankov/refcheck/internal/model"
)

// ErrUnparseable is returned when a backend reply holds no usable JSON verdict
var ErrUnparseable = errors.New("unparseable LLM response")

// backendVerdict is the normalized content of one backend reply
type backendVerdict struct {
	Verdict         model.Verdict
	MatchedEvidence string
	PageLocation    string
	Confidence      float64
	AnalysisSummary string
}

// parseResponse decodes a backend reply. Code fences are stripped and, if the
// reply is not pure JSON, the outermost {...} span is tried.
func parseResponse(text string) (backendVerdict, error) {
	clean := stripCodeFences(text)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		start := strings.Index(clean, "{")
		end := strings.LastIndex(clean, "}")
		if start < 0 || end <= start {
			return backendVerdict{}, fmt.Errorf("%w: no JSON object", ErrUnparseable)
		}
		if err := json.Unmarshal([]byte(clean[start:end+1]), &raw); err != nil {
			return backendVerdict{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
		}
	}

	verdictText := flexText(raw["validation_result"], ", ")
	if verdictText == "" {
		return backendVerdict{}, fmt.Errorf("%w: missing validation_result", ErrUnparseable)
	}
	verdict, err := model.ParseVerdict(verdictText)
	if err != nil {
		return backendVerdict{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	return backendVerdict{
		Verdict:         verdict,
		MatchedEvidence: flexText(raw["matched_evidence"], " | "),
		PageLocation:    flexText(raw["page_location"], ", "),
		Confidence:      flexConfidence(raw["confidence_score"]),
		AnalysisSummary: flexText(raw["analysis_summary"], " "),
	}, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

// flexText reads a string, number or list of those, joining list items with sep
func flexText(raw json.RawMessage, sep string) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var parts []string
		for _, item := range list {
			if p := flexText(item, sep); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, sep)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	return strings.TrimSpace(string(raw))
}

// flexConfidence reads 0.85, "0.85", "85%" or 85 as a score in [0, 1]
func flexConfidence(raw json.RawMessage) float64 {
	text := strings.TrimSpace(flexText(raw, ""))
	if text == "" {
		return 0
	}

	percent := strings.HasSuffix(text, "%")
	text = strings.TrimSpace(strings.TrimSuffix(text, "%"))

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0
	}
	if percent || (v > 1 && v <= 100) {
		v /= 100
	}
	return clamp(v)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
