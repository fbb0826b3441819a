package model

import (
	"math"
	"time"
)

// RunReport is the complete output of one validation job
type RunReport struct {
	JobName    string          `json:"job_name"`
	RunID      string          `json:"run_id"`
	Mode       string          `json:"mode"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Documents  []string        `json:"documents"`           // Reference document names available to the job
	Groups     []GroupView     `json:"groups,omitempty"`    // Grouped input view
	Results    []VerdictRecord `json:"results"`             // One per input row, in input order
	Summary    Summary         `json:"summary"`
}

// GroupView is one unique statement with the union of its reference tokens
type GroupView struct {
	Statement    string   `json:"statement"`
	ReferenceNos []string `json:"reference_nos"` // Distinct tokens, first-seen order
	Combined     string   `json:"combined_reference_no"`
	Reference    string   `json:"reference"`
	PageNo       string   `json:"page_no,omitempty"`
	Rows         []int    `json:"rows"` // Indices of the input rows sharing this statement
}

// Summary holds per-run verdict statistics
type Summary struct {
	Total             int             `json:"total"`
	ByVerdict         map[Verdict]int `json:"by_verdict"`
	AverageConfidence float64         `json:"average_confidence"`
}

// Summarize computes verdict counts and the mean confidence of results
func Summarize(results []VerdictRecord) Summary {
	s := Summary{
		Total:     len(results),
		ByVerdict: make(map[Verdict]int),
	}
	if len(results) == 0 {
		return s
	}

	var sum float64
	for _, r := range results {
		s.ByVerdict[r.ValidationResult]++
		sum += r.ConfidenceScore
	}
	s.AverageConfidence = math.Round(sum/float64(len(results))*100) / 100
	return s
}
