package model

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// VerdictRecord is the result of validating one statement, either against a single
// reference document or aggregated across several
type VerdictRecord struct {
	Statement        string         `json:"statement" db:"statement"`
	ReferenceNo      string         `json:"reference_no" db:"reference_no"`
	Reference        string         `json:"reference" db:"reference"`
	MatchedPaper     string         `json:"matched_paper" db:"matched_paper"`         // Filename, or "Multiple PDFs (k/n support)"
	MatchedEvidence  string         `json:"matched_evidence" db:"matched_evidence"`   // Verbatim quotes joined by " | "
	ValidationResult Verdict        `json:"validation_result" db:"validation_result" validate:"verdict"`
	PageLocation     string         `json:"page_location" db:"page_location"`
	ConfidenceScore  float64        `json:"confidence_score" db:"confidence_score" validate:"min=0,max=1"`
	MatchingMethod   string         `json:"matching_method" db:"matching_method"`
	AnalysisSummary  string         `json:"analysis_summary" db:"analysis_summary"`
	ConfidenceBand   ConfidenceBand `json:"confidence_band,omitempty" db:"confidence_band"` // Set by the normalizer
}

// ConfidenceBand is a discrete confidence level
type ConfidenceBand string

const (
	BandHigh   ConfidenceBand = "HIGH"
	BandMedium ConfidenceBand = "MEDIUM"
	BandLow    ConfidenceBand = "LOW"
)

var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New()

	_ = recordValidate.RegisterValidation("verdict", func(fl validator.FieldLevel) bool {
		return Verdict(fl.Field().String()).Valid()
	})
}

// NewVerdictRecord checks r and returns it. Unknown verdicts and confidence
// scores outside [0, 1] are rejected.
func NewVerdictRecord(r VerdictRecord) (VerdictRecord, error) {
	if err := r.Validate(); err != nil {
		return VerdictRecord{}, err
	}
	return r, nil
}

// Validate checks the record invariants
func (r VerdictRecord) Validate() error {
	if err := recordValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid verdict record: %w", err)
	}
	return nil
}
