package score

import (
	"math"

	"github.com/ppiankov/refcheck/internal/model"
)

// Band thresholds
const (
	HighThreshold   = 0.8
	MediumThreshold = 0.6
)

const (
	shrinkFactor = 0.95
	growFactor   = 1.05

	// Scores this close to the mean count as equal to it
	meanEpsilon = 1e-9
)

// Normalize spreads confidence scores away from the batch mean and assigns
// a confidence band to every record. Scores below the mean shrink by 5%,
// scores above it grow by 5% (capped at 1.0); all are rounded to two decimals.
//
// This is a cosmetic consistency pass over the batch. It does not re-derive
// confidence from the evidence.
func Normalize(records []model.VerdictRecord) []model.VerdictRecord {
	out := make([]model.VerdictRecord, len(records))
	copy(out, records)
	if len(out) == 0 {
		return out
	}

	mean := Mean(out)
	for i := range out {
		s := clamp(out[i].ConfidenceScore)
		switch {
		case s < mean-meanEpsilon:
			s *= shrinkFactor
		case s > mean+meanEpsilon:
			s = math.Min(s*growFactor, 1.0)
		}
		s = round2(s)
		out[i].ConfidenceScore = s
		out[i].ConfidenceBand = Band(s)
	}
	return out
}

// Mean returns the arithmetic mean confidence of the records (0 for none)
func Mean(records []model.VerdictRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += clamp(r.ConfidenceScore)
	}
	return sum / float64(len(records))
}

// Band maps a confidence score onto HIGH, MEDIUM or LOW
func Band(score float64) model.ConfidenceBand {
	switch {
	case score >= HighThreshold:
		return model.BandHigh
	case score >= MediumThreshold:
		return model.BandMedium
	default:
		return model.BandLow
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
