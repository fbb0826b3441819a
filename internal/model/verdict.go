package model

import (
	"fmt"
	"strings"
)

// Verdict is the outcome of validating a statement
type Verdict string

const (
	VerdictSupported    Verdict = "Supported"    // Document supports the statement
	VerdictContradicted Verdict = "Contradicted" // Document contradicts the statement
	VerdictNotFound     Verdict = "Not Found"    // Document does not discuss the statement
	VerdictError        Verdict = "Error"        // Validation could not be completed

	// Orchestration placeholders, never produced by a single-document validation
	VerdictRefuted          Verdict = "Refuted"           // No citation identified for the statement
	VerdictUncited          Verdict = "Uncited"           // Uncited statement and no document to search
	VerdictReferenceMissing Verdict = "Reference Missing" // Cited reference has no matching document
)

// verdictRank orders the aggregatable verdicts; lower rank wins.
var verdictRank = map[Verdict]int{
	VerdictSupported:    0,
	VerdictContradicted: 1,
	VerdictNotFound:     2,
	VerdictError:        3,
}

// AggregationOrder lists the aggregatable verdicts from highest to lowest priority
var AggregationOrder = []Verdict{
	VerdictSupported,
	VerdictContradicted,
	VerdictNotFound,
	VerdictError,
}

// Rank returns the aggregation priority of the verdict (0 is highest).
// Placeholder verdicts rank below every aggregatable verdict.
func (v Verdict) Rank() int {
	if r, ok := verdictRank[v]; ok {
		return r
	}
	return len(verdictRank)
}

// Outranks reports whether v takes priority over other during aggregation
func (v Verdict) Outranks(other Verdict) bool {
	return v.Rank() < other.Rank()
}

// IsAggregatable reports whether the verdict can come out of a single-document validation
func (v Verdict) IsAggregatable() bool {
	_, ok := verdictRank[v]
	return ok
}

// Valid reports whether v is a known verdict
func (v Verdict) Valid() bool {
	switch v {
	case VerdictSupported, VerdictContradicted, VerdictNotFound, VerdictError,
		VerdictRefuted, VerdictUncited, VerdictReferenceMissing:
		return true
	}
	return false
}

func (v Verdict) String() string {
	return string(v)
}

// ParseVerdict maps a backend verdict string onto one of the aggregatable verdicts.
// Matching ignores case, surrounding whitespace and underscores ("NOT_FOUND").
func ParseVerdict(s string) (Verdict, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "_", " ")
	norm = strings.Join(strings.Fields(norm), " ")

	switch norm {
	case "supported":
		return VerdictSupported, nil
	case "contradicted":
		return VerdictContradicted, nil
	case "not found", "notfound":
		return VerdictNotFound, nil
	case "error":
		return VerdictError, nil
	default:
		return "", fmt.Errorf("unknown verdict %q", s)
	}
}
