package resolve

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/refcheck/internal/model"
)

// Layer identifies which match layer selected the documents
type Layer string

const (
	LayerNone    Layer = ""
	LayerUncited Layer = "uncited" // Empty or "Table" token, all documents
	LayerName    Layer = "name"    // Author + year found in filename
	LayerNumber  Layer = "number"  // Leading filename number in token set
)

var (
	yearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	authorPattern = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
	prefixSplit   = regexp.MustCompile(`[.\s_-]`)
)

// Result is the outcome of resolving one combined reference token
type Result struct {
	Documents model.DocumentSet
	Layer     Layer
	Uncited   bool // Token was empty or "Table"
}

// Resolver selects the reference documents a statement cites
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a new resolver
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve picks the documents for referenceNos. An uncited token selects every
// document and a null token ("nan", "0") selects none. Otherwise author+year
// matching on referenceText is tried first and the numeric filename prefix
// second. Document order is preserved.
func (r *Resolver) Resolve(referenceNos, referenceText string, docs model.DocumentSet) Result {
	if IsUncited(referenceNos) {
		out := make(model.DocumentSet, len(docs))
		copy(out, docs)
		return Result{Documents: out, Layer: LayerUncited, Uncited: true}
	}

	if IsNullReference(referenceNos) {
		r.logger.Warn("null reference token", "reference_no", referenceNos)
		return Result{Layer: LayerNone}
	}

	if matched := matchByName(referenceText, docs); len(matched) > 0 {
		r.logger.Debug("reference resolved by name", "reference", referenceText, "documents", matched.Names())
		return Result{Documents: matched, Layer: LayerName}
	}

	if matched := matchByNumber(ParseReferenceNumbers(referenceNos), docs); len(matched) > 0 {
		r.logger.Debug("reference resolved by number", "reference_no", referenceNos, "documents", matched.Names())
		return Result{Documents: matched, Layer: LayerNumber}
	}

	r.logger.Warn("no document matches reference", "reference_no", referenceNos, "reference", truncate(referenceText, 30))
	return Result{Layer: LayerNone}
}

// IsUncited reports whether a combined token means "no citation, search everything"
func IsUncited(referenceNos string) bool {
	tok := strings.TrimSpace(referenceNos)
	return tok == "" || strings.EqualFold(tok, model.TableReference)
}

// IsNullReference reports whether a token is a spreadsheet null ("nan") or "0".
// Such a token cites nothing and resolves to no documents.
func IsNullReference(referenceNos string) bool {
	tok := strings.TrimSpace(referenceNos)
	return tok == "0" || strings.EqualFold(tok, "nan")
}

// ParseReferenceNumbers parses "1,2" or "1-3" style tokens into a set of integers.
// A range is read as its endpoints, so "1-3" is {1, 3}. Non-numeric parts are skipped.
func ParseReferenceNumbers(referenceNos string) map[int]bool {
	nums := make(map[int]bool)
	for _, part := range strings.Split(strings.ReplaceAll(referenceNos, "-", ","), ",") {
		part = strings.TrimSpace(part)
		if !isDigits(part) {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		nums[n] = true
	}
	return nums
}

// matchByName selects filenames containing both the first author token and the
// publication year of the citation text
func matchByName(referenceText string, docs model.DocumentSet) model.DocumentSet {
	text := strings.ToLower(strings.TrimSpace(referenceText))
	if text == "" {
		return nil
	}

	year := yearPattern.FindString(text)
	author := authorPattern.FindString(text)
	if year == "" || author == "" {
		return nil
	}

	var out model.DocumentSet
	for _, d := range docs {
		name := strings.ToLower(d.Name)
		if strings.Contains(name, author) && strings.Contains(name, year) {
			out = append(out, d)
		}
	}
	return out
}

// matchByNumber selects filenames whose leading number ("1. Smith.pdf") is cited
func matchByNumber(nums map[int]bool, docs model.DocumentSet) model.DocumentSet {
	if len(nums) == 0 {
		return nil
	}

	var out model.DocumentSet
	for _, d := range docs {
		prefix := strings.TrimSpace(prefixSplit.Split(d.Name, 2)[0])
		if !isDigits(prefix) {
			continue
		}
		n, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if nums[n] {
			out = append(out, d)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
