// Package aggregate validates one statement against every resolved reference
// document and reduces the per-document verdicts to a single record.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/telemetry"
	"github.com/ppiankov/refcheck/internal/validate"
	"github.com/ppiankov/refcheck/internal/worker"
	"go.opentelemetry.io/otel/attribute"
)

// MethodDocumentFailure tags per-document records created by the aggregator itself
const MethodDocumentFailure = "MultiPaperValidationError"

const noEvidenceText = "[No evidence text provided]"

// Options configure an Aggregator
type Options struct {
	Delay      time.Duration   // Pause before every document after the first
	Limiter    *worker.Limiter // Optional shared rate limiter
	LimiterKey string
	Logger     *slog.Logger
}

// Aggregator runs the single-document validator over a statement's documents
type Aggregator struct {
	validator validate.DocumentValidator
	opts      Options
	logger    *slog.Logger
}

// NewAggregator creates a new aggregator
func NewAggregator(validator validate.DocumentValidator, opts Options) *Aggregator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LimiterKey == "" {
		opts.LimiterKey = "documents"
	}
	return &Aggregator{validator: validator, opts: opts, logger: logger}
}

// Aggregate validates the statement against each document in order and
// returns exactly one consolidated record, wrapped in a slice.
func (a *Aggregator) Aggregate(ctx context.Context, sess *validate.Session, statement, referenceNo, reference string, docs []model.ReferenceDocument) []model.VerdictRecord {
	ctx, span := telemetry.Tracer().Start(ctx, "aggregate.statement")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	throttle := worker.NewThrottle(a.opts.Limiter, a.opts.LimiterKey, a.opts.Delay)
	records := make([]model.VerdictRecord, 0, len(docs))

	for _, doc := range docs {
		req := validate.Request{
			Statement:   statement,
			ReferenceNo: referenceNo,
			Reference:   reference,
			Document:    doc,
		}
		if err := throttle.Wait(ctx); err != nil {
			records = append(records, failureRecord(req, err))
			continue
		}
		records = append(records, a.validateOne(ctx, sess, req))
	}

	rec := Reduce(statement, referenceNo, reference, records)
	span.SetAttributes(attribute.String("verdict", rec.ValidationResult.String()))
	a.logger.Debug("statement aggregated",
		"documents", len(docs),
		"verdict", rec.ValidationResult,
		"matched_paper", rec.MatchedPaper)

	return []model.VerdictRecord{rec}
}

// validateOne shields the loop from a misbehaving validator
func (a *Aggregator) validateOne(ctx context.Context, sess *validate.Session, req validate.Request) (rec model.VerdictRecord) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("validator panicked", "document", req.Document.Name, "panic", r)
			rec = failureRecord(req, fmt.Errorf("panic: %v", r))
		}
	}()
	return a.validator.Validate(ctx, sess, req)
}

func failureRecord(req validate.Request, err error) model.VerdictRecord {
	msg := err.Error()
	return model.VerdictRecord{
		Statement:        req.Statement,
		ReferenceNo:      req.ReferenceNo,
		Reference:        req.Reference,
		MatchedPaper:     req.Document.Name,
		MatchedEvidence:  "Error: " + msg,
		ValidationResult: model.VerdictError,
		PageLocation:     truncate(msg, 100),
		ConfidenceScore:  0,
		MatchingMethod:   MethodDocumentFailure,
		AnalysisSummary:  "Validation error: " + msg,
	}
}

// Reduce consolidates per-document records into one. The winning verdict is
// the highest-priority verdict present (Supported, Contradicted, Not Found,
// Error); only records with that verdict contribute evidence, pages and
// confidence.
func Reduce(statement, referenceNo, reference string, records []model.VerdictRecord) model.VerdictRecord {
	buckets := make(map[model.Verdict][]model.VerdictRecord, len(model.AggregationOrder))
	for _, r := range records {
		v := r.ValidationResult
		if !v.IsAggregatable() {
			v = model.VerdictError
		}
		buckets[v] = append(buckets[v], r)
	}

	var winner model.Verdict
	var winning []model.VerdictRecord
	for _, v := range model.AggregationOrder {
		if len(buckets[v]) > 0 {
			winner, winning = v, buckets[v]
			break
		}
	}

	if winner == "" {
		return model.VerdictRecord{
			Statement:        statement,
			ReferenceNo:      referenceNo,
			Reference:        reference,
			MatchedPaper:     "Multiple PDFs (0/0 support)",
			MatchedEvidence:  "No documents were validated.",
			ValidationResult: model.VerdictError,
			MatchingMethod:   fmt.Sprintf("Aggregated (%s)", model.VerdictError),
			AnalysisSummary:  "Consolidated results from 0 sources",
		}
	}

	var evidence, pages []string
	var sum float64
	for _, r := range winning {
		text := strings.TrimSpace(r.MatchedEvidence)
		if text == "" {
			text = noEvidenceText
		}
		evidence = append(evidence, fmt.Sprintf("- %s: %s", filepath.Base(r.MatchedPaper), text))
		if p := strings.TrimSpace(r.PageLocation); p != "" {
			pages = append(pages, p)
		}
		sum += r.ConfidenceScore
	}

	return model.VerdictRecord{
		Statement:        statement,
		ReferenceNo:      referenceNo,
		Reference:        reference,
		MatchedPaper:     fmt.Sprintf("Multiple PDFs (%d/%d support)", len(winning), len(records)),
		MatchedEvidence:  strings.Join(evidence, "\n"),
		ValidationResult: winner,
		PageLocation:     strings.Join(pages, " | "),
		ConfidenceScore:  sum / float64(len(winning)),
		MatchingMethod:   fmt.Sprintf("Aggregated (%s)", winner),
		AnalysisSummary:  fmt.Sprintf("Consolidated results from %d sources", len(records)),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
