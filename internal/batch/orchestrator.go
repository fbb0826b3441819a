// Package batch validates a batch of extracted statement rows. Rows are
// grouped by statement text so each unique statement is validated once, and
// the results are expanded back to one record per input row.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/resolve"
	"github.com/ppiankov/refcheck/internal/telemetry"
	"github.com/ppiankov/refcheck/internal/validate"
	"github.com/ppiankov/refcheck/internal/worker"
	"go.opentelemetry.io/otel/attribute"
)

// Placeholder texts
const (
	NoReferenceEvidence = "The system could not identify a superscript or citation number for this specific statement in the PDF."
	NoReferenceText     = "No citation identified in the source text."
	EmptyStatement      = "[Empty Statement]"
	EmptyRowEvidence    = "Row was empty in source."
	UnmappedEvidence    = "Skipped due to processing logic."

	MethodReferenceFilter = "Reference Filter"
	MethodNoReference     = "No Reference"
	MethodEmptyRow        = "Empty Row"
	MethodStatementError  = "Statement Processing Error"
)

const noMatchPaper = "None"

const pageNotApplicable = "N/A"

// StatementAggregator validates one statement against its resolved documents
// and returns the consolidated record
type StatementAggregator interface {
	Aggregate(ctx context.Context, sess *validate.Session, statement, referenceNo, reference string, docs []model.ReferenceDocument) []model.VerdictRecord
}

// Options configure an Orchestrator
type Options struct {
	Delay      time.Duration   // Pause before every statement after the first
	Limiter    *worker.Limiter // Optional shared rate limiter
	LimiterKey string
	Logger     *slog.Logger
}

// Orchestrator drives a batch through grouping, resolution, validation and expansion
type Orchestrator struct {
	resolver   *resolve.Resolver
	aggregator StatementAggregator
	opts       Options
	logger     *slog.Logger
}

// Result is the outcome of one batch
type Result struct {
	Records []model.VerdictRecord // One per input row, in input order
	Groups  []model.GroupView     // Unique statements, first-seen order
}

// group is one unique statement and the rows that carry it
type group struct {
	statement string
	tokens    []string
	seen      map[string]bool
	sample    model.InputRow
	rows      []int
}

func (g *group) combined() string {
	tokens := append([]string(nil), g.tokens...)
	sort.Strings(tokens)
	return strings.Join(tokens, ",")
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(resolver *resolve.Resolver, aggregator StatementAggregator, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = resolve.NewResolver(logger)
	}
	if opts.LimiterKey == "" {
		opts.LimiterKey = "statements"
	}
	return &Orchestrator{
		resolver:   resolver,
		aggregator: aggregator,
		opts:       opts,
		logger:     logger,
	}
}

// Run validates rows and returns exactly one record per row. Failures for one
// statement never abort the batch; they become Error records.
func (o *Orchestrator) Run(ctx context.Context, sess *validate.Session, rows []model.InputRow) Result {
	ctx, span := telemetry.Tracer().Start(ctx, "batch.run")
	defer span.End()

	groups, order := groupRows(rows)
	span.SetAttributes(
		attribute.Int("rows", len(rows)),
		attribute.Int("statements", len(order)),
	)
	o.logger.Info("batch grouped", "rows", len(rows), "statements", len(order))

	throttle := worker.NewThrottle(o.opts.Limiter, o.opts.LimiterKey, o.opts.Delay)
	results := make(map[string]model.VerdictRecord, len(order))

	for i, stmt := range order {
		g := groups[stmt]
		o.logger.Info("validating statement",
			"index", i+1,
			"total", len(order),
			"reference_no", g.combined(),
			"statement", truncate(stmt, 60))

		rec := o.processGroup(ctx, sess, throttle, g)
		results[stmt] = rec
		telemetry.ObserveStatement(rec.ValidationResult.String())
	}

	out := expand(rows, results)

	views := make([]model.GroupView, 0, len(order))
	for _, stmt := range order {
		g := groups[stmt]
		views = append(views, model.GroupView{
			Statement:    g.statement,
			ReferenceNos: g.tokens,
			Combined:     g.combined(),
			Reference:    g.sample.Reference,
			PageNo:       g.sample.PageNo.String(),
			Rows:         g.rows,
		})
	}

	return Result{Records: out, Groups: views}
}

// groupRows groups non-empty statements by exact trimmed text in first-seen order
func groupRows(rows []model.InputRow) (map[string]*group, []string) {
	groups := make(map[string]*group)
	var order []string

	for i, row := range rows {
		stmt := row.TrimmedStatement()
		if stmt == "" {
			continue
		}
		g, ok := groups[stmt]
		if !ok {
			g = &group{statement: stmt, seen: make(map[string]bool), sample: row}
			groups[stmt] = g
			order = append(order, stmt)
		}
		g.rows = append(g.rows, i)

		tok := strings.TrimSpace(row.ReferenceNo.String())
		if tok != "" && !g.seen[tok] {
			g.seen[tok] = true
			g.tokens = append(g.tokens, tok)
		}
	}
	return groups, order
}

// processGroup resolves and validates one unique statement
func (o *Orchestrator) processGroup(ctx context.Context, sess *validate.Session, throttle *worker.Throttle, g *group) (rec model.VerdictRecord) {
	combined := g.combined()
	reference := g.sample.Reference

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("statement processing panicked", "statement", truncate(g.statement, 60), "panic", r)
			rec = statementError(g.statement, combined, reference, fmt.Errorf("panic: %v", r))
		}
	}()

	if len(g.tokens) == 0 {
		return noReference(g.statement)
	}

	if err := throttle.Wait(ctx); err != nil {
		return statementError(g.statement, combined, reference, err)
	}

	res := o.resolver.Resolve(combined, reference, g.sample.Documents)
	if len(res.Documents) == 0 {
		status := model.VerdictReferenceMissing
		if res.Uncited {
			status = model.VerdictUncited
		}
		return noDocumentMatch(g.statement, combined, reference, status)
	}

	if o.aggregator == nil {
		return statementError(g.statement, combined, reference, fmt.Errorf("no aggregator configured"))
	}

	recs := o.aggregator.Aggregate(ctx, sess, g.statement, combined, reference, res.Documents)
	if len(recs) == 0 {
		return statementError(g.statement, combined, reference, fmt.Errorf("aggregator returned no result"))
	}
	return recs[0]
}

// expand maps every input row back onto its statement's record
func expand(rows []model.InputRow, results map[string]model.VerdictRecord) []model.VerdictRecord {
	out := make([]model.VerdictRecord, 0, len(rows))
	for _, row := range rows {
		stmt := row.TrimmedStatement()
		if stmt == "" {
			out = append(out, emptyRow(row))
			continue
		}
		rec, ok := results[stmt]
		if !ok {
			out = append(out, unmapped(row))
			continue
		}
		out = append(out, rec)
	}
	return out
}

func noReference(statement string) model.VerdictRecord {
	return model.VerdictRecord{
		Statement:        statement,
		ReferenceNo:      noMatchPaper,
		Reference:        NoReferenceText,
		MatchedPaper:     noMatchPaper,
		MatchedEvidence:  NoReferenceEvidence,
		ValidationResult: model.VerdictRefuted,
		PageLocation:     pageNotApplicable,
		ConfidenceScore:  0,
		MatchingMethod:   MethodNoReference,
		AnalysisSummary:  "Validation skipped: no citation identified",
	}
}

func noDocumentMatch(statement, referenceNo, reference string, status model.Verdict) model.VerdictRecord {
	return model.VerdictRecord{
		Statement:        statement,
		ReferenceNo:      referenceNo,
		Reference:        reference,
		MatchedPaper:     noMatchPaper,
		MatchedEvidence:  "No matching reference PDF was found for the extraction: " + referenceNo,
		ValidationResult: status,
		PageLocation:     pageNotApplicable,
		ConfidenceScore:  0,
		MatchingMethod:   MethodReferenceFilter,
		AnalysisSummary:  "Validation skipped: " + string(status),
	}
}

func statementError(statement, referenceNo, reference string, err error) model.VerdictRecord {
	msg := err.Error()
	return model.VerdictRecord{
		Statement:        statement,
		ReferenceNo:      referenceNo,
		Reference:        reference,
		MatchedPaper:     noMatchPaper,
		MatchedEvidence:  "Error: " + truncate(msg, 200),
		ValidationResult: model.VerdictError,
		PageLocation:     truncate(msg, 100),
		ConfidenceScore:  0,
		MatchingMethod:   MethodStatementError,
		AnalysisSummary:  "Statement processing failed: " + msg,
	}
}

func emptyRow(row model.InputRow) model.VerdictRecord {
	return model.VerdictRecord{
		Statement:        EmptyStatement,
		ReferenceNo:      row.ReferenceNo.String(),
		Reference:        row.Reference,
		MatchedPaper:     noMatchPaper,
		MatchedEvidence:  EmptyRowEvidence,
		ValidationResult: model.VerdictRefuted,
		PageLocation:     pageNotApplicable,
		ConfidenceScore:  0,
		MatchingMethod:   MethodEmptyRow,
		AnalysisSummary:  "Validation skipped: empty statement",
	}
}

func unmapped(row model.InputRow) model.VerdictRecord {
	return model.VerdictRecord{
		Statement:        row.TrimmedStatement(),
		ReferenceNo:      row.ReferenceNo.String(),
		Reference:        row.Reference,
		MatchedPaper:     noMatchPaper,
		MatchedEvidence:  UnmappedEvidence,
		ValidationResult: model.VerdictError,
		PageLocation:     pageNotApplicable,
		ConfidenceScore:  0,
		MatchingMethod:   MethodStatementError,
		AnalysisSummary:  "Statement could not be mapped to a validation result",
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
