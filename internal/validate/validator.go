package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/refcheck/internal/cache"
	"github.com/ppiankov/refcheck/internal/llm"
	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/retry"
	"github.com/ppiankov/refcheck/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Matching method tags
const (
	MethodDirect       = "Direct (Pre-filtered by reference)"
	MethodUploadFailed = "Direct (Upload Failed)"
	MethodError        = "Direct (Validation Error)"
)

// FallbackEvidence is used when a Supported verdict comes back without any text to quote
const FallbackEvidence = "Evidence found and validated in document"

// Request is one statement to validate against one reference document
type Request struct {
	Statement   string
	ReferenceNo string
	Reference   string
	Document    model.ReferenceDocument
}

// DocumentValidator validates one statement against one document.
// Implementations never fail: every problem becomes an Error record.
type DocumentValidator interface {
	Validate(ctx context.Context, sess *Session, req Request) model.VerdictRecord
}

// Options configure a Validator
type Options struct {
	Mode        Mode
	Model       string
	MaxTokens   int
	Temperature float64
	Retry       retry.Policy
	Cache       cache.Cache // Verdict cache, nil disables
	CacheTTL    time.Duration
	Logger      *slog.Logger
}

// Validator is the LLM-backed single-document validator
type Validator struct {
	provider llm.Provider
	opts     Options
	logger   *slog.Logger
}

// NewValidator creates a new validator
func NewValidator(provider llm.Provider, opts Options) *Validator {
	if opts.Mode == "" {
		opts.Mode = ModeResearch
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = logger
	}
	return &Validator{
		provider: provider,
		opts:     opts,
		logger:   logger,
	}
}

// Validate checks req.Statement against req.Document
func (v *Validator) Validate(ctx context.Context, sess *Session, req Request) (rec model.VerdictRecord) {
	ctx, span := telemetry.Tracer().Start(ctx, "validate.document")
	span.SetAttributes(
		attribute.String("document", req.Document.Name),
		attribute.String("mode", string(v.opts.Mode)),
	)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			rec = errorRecord(req, fmt.Errorf("panic: %v", r), MethodError)
		}
		span.SetAttributes(attribute.String("verdict", rec.ValidationResult.String()))
		span.End()
		telemetry.ObserveValidation(v.providerName(), rec.ValidationResult.String(), time.Since(start))
	}()

	if v.provider == nil {
		return errorRecord(req, fmt.Errorf("no LLM provider configured"), MethodError)
	}

	handle, err := sess.Handle(ctx, req.Document)
	if err != nil {
		v.logger.Error("document preparation failed", "document", req.Document.Name, "error", err)
		rec = errorRecord(req, err, MethodUploadFailed)
		rec.MatchedEvidence = ""
		rec.PageLocation = truncate("Document preparation failed: "+err.Error(), 100)
		return rec
	}

	key := v.cacheKey(req)
	if cached, ok := v.lookup(key); ok {
		v.logger.Debug("verdict cache hit", "document", req.Document.Name)
		cached.Statement = req.Statement
		cached.ReferenceNo = req.ReferenceNo
		cached.Reference = req.Reference
		return cached
	}

	prompt := BuildPrompt(v.opts.Mode, req.Statement, req.Reference, handle)
	resp, err := retry.Do(ctx, v.opts.Retry, retry.IsTransient, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return v.provider.Complete(ctx, llm.CompletionRequest{
			System:      systemPrompt,
			Prompt:      prompt,
			Model:       v.opts.Model,
			MaxTokens:   v.opts.MaxTokens,
			Temperature: v.opts.Temperature,
			JSON:        true,
		})
	})
	if err != nil {
		v.logger.Error("validation failed", "document", req.Document.Name, "error", err)
		return errorRecord(req, err, MethodError)
	}

	parsed, err := parseResponse(resp.Text)
	if err != nil {
		v.logger.Warn("could not parse backend reply", "document", req.Document.Name, "error", err, "reply", truncate(resp.Text, 200))
		return errorRecord(req, err, MethodError)
	}

	rec = model.VerdictRecord{
		Statement:        req.Statement,
		ReferenceNo:      req.ReferenceNo,
		Reference:        req.Reference,
		MatchedPaper:     req.Document.Name,
		MatchedEvidence:  parsed.MatchedEvidence,
		ValidationResult: parsed.Verdict,
		PageLocation:     parsed.PageLocation,
		ConfidenceScore:  parsed.Confidence,
		MatchingMethod:   MethodDirect,
		AnalysisSummary:  parsed.AnalysisSummary,
	}
	if parsed.Verdict == model.VerdictError {
		rec.ConfidenceScore = 0
	}
	fillSupportedEvidence(&rec)

	if err := rec.Validate(); err != nil {
		return errorRecord(req, err, MethodError)
	}

	v.logger.Info("document validated",
		"document", req.Document.Name,
		"verdict", rec.ValidationResult,
		"confidence", rec.ConfidenceScore,
		"duration", time.Since(start).Round(time.Millisecond))

	v.store(key, rec)
	return rec
}

// fillSupportedEvidence keeps Supported verdicts from carrying empty evidence
func fillSupportedEvidence(rec *model.VerdictRecord) {
	if rec.ValidationResult != model.VerdictSupported || rec.MatchedEvidence != "" {
		return
	}
	switch {
	case rec.AnalysisSummary != "":
		rec.MatchedEvidence = rec.AnalysisSummary
	case rec.PageLocation != "":
		rec.MatchedEvidence = rec.PageLocation
	default:
		rec.MatchedEvidence = FallbackEvidence
	}
}

func errorRecord(req Request, err error, method string) model.VerdictRecord {
	msg := err.Error()
	return model.VerdictRecord{
		Statement:        req.Statement,
		ReferenceNo:      req.ReferenceNo,
		Reference:        req.Reference,
		MatchedPaper:     req.Document.Name,
		MatchedEvidence:  "Error: " + truncate(msg, 200),
		ValidationResult: model.VerdictError,
		PageLocation:     truncate(msg, 100),
		ConfidenceScore:  0,
		MatchingMethod:   method,
		AnalysisSummary:  "Validation error: " + msg,
	}
}

func (v *Validator) providerName() string {
	if v.provider == nil {
		return "none"
	}
	return v.provider.Name()
}

func (v *Validator) cacheKey(req Request) string {
	if v.opts.Cache == nil {
		return ""
	}
	return cache.Key(
		v.providerName(),
		v.opts.Model,
		string(v.opts.Mode),
		req.Document.Name,
		cache.Digest(req.Document.Content),
		req.Statement,
		req.Reference,
	)
}

func (v *Validator) lookup(key string) (model.VerdictRecord, bool) {
	if key == "" {
		return model.VerdictRecord{}, false
	}
	data, ok := v.opts.Cache.Get(key)
	if ok {
		var rec model.VerdictRecord
		if err := json.Unmarshal(data, &rec); err == nil && rec.Validate() == nil {
			telemetry.ObserveCache("verdict", true)
			return rec, true
		}
	}
	telemetry.ObserveCache("verdict", false)
	return model.VerdictRecord{}, false
}

// store caches a verdict; Error verdicts are never cached
func (v *Validator) store(key string, rec model.VerdictRecord) {
	if key == "" || rec.ValidationResult == model.VerdictError {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := v.opts.Cache.Set(key, data, v.opts.CacheTTL); err != nil {
		v.logger.Warn("verdict cache write failed", "error", err)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
