package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/refcheck/internal/aggregate"
	"github.com/ppiankov/refcheck/internal/batch"
	"github.com/ppiankov/refcheck/internal/cache"
	"github.com/ppiankov/refcheck/internal/extract"
	"github.com/ppiankov/refcheck/internal/llm"
	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/resolve"
	"github.com/ppiankov/refcheck/internal/retry"
	"github.com/ppiankov/refcheck/internal/score"
	"github.com/ppiankov/refcheck/internal/store"
	"github.com/ppiankov/refcheck/internal/telemetry"
	"github.com/ppiankov/refcheck/internal/validate"
	"github.com/ppiankov/refcheck/internal/worker"
	"go.opentelemetry.io/otel/attribute"
)

// ErrNoProvider is returned when no LLM backend is configured
var ErrNoProvider = errors.New("no LLM provider configured")

// ErrNoDocuments is returned when a job has no reference documents
var ErrNoDocuments = errors.New("job has no reference documents")

// Pipeline runs validation jobs end to end: load, validate, normalise, store, render
type Pipeline struct {
	cfg      *model.Config
	provider llm.Provider
	fetcher  *Fetcher
	renderer *Renderer
	limiter  *worker.Limiter
	verdicts cache.Cache // nil when the verdict cache is disabled
	store    *store.Store
	logger   *slog.Logger
	out      io.Writer
}

// NewPipeline creates a new pipeline with the given configuration
func NewPipeline(cfg *model.Config, provider llm.Provider, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	var verdicts cache.Cache
	if cfg.Cache.Enabled {
		verdicts = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.TTL)
	}

	return &Pipeline{
		cfg:      cfg,
		provider: provider,
		fetcher: NewFetcher(cfg.HTTP.Timeout, cfg.HTTP.UserAgent, cfg.HTTP.MaxBodyBytes,
			cfg.HTTP.RespectRobots, cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy),
		renderer: NewRenderer(cfg.Output.IncludeFooter),
		limiter:  worker.NewLimiter(cfg.Validation.RequestsPerSecond, 1),
		verdicts: verdicts,
		logger:   logger,
		out:      os.Stdout,
	}
}

// WithStore persists every run to s
func (p *Pipeline) WithStore(s *store.Store) *Pipeline {
	p.store = s
	return p
}

// SetOutput redirects the run summary (stdout by default)
func (p *Pipeline) SetOutput(w io.Writer) {
	p.out = w
}

// RunJob loads a manifest and runs it
func (p *Pipeline) RunJob(ctx context.Context, manifestPath string) (*model.RunReport, error) {
	job, err := LoadJob(manifestPath)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, job)
}

// Run validates every row of job and writes the configured outputs
func (p *Pipeline) Run(ctx context.Context, job *Job) (*model.RunReport, error) {
	if p.provider == nil {
		return nil, ErrNoProvider
	}

	modeName := job.Mode
	if modeName == "" {
		modeName = p.cfg.Validation.Mode
	}
	mode, err := validate.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.run")
	defer span.End()

	started := time.Now().UTC()
	runID := uuid.NewString()
	logger := p.logger.With("job", job.Name, "run_id", runID)
	span.SetAttributes(attribute.String("job", job.Name), attribute.String("run_id", runID))

	rows, err := job.LoadRows()
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	docs, err := p.loadDocuments(ctx, job, logger)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("job %s: %w", job.Name, ErrNoDocuments)
	}
	for i := range rows {
		rows[i].Documents = docs
	}

	logger.Info("job started", "rows", len(rows), "documents", len(docs), "mode", mode)

	sess := p.newSession()
	res := p.orchestrator(mode, logger).Run(ctx, sess, rows)

	records := res.Records
	if p.cfg.Validation.Normalize {
		records = score.Normalize(records)
	}

	report := &model.RunReport{
		JobName:    job.Name,
		RunID:      runID,
		Mode:       string(mode),
		Provider:   p.provider.Name(),
		Model:      p.cfg.LLM.Model,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Documents:  docs.Names(),
		Groups:     res.Groups,
		Results:    records,
		Summary:    model.Summarize(records),
	}

	logger.Info("job finished",
		"statements", len(res.Groups),
		"documents_prepared", sess.Prepared(),
		"duration", report.FinishedAt.Sub(started).Round(time.Millisecond))

	if p.store != nil {
		if err := p.store.SaveRun(ctx, report); err != nil {
			logger.Warn("failed to store run", "error", err)
		}
	}

	if _, err := p.WriteOutputs(report); err != nil {
		return report, err
	}
	p.renderer.RenderSummary(p.out, report)

	return report, nil
}

// Review validates one statement against the given document files, searching all of them
func (p *Pipeline) Review(ctx context.Context, statement, reference string, paths []string) (model.VerdictRecord, error) {
	if p.provider == nil {
		return model.VerdictRecord{}, ErrNoProvider
	}
	mode, err := validate.ParseMode(p.cfg.Validation.Mode)
	if err != nil {
		return model.VerdictRecord{}, err
	}

	var docs []model.ReferenceDocument
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return model.VerdictRecord{}, fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, model.ReferenceDocument{Name: filepath.Base(path), Content: content})
	}
	if len(docs) == 0 {
		return model.VerdictRecord{}, ErrNoDocuments
	}

	agg := p.aggregator(mode, p.logger)
	recs := agg.Aggregate(ctx, p.newSession(), statement, model.TableReference, reference, docs)
	return recs[0], nil
}

// WriteOutputs writes the reports and artifacts enabled in the output config
func (p *Pipeline) WriteOutputs(report *model.RunReport) ([]string, error) {
	if p.cfg.Output.Dir == "" {
		return nil, nil
	}
	dir := OutputDir(p.cfg.Output.Dir, report)
	base := filepath.Join(dir, "report")

	var written []string
	if err := p.renderer.RenderJSON(report, base+".json"); err != nil {
		return written, fmt.Errorf("render JSON: %w", err)
	}
	written = append(written, base+".json")

	if p.cfg.Output.Markdown {
		if err := p.renderer.RenderMarkdown(report, base+".md"); err != nil {
			return written, fmt.Errorf("render markdown: %w", err)
		}
		written = append(written, base+".md")
	}

	if p.cfg.Output.HTML {
		if err := p.renderer.RenderHTML(report, base+".html"); err != nil {
			return written, fmt.Errorf("render HTML: %w", err)
		}
		written = append(written, base+".html")
	}

	if p.cfg.Output.Artifacts {
		paths, err := p.renderer.WriteArtifacts(report, dir)
		if err != nil {
			return written, fmt.Errorf("write artifacts: %w", err)
		}
		written = append(written, paths...)
	}

	for _, path := range written {
		p.logger.Debug("wrote output", "path", path)
	}
	return written, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// OutputDir returns the per-run output directory under root
func OutputDir(root string, report *model.RunReport) string {
	name := unsafeName.ReplaceAllString(report.JobName, "_")
	if name == "" {
		name = "job"
	}
	id := report.RunID
	if len(id) > 8 {
		id = id[:8]
	}
	return filepath.Join(root, name+"-"+id)
}

// loadDocuments reads the references directory and fetches reference URLs.
// A URL that cannot be fetched is skipped with a warning.
func (p *Pipeline) loadDocuments(ctx context.Context, job *Job, logger *slog.Logger) (model.DocumentSet, error) {
	docs, err := job.LoadDocuments()
	if err != nil {
		return nil, err
	}

	for _, u := range job.ReferenceURLs {
		doc, err := p.fetcher.FetchDocument(ctx, u)
		if err != nil {
			logger.Warn("skipping reference URL", "url", u, "error", err)
			continue
		}
		if _, dup := docs.Lookup(doc.Name); dup {
			logger.Warn("duplicate reference name, skipping URL", "url", u, "name", doc.Name)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (p *Pipeline) newSession() *validate.Session {
	extractor := extract.NewExtractor(p.cfg.Validation.MaxDocumentChars)
	return validate.NewSession(validate.NewExtractUploader(extractor))
}

func (p *Pipeline) aggregator(mode validate.Mode, logger *slog.Logger) *aggregate.Aggregator {
	validator := validate.NewValidator(p.provider, validate.Options{
		Mode:        mode,
		Model:       p.cfg.LLM.Model,
		MaxTokens:   p.cfg.LLM.MaxTokens,
		Temperature: p.cfg.LLM.Temperature,
		Retry:       retry.FromConfig(p.cfg.Retry, logger),
		Cache:       p.verdicts,
		CacheTTL:    p.cfg.Cache.TTL,
		Logger:      logger,
	})
	return aggregate.NewAggregator(validator, aggregate.Options{
		Delay:      p.cfg.Validation.DocumentDelay,
		Limiter:    p.limiter,
		LimiterKey: "llm:" + p.provider.Name(),
		Logger:     logger,
	})
}

func (p *Pipeline) orchestrator(mode validate.Mode, logger *slog.Logger) *batch.Orchestrator {
	return batch.NewOrchestrator(resolve.NewResolver(logger), p.aggregator(mode, logger), batch.Options{
		Delay:  p.cfg.Validation.StatementDelay,
		Logger: logger,
	})
}
