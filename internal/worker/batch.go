package worker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/refcheck/internal/model"
)

// Runner runs one job manifest
type Runner interface {
	RunJob(ctx context.Context, manifestPath string) (*model.RunReport, error)
}

// JobResult represents the result of one job manifest
type JobResult struct {
	Manifest string
	Report   *model.RunReport
	Error    error
}

// BatchProcessor runs multiple job manifests concurrently
type BatchProcessor struct {
	runner      Runner
	concurrency int
	logger      *slog.Logger
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(runner Runner, concurrency int, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{
		runner:      runner,
		concurrency: concurrency,
		logger:      logger,
	}
}

// ProcessManifests runs every manifest and returns one result per manifest, in input order.
// A failing job does not stop the others.
func (b *BatchProcessor) ProcessManifests(ctx context.Context, manifests []string) []*JobResult {
	if len(manifests) == 0 {
		return []*JobResult{}
	}

	pool := NewPool[*JobResult](ctx, b.concurrency)
	for _, path := range manifests {
		pool.Submit(func(ctx context.Context) *JobResult {
			if err := ctx.Err(); err != nil {
				return &JobResult{Manifest: path, Error: err}
			}
			report, err := b.runner.RunJob(ctx, path)
			if err != nil {
				b.logger.Error("job failed", "manifest", path, "error", err)
			}
			return &JobResult{Manifest: path, Report: report, Error: err}
		})
	}

	return pool.Wait()
}

// ProcessFile reads manifest paths from a file and runs them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*JobResult, error) {
	manifests, err := ReadManifestsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read manifests: %w", err)
	}

	return b.ProcessManifests(ctx, manifests), nil
}

// ReadManifestsFromFile reads manifest paths from a file (one per line).
// Relative paths are resolved against the list file's directory.
func ReadManifestsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	base := filepath.Dir(filePath)
	var manifests []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}

		if !seen[line] {
			seen[line] = true
			manifests = append(manifests, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return manifests, nil
}
