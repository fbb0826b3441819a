package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/pipeline"
	"github.com/ppiankov/refcheck/internal/worker"
	"github.com/spf13/cobra"
)

var (
	batchJobs    int
	batchFile    string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch [job.yaml...]",
	Short: "Run multiple job manifests in parallel",
	Long: `Batch runs several validation jobs concurrently:
- Read manifests from the arguments and/or a list file (one per line)
- Run jobs in parallel with a configurable worker count
- Each job keeps its own document and upload caches
- Generate individual reports for each job

Example:
  refcheck batch a.yaml b.yaml
  refcheck batch --file jobs.txt --jobs 4 --output-dir ./reports`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&batchJobs, "jobs", 0, "number of concurrent jobs (default from config)")
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file listing job manifests, one per line")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 0, "total timeout for the batch (0 = none)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if batchJobs > 0 {
		cfg.Concurrency.Jobs = batchJobs
	}

	manifests := append([]string(nil), args...)
	if batchFile != "" {
		listed, err := worker.ReadManifestsFromFile(batchFile)
		if err != nil {
			return fmt.Errorf("read job list: %w", err)
		}
		manifests = append(manifests, listed...)
	}
	if len(manifests) == 0 {
		return fmt.Errorf("no job manifests given (pass paths or --file)")
	}

	ctx, cancel := commandContext(batchTimeout)
	defer cancel()

	logger := newLogger(cfg)
	stopTelemetry, err := startTelemetry(cfg)
	defer stopTelemetry()
	if err != nil {
		return err
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	if s != nil {
		defer func() { _ = s.Close() }()
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  refcheck Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Jobs:         %d\n", len(manifests))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Concurrency.Jobs)
	fmt.Fprintf(os.Stderr, "  Backend:      %s %s\n", provider.Name(), cfg.LLM.Model)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "\n")

	p := pipeline.NewPipeline(cfg, provider, logger)
	if s != nil {
		p.WithStore(s)
	}
	// Per-job summaries would interleave; the batch prints its own
	p.SetOutput(io.Discard)

	processor := worker.NewBatchProcessor(p, cfg.Concurrency.Jobs, logger)
	results := processor.ProcessManifests(ctx, manifests)

	successCount := 0
	failureCount := 0
	for _, result := range results {
		if result.Error != nil {
			failureCount++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", result.Manifest, result.Error)
			continue
		}
		successCount++
		sum := result.Report.Summary
		fmt.Fprintf(os.Stderr, "✓ %s: %d rows, %d supported, avg confidence %.2f\n",
			result.Report.JobName, sum.Total, sum.ByVerdict[model.VerdictSupported], sum.AverageConfidence)
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d jobs\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", successCount)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failureCount)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", cfg.Output.Dir)
	fmt.Fprintf(os.Stderr, "\n")

	if failureCount > 0 {
		return fmt.Errorf("%d of %d jobs failed", failureCount, len(results))
	}
	return nil
}
