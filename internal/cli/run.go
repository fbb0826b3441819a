package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	runTimeout   time.Duration
	runRefs      string
	runCheck     bool
	runNoFooter  bool
	runNormalize bool
	runStmtDelay time.Duration
	runDocDelay  time.Duration
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <job.yaml | rows.json>",
	Short: "Validate the statements of one job against its reference documents",
	Long: `Run validates every statement of a job:
- Group rows by statement and union their reference numbers
- Resolve the cited reference documents (author + year, then number)
- Validate the statement against each document with the LLM backend
- Consolidate per-document verdicts and normalise confidence
- Write JSON, Markdown and HTML reports

The argument is either a job manifest (YAML or JSON) or, with --refs,
a rows file produced by the extraction step.

Example:
  refcheck run job.yaml
  refcheck run rows.json --refs ./papers --provider anthropic
  refcheck run job.yaml --mode pharmaceutical --output-dir ./reports`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall timeout (0 = none)")
	runCmd.Flags().StringVar(&runRefs, "refs", "", "reference documents directory (treats the argument as a rows file)")
	runCmd.Flags().BoolVar(&runCheck, "check", false, "check the LLM backend connection before running")
	runCmd.Flags().BoolVar(&runNoFooter, "no-footer", false, "disable footer in Markdown reports")
	runCmd.Flags().BoolVar(&runNormalize, "normalize", true, "normalise confidence scores across the batch")
	runCmd.Flags().DurationVar(&runStmtDelay, "statement-delay", -1, "pause between statements (default from config)")
	runCmd.Flags().DurationVar(&runDocDelay, "document-delay", -1, "pause between documents of one statement (default from config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)

	job, err := jobFromArgs(args[0], runRefs)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(runTimeout)
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

	if runCheck {
		fmt.Fprintf(os.Stderr, "Checking %s backend...\n", provider.Name())
		if !provider.IsAvailable(ctx) {
			return fmt.Errorf("%s backend is not available", provider.Name())
		}
		fmt.Fprintf(os.Stderr, "✓ %s backend is available\n", provider.Name())
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	if s != nil {
		defer func() { _ = s.Close() }()
	}

	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "Job:      %s\n", job.Name)
		fmt.Fprintf(os.Stderr, "Backend:  %s %s\n", provider.Name(), cfg.LLM.Model)
		fmt.Fprintf(os.Stderr, "Mode:     %s\n", cfg.Validation.Mode)
		fmt.Fprintf(os.Stderr, "Cache:    %v\n", cfg.Cache.Enabled)
		fmt.Fprintln(os.Stderr)
	}

	p := pipeline.NewPipeline(cfg, provider, logger)
	if s != nil {
		p.WithStore(s)
	}

	report, err := p.Run(ctx, job)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	if cfg.Output.Dir != "" {
		fmt.Fprintf(os.Stderr, "\nReports: %s\n", pipeline.OutputDir(cfg.Output.Dir, report))
	}
	return nil
}

// applyRunFlags overlays run-only flags that were set explicitly
func applyRunFlags(cmd *cobra.Command, cfg *model.Config) {
	flags := cmd.Flags()
	if flags.Changed("no-footer") {
		cfg.Output.IncludeFooter = !runNoFooter
	}
	if flags.Changed("normalize") {
		cfg.Validation.Normalize = runNormalize
	}
	if flags.Changed("statement-delay") && runStmtDelay >= 0 {
		cfg.Validation.StatementDelay = runStmtDelay
	}
	if flags.Changed("document-delay") && runDocDelay >= 0 {
		cfg.Validation.DocumentDelay = runDocDelay
	}
}

// jobFromArgs loads a manifest, or builds a job from a rows file when refs is set
func jobFromArgs(path, refs string) (*pipeline.Job, error) {
	if refs == "" {
		return pipeline.LoadJob(path)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	job := pipeline.NewJob(name, nil, refs)
	job.RowsFile = path
	return job, nil
}

// commandContext is cancelled on interrupt and, when timeout > 0, after timeout
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}
