package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ppiankov/refcheck/internal/store"
	"github.com/spf13/cobra"
)

var runsLimit int

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored validation runs",
	Long: `Inspect runs saved in the SQLite run store (store.path, default
~/.refcheck/runs.db).

Example:
  refcheck runs list --limit 5
  refcheck runs show 3f2c9a6e-...`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openRunStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		runs, err := s.ListRuns(context.Background(), runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs stored")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tJOB\tSTARTED\tBACKEND\tROWS\tAVG CONF")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2f\n",
				r.RunID, r.JobName, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Provider, r.Total, r.AverageConfidence)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the results of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openRunStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		ctx := context.Background()
		run, err := s.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		results, err := s.LoadResults(ctx, run.RunID)
		if err != nil {
			return err
		}

		fmt.Printf("Run:        %s\n", run.RunID)
		fmt.Printf("Job:        %s\n", run.JobName)
		fmt.Printf("Mode:       %s\n", run.Mode)
		fmt.Printf("Backend:    %s %s\n", run.Provider, run.Model)
		fmt.Printf("Started:    %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Documents:  %d\n", len(run.Documents))
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tVERDICT\tCONF\tREF\tSTATEMENT")
		for i, r := range results {
			fmt.Fprintf(w, "%d\t%s\t%.2f\t%s\t%s\n", i+1, r.ValidationResult, r.ConfidenceScore, r.ReferenceNo, shorten(r.Statement, 80))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs to list")
}

// openRunStore opens the configured store; it must already exist
func openRunStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.Store.Path
	if path == "" {
		return nil, fmt.Errorf("run store is disabled (store.path is empty)")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no run store at %s (set store.path or --store)", path)
	}
	return store.Open(path)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
