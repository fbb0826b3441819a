package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/refcheck/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	reviewStatement string
	reviewReference string
	reviewJSON      bool
)

// reviewCmd represents the review command
var reviewCmd = &cobra.Command{
	Use:   "review --statement <text> <document>...",
	Short: "Validate one statement against the given documents",
	Long: `Review validates a single statement against every given document and
prints the consolidated verdict. Use it to re-check a statement by hand.

Example:
  refcheck review --statement "Drug X is stable at pH 4.5" papers/1.pdf papers/2.pdf
  refcheck review -s "..." --reference "Smith 2020" paper.pdf --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReview,
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().StringVarP(&reviewStatement, "statement", "s", "", "statement to validate (required)")
	reviewCmd.Flags().StringVar(&reviewReference, "reference", "", "citation text")
	reviewCmd.Flags().BoolVar(&reviewJSON, "json", false, "print the verdict record as JSON")
	_ = reviewCmd.MarkFlagRequired("statement")
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(0)
	defer cancel()

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}

	p := pipeline.NewPipeline(cfg, provider, newLogger(cfg))
	rec, err := p.Review(ctx, reviewStatement, reviewReference, args)
	if err != nil {
		return fmt.Errorf("review failed: %w", err)
	}

	if reviewJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Printf("Verdict:     %s\n", rec.ValidationResult)
	fmt.Printf("Confidence:  %.2f\n", rec.ConfidenceScore)
	fmt.Printf("Documents:   %s\n", rec.MatchedPaper)
	if rec.PageLocation != "" {
		fmt.Printf("Pages:       %s\n", rec.PageLocation)
	}
	fmt.Printf("\nEvidence:\n%s\n", rec.MatchedEvidence)
	return nil
}
