package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/refcheck/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "refcheck.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testReport(id, job string, started time.Time) *model.RunReport {
	results := []model.VerdictRecord{
		{
			Statement:        "Drug X is stable at pH 4.5",
			ReferenceNo:      "1,2",
			MatchedPaper:     "Multiple PDFs (1/1 support)",
			MatchedEvidence:  "- 1. Smith 2020.pdf: stable at pH 4.5",
			ValidationResult: model.VerdictSupported,
			PageLocation:     "Page 3",
			ConfidenceScore:  0.95,
			MatchingMethod:   "Aggregated (Supported)",
			ConfidenceBand:   model.BandHigh,
		},
		{
			Statement:        "Claim citing 9",
			ReferenceNo:      "9",
			MatchedPaper:     "None",
			ValidationResult: model.VerdictReferenceMissing,
			MatchingMethod:   "Reference Filter",
			ConfidenceBand:   model.BandLow,
		},
	}
	return &model.RunReport{
		JobName:    job,
		RunID:      id,
		Mode:       "research",
		Provider:   "openai",
		Model:      "gpt-4o-mini",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Documents:  []string{"1. Smith 2020.pdf"},
		Results:    results,
		Summary:    model.Summarize(results),
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	report := testReport("run-1", "brochure", started)
	if err := s.SaveRun(ctx, report); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	run, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.JobName != "brochure" || run.Total != 2 || run.Provider != "openai" {
		t.Errorf("run = %+v", run)
	}
	if !run.StartedAt.Equal(started) || !run.FinishedAt.Equal(started.Add(90*time.Second)) {
		t.Errorf("times = %v / %v", run.StartedAt, run.FinishedAt)
	}
	if run.ByVerdict[model.VerdictSupported] != 1 || run.ByVerdict[model.VerdictReferenceMissing] != 1 {
		t.Errorf("by_verdict = %v", run.ByVerdict)
	}
	if len(run.Documents) != 1 || run.Documents[0] != "1. Smith 2020.pdf" {
		t.Errorf("documents = %v", run.Documents)
	}

	results, err := s.LoadResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0] != report.Results[0] || results[1] != report.Results[1] {
		t.Errorf("results differ after round trip:\n%+v\n%+v", results, report.Results)
	}
}

func TestSaveRunReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	report := testReport("run-1", "brochure", time.Now().UTC())
	if err := s.SaveRun(ctx, report); err != nil {
		t.Fatal(err)
	}
	report.Results = report.Results[:1]
	report.Summary = model.Summarize(report.Results)
	if err := s.SaveRun(ctx, report); err != nil {
		t.Fatal(err)
	}

	results, err := s.LoadResults(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1 after re-save", len(results))
	}
}

func TestListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.SaveRun(ctx, testReport(id, "job-"+id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	if runs[0].RunID != "new" || runs[2].RunID != "old" {
		t.Errorf("order = %s, %s, %s; want newest first", runs[0].RunID, runs[1].RunID, runs[2].RunID)
	}

	limited, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited runs = %d, want 2", len(limited))
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}
