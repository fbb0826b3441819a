package aggregate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/validate"
)

// scriptedValidator returns a fixed record per document name
type scriptedValidator struct {
	mu      sync.Mutex
	results map[string]model.VerdictRecord
	panicOn string
	calls   []string
}

func (s *scriptedValidator) Validate(ctx context.Context, sess *validate.Session, req validate.Request) model.VerdictRecord {
	s.mu.Lock()
	s.calls = append(s.calls, req.Document.Name)
	s.mu.Unlock()

	if req.Document.Name == s.panicOn {
		panic("boom")
	}
	rec := s.results[req.Document.Name]
	rec.Statement = req.Statement
	rec.ReferenceNo = req.ReferenceNo
	rec.Reference = req.Reference
	rec.MatchedPaper = req.Document.Name
	return rec
}

func docs(names ...string) []model.ReferenceDocument {
	out := make([]model.ReferenceDocument, len(names))
	for i, n := range names {
		out[i] = model.ReferenceDocument{Name: n, Content: []byte(n)}
	}
	return out
}

func TestAggregate_SupportedWinsOverNotFound(t *testing.T) {
	v := &scriptedValidator{results: map[string]model.VerdictRecord{
		"a.pdf": {ValidationResult: model.VerdictNotFound, ConfidenceScore: 0.2},
		"b.pdf": {ValidationResult: model.VerdictNotFound, ConfidenceScore: 0.3},
		"c.pdf": {ValidationResult: model.VerdictSupported, MatchedEvidence: "stable at pH 4.5", PageLocation: "p. 4", ConfidenceScore: 0.85},
	}}
	agg := NewAggregator(v, Options{})

	out := agg.Aggregate(context.Background(), nil, "Drug X is stable at pH 4.5", "Table", "", docs("a.pdf", "b.pdf", "c.pdf"))

	if len(out) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(out))
	}
	rec := out[0]
	if rec.ValidationResult != model.VerdictSupported {
		t.Errorf("verdict = %s, want Supported", rec.ValidationResult)
	}
	if rec.MatchedPaper != "Multiple PDFs (1/3 support)" {
		t.Errorf("matched_paper = %q", rec.MatchedPaper)
	}
	if rec.ConfidenceScore != 0.85 {
		t.Errorf("confidence = %v, want 0.85", rec.ConfidenceScore)
	}
	if rec.MatchedEvidence != "- c.pdf: stable at pH 4.5" {
		t.Errorf("evidence = %q", rec.MatchedEvidence)
	}
	if rec.PageLocation != "p. 4" {
		t.Errorf("page = %q", rec.PageLocation)
	}
	if rec.MatchingMethod != "Aggregated (Supported)" {
		t.Errorf("method = %q", rec.MatchingMethod)
	}
	if rec.AnalysisSummary != "Consolidated results from 3 sources" {
		t.Errorf("summary = %q", rec.AnalysisSummary)
	}
	if rec.ReferenceNo != "Table" || rec.Statement != "Drug X is stable at pH 4.5" {
		t.Errorf("identity fields = %q / %q", rec.Statement, rec.ReferenceNo)
	}
	if strings.Join(v.calls, ",") != "a.pdf,b.pdf,c.pdf" {
		t.Errorf("documents validated in order %v", v.calls)
	}
}

func TestAggregate_PanicBecomesErrorRecord(t *testing.T) {
	v := &scriptedValidator{
		panicOn: "bad.pdf",
		results: map[string]model.VerdictRecord{
			"ok.pdf": {ValidationResult: model.VerdictNotFound, ConfidenceScore: 0.4},
		},
	}
	agg := NewAggregator(v, Options{})

	out := agg.Aggregate(context.Background(), nil, "s", "1,2", "", docs("bad.pdf", "ok.pdf"))

	if len(v.calls) != 2 {
		t.Fatalf("loop should continue after a panic, calls = %v", v.calls)
	}
	if out[0].ValidationResult != model.VerdictNotFound {
		t.Errorf("verdict = %s, want Not Found", out[0].ValidationResult)
	}
	if out[0].MatchedPaper != "Multiple PDFs (1/2 support)" {
		t.Errorf("matched_paper = %q", out[0].MatchedPaper)
	}
}

func TestAggregate_AllPanicsYieldError(t *testing.T) {
	v := &scriptedValidator{panicOn: "bad.pdf"}
	out := NewAggregator(v, Options{}).Aggregate(context.Background(), nil, "s", "1", "", docs("bad.pdf"))

	if out[0].ValidationResult != model.VerdictError {
		t.Errorf("verdict = %s", out[0].ValidationResult)
	}
	if out[0].ConfidenceScore != 0 {
		t.Errorf("confidence = %v", out[0].ConfidenceScore)
	}
	if !strings.Contains(out[0].MatchedEvidence, "bad.pdf: Error: panic: boom") {
		t.Errorf("evidence = %q", out[0].MatchedEvidence)
	}
}

func TestFailureRecord_TruncatesByRune(t *testing.T) {
	req := validate.Request{Statement: "s", ReferenceNo: "1", Document: model.ReferenceDocument{Name: "a.pdf"}}
	msg := strings.Repeat("ü", 120)

	rec := failureRecord(req, errors.New(msg))

	if !utf8.ValidString(rec.PageLocation) {
		t.Fatalf("page location is not valid UTF-8: %q", rec.PageLocation)
	}
	if rec.PageLocation != strings.Repeat("ü", 100) {
		t.Errorf("page location = %d runes, want 100", utf8.RuneCountInString(rec.PageLocation))
	}
	if rec.MatchedEvidence != "Error: "+msg {
		t.Errorf("evidence = %q", rec.MatchedEvidence)
	}
}

func TestAggregate_CancelledContext(t *testing.T) {
	v := &scriptedValidator{results: map[string]model.VerdictRecord{
		"a.pdf": {ValidationResult: model.VerdictSupported, MatchedEvidence: "q", ConfidenceScore: 0.9},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewAggregator(v, Options{Delay: time.Hour}).Aggregate(ctx, nil, "s", "1", "", docs("a.pdf", "b.pdf"))

	if len(out) != 1 {
		t.Fatalf("expected one record, got %d", len(out))
	}
	if len(v.calls) != 0 {
		t.Errorf("no document should be validated after cancellation, calls = %v", v.calls)
	}
	if out[0].ValidationResult != model.VerdictError {
		t.Errorf("verdict = %s", out[0].ValidationResult)
	}
}

func TestAggregate_ThrottleBetweenDocuments(t *testing.T) {
	v := &scriptedValidator{results: map[string]model.VerdictRecord{}}
	agg := NewAggregator(v, Options{Delay: 20 * time.Millisecond})

	start := time.Now()
	agg.Aggregate(context.Background(), nil, "s", "1", "", docs("a.pdf", "b.pdf", "c.pdf"))

	if d := time.Since(start); d < 40*time.Millisecond {
		t.Errorf("expected two throttle delays, took %v", d)
	}
}

func TestReduce_Priority(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []model.Verdict
		want     model.Verdict
		support  string
	}{
		{"supported beats all", []model.Verdict{model.VerdictNotFound, model.VerdictContradicted, model.VerdictSupported}, model.VerdictSupported, "1/3"},
		{"contradicted beats not found", []model.Verdict{model.VerdictNotFound, model.VerdictContradicted, model.VerdictContradicted}, model.VerdictContradicted, "2/3"},
		{"not found beats error", []model.Verdict{model.VerdictError, model.VerdictNotFound}, model.VerdictNotFound, "1/2"},
		{"all errors", []model.Verdict{model.VerdictError, model.VerdictError}, model.VerdictError, "2/2"},
		{"single document", []model.Verdict{model.VerdictContradicted}, model.VerdictContradicted, "1/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var recs []model.VerdictRecord
			for i, v := range tt.verdicts {
				recs = append(recs, model.VerdictRecord{
					MatchedPaper:     string(rune('a'+i)) + ".pdf",
					ValidationResult: v,
					ConfidenceScore:  0.5,
				})
			}
			got := Reduce("s", "1", "", recs)
			if got.ValidationResult != tt.want {
				t.Errorf("verdict = %s, want %s", got.ValidationResult, tt.want)
			}
			if want := "Multiple PDFs (" + tt.support + " support)"; got.MatchedPaper != want {
				t.Errorf("matched_paper = %q, want %q", got.MatchedPaper, want)
			}
		})
	}
}

func TestReduce_WinningBucketOnly(t *testing.T) {
	recs := []model.VerdictRecord{
		{MatchedPaper: "/refs/1. Smith 2020.pdf", ValidationResult: model.VerdictSupported, MatchedEvidence: "quote one", PageLocation: "Page 2", ConfidenceScore: 0.9},
		{MatchedPaper: "2. Doe 2019.pdf", ValidationResult: model.VerdictContradicted, MatchedEvidence: "other", PageLocation: "Page 9", ConfidenceScore: 0.99},
		{MatchedPaper: "3. Lee 2021.pdf", ValidationResult: model.VerdictSupported, MatchedEvidence: "", PageLocation: "", ConfidenceScore: 0.6},
	}

	got := Reduce("s", "1-3", "Smith 2020", recs)

	wantEvidence := "- 1. Smith 2020.pdf: quote one\n- 3. Lee 2021.pdf: [No evidence text provided]"
	if got.MatchedEvidence != wantEvidence {
		t.Errorf("evidence = %q, want %q", got.MatchedEvidence, wantEvidence)
	}
	if got.PageLocation != "Page 2" {
		t.Errorf("page = %q", got.PageLocation)
	}
	if diff := got.ConfidenceScore - 0.75; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want 0.75", got.ConfidenceScore)
	}
	if got.MatchedPaper != "Multiple PDFs (2/3 support)" {
		t.Errorf("matched_paper = %q", got.MatchedPaper)
	}
	if got.Reference != "Smith 2020" || got.ReferenceNo != "1-3" {
		t.Errorf("reference fields = %q / %q", got.Reference, got.ReferenceNo)
	}
}

func TestReduce_Empty(t *testing.T) {
	got := Reduce("s", "1", "", nil)
	if got.ValidationResult != model.VerdictError || got.ConfidenceScore != 0 {
		t.Errorf("got %s/%v, want Error/0", got.ValidationResult, got.ConfidenceScore)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("record should be valid: %v", err)
	}
}
