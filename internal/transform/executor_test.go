package transform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"notebookai/pkg/ai"
	"notebookai/pkg/domain"
	"notebookai/pkg/extract"
	"notebookai/pkg/store"
)

type fakeExtractor struct {
	calls atomic.Int64
	text  string
	err   error
	delay time.Duration
}

func (f *fakeExtractor) Extract(ctx context.Context, origin domain.Origin) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return origin.Content, nil
}

type fakeGenerator struct {
	calls   atomic.Int64
	outputs []string
	errs    []error
}

func (f *fakeGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) && f.errs[n] != nil {
		return "", f.errs[n]
	}
	if n < len(f.outputs) {
		return f.outputs[n], nil
	}
	if len(f.outputs) > 0 {
		return f.outputs[len(f.outputs)-1], nil
	}
	return "generated output", nil
}

// recordingSink persists extraction outcomes the way the registry does:
// content and status land in one atomic mutation.
type recordingSink struct {
	st       store.Store
	mu       sync.Mutex
	statuses []domain.SourceStatus
}

func (r *recordingSink) ExtractionStarted(sourceID string) {
	r.record(domain.SourceProcessing)
	r.st.MutateSource(sourceID, func(s *domain.Source) error {
		s.Status = domain.SourceProcessing
		return nil
	})
}

func (r *recordingSink) ReportExtraction(sourceID, content string, extractErr error) (domain.Source, error) {
	return r.st.MutateSource(sourceID, func(s *domain.Source) error {
		if extractErr != nil {
			s.Status = domain.SourceError
			s.ErrorDetail = extractErr.Error()
			r.record(domain.SourceError)
			return nil
		}
		s.Content = content
		s.Status = domain.SourceProcessed
		s.ErrorDetail = ""
		r.record(domain.SourceProcessed)
		return nil
	})
}

func (r *recordingSink) record(st domain.SourceStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}

func newTestExecutor(t *testing.T, st store.Store, ext extract.Extractor, gen ai.TextGenerator) (*Executor, *recordingSink) {
	t.Helper()
	sink := &recordingSink{st: st}
	exec, err := New(Config{
		Store:      st,
		Extractor:  ext,
		Generator:  gen,
		Status:     sink,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return exec, sink
}

func seedSource(t *testing.T, st store.Store, content string) domain.Source {
	t.Helper()
	src := domain.Source{
		ID:         "src-1",
		NotebookID: "nb-1",
		Origin:     domain.Origin{Kind: domain.OriginText, Content: "raw text to extract"},
		Status:     domain.SourcePending,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.SaveSource(src); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	return src
}

func TestRunExtractsLazilyAndStoresArtifact(t *testing.T) {
	st := store.NewMemoryStore()
	seedSource(t, st, "")
	ext := &fakeExtractor{text: "extracted body"}
	gen := &fakeGenerator{outputs: []string{"- first insight\n- second insight"}}
	exec, sink := newTestExecutor(t, st, ext, gen)

	artifact, err := exec.Run(context.Background(), "src-1", "key_insights", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(artifact.Items) != 2 || artifact.Items[0] != "first insight" {
		t.Fatalf("unexpected artifact items: %+v", artifact.Items)
	}
	if artifact.Text != "" {
		t.Fatalf("list artifact must not carry text, got %q", artifact.Text)
	}

	src, _, err := st.GetSource("src-1")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if src.Status != domain.SourceProcessed {
		t.Fatalf("expected processed status, got %s", src.Status)
	}
	if src.Content != "extracted body" {
		t.Fatalf("expected cached content, got %q", src.Content)
	}
	if got := src.Artifacts["key_insights"]; len(got.Items) != 2 {
		t.Fatalf("artifact not persisted: %+v", src.Artifacts)
	}
	if len(sink.statuses) != 2 || sink.statuses[0] != domain.SourceProcessing || sink.statuses[1] != domain.SourceProcessed {
		t.Fatalf("unexpected status sequence: %v", sink.statuses)
	}
}

func TestRunUnknownTransformation(t *testing.T) {
	st := store.NewMemoryStore()
	seedSource(t, st, "already extracted")
	exec, _ := newTestExecutor(t, st, &fakeExtractor{}, &fakeGenerator{})

	_, err := exec.Run(context.Background(), "src-1", "no_such_thing", nil)
	if !errors.Is(err, ErrUnknownTransformation) {
		t.Fatalf("expected ErrUnknownTransformation, got %v", err)
	}
}

func TestRunMissingSource(t *testing.T) {
	st := store.NewMemoryStore()
	exec, _ := newTestExecutor(t, st, &fakeExtractor{}, &fakeGenerator{})

	_, err := exec.Run(context.Background(), "ghost", "simple_summary", nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunPermanentGenerationErrorNotRetried(t *testing.T) {
	st := store.NewMemoryStore()
	seedSource(t, st, "already extracted")
	gen := &fakeGenerator{errs: []error{
		&ai.GenerationError{Transient: false, Reason: "content policy"},
		&ai.GenerationError{Transient: false, Reason: "content policy"},
	}}
	exec, _ := newTestExecutor(t, st, &fakeExtractor{}, gen)

	_, err := exec.Run(context.Background(), "src-1", "simple_summary", nil)
	if err == nil {
		t.Fatalf("expected generation error")
	}
	if got := gen.calls.Load(); got != 1 {
		t.Fatalf("permanent failure must not be retried, got %d calls", got)
	}

	src, _, _ := st.GetSource("src-1")
	if len(src.Artifacts) != 0 {
		t.Fatalf("failed run must not store an artifact: %+v", src.Artifacts)
	}
	if src.Status != domain.SourcePending {
		t.Fatalf("transformation failure must not touch source status, got %s", src.Status)
	}
}

func TestRunTransientGenerationErrorRetried(t *testing.T) {
	st := store.NewMemoryStore()
	seedSource(t, st, "already extracted")
	gen := &fakeGenerator{
		errs:    []error{&ai.GenerationError{Transient: true, Reason: "rate limited"}, nil},
		outputs: []string{"", "summary text"},
	}
	exec, _ := newTestExecutor(t, st, &fakeExtractor{}, gen)

	artifact, err := exec.Run(context.Background(), "src-1", "simple_summary", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if artifact.Text != "summary text" {
		t.Fatalf("unexpected artifact text: %q", artifact.Text)
	}
	if got := gen.calls.Load(); got != 2 {
		t.Fatalf("expected one retry, got %d calls", got)
	}
}

func TestRunReplacesArtifactUnderSameName(t *testing.T) {
	st := store.NewMemoryStore()
	seedSource(t, st, "already extracted")
	gen := &fakeGenerator{outputs: []string{"first version", "second version"}}
	exec, _ := newTestExecutor(t, st, &fakeExtractor{}, gen)

	ctx := context.Background()
	if _, err := exec.Run(ctx, "src-1", "simple_summary", nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := exec.Run(ctx, "src-1", "simple_summary", nil); err != nil {
		t.Fatalf("second run: %v", err)
	}

	src, _, _ := st.GetSource("src-1")
	if len(src.Artifacts) != 1 {
		t.Fatalf("rerun must replace, not append: %+v", src.Artifacts)
	}
	if got := src.Artifacts["simple_summary"].Text; got != "second version" {
		t.Fatalf("expected latest artifact, got %q", got)
	}
}

func TestEnsureContentDeduplicatesConcurrentExtractions(t *testing.T) {
	st := store.NewMemoryStore()
	seedSource(t, st, "")
	ext := &fakeExtractor{text: "extracted body", delay: 20 * time.Millisecond}
	exec, _ := newTestExecutor(t, st, ext, &fakeGenerator{})

	const workers = 8
	var wg sync.WaitGroup
	results := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = exec.EnsureContent(context.Background(), "src-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i] != "extracted body" {
			t.Fatalf("worker %d got %q", i, results[i])
		}
	}
	if got := ext.calls.Load(); got != 1 {
		t.Fatalf("expected a single extraction, got %d", got)
	}
}

func TestRunExtractionFailureMarksSourceError(t *testing.T) {
	st := store.NewMemoryStore()
	seedSource(t, st, "")
	ext := &fakeExtractor{err: &extract.Error{Reason: "unsupported file type", Permanent: true}}
	gen := &fakeGenerator{}
	exec, _ := newTestExecutor(t, st, ext, gen)

	_, err := exec.Run(context.Background(), "src-1", "simple_summary", nil)
	if !errors.Is(err, ErrNotExtracted) {
		t.Fatalf("expected ErrNotExtracted, got %v", err)
	}
	if gen.calls.Load() != 0 {
		t.Fatalf("generator must not run without content")
	}

	src, _, _ := st.GetSource("src-1")
	if src.Status != domain.SourceError {
		t.Fatalf("expected error status, got %s", src.Status)
	}
	if src.ErrorDetail == "" {
		t.Fatalf("expected error detail to be recorded")
	}
}

func TestBuildSystemPromptDeterministicParams(t *testing.T) {
	spec, _ := NewCatalog().Get("summarize_text")
	params := map[string]string{"max_words": "50", "audience": "executives"}

	a := buildSystemPrompt(spec, params)
	b := buildSystemPrompt(spec, params)
	if a != b {
		t.Fatalf("prompt rendering must be deterministic")
	}
	want := fmt.Sprintf("%s\n\n# PARAMETERS\naudience: executives\nmax_words: 50\n\n# INPUT", spec.Prompt)
	if a != want {
		t.Fatalf("unexpected prompt:\n%s", a)
	}
}

func TestCatalogDefaults(t *testing.T) {
	defaults := NewCatalog().Defaults()
	if len(defaults) != 3 {
		t.Fatalf("expected 3 default transformations, got %d", len(defaults))
	}
	want := []string{"key_insights", "reflection_questions", "simple_summary"}
	for i, spec := range defaults {
		if spec.Name != want[i] {
			t.Fatalf("defaults out of order: got %s at %d", spec.Name, i)
		}
	}
}
