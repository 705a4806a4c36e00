package grounding

import (
	"context"
	"strings"
	"testing"
	"time"

	"notebookai/pkg/domain"
	"notebookai/pkg/store"
)

func newTestSelector(t *testing.T) (*Selector, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.SaveNotebook(domain.Notebook{ID: "nb-1", Name: "research"}); err != nil {
		t.Fatalf("seed notebook: %v", err)
	}
	sel, err := NewSelector(Config{Store: st})
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	return sel, st
}

func seedProcessedSource(t *testing.T, st store.Store, id, title, content string, at time.Time) {
	t.Helper()
	err := st.SaveSource(domain.Source{
		ID:         id,
		NotebookID: "nb-1",
		Origin:     domain.Origin{Kind: domain.OriginText, Content: content},
		Title:      title,
		Status:     domain.SourceProcessed,
		Content:    content,
		CreatedAt:  at,
		UpdatedAt:  at,
	})
	if err != nil {
		t.Fatalf("seed source %s: %v", id, err)
	}
}

func TestSelectEmptyNotebook(t *testing.T) {
	sel, _ := newTestSelector(t)

	set, err := sel.Select(context.Background(), "nb-1", "anything", 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !set.Empty() {
		t.Fatalf("expected empty set, got %+v", set)
	}
	if set.Render() != "" {
		t.Fatalf("empty set must render to empty string")
	}
}

func TestSelectRanksByKeywordOverlap(t *testing.T) {
	sel, st := newTestSelector(t)
	at := time.Now().UTC()
	seedProcessedSource(t, st, "src-a", "fermentation notes", "sourdough fermentation depends on wild yeast and temperature", at)
	seedProcessedSource(t, st, "src-b", "gardening", "tomatoes need full sun and regular watering", at)

	set, err := sel.Select(context.Background(), "nb-1", "how does yeast fermentation work", 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(set.Items) != 2 {
		t.Fatalf("expected both items, got %+v", set.Items)
	}
	if set.Items[0].ID != "src-a" {
		t.Fatalf("expected overlap winner first, got %s", set.Items[0].ID)
	}
}

func TestSelectTiebreaksByRecencyThenID(t *testing.T) {
	sel, st := newTestSelector(t)
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := old.Add(24 * time.Hour)
	seedProcessedSource(t, st, "src-old", "", "unrelated content alpha", old)
	seedProcessedSource(t, st, "src-new", "", "unrelated content beta", newer)
	seedProcessedSource(t, st, "src-also-old", "", "unrelated content gamma", old)

	set, err := sel.Select(context.Background(), "nb-1", "", 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	got := []string{set.Items[0].ID, set.Items[1].ID, set.Items[2].ID}
	want := []string{"src-new", "src-also-old", "src-old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestSelectPrefersSummaryArtifactOverContent(t *testing.T) {
	sel, st := newTestSelector(t)
	at := time.Now().UTC()
	err := st.SaveSource(domain.Source{
		ID:         "src-1",
		NotebookID: "nb-1",
		Origin:     domain.Origin{Kind: domain.OriginText, Content: "long raw body"},
		Status:     domain.SourceProcessed,
		Content:    "long raw body " + strings.Repeat("padding ", 100),
		Artifacts: map[string]domain.Artifact{
			"simple_summary": {Transformation: "simple_summary", Text: "a compact summary", CreatedAt: at},
		},
		CreatedAt: at,
		UpdatedAt: at,
	})
	if err != nil {
		t.Fatalf("seed source: %v", err)
	}

	set, err := sel.Select(context.Background(), "nb-1", "summary", 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(set.Items) != 1 || set.Items[0].Excerpt != "a compact summary" {
		t.Fatalf("expected summary artifact excerpt, got %+v", set.Items)
	}
}

func TestSelectIncludesNotes(t *testing.T) {
	sel, st := newTestSelector(t)
	if err := st.SaveNote(domain.Note{
		ID:         "note-1",
		NotebookID: "nb-1",
		Title:      "observation",
		Content:    "the starter doubles faster in a warm kitchen",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed note: %v", err)
	}

	set, err := sel.Select(context.Background(), "nb-1", "warm kitchen starter", 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(set.Items) != 1 || set.Items[0].Kind != ItemNote {
		t.Fatalf("expected the note, got %+v", set.Items)
	}
	if !strings.Contains(set.Render(), "### note: observation") {
		t.Fatalf("unexpected render:\n%s", set.Render())
	}
}

func TestSelectHonorsBudget(t *testing.T) {
	sel, st := newTestSelector(t)
	at := time.Now().UTC()
	seedProcessedSource(t, st, "src-1", "", strings.Repeat("word ", 200), at)
	seedProcessedSource(t, st, "src-2", "", strings.Repeat("word ", 200), at.Add(-time.Hour))

	set, err := sel.Select(context.Background(), "nb-1", "word", 60)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	total := 0
	for _, item := range set.Items {
		total += len([]rune(item.Excerpt))
	}
	if total > 60 {
		t.Fatalf("budget exceeded: %d runes across %d items", total, len(set.Items))
	}
	if len(set.Items) == 0 {
		t.Fatalf("expected at least one truncated item")
	}
}

func TestSelectSkipsUnextractedSources(t *testing.T) {
	sel, st := newTestSelector(t)
	err := st.SaveSource(domain.Source{
		ID:         "src-pending",
		NotebookID: "nb-1",
		Origin:     domain.Origin{Kind: domain.OriginURL, URL: "https://example.com"},
		Status:     domain.SourcePending,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed source: %v", err)
	}

	set, err := sel.Select(context.Background(), "nb-1", "example", 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !set.Empty() {
		t.Fatalf("pending source without content must not be selected: %+v", set.Items)
	}
}

func TestSelectDeterministic(t *testing.T) {
	sel, st := newTestSelector(t)
	at := time.Now().UTC()
	for _, id := range []string{"src-c", "src-a", "src-b"} {
		seedProcessedSource(t, st, id, "", "shared topic text about fermentation", at)
	}

	first, err := sel.Select(context.Background(), "nb-1", "fermentation", 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	second, err := sel.Select(context.Background(), "nb-1", "fermentation", 0)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if first.Render() != second.Render() {
		t.Fatalf("selection must be deterministic:\n%s\n---\n%s", first.Render(), second.Render())
	}
	if first.Items[0].ID != "src-a" {
		t.Fatalf("equal score and recency must fall back to ID order, got %s", first.Items[0].ID)
	}
}
