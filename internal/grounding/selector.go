package grounding

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"notebookai/pkg/domain"
	"notebookai/pkg/store"
)

// ItemKind tells what notebook entity a context item came from.
type ItemKind string

const (
	ItemSource ItemKind = "source"
	ItemNote   ItemKind = "note"
)

// Item is one selected piece of notebook material, trimmed to fit the budget.
type Item struct {
	Kind    ItemKind `json:"kind"`
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Excerpt string   `json:"excerpt"`
}

// ContextSet is the material handed to the chat orchestrator for grounding.
type ContextSet struct {
	Items []Item `json:"items"`
}

// Empty reports whether nothing was selected.
func (cs ContextSet) Empty() bool {
	return len(cs.Items) == 0
}

// Render formats the set as a prompt block. Deterministic: same set, same text.
func (cs ContextSet) Render() string {
	if len(cs.Items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, item := range cs.Items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		title := item.Title
		if title == "" {
			title = item.ID
		}
		fmt.Fprintf(&b, "### %s: %s\n%s", item.Kind, title, item.Excerpt)
	}
	return b.String()
}

// Config tunes the selector.
type Config struct {
	Store store.Store
	// MaxItems caps the number of selected items. Zero means 8.
	MaxItems int
	// ItemBudget caps a single excerpt's length in runes. Zero means 1500.
	ItemBudget int
}

// Selector picks the notebook material most relevant to a query. Scoring is
// deterministic: keyword overlap first, recency as tie-break, ID as the final
// tie-break, so the same notebook and query always select the same set.
type Selector struct {
	store      store.Store
	maxItems   int
	itemBudget int
}

// NewSelector validates cfg and builds a Selector.
func NewSelector(cfg Config) (*Selector, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("grounding: store is required")
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = 8
	}
	if cfg.ItemBudget == 0 {
		cfg.ItemBudget = 1500
	}
	return &Selector{store: cfg.Store, maxItems: cfg.MaxItems, itemBudget: cfg.ItemBudget}, nil
}

type candidate struct {
	item    Item
	text    string
	score   int
	touched time.Time
}

// Select gathers the notebook's sources and notes, scores them against the
// query, and returns the top items within budget. An empty notebook yields an
// empty set and no error. budget caps the total excerpt length in runes;
// zero means maxItems times the per-item budget.
func (s *Selector) Select(ctx context.Context, notebookID, query string, budget int) (ContextSet, error) {
	if err := ctx.Err(); err != nil {
		return ContextSet{}, err
	}
	if budget <= 0 {
		budget = s.maxItems * s.itemBudget
	}

	sources, err := s.store.ListSources(notebookID)
	if err != nil {
		return ContextSet{}, fmt.Errorf("list sources of notebook %s: %w", notebookID, err)
	}
	notes, err := s.store.ListNotes(notebookID)
	if err != nil {
		return ContextSet{}, fmt.Errorf("list notes of notebook %s: %w", notebookID, err)
	}

	terms := tokenize(query)
	var candidates []candidate
	for _, src := range sources {
		text := sourceDigest(src)
		if text == "" {
			continue
		}
		candidates = append(candidates, candidate{
			item:    Item{Kind: ItemSource, ID: src.ID, Title: src.Title},
			text:    text,
			score:   overlap(terms, text),
			touched: src.UpdatedAt,
		})
	}
	for _, note := range notes {
		if strings.TrimSpace(note.Content) == "" {
			continue
		}
		candidates = append(candidates, candidate{
			item:    Item{Kind: ItemNote, ID: note.ID, Title: note.Title},
			text:    note.Content,
			score:   overlap(terms, note.Content),
			touched: note.UpdatedAt,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if !candidates[i].touched.Equal(candidates[j].touched) {
			return candidates[i].touched.After(candidates[j].touched)
		}
		return candidates[i].item.ID < candidates[j].item.ID
	})

	var set ContextSet
	remaining := budget
	for _, cand := range candidates {
		if len(set.Items) >= s.maxItems || remaining <= 0 {
			break
		}
		limit := s.itemBudget
		if remaining < limit {
			limit = remaining
		}
		excerpt := truncate(cand.text, limit)
		if excerpt == "" {
			continue
		}
		item := cand.item
		item.Excerpt = excerpt
		set.Items = append(set.Items, item)
		remaining -= len([]rune(excerpt))
	}
	return set, nil
}

// sourceDigest picks the most compact faithful representation of a source:
// summary artifact first, then insight lists, then raw content.
func sourceDigest(src domain.Source) string {
	for _, name := range []string{"simple_summary", "dense_summary", "summarize_text"} {
		if a, ok := src.Artifacts[name]; ok && a.Text != "" {
			return a.Text
		}
	}
	for _, name := range []string{"key_insights", "table_of_contents"} {
		if a, ok := src.Artifacts[name]; ok && len(a.Items) > 0 {
			return "- " + strings.Join(a.Items, "\n- ")
		}
	}
	return src.Content
}

// tokenize lowercases and splits on non-letter/digit runes, dropping short
// tokens that carry no signal.
func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) < 3 {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

// overlap counts distinct query terms present in the text.
func overlap(terms map[string]struct{}, text string) int {
	if len(terms) == 0 {
		return 0
	}
	count := 0
	for tok := range tokenize(text) {
		if _, ok := terms[tok]; ok {
			count++
		}
	}
	return count
}

// truncate cuts text to at most limit runes, at a word boundary when possible.
func truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
