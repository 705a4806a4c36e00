package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"notebookai/internal/grounding"
	"notebookai/pkg/ai"
	"notebookai/pkg/domain"
	"notebookai/pkg/store"
)

type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func (g *scriptedGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, userPrompt)
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "scripted reply", nil
	}
	reply := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return reply, nil
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func newTestOrchestrator(t *testing.T, gen ai.TextGenerator) (*Orchestrator, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.SaveNotebook(domain.Notebook{ID: "nb-1", Name: "research"}); err != nil {
		t.Fatalf("seed notebook: %v", err)
	}
	sel, err := grounding.NewSelector(grounding.Config{Store: st})
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	orch, err := New(Config{Store: st, Generator: gen, Selector: sel})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, st
}

func mustCreateSession(t *testing.T, orch *Orchestrator) domain.ChatSession {
	t.Helper()
	session, err := orch.CreateSession(context.Background(), "nb-1", "first chat")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestCreateSessionUnknownNotebook(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedGenerator{})

	_, err := orch.CreateSession(context.Background(), "ghost", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostMessageAppendsPairInOrder(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"grounded answer"}}
	orch, _ := newTestOrchestrator(t, gen)
	session := mustCreateSession(t, orch)

	userMsg, assistantMsg, err := orch.PostMessage(context.Background(), session.ID, "what is in my notebook?")
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if userMsg.Order != 1 || assistantMsg.Order != 2 {
		t.Fatalf("expected orders 1,2 got %d,%d", userMsg.Order, assistantMsg.Order)
	}
	if assistantMsg.Content != "grounded answer" {
		t.Fatalf("unexpected reply: %q", assistantMsg.Content)
	}

	msgs, err := orch.ListMessages(session.ID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Sender != domain.SenderUser || msgs[1].Sender != domain.SenderAssistant {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
}

func TestPostMessageEmptyNotebookStillReplies(t *testing.T) {
	gen := &scriptedGenerator{}
	orch, _ := newTestOrchestrator(t, gen)
	session := mustCreateSession(t, orch)

	_, assistantMsg, err := orch.PostMessage(context.Background(), session.ID, "hello?")
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	if assistantMsg.Content == "" {
		t.Fatalf("expected a reply for an empty notebook")
	}
	if !strings.Contains(gen.lastPrompt(), "no relevant material") {
		t.Fatalf("prompt must state the notebook is empty:\n%s", gen.lastPrompt())
	}
}

func TestPostMessageGroundsPromptInNotebookMaterial(t *testing.T) {
	gen := &scriptedGenerator{}
	orch, st := newTestOrchestrator(t, gen)
	session := mustCreateSession(t, orch)

	now := time.Now().UTC()
	err := st.SaveSource(domain.Source{
		ID:         "src-1",
		NotebookID: "nb-1",
		Origin:     domain.Origin{Kind: domain.OriginText, Content: "x"},
		Title:      "sourdough guide",
		Status:     domain.SourceProcessed,
		Content:    "sourdough fermentation relies on wild yeast",
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("seed source: %v", err)
	}

	if _, _, err := orch.PostMessage(context.Background(), session.ID, "tell me about sourdough fermentation"); err != nil {
		t.Fatalf("post message: %v", err)
	}
	prompt := gen.lastPrompt()
	if !strings.Contains(prompt, "wild yeast") {
		t.Fatalf("prompt missing notebook context:\n%s", prompt)
	}
	if !strings.Contains(prompt, "sourdough guide") {
		t.Fatalf("prompt missing source title:\n%s", prompt)
	}
}

func TestPostMessageGeneratorFailureKeepsUserMessage(t *testing.T) {
	gen := &scriptedGenerator{err: &ai.GenerationError{Transient: true, Reason: "provider down"}}
	orch, _ := newTestOrchestrator(t, gen)
	session := mustCreateSession(t, orch)

	userMsg, _, err := orch.PostMessage(context.Background(), session.ID, "anyone there?")
	if !errors.Is(err, ErrNoAssistantReply) {
		t.Fatalf("expected ErrNoAssistantReply, got %v", err)
	}
	var genErr *ai.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("cause must be preserved, got %v", err)
	}
	if userMsg.Order != 1 {
		t.Fatalf("user message must be recorded, got %+v", userMsg)
	}

	msgs, err := orch.ListMessages(session.ID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Sender != domain.SenderUser {
		t.Fatalf("expected only the user message, got %+v", msgs)
	}
}

func TestPostMessageConcurrentOrdersAreConsecutive(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedGenerator{})
	session := mustCreateSession(t, orch)

	const posts = 10
	var wg sync.WaitGroup
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := orch.PostMessage(context.Background(), session.ID, "concurrent question"); err != nil {
				t.Errorf("post message: %v", err)
			}
		}()
	}
	wg.Wait()

	msgs, err := orch.ListMessages(session.ID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != posts*2 {
		t.Fatalf("expected %d messages, got %d", posts*2, len(msgs))
	}
	for i, msg := range msgs {
		if msg.Order != int64(i+1) {
			t.Fatalf("orders must be a gapless ascending sequence, got %d at index %d", msg.Order, i)
		}
	}
}

func TestPostMessageEmptyContent(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedGenerator{})
	session := mustCreateSession(t, orch)

	if _, _, err := orch.PostMessage(context.Background(), session.ID, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestPostMessageUnknownSession(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedGenerator{})

	if _, _, err := orch.PostMessage(context.Background(), "ghost", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRenameAndDeleteSession(t *testing.T) {
	orch, st := newTestOrchestrator(t, &scriptedGenerator{})
	session := mustCreateSession(t, orch)

	renamed, err := orch.RenameSession(session.ID, "renamed")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Title != "renamed" {
		t.Fatalf("unexpected title: %q", renamed.Title)
	}

	if _, _, err := orch.PostMessage(context.Background(), session.ID, "hello"); err != nil {
		t.Fatalf("post message: %v", err)
	}
	if err := orch.DeleteSession(session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := orch.ListMessages(session.ID, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if msgs, err := st.ListMessages(session.ID, 0); err != nil || len(msgs) != 0 {
		t.Fatalf("messages must cascade on session delete: %v %+v", err, msgs)
	}
}
