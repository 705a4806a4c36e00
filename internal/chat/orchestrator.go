package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"notebookai/internal/grounding"
	"notebookai/internal/util"
	"notebookai/pkg/ai"
	"notebookai/pkg/domain"
	"notebookai/pkg/store"
)

var (
	// ErrSessionNotFound indicates the chat session does not exist.
	ErrSessionNotFound = errors.New("chat session not found")
	// ErrNoAssistantReply indicates the user message was recorded but the
	// assistant reply could not be generated.
	ErrNoAssistantReply = errors.New("no assistant reply")
	// ErrEmptyMessage indicates a blank user message.
	ErrEmptyMessage = errors.New("empty message")
)

const systemPrompt = `You are a research assistant answering questions about the user's notebook.
Ground your answers in the provided notebook context. When the context does not
cover the question, say so instead of inventing facts.`

// Config carries the orchestrator's dependencies.
type Config struct {
	Store     store.Store
	Generator ai.TextGenerator
	Selector  *grounding.Selector
	// HistoryLimit bounds how many recent messages feed the prompt. Zero means 20.
	HistoryLimit int
	// ContextBudget caps the grounding block in runes. Zero means the
	// selector's default.
	ContextBudget int
	// CallTimeout bounds a single generation call. Zero means 120s.
	CallTimeout time.Duration
}

// Orchestrator runs grounded notebook conversations: it manages sessions,
// assigns the authoritative message order, selects notebook context for each
// user message, and records the assistant reply.
type Orchestrator struct {
	store         store.Store
	generator     ai.TextGenerator
	selector      *grounding.Selector
	historyLimit  int
	contextBudget int
	callTimeout   time.Duration

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("chat: store is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("chat: generator is required")
	}
	if cfg.Selector == nil {
		return nil, fmt.Errorf("chat: selector is required")
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	return &Orchestrator{
		store:         cfg.Store,
		generator:     cfg.Generator,
		selector:      cfg.Selector,
		historyLimit:  cfg.HistoryLimit,
		contextBudget: cfg.ContextBudget,
		callTimeout:   cfg.CallTimeout,
		sessions:      make(map[string]*sync.Mutex),
	}, nil
}

// CreateSession opens a new chat session under the notebook.
func (o *Orchestrator) CreateSession(ctx context.Context, notebookID, title string) (domain.ChatSession, error) {
	if _, found, err := o.store.GetNotebook(notebookID); err != nil {
		return domain.ChatSession{}, fmt.Errorf("load notebook %s: %w", notebookID, err)
	} else if !found {
		return domain.ChatSession{}, fmt.Errorf("notebook %s: %w", notebookID, store.ErrNotFound)
	}
	now := time.Now().UTC()
	session := domain.ChatSession{
		ID:         util.NewID(),
		NotebookID: notebookID,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.SaveSession(session); err != nil {
		return domain.ChatSession{}, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// ListSessions returns the notebook's sessions.
func (o *Orchestrator) ListSessions(notebookID string) ([]domain.ChatSession, error) {
	sessions, err := o.store.ListSessions(notebookID)
	if err != nil {
		return nil, fmt.Errorf("list sessions of notebook %s: %w", notebookID, err)
	}
	return sessions, nil
}

// ListMessages returns the session's messages in ascending order.
func (o *Orchestrator) ListMessages(sessionID string, limit int) ([]domain.ChatMessage, error) {
	if _, err := o.getSession(sessionID); err != nil {
		return nil, err
	}
	msgs, err := o.store.ListMessages(sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages of session %s: %w", sessionID, err)
	}
	return msgs, nil
}

// RenameSession updates the session title.
func (o *Orchestrator) RenameSession(sessionID, title string) (domain.ChatSession, error) {
	session, err := o.getSession(sessionID)
	if err != nil {
		return domain.ChatSession{}, err
	}
	session.Title = title
	session.UpdatedAt = time.Now().UTC()
	if err := o.store.SaveSession(session); err != nil {
		return domain.ChatSession{}, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	return session, nil
}

// DeleteSession removes the session and its messages.
func (o *Orchestrator) DeleteSession(sessionID string) error {
	if _, err := o.getSession(sessionID); err != nil {
		return err
	}
	if err := o.store.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	o.mu.Lock()
	delete(o.sessions, sessionID)
	o.mu.Unlock()
	return nil
}

// PostMessage records the user's message, generates a grounded assistant
// reply, and records it. Order assignment is serialized per session, so the
// pair always occupies consecutive slots. If generation fails, the user
// message stays and ErrNoAssistantReply is returned wrapping the cause.
func (o *Orchestrator) PostMessage(ctx context.Context, sessionID, content string) (domain.ChatMessage, domain.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.ChatMessage{}, domain.ChatMessage{}, ErrEmptyMessage
	}
	session, err := o.getSession(sessionID)
	if err != nil {
		return domain.ChatMessage{}, domain.ChatMessage{}, err
	}

	lock := o.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tail, err := o.store.LastMessageOrder(sessionID)
	if err != nil {
		return domain.ChatMessage{}, domain.ChatMessage{}, fmt.Errorf("read tail of session %s: %w", sessionID, err)
	}

	userMsg := domain.ChatMessage{
		ID:        util.NewID(),
		SessionID: sessionID,
		Sender:    domain.SenderUser,
		Content:   content,
		Order:     tail + 1,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.AppendMessage(userMsg); err != nil {
		return domain.ChatMessage{}, domain.ChatMessage{}, fmt.Errorf("append user message: %w", err)
	}

	reply, err := o.reply(ctx, session, userMsg)
	if err != nil {
		slog.Warn("assistant reply failed", "session_id", sessionID, "error", err)
		return userMsg, domain.ChatMessage{}, fmt.Errorf("%w: %w", ErrNoAssistantReply, err)
	}

	assistantMsg := domain.ChatMessage{
		ID:        util.NewID(),
		SessionID: sessionID,
		Sender:    domain.SenderAssistant,
		Content:   reply,
		Order:     tail + 2,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.AppendMessage(assistantMsg); err != nil {
		return userMsg, domain.ChatMessage{}, fmt.Errorf("append assistant message: %w", err)
	}
	return userMsg, assistantMsg, nil
}

// reply selects context and calls the generator. Selection failure degrades
// to an ungrounded answer instead of failing the message.
func (o *Orchestrator) reply(ctx context.Context, session domain.ChatSession, userMsg domain.ChatMessage) (string, error) {
	set, err := o.selector.Select(ctx, session.NotebookID, userMsg.Content, o.contextBudget)
	if err != nil {
		slog.Warn("context selection failed, answering ungrounded", "session_id", session.ID, "error", err)
		set = grounding.ContextSet{}
	}

	history, err := o.store.ListMessages(session.ID, o.historyLimit)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	prompt := buildUserPrompt(set, history, userMsg)
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	reply, err := o.generator.GenerateText(callCtx, systemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("generator returned empty reply")
	}
	return reply, nil
}

// buildUserPrompt assembles the grounding block, recent history, and the
// current question into one prompt.
func buildUserPrompt(set grounding.ContextSet, history []domain.ChatMessage, userMsg domain.ChatMessage) string {
	var b strings.Builder
	b.WriteString("# NOTEBOOK CONTEXT\n")
	if set.Empty() {
		b.WriteString("(the notebook has no relevant material)")
	} else {
		b.WriteString(set.Render())
	}

	var prior []domain.ChatMessage
	for _, msg := range history {
		if msg.ID != userMsg.ID {
			prior = append(prior, msg)
		}
	}
	if len(prior) > 0 {
		b.WriteString("\n\n# CONVERSATION SO FAR")
		for _, msg := range prior {
			fmt.Fprintf(&b, "\n%s: %s", msg.Sender, msg.Content)
		}
	}

	b.WriteString("\n\n# QUESTION\n")
	b.WriteString(userMsg.Content)
	return b.String()
}

func (o *Orchestrator) getSession(sessionID string) (domain.ChatSession, error) {
	session, found, err := o.store.GetSession(sessionID)
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !found {
		return domain.ChatSession{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return session, nil
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.sessions[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.sessions[sessionID] = lock
	}
	return lock
}
