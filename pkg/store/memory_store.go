package store

import (
	"sort"
	"sync"
	"time"

	"notebookai/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and single-node
// development runs; cascade deletes mirror the Postgres foreign keys.
type MemoryStore struct {
	mu        sync.RWMutex
	notebooks map[string]domain.Notebook
	sources   map[string]domain.Source
	notes     map[string]domain.Note
	sessions  map[string]domain.ChatSession
	messages  map[string][]domain.ChatMessage // key: session ID, kept ordered
	tasks     map[string]domain.Task
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notebooks: make(map[string]domain.Notebook),
		sources:   make(map[string]domain.Source),
		notes:     make(map[string]domain.Note),
		sessions:  make(map[string]domain.ChatSession),
		messages:  make(map[string][]domain.ChatMessage),
		tasks:     make(map[string]domain.Task),
	}
}

// notebooks

func (m *MemoryStore) SaveNotebook(nb domain.Notebook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notebooks[nb.ID] = nb
	return nil
}

func (m *MemoryStore) GetNotebook(id string) (domain.Notebook, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nb, ok := m.notebooks[id]
	return nb, ok, nil
}

func (m *MemoryStore) ListNotebooks() ([]domain.Notebook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.Notebook, 0, len(m.notebooks))
	for _, nb := range m.notebooks {
		items = append(items, nb)
	}
	sortByCreated(items, func(nb domain.Notebook) (time.Time, string) { return nb.CreatedAt, nb.ID })
	return items, nil
}

func (m *MemoryStore) DeleteNotebook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notebooks[id]; !ok {
		return ErrNotFound
	}
	delete(m.notebooks, id)
	for sid, src := range m.sources {
		if src.NotebookID == id {
			delete(m.sources, sid)
		}
	}
	for nid, note := range m.notes {
		if note.NotebookID == id {
			delete(m.notes, nid)
		}
	}
	for sid, session := range m.sessions {
		if session.NotebookID == id {
			delete(m.sessions, sid)
			delete(m.messages, sid)
		}
	}
	for tid, task := range m.tasks {
		if task.NotebookID == id {
			delete(m.tasks, tid)
		}
	}
	return nil
}

func (m *MemoryStore) CountNotebookItems(id string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sources, notes int
	for _, src := range m.sources {
		if src.NotebookID == id {
			sources++
		}
	}
	for _, note := range m.notes {
		if note.NotebookID == id {
			notes++
		}
	}
	return sources, notes, nil
}

// sources

func (m *MemoryStore) SaveSource(src domain.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.ID] = cloneSource(src)
	return nil
}

func (m *MemoryStore) GetSource(id string) (domain.Source, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[id]
	if !ok {
		return domain.Source{}, false, nil
	}
	return cloneSource(src), true, nil
}

func (m *MemoryStore) ListSources(notebookID string) ([]domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.Source, 0)
	for _, src := range m.sources {
		if src.NotebookID == notebookID {
			items = append(items, cloneSource(src))
		}
	}
	sortByCreated(items, func(s domain.Source) (time.Time, string) { return s.CreatedAt, s.ID })
	return items, nil
}

func (m *MemoryStore) MutateSource(id string, fn func(*domain.Source) error) (domain.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id]
	if !ok {
		return domain.Source{}, ErrNotFound
	}
	copied := cloneSource(src)
	if err := fn(&copied); err != nil {
		return domain.Source{}, err
	}
	copied.UpdatedAt = time.Now().UTC()
	m.sources[id] = cloneSource(copied)
	return copied, nil
}

func (m *MemoryStore) DeleteSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return ErrNotFound
	}
	delete(m.sources, id)
	return nil
}

// notes

func (m *MemoryStore) SaveNote(note domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[note.ID] = note
	return nil
}

func (m *MemoryStore) GetNote(id string) (domain.Note, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	note, ok := m.notes[id]
	return note, ok, nil
}

func (m *MemoryStore) ListNotes(notebookID string) ([]domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.Note, 0)
	for _, note := range m.notes {
		if note.NotebookID == notebookID {
			items = append(items, note)
		}
	}
	sortByCreated(items, func(n domain.Note) (time.Time, string) { return n.CreatedAt, n.ID })
	return items, nil
}

func (m *MemoryStore) DeleteNote(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[id]; !ok {
		return ErrNotFound
	}
	delete(m.notes, id)
	return nil
}

// chat

func (m *MemoryStore) SaveSession(session domain.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *MemoryStore) GetSession(id string) (domain.ChatSession, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok, nil
}

func (m *MemoryStore) ListSessions(notebookID string) ([]domain.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.ChatSession, 0)
	for _, session := range m.sessions {
		if session.NotebookID == notebookID {
			items = append(items, session)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (m *MemoryStore) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) AppendMessage(msg domain.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.messages[msg.SessionID]
	for _, item := range existing {
		if item.Order == msg.Order {
			return ErrOrderConflict
		}
	}
	existing = append(existing, msg)
	sort.Slice(existing, func(i, j int) bool { return existing[i].Order < existing[j].Order })
	m.messages[msg.SessionID] = existing
	return nil
}

func (m *MemoryStore) ListMessages(sessionID string, limit int) ([]domain.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) LastMessageOrder(sessionID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[sessionID]
	if len(msgs) == 0 {
		return 0, nil
	}
	return msgs[len(msgs)-1].Order, nil
}

// tasks

func (m *MemoryStore) SaveTask(task domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	return nil
}

func (m *MemoryStore) GetTask(id string) (domain.Task, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	return task, ok, nil
}

func (m *MemoryStore) ListTasks(notebookID string) ([]domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.Task, 0)
	for _, task := range m.tasks {
		if task.NotebookID == notebookID {
			items = append(items, task)
		}
	}
	sortByCreated(items, func(t domain.Task) (time.Time, string) { return t.CreatedAt, t.ID })
	return items, nil
}

func (m *MemoryStore) DeleteTask(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func cloneSource(src domain.Source) domain.Source {
	copied := src
	if src.Artifacts != nil {
		copied.Artifacts = make(map[string]domain.Artifact, len(src.Artifacts))
		for name, artifact := range src.Artifacts {
			copied.Artifacts[name] = artifact
		}
	}
	return copied
}

func sortByCreated[T any](items []T, key func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return idi < idj
	})
}
