package store

import (
	"errors"

	"notebookai/pkg/domain"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrOrderConflict indicates two messages competed for the same order
	// slot within a session. Callers serialize order assignment, so this
	// surfacing means a serialization bug; it must not escape the core.
	ErrOrderConflict = errors.New("message order conflict")
)

// Store defines persistence for notebooks, sources, notes, chat, and tasks.
type Store interface {
	// notebooks
	SaveNotebook(nb domain.Notebook) error
	GetNotebook(id string) (domain.Notebook, bool, error)
	ListNotebooks() ([]domain.Notebook, error)
	DeleteNotebook(id string) error
	CountNotebookItems(id string) (sources int, notes int, err error)

	// sources
	SaveSource(src domain.Source) error
	GetSource(id string) (domain.Source, bool, error)
	ListSources(notebookID string) ([]domain.Source, error)
	// MutateSource applies fn to the current record and persists the result
	// as one atomic update. It is the only way to modify an existing source;
	// status transitions and artifact upserts never race through it.
	MutateSource(id string, fn func(*domain.Source) error) (domain.Source, error)
	DeleteSource(id string) error

	// notes
	SaveNote(note domain.Note) error
	GetNote(id string) (domain.Note, bool, error)
	ListNotes(notebookID string) ([]domain.Note, error)
	DeleteNote(id string) error

	// chat
	SaveSession(session domain.ChatSession) error
	GetSession(id string) (domain.ChatSession, bool, error)
	ListSessions(notebookID string) ([]domain.ChatSession, error)
	DeleteSession(id string) error
	AppendMessage(msg domain.ChatMessage) error
	ListMessages(sessionID string, limit int) ([]domain.ChatMessage, error)
	LastMessageOrder(sessionID string) (int64, error)

	// tasks
	SaveTask(task domain.Task) error
	GetTask(id string) (domain.Task, bool, error)
	ListTasks(notebookID string) ([]domain.Task, error)
	DeleteTask(id string) error
}
