package notebook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"notebookai/internal/util"
	"notebookai/pkg/domain"
	"notebookai/pkg/store"
)

// ErrInvalidInput indicates a request failed validation.
var ErrInvalidInput = errors.New("invalid input")

// Service is the thin CRUD layer over notebooks, notes, and tasks. Derived
// source/note counts are computed on read, never stored.
type Service struct {
	store store.Store
}

// New builds a Service.
func New(st store.Store) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("notebook: store is required")
	}
	return &Service{store: st}, nil
}

// CreateNotebook creates a notebook with the given name and description.
func (s *Service) CreateNotebook(name, description string) (domain.Notebook, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Notebook{}, fmt.Errorf("%w: notebook name is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	nb := domain.Notebook{
		ID:          util.NewID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.SaveNotebook(nb); err != nil {
		return domain.Notebook{}, fmt.Errorf("save notebook: %w", err)
	}
	return nb, nil
}

// GetNotebook returns the notebook with derived counts filled in.
func (s *Service) GetNotebook(id string) (domain.Notebook, error) {
	nb, found, err := s.store.GetNotebook(id)
	if err != nil {
		return domain.Notebook{}, fmt.Errorf("load notebook %s: %w", id, err)
	}
	if !found {
		return domain.Notebook{}, fmt.Errorf("notebook %s: %w", id, store.ErrNotFound)
	}
	return s.withCounts(nb)
}

// ListNotebooks returns all notebooks with derived counts.
func (s *Service) ListNotebooks() ([]domain.Notebook, error) {
	nbs, err := s.store.ListNotebooks()
	if err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	for i, nb := range nbs {
		counted, err := s.withCounts(nb)
		if err != nil {
			return nil, err
		}
		nbs[i] = counted
	}
	return nbs, nil
}

// UpdateNotebook renames a notebook and/or replaces its description.
func (s *Service) UpdateNotebook(id, name, description string) (domain.Notebook, error) {
	nb, err := s.GetNotebook(id)
	if err != nil {
		return domain.Notebook{}, err
	}
	if name = strings.TrimSpace(name); name != "" {
		nb.Name = name
	}
	nb.Description = strings.TrimSpace(description)
	nb.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveNotebook(nb); err != nil {
		return domain.Notebook{}, fmt.Errorf("save notebook %s: %w", id, err)
	}
	return nb, nil
}

// DeleteNotebook removes the notebook and everything under it.
func (s *Service) DeleteNotebook(id string) error {
	if _, err := s.GetNotebook(id); err != nil {
		return err
	}
	if err := s.store.DeleteNotebook(id); err != nil {
		return fmt.Errorf("delete notebook %s: %w", id, err)
	}
	return nil
}

// CreateNote adds a note to the notebook.
func (s *Service) CreateNote(notebookID, title, content string) (domain.Note, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Note{}, fmt.Errorf("%w: note content is required", ErrInvalidInput)
	}
	if _, err := s.GetNotebook(notebookID); err != nil {
		return domain.Note{}, err
	}
	now := time.Now().UTC()
	note := domain.Note{
		ID:         util.NewID(),
		NotebookID: notebookID,
		Title:      strings.TrimSpace(title),
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveNote(note); err != nil {
		return domain.Note{}, fmt.Errorf("save note: %w", err)
	}
	return note, nil
}

// GetNote returns a note by ID.
func (s *Service) GetNote(id string) (domain.Note, error) {
	note, found, err := s.store.GetNote(id)
	if err != nil {
		return domain.Note{}, fmt.Errorf("load note %s: %w", id, err)
	}
	if !found {
		return domain.Note{}, fmt.Errorf("note %s: %w", id, store.ErrNotFound)
	}
	return note, nil
}

// ListNotes returns the notebook's notes.
func (s *Service) ListNotes(notebookID string) ([]domain.Note, error) {
	notes, err := s.store.ListNotes(notebookID)
	if err != nil {
		return nil, fmt.Errorf("list notes of notebook %s: %w", notebookID, err)
	}
	return notes, nil
}

// UpdateNote replaces a note's title and content.
func (s *Service) UpdateNote(id, title, content string) (domain.Note, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Note{}, fmt.Errorf("%w: note content is required", ErrInvalidInput)
	}
	note, err := s.GetNote(id)
	if err != nil {
		return domain.Note{}, err
	}
	note.Title = strings.TrimSpace(title)
	note.Content = content
	note.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveNote(note); err != nil {
		return domain.Note{}, fmt.Errorf("save note %s: %w", id, err)
	}
	return note, nil
}

// DeleteNote removes a note.
func (s *Service) DeleteNote(id string) error {
	if _, err := s.GetNote(id); err != nil {
		return err
	}
	if err := s.store.DeleteNote(id); err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	return nil
}

// CreateTask adds a task in the todo state.
func (s *Service) CreateTask(notebookID, description string) (domain.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.Task{}, fmt.Errorf("%w: task description is required", ErrInvalidInput)
	}
	if _, err := s.GetNotebook(notebookID); err != nil {
		return domain.Task{}, err
	}
	now := time.Now().UTC()
	task := domain.Task{
		ID:          util.NewID(),
		NotebookID:  notebookID,
		Description: description,
		Status:      domain.TaskTodo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.SaveTask(task); err != nil {
		return domain.Task{}, fmt.Errorf("save task: %w", err)
	}
	return task, nil
}

// ListTasks returns the notebook's tasks.
func (s *Service) ListTasks(notebookID string) ([]domain.Task, error) {
	tasks, err := s.store.ListTasks(notebookID)
	if err != nil {
		return nil, fmt.Errorf("list tasks of notebook %s: %w", notebookID, err)
	}
	return tasks, nil
}

// UpdateTask changes a task's description and/or status.
func (s *Service) UpdateTask(id, description string, status domain.TaskStatus) (domain.Task, error) {
	task, found, err := s.store.GetTask(id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	if !found {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	if description = strings.TrimSpace(description); description != "" {
		task.Description = description
	}
	if status != "" {
		switch status {
		case domain.TaskTodo, domain.TaskInProgress, domain.TaskCompleted:
			task.Status = status
		default:
			return domain.Task{}, fmt.Errorf("%w: unknown task status %q", ErrInvalidInput, status)
		}
	}
	task.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveTask(task); err != nil {
		return domain.Task{}, fmt.Errorf("save task %s: %w", id, err)
	}
	return task, nil
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(id string) error {
	if _, found, err := s.store.GetTask(id); err != nil {
		return fmt.Errorf("load task %s: %w", id, err)
	} else if !found {
		return fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	if err := s.store.DeleteTask(id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *Service) withCounts(nb domain.Notebook) (domain.Notebook, error) {
	sources, notes, err := s.store.CountNotebookItems(nb.ID)
	if err != nil {
		return domain.Notebook{}, fmt.Errorf("count items of notebook %s: %w", nb.ID, err)
	}
	nb.SourceCount = sources
	nb.NoteCount = notes
	return nb, nil
}
