package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"notebookai/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations. Cascade deletes are
// enforced by the foreign keys declared on the models.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&NotebookModel{},
		&SourceModel{},
		&NoteModel{},
		&ChatSessionModel{},
		&ChatMessageModel{},
		&TaskModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// notebooks

func (s *GormStore) SaveNotebook(nb domain.Notebook) error {
	model := NotebookModel{
		ID:          nb.ID,
		Name:        nb.Name,
		Description: nb.Description,
		CreatedAt:   nb.CreatedAt,
		UpdatedAt:   nb.UpdatedAt,
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
		return fmt.Errorf("save notebook: %w", err)
	}
	return nil
}

func (s *GormStore) GetNotebook(id string) (domain.Notebook, bool, error) {
	var model NotebookModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Notebook{}, false, nil
	}
	if err != nil {
		return domain.Notebook{}, false, fmt.Errorf("get notebook: %w", err)
	}
	return notebookFromModel(model), true, nil
}

func (s *GormStore) ListNotebooks() ([]domain.Notebook, error) {
	var models []NotebookModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list notebooks: %w", err)
	}
	items := make([]domain.Notebook, 0, len(models))
	for _, m := range models {
		items = append(items, notebookFromModel(m))
	}
	return items, nil
}

func (s *GormStore) DeleteNotebook(id string) error {
	res := s.db.Delete(&NotebookModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete notebook: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CountNotebookItems(id string) (int, int, error) {
	var sources, notes int64
	if err := s.db.Model(&SourceModel{}).Where("notebook_id = ?", id).Count(&sources).Error; err != nil {
		return 0, 0, fmt.Errorf("count sources: %w", err)
	}
	if err := s.db.Model(&NoteModel{}).Where("notebook_id = ?", id).Count(&notes).Error; err != nil {
		return 0, 0, fmt.Errorf("count notes: %w", err)
	}
	return int(sources), int(notes), nil
}

// sources

func (s *GormStore) SaveSource(src domain.Source) error {
	model, err := sourceToModel(src)
	if err != nil {
		return err
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
		return fmt.Errorf("save source: %w", err)
	}
	return nil
}

func (s *GormStore) GetSource(id string) (domain.Source, bool, error) {
	var model SourceModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Source{}, false, nil
	}
	if err != nil {
		return domain.Source{}, false, fmt.Errorf("get source: %w", err)
	}
	src, err := sourceFromModel(model)
	if err != nil {
		return domain.Source{}, false, err
	}
	return src, true, nil
}

func (s *GormStore) ListSources(notebookID string) ([]domain.Source, error) {
	var models []SourceModel
	if err := s.db.Where("notebook_id = ?", notebookID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	items := make([]domain.Source, 0, len(models))
	for _, m := range models {
		src, err := sourceFromModel(m)
		if err != nil {
			return nil, err
		}
		items = append(items, src)
	}
	return items, nil
}

// MutateSource holds a row lock for the duration of the read-modify-write so
// concurrent status transitions and artifact upserts serialize at the database.
func (s *GormStore) MutateSource(id string, fn func(*domain.Source) error) (domain.Source, error) {
	var result domain.Source
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model SourceModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock source: %w", err)
		}
		src, err := sourceFromModel(model)
		if err != nil {
			return err
		}
		if err := fn(&src); err != nil {
			return err
		}
		src.UpdatedAt = time.Now().UTC()
		updated, err := sourceToModel(src)
		if err != nil {
			return err
		}
		updated.Version = model.Version + 1
		if err := tx.Model(&SourceModel{}).Where("id = ?", id).Updates(map[string]any{
			"origin":       updated.Origin,
			"title":        updated.Title,
			"status":       updated.Status,
			"error_detail": updated.ErrorDetail,
			"content":      updated.Content,
			"artifacts":    updated.Artifacts,
			"version":      updated.Version,
			"updated_at":   updated.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("update source: %w", err)
		}
		result = src
		return nil
	})
	if err != nil {
		return domain.Source{}, err
	}
	return result, nil
}

func (s *GormStore) DeleteSource(id string) error {
	res := s.db.Delete(&SourceModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete source: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// notes

func (s *GormStore) SaveNote(note domain.Note) error {
	model := NoteModel{
		ID:         note.ID,
		NotebookID: note.NotebookID,
		Title:      note.Title,
		Content:    note.Content,
		CreatedAt:  note.CreatedAt,
		UpdatedAt:  note.UpdatedAt,
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	return nil
}

func (s *GormStore) GetNote(id string) (domain.Note, bool, error) {
	var model NoteModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Note{}, false, nil
	}
	if err != nil {
		return domain.Note{}, false, fmt.Errorf("get note: %w", err)
	}
	return noteFromModel(model), true, nil
}

func (s *GormStore) ListNotes(notebookID string) ([]domain.Note, error) {
	var models []NoteModel
	if err := s.db.Where("notebook_id = ?", notebookID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	items := make([]domain.Note, 0, len(models))
	for _, m := range models {
		items = append(items, noteFromModel(m))
	}
	return items, nil
}

func (s *GormStore) DeleteNote(id string) error {
	res := s.db.Delete(&NoteModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete note: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// chat

func (s *GormStore) SaveSession(session domain.ChatSession) error {
	model := ChatSessionModel{
		ID:         session.ID,
		NotebookID: session.NotebookID,
		Title:      session.Title,
		CreatedAt:  session.CreatedAt,
		UpdatedAt:  session.UpdatedAt,
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *GormStore) GetSession(id string) (domain.ChatSession, bool, error) {
	var model ChatSessionModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ChatSession{}, false, nil
	}
	if err != nil {
		return domain.ChatSession{}, false, fmt.Errorf("get session: %w", err)
	}
	return sessionFromModel(model), true, nil
}

func (s *GormStore) ListSessions(notebookID string) ([]domain.ChatSession, error) {
	var models []ChatSessionModel
	if err := s.db.Where("notebook_id = ?", notebookID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	items := make([]domain.ChatSession, 0, len(models))
	for _, m := range models {
		items = append(items, sessionFromModel(m))
	}
	return items, nil
}

func (s *GormStore) DeleteSession(id string) error {
	res := s.db.Delete(&ChatSessionModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) AppendMessage(msg domain.ChatMessage) error {
	model := ChatMessageModel{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Sender:    string(msg.Sender),
		Content:   msg.Content,
		MsgOrder:  msg.Order,
		CreatedAt: msg.CreatedAt,
	}
	if err := s.db.Create(&model).Error; err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrOrderConflict
		}
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *GormStore) ListMessages(sessionID string, limit int) ([]domain.ChatMessage, error) {
	query := s.db.Where("session_id = ?", sessionID).Order("msg_order ASC")
	if limit > 0 {
		// keep the most recent messages while preserving ascending order
		var count int64
		if err := s.db.Model(&ChatMessageModel{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count messages: %w", err)
		}
		if int(count) > limit {
			query = query.Offset(int(count) - limit)
		}
	}
	var models []ChatMessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	items := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		items = append(items, domain.ChatMessage{
			ID:        m.ID,
			SessionID: m.SessionID,
			Sender:    domain.Sender(m.Sender),
			Content:   m.Content,
			Order:     m.MsgOrder,
			CreatedAt: m.CreatedAt,
		})
	}
	return items, nil
}

func (s *GormStore) LastMessageOrder(sessionID string) (int64, error) {
	var model ChatMessageModel
	err := s.db.Where("session_id = ?", sessionID).Order("msg_order DESC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last message order: %w", err)
	}
	return model.MsgOrder, nil
}

// tasks

func (s *GormStore) SaveTask(task domain.Task) error {
	model := TaskModel{
		ID:          task.ID,
		NotebookID:  task.NotebookID,
		Description: task.Description,
		Status:      string(task.Status),
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *GormStore) GetTask(id string) (domain.Task, bool, error) {
	var model TaskModel
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("get task: %w", err)
	}
	return taskFromModel(model), true, nil
}

func (s *GormStore) ListTasks(notebookID string) ([]domain.Task, error) {
	var models []TaskModel
	if err := s.db.Where("notebook_id = ?", notebookID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	items := make([]domain.Task, 0, len(models))
	for _, m := range models {
		items = append(items, taskFromModel(m))
	}
	return items, nil
}

func (s *GormStore) DeleteTask(id string) error {
	res := s.db.Delete(&TaskModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// model conversions

func notebookFromModel(m NotebookModel) domain.Notebook {
	return domain.Notebook{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func sourceToModel(src domain.Source) (SourceModel, error) {
	origin, err := json.Marshal(src.Origin)
	if err != nil {
		return SourceModel{}, fmt.Errorf("encode origin: %w", err)
	}
	var artifacts []byte
	if len(src.Artifacts) > 0 {
		artifacts, err = json.Marshal(src.Artifacts)
		if err != nil {
			return SourceModel{}, fmt.Errorf("encode artifacts: %w", err)
		}
	}
	return SourceModel{
		ID:          src.ID,
		NotebookID:  src.NotebookID,
		Origin:      datatypes.JSON(origin),
		Title:       src.Title,
		Status:      string(src.Status),
		ErrorDetail: src.ErrorDetail,
		Content:     src.Content,
		Artifacts:   datatypes.JSON(artifacts),
		CreatedAt:   src.CreatedAt,
		UpdatedAt:   src.UpdatedAt,
	}, nil
}

func sourceFromModel(m SourceModel) (domain.Source, error) {
	var origin domain.Origin
	if err := json.Unmarshal(m.Origin, &origin); err != nil {
		return domain.Source{}, fmt.Errorf("decode origin: %w", err)
	}
	var artifacts map[string]domain.Artifact
	if len(m.Artifacts) > 0 {
		if err := json.Unmarshal(m.Artifacts, &artifacts); err != nil {
			return domain.Source{}, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	return domain.Source{
		ID:          m.ID,
		NotebookID:  m.NotebookID,
		Origin:      origin,
		Title:       m.Title,
		Status:      domain.SourceStatus(m.Status),
		ErrorDetail: m.ErrorDetail,
		Content:     m.Content,
		Artifacts:   artifacts,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func noteFromModel(m NoteModel) domain.Note {
	return domain.Note{
		ID:         m.ID,
		NotebookID: m.NotebookID,
		Title:      m.Title,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func sessionFromModel(m ChatSessionModel) domain.ChatSession {
	return domain.ChatSession{
		ID:         m.ID,
		NotebookID: m.NotebookID,
		Title:      m.Title,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func taskFromModel(m TaskModel) domain.Task {
	return domain.Task{
		ID:          m.ID,
		NotebookID:  m.NotebookID,
		Description: m.Description,
		Status:      domain.TaskStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
