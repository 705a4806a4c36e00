package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type NotebookModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`

	Sources  []SourceModel      `gorm:"foreignKey:NotebookID;constraint:OnDelete:CASCADE"`
	Notes    []NoteModel        `gorm:"foreignKey:NotebookID;constraint:OnDelete:CASCADE"`
	Sessions []ChatSessionModel `gorm:"foreignKey:NotebookID;constraint:OnDelete:CASCADE"`
	Tasks    []TaskModel        `gorm:"foreignKey:NotebookID;constraint:OnDelete:CASCADE"`
}

// SourceModel keeps the origin union and the artifact mapping as JSONB so a
// status transition and an artifact upsert land in a single row update.
type SourceModel struct {
	ID          string         `gorm:"primaryKey"`
	NotebookID  string         `gorm:"not null;index"`
	Origin      datatypes.JSON `gorm:"type:jsonb;not null"`
	Title       string
	Status      string `gorm:"not null"`
	ErrorDetail string
	Content     string         `gorm:"type:text"`
	Artifacts   datatypes.JSON `gorm:"type:jsonb"`
	Version     int64          `gorm:"not null;default:0"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

type NoteModel struct {
	ID         string `gorm:"primaryKey"`
	NotebookID string `gorm:"not null;index"`
	Title      string
	Content    string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type ChatSessionModel struct {
	ID         string `gorm:"primaryKey"`
	NotebookID string `gorm:"not null;index"`
	Title      string
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`

	Messages []ChatMessageModel `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// ChatMessageModel carries a unique (session, order) index: the database
// rejects interleaved order assignment that the orchestrator failed to
// serialize.
type ChatMessageModel struct {
	ID        string    `gorm:"primaryKey"`
	SessionID string    `gorm:"not null;uniqueIndex:idx_session_order,priority:1"`
	Sender    string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	MsgOrder  int64     `gorm:"column:msg_order;not null;uniqueIndex:idx_session_order,priority:2"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type TaskModel struct {
	ID          string `gorm:"primaryKey"`
	NotebookID  string `gorm:"not null;index"`
	Description string `gorm:"not null"`
	Status      string `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}
