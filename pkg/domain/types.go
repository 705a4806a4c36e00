package domain

import (
	"fmt"
	"strings"
	"time"
)

type SourceStatus string

const (
	SourcePending    SourceStatus = "pending"
	SourceProcessing SourceStatus = "processing"
	SourceProcessed  SourceStatus = "processed"
	SourceError      SourceStatus = "error"
)

type OriginKind string

const (
	OriginURL         OriginKind = "url"
	OriginFile        OriginKind = "file"
	OriginText        OriginKind = "text"
	OriginScrapedPage OriginKind = "scraped_page"
)

// Origin is a tagged union describing where source material came from.
// Only the fields for the given Kind are set.
type Origin struct {
	Kind OriginKind `json:"kind"`
	// url
	URL string `json:"url,omitempty"`
	// file: either a local path or an object-store key, plus the original filename
	Path       string `json:"path,omitempty"`
	StorageKey string `json:"storageKey,omitempty"`
	Filename   string `json:"filename,omitempty"`
	// text
	Content string `json:"content,omitempty"`
	// scraped_page
	Markdown  string `json:"markdown,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
}

// Validate checks that the origin carries the payload its kind requires.
func (o Origin) Validate() error {
	switch o.Kind {
	case OriginURL:
		if strings.TrimSpace(o.URL) == "" {
			return fmt.Errorf("url origin requires url")
		}
	case OriginFile:
		if strings.TrimSpace(o.Path) == "" && strings.TrimSpace(o.StorageKey) == "" {
			return fmt.Errorf("file origin requires path or storage key")
		}
	case OriginText:
		if strings.TrimSpace(o.Content) == "" {
			return fmt.Errorf("text origin requires content")
		}
	case OriginScrapedPage:
		if strings.TrimSpace(o.Markdown) == "" {
			return fmt.Errorf("scraped_page origin requires markdown")
		}
	default:
		return fmt.Errorf("unknown origin kind: %q", o.Kind)
	}
	return nil
}

// Artifact is a named piece of derived content produced by a transformation.
// Exactly one of Text or Items is populated depending on the transformation.
type Artifact struct {
	Transformation string    `json:"transformation"`
	Text           string    `json:"text,omitempty"`
	Items          []string  `json:"items,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsList reports whether the artifact holds list-shaped output.
func (a Artifact) IsList() bool {
	return len(a.Items) > 0
}

type Notebook struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SourceCount int       `json:"sourceCount"`
	NoteCount   int       `json:"noteCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Source struct {
	ID          string              `json:"id"`
	NotebookID  string              `json:"notebookId"`
	Origin      Origin              `json:"origin"`
	Title       string              `json:"title,omitempty"`
	Status      SourceStatus        `json:"status"`
	ErrorDetail string              `json:"errorDetail,omitempty"`
	Content     string              `json:"-"`
	Artifacts   map[string]Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// Extracted reports whether content extraction has completed at least once.
func (s Source) Extracted() bool {
	return s.Content != ""
}

type Note struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebookId"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type ChatSession struct {
	ID         string    `json:"id"`
	NotebookID string    `json:"notebookId"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Order     int64     `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

type Task struct {
	ID          string     `json:"id"`
	NotebookID  string     `json:"notebookId"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
