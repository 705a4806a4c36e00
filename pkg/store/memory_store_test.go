package store

import (
	"errors"
	"testing"
	"time"

	"notebookai/pkg/domain"
)

func TestMemoryStoreNotebookCascadeDelete(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.SaveNotebook(domain.Notebook{ID: "nb1", Name: "research", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("save notebook: %v", err)
	}
	if err := s.SaveSource(domain.Source{ID: "src1", NotebookID: "nb1", Status: domain.SourcePending, CreatedAt: now}); err != nil {
		t.Fatalf("save source: %v", err)
	}
	if err := s.SaveNote(domain.Note{ID: "note1", NotebookID: "nb1", Content: "a note", CreatedAt: now}); err != nil {
		t.Fatalf("save note: %v", err)
	}
	if err := s.SaveSession(domain.ChatSession{ID: "sess1", NotebookID: "nb1", CreatedAt: now}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := s.AppendMessage(domain.ChatMessage{ID: "m1", SessionID: "sess1", Sender: domain.SenderUser, Content: "hi", Order: 1, CreatedAt: now}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	if err := s.DeleteNotebook("nb1"); err != nil {
		t.Fatalf("delete notebook: %v", err)
	}
	if _, ok, _ := s.GetSource("src1"); ok {
		t.Fatalf("expected source deleted with notebook")
	}
	if _, ok, _ := s.GetNote("note1"); ok {
		t.Fatalf("expected note deleted with notebook")
	}
	if _, ok, _ := s.GetSession("sess1"); ok {
		t.Fatalf("expected session deleted with notebook")
	}
	if msgs, _ := s.ListMessages("sess1", 0); len(msgs) != 0 {
		t.Fatalf("expected messages deleted with session, got %d", len(msgs))
	}
}

func TestMemoryStoreAppendMessageOrderConflict(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.AppendMessage(domain.ChatMessage{ID: "m1", SessionID: "sess1", Order: 1, CreatedAt: now}); err != nil {
		t.Fatalf("append first: %v", err)
	}
	err := s.AppendMessage(domain.ChatMessage{ID: "m2", SessionID: "sess1", Order: 1, CreatedAt: now})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestMemoryStoreMutateSourceRejectsMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.MutateSource("nope", func(*domain.Source) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreMutateSourceDiscardsOnError(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	if err := s.SaveSource(domain.Source{ID: "src1", NotebookID: "nb1", Status: domain.SourcePending, CreatedAt: now}); err != nil {
		t.Fatalf("save source: %v", err)
	}
	sentinel := errors.New("mutation rejected")
	_, err := s.MutateSource("src1", func(src *domain.Source) error {
		src.Status = domain.SourceProcessed
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	src, _, _ := s.GetSource("src1")
	if src.Status != domain.SourcePending {
		t.Fatalf("mutation should not persist on error, status = %s", src.Status)
	}
}

func TestMemoryStoreDeleteSourceRemovesArtifacts(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	src := domain.Source{
		ID:         "src1",
		NotebookID: "nb1",
		Status:     domain.SourceProcessed,
		Content:    "hello",
		Artifacts: map[string]domain.Artifact{
			"simple_summary": {Transformation: "simple_summary", Text: "short", CreatedAt: now},
		},
		CreatedAt: now,
	}
	if err := s.SaveSource(src); err != nil {
		t.Fatalf("save source: %v", err)
	}
	if err := s.DeleteSource("src1"); err != nil {
		t.Fatalf("delete source: %v", err)
	}
	if _, ok, _ := s.GetSource("src1"); ok {
		t.Fatalf("expected source gone after delete")
	}
}

func TestMemoryStoreListMessagesLimitKeepsTail(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	for i := int64(1); i <= 5; i++ {
		if err := s.AppendMessage(domain.ChatMessage{ID: string(rune('a' + i)), SessionID: "sess1", Order: i, CreatedAt: now}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	msgs, err := s.ListMessages("sess1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Order != 4 || msgs[1].Order != 5 {
		t.Fatalf("expected tail orders [4 5], got %+v", msgs)
	}
}
