package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notebookai/internal/transform"
	"notebookai/internal/util"
	"notebookai/pkg/domain"
	"notebookai/pkg/events"
	"notebookai/pkg/store"
)

var (
	// ErrInvalidState indicates the operation is not allowed in the source's
	// current lifecycle state, e.g. retrying a source that is not in error.
	ErrInvalidState = errors.New("invalid source state")
	// ErrClosed indicates the registry is shutting down and accepts no new work.
	ErrClosed = errors.New("registry closed")
	// ErrInvalidOrigin indicates the origin payload does not match its kind.
	ErrInvalidOrigin = errors.New("invalid source origin")
)

// Scheduler dispatches ingestion runs for newly registered sources. The
// default runs them on in-process goroutines; a queue-backed scheduler can
// carry them across nodes instead.
type Scheduler interface {
	Schedule(ctx context.Context, sourceID string) error
}

// Config carries the registry's dependencies.
type Config struct {
	Store     store.Store
	Publisher events.Publisher
	// Scheduler is optional; nil means in-process goroutines.
	Scheduler Scheduler
	// PublishTimeout bounds a single event publish. Zero means 5s.
	PublishTimeout time.Duration
}

// Registry owns the source lifecycle: registration, the
// pending → processing → processed/error state machine, retry, and deletion.
// It is the only component that writes source status; the transformation
// executor reports extraction outcomes back through the StatusSink methods.
type Registry struct {
	store          store.Store
	publisher      events.Publisher
	scheduler      Scheduler
	exec           *transform.Executor
	publishTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]*ingestRun
	closed   bool
	wg       sync.WaitGroup
}

type ingestRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Registry. BindExecutor must be called before Register is used;
// the executor in turn takes the registry as its status sink.
func New(cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("registry: store is required")
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NoopPublisher{}
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	r := &Registry{
		store:          cfg.Store,
		publisher:      cfg.Publisher,
		publishTimeout: cfg.PublishTimeout,
		inflight:       make(map[string]*ingestRun),
	}
	r.scheduler = cfg.Scheduler
	if r.scheduler == nil {
		r.scheduler = goroutineScheduler{r}
	}
	return r, nil
}

// BindExecutor wires the transformation executor. Split from New because the
// executor needs the registry as its status sink.
func (r *Registry) BindExecutor(exec *transform.Executor) {
	r.exec = exec
}

// UseScheduler replaces the default in-process scheduler, e.g. with a
// queue-backed one. Call before the registry starts accepting work.
func (r *Registry) UseScheduler(s Scheduler) {
	if s != nil {
		r.scheduler = s
	}
}

// Register creates a pending source under the notebook, publishes the initial
// lifecycle event, and schedules ingestion.
func (r *Registry) Register(ctx context.Context, notebookID string, origin domain.Origin, title string) (domain.Source, error) {
	if err := origin.Validate(); err != nil {
		return domain.Source{}, fmt.Errorf("%w: %w", ErrInvalidOrigin, err)
	}
	if _, found, err := r.store.GetNotebook(notebookID); err != nil {
		return domain.Source{}, fmt.Errorf("load notebook %s: %w", notebookID, err)
	} else if !found {
		return domain.Source{}, fmt.Errorf("notebook %s: %w", notebookID, store.ErrNotFound)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.Source{}, ErrClosed
	}
	r.mu.Unlock()

	now := time.Now().UTC()
	src := domain.Source{
		ID:         util.NewID(),
		NotebookID: notebookID,
		Origin:     origin,
		Title:      title,
		Status:     domain.SourcePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.SaveSource(src); err != nil {
		return domain.Source{}, fmt.Errorf("save source: %w", err)
	}
	slog.Info("source registered", "source_id", src.ID, "notebook_id", notebookID, "origin", origin.Kind)
	r.publish(src, "")

	if err := r.scheduler.Schedule(ctx, src.ID); err != nil {
		return src, fmt.Errorf("schedule ingestion for source %s: %w", src.ID, err)
	}
	return src, nil
}

// Get returns the source by ID.
func (r *Registry) Get(id string) (domain.Source, error) {
	src, found, err := r.store.GetSource(id)
	if err != nil {
		return domain.Source{}, fmt.Errorf("load source %s: %w", id, err)
	}
	if !found {
		return domain.Source{}, fmt.Errorf("source %s: %w", id, store.ErrNotFound)
	}
	return src, nil
}

// List returns the notebook's sources.
func (r *Registry) List(notebookID string) ([]domain.Source, error) {
	srcs, err := r.store.ListSources(notebookID)
	if err != nil {
		return nil, fmt.Errorf("list sources of notebook %s: %w", notebookID, err)
	}
	return srcs, nil
}

// UpdateTitle renames the source. Allowed in every state.
func (r *Registry) UpdateTitle(id, title string) (domain.Source, error) {
	src, err := r.store.MutateSource(id, func(s *domain.Source) error {
		s.Title = title
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Source{}, fmt.Errorf("source %s: %w", id, store.ErrNotFound)
		}
		return domain.Source{}, fmt.Errorf("update source %s: %w", id, err)
	}
	return src, nil
}

// Delete removes the source and its artifacts. A source that is mid-ingestion
// has its run canceled first; Delete waits for the run to observe the cancel
// before removing the record.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, found, err := r.store.GetSource(id); err != nil {
		return fmt.Errorf("load source %s: %w", id, err)
	} else if !found {
		return fmt.Errorf("source %s: %w", id, store.ErrNotFound)
	}

	r.mu.Lock()
	run := r.inflight[id]
	r.mu.Unlock()
	if run != nil {
		run.cancel()
		select {
		case <-run.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for ingestion of source %s to stop: %w", id, ctx.Err())
		}
	}

	if err := r.store.DeleteSource(id); err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	slog.Info("source deleted", "source_id", id)
	return nil
}

// Retry re-runs ingestion for a source that failed extraction. Only sources
// in the error state can be retried.
func (r *Registry) Retry(ctx context.Context, id string) (domain.Source, error) {
	src, err := r.store.MutateSource(id, func(s *domain.Source) error {
		if s.Status != domain.SourceError {
			return fmt.Errorf("%w: retry requires error status, source %s is %s", ErrInvalidState, id, s.Status)
		}
		s.Status = domain.SourcePending
		s.ErrorDetail = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Source{}, fmt.Errorf("source %s: %w", id, store.ErrNotFound)
		}
		return domain.Source{}, err
	}
	r.publish(src, "")
	if err := r.scheduler.Schedule(ctx, src.ID); err != nil {
		return src, fmt.Errorf("schedule retry for source %s: %w", src.ID, err)
	}
	return src, nil
}

// Ingest runs the ingestion pipeline for the source: extraction, then the
// catalog's default transformations. It is invoked by the scheduler (in-process
// goroutine or queue worker) and is bound to a per-source cancelable context
// so Delete can stop it.
func (r *Registry) Ingest(ctx context.Context, sourceID string) error {
	runCtx, cancel := context.WithCancel(ctx)
	run := &ingestRun{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if _, exists := r.inflight[sourceID]; exists {
		r.mu.Unlock()
		cancel()
		slog.Warn("ingestion already running", "source_id", sourceID)
		return nil
	}
	r.inflight[sourceID] = run
	r.wg.Add(1)
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, sourceID)
		r.mu.Unlock()
		close(run.done)
		cancel()
		r.wg.Done()
	}()

	if _, err := r.exec.EnsureContent(runCtx, sourceID); err != nil {
		// Status and error detail were already recorded through the sink.
		slog.Warn("ingestion extraction failed", "source_id", sourceID, "error", err)
		return err
	}
	for _, spec := range r.exec.Catalog().Defaults() {
		if runCtx.Err() != nil {
			slog.Info("ingestion canceled", "source_id", sourceID)
			return runCtx.Err()
		}
		if _, err := r.exec.Run(runCtx, sourceID, spec.Name, nil); err != nil {
			// Extraction succeeded, so the source stays processed.
			slog.Warn("default transformation failed", "source_id", sourceID, "transformation", spec.Name, "error", err)
		}
	}
	return nil
}

// ExtractionStarted implements transform.StatusSink: marks the source
// processing when its extraction begins.
func (r *Registry) ExtractionStarted(sourceID string) {
	src, err := r.store.MutateSource(sourceID, func(s *domain.Source) error {
		s.Status = domain.SourceProcessing
		return nil
	})
	if err != nil {
		slog.Error("mark source processing", "source_id", sourceID, "error", err)
		return
	}
	r.publish(src, "")
}

// ReportExtraction implements transform.StatusSink: records the extraction
// outcome. Content and status land in one atomic update so readers never see
// a processed source without content.
func (r *Registry) ReportExtraction(sourceID, content string, extractErr error) (domain.Source, error) {
	src, err := r.store.MutateSource(sourceID, func(s *domain.Source) error {
		if extractErr != nil {
			s.Status = domain.SourceError
			s.ErrorDetail = extractErr.Error()
			return nil
		}
		s.Content = content
		s.Status = domain.SourceProcessed
		s.ErrorDetail = ""
		return nil
	})
	if err != nil {
		return domain.Source{}, fmt.Errorf("record extraction of source %s: %w", sourceID, err)
	}
	r.publish(src, src.ErrorDetail)
	return src, nil
}

// Close stops accepting work, cancels in-flight ingestion, and waits for the
// runs to finish or ctx to expire.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, run := range r.inflight {
		run.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight ingestion: %w", ctx.Err())
	}
}

// publish emits a lifecycle event; failures are logged, never propagated.
func (r *Registry) publish(src domain.Source, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.publishTimeout)
	defer cancel()
	evt := events.SourceStatusEvent{
		SourceID:   src.ID,
		NotebookID: src.NotebookID,
		Status:     src.Status,
		Detail:     detail,
		At:         time.Now().UTC(),
	}
	if err := r.publisher.PublishSourceStatus(ctx, evt); err != nil {
		slog.Warn("publish source status event", "source_id", src.ID, "status", src.Status, "error", err)
	}
}

// goroutineScheduler runs ingestion on an in-process goroutine detached from
// the caller's request context.
type goroutineScheduler struct {
	r *Registry
}

func (g goroutineScheduler) Schedule(_ context.Context, sourceID string) error {
	go g.r.Ingest(context.Background(), sourceID)
	return nil
}
