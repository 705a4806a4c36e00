package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/singleflight"

	"notebookai/pkg/ai"
	"notebookai/pkg/domain"
	"notebookai/pkg/extract"
	"notebookai/pkg/store"
)

var (
	// ErrUnknownTransformation indicates the requested name is not in the catalog.
	ErrUnknownTransformation = errors.New("unknown transformation")
	// ErrNotExtracted indicates the source has no content and extraction failed,
	// so no transformation can run against it.
	ErrNotExtracted = errors.New("source content not available")
)

// StatusSink receives extraction lifecycle callbacks. The registry implements
// it and owns the status transitions; the executor only reports what happened.
// ReportExtraction persists content and status as one atomic update.
type StatusSink interface {
	ExtractionStarted(sourceID string)
	ReportExtraction(sourceID, content string, extractErr error) (domain.Source, error)
}

// Config carries the executor's dependencies.
type Config struct {
	Store     store.Store
	Extractor extract.Extractor
	Generator ai.TextGenerator
	Catalog   *Catalog
	Status    StatusSink
	// RetryAttempts bounds generation retries on transient failures. Zero
	// means the default of 3.
	RetryAttempts uint
	// RetryDelay is the base backoff delay between attempts. Zero means 500ms.
	RetryDelay time.Duration
	// CallTimeout bounds a single extraction or generation call. Zero means 120s.
	CallTimeout time.Duration
}

// Executor runs transformations against sources: it ensures the source's
// content is extracted (deduplicating concurrent extractions), invokes the
// text generator with the transformation's prompt, and upserts the resulting
// artifact under the transformation's name.
type Executor struct {
	store       store.Store
	extractor   extract.Extractor
	generator   ai.TextGenerator
	catalog     *Catalog
	status      StatusSink
	attempts    uint
	retryDelay  time.Duration
	callTimeout time.Duration
	flight      singleflight.Group
}

// New validates cfg and builds an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("transform: store is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("transform: extractor is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("transform: generator is required")
	}
	if cfg.Status == nil {
		return nil, fmt.Errorf("transform: status sink is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = NewCatalog()
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	return &Executor{
		store:       cfg.Store,
		extractor:   cfg.Extractor,
		generator:   cfg.Generator,
		catalog:     cfg.Catalog,
		status:      cfg.Status,
		attempts:    cfg.RetryAttempts,
		retryDelay:  cfg.RetryDelay,
		callTimeout: cfg.CallTimeout,
	}, nil
}

// Catalog exposes the executor's transformation catalog.
func (e *Executor) Catalog() *Catalog {
	return e.catalog
}

// Run executes the named transformation against the source and stores the
// result as an artifact keyed by the transformation name, replacing any
// previous artifact under that key. Extraction happens lazily on first use
// and is deduplicated across concurrent callers.
func (e *Executor) Run(ctx context.Context, sourceID, name string, params map[string]string) (domain.Artifact, error) {
	spec, ok := e.catalog.Get(name)
	if !ok {
		return domain.Artifact{}, fmt.Errorf("%w: %q", ErrUnknownTransformation, name)
	}

	src, found, err := e.store.GetSource(sourceID)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("load source %s: %w", sourceID, err)
	}
	if !found {
		return domain.Artifact{}, fmt.Errorf("source %s: %w", sourceID, store.ErrNotFound)
	}

	content := src.Content
	if content == "" {
		content, err = e.EnsureContent(ctx, sourceID)
		if err != nil {
			return domain.Artifact{}, err
		}
	}

	output, err := e.generate(ctx, spec, content, params)
	if err != nil {
		return domain.Artifact{}, err
	}
	// A canceled run must not overwrite a previously stored artifact.
	if err := ctx.Err(); err != nil {
		return domain.Artifact{}, err
	}

	artifact := buildArtifact(spec, output)
	if _, err := e.store.MutateSource(sourceID, func(s *domain.Source) error {
		if s.Artifacts == nil {
			s.Artifacts = make(map[string]domain.Artifact)
		}
		s.Artifacts[spec.Name] = artifact
		return nil
	}); err != nil {
		return domain.Artifact{}, fmt.Errorf("store artifact %s on source %s: %w", spec.Name, sourceID, err)
	}
	slog.Info("transformation complete", "source_id", sourceID, "transformation", spec.Name, "list", spec.List)
	return artifact, nil
}

// EnsureContent extracts the source's content if it has none yet and returns
// the content. Concurrent calls for the same source share a single extraction;
// every caller observes the same outcome. The status sink persists the result
// and the status transition together.
func (e *Executor) EnsureContent(ctx context.Context, sourceID string) (string, error) {
	v, err, _ := e.flight.Do(sourceID, func() (any, error) {
		src, found, err := e.store.GetSource(sourceID)
		if err != nil {
			return "", fmt.Errorf("load source %s: %w", sourceID, err)
		}
		if !found {
			return "", fmt.Errorf("source %s: %w", sourceID, store.ErrNotFound)
		}
		// A waiter that queued behind a finished extraction reuses its result.
		if src.Content != "" {
			return src.Content, nil
		}

		e.status.ExtractionStarted(sourceID)
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
		text, extractErr := e.extractor.Extract(callCtx, src.Origin)
		// A canceled run (delete, shutdown) is not an extraction outcome;
		// leave the stored status alone.
		if errors.Is(extractErr, context.Canceled) {
			return "", fmt.Errorf("extract source %s: %w", sourceID, extractErr)
		}
		if _, reportErr := e.status.ReportExtraction(sourceID, text, extractErr); reportErr != nil {
			return "", fmt.Errorf("record extraction of source %s: %w", sourceID, reportErr)
		}
		if extractErr != nil {
			slog.Warn("extraction failed", "source_id", sourceID, "permanent", extract.IsPermanent(extractErr), "error", extractErr)
			return "", fmt.Errorf("extract source %s: %w: %w", sourceID, ErrNotExtracted, extractErr)
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// generate calls the text generator with bounded retries. Only transient
// failures are retried; permanent ones surface immediately.
func (e *Executor) generate(ctx context.Context, spec Spec, content string, params map[string]string) (string, error) {
	system := buildSystemPrompt(spec, params)
	var result string
	err := retry.Do(
		func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
			defer cancel()
			out, err := e.generator.GenerateText(callCtx, system, content)
			if err != nil {
				if !ai.IsTransient(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			result = out
			return nil
		},
		retry.Attempts(e.attempts),
		retry.Delay(e.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", spec.Name, err)
	}
	return result, nil
}

// buildSystemPrompt renders the spec prompt plus caller parameters in a
// stable order so identical requests produce identical prompts.
func buildSystemPrompt(spec Spec, params map[string]string) string {
	var b strings.Builder
	b.WriteString(spec.Prompt)
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\n# PARAMETERS")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, params[k])
		}
	}
	b.WriteString("\n\n# INPUT")
	return b.String()
}

func buildArtifact(spec Spec, output string) domain.Artifact {
	artifact := domain.Artifact{
		Transformation: spec.Name,
		CreatedAt:      time.Now().UTC(),
	}
	if spec.List {
		if items := parseListItems(output); len(items) > 0 {
			artifact.Items = items
			return artifact
		}
	}
	artifact.Text = strings.TrimSpace(output)
	return artifact
}

// parseListItems splits model output into list entries, tolerating dash,
// star, and numbered prefixes.
func parseListItems(output string) []string {
	var items []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if i := strings.IndexByte(line, ' '); i > 0 {
			prefix := line[:i]
			if strings.HasSuffix(prefix, ".") || strings.HasSuffix(prefix, ")") {
				if _, err := fmt.Sscanf(prefix, "%d", new(int)); err == nil {
					line = strings.TrimSpace(line[i+1:])
				}
			}
		}
		line = strings.TrimSpace(line)
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}
