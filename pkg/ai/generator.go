package ai

import (
	"context"
	"errors"
	"net/http"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (Gemini, Ollama, OpenAI-compatible) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenerationError is a classified failure from a text generation provider.
// Transient failures (timeouts, rate limits, upstream outages) are safe to
// retry; permanent ones are not.
type GenerationError struct {
	Transient bool
	Reason    string
}

func (e *GenerationError) Error() string {
	return e.Reason
}

// IsTransient reports whether err is a generation failure worth retrying.
func IsTransient(err error) bool {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Transient
	}
	// Timeouts and transport failures arrive as plain errors from net/http.
	return errors.Is(err, context.DeadlineExceeded)
}

// transientStatus classifies an HTTP status from a provider API.
func transientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}
