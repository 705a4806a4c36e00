package extract

import (
	"context"
	"errors"

	"notebookai/pkg/domain"
)

// Extractor turns a source origin into normalized text or markdown.
type Extractor interface {
	Extract(ctx context.Context, origin domain.Origin) (string, error)
}

// Error is a classified extraction failure. Permanent failures (unsupported
// type, invalid content, missing payload) are not worth retrying; everything
// else (network, upstream outage) is.
type Error struct {
	Reason    string
	Permanent bool
}

func (e *Error) Error() string {
	return e.Reason
}

// IsPermanent reports whether err is an extraction failure that retrying
// cannot fix.
func IsPermanent(err error) bool {
	var extErr *Error
	if errors.As(err, &extErr) {
		return extErr.Permanent
	}
	return false
}
