package ocr

import (
	"context"
	"errors"

	"grocery-backend/internal/shared/storage/object"
)

// Capability extracts plain text from a stored document.
type Capability interface {
	ExtractText(ctx context.Context, loc object.Locator, kind string) (string, error)
}

// ErrUnsupportedKind indicates the capability cannot read the given file kind.
// The engine treats it as non-retryable.
var ErrUnsupportedKind = errors.New("unsupported file kind")
