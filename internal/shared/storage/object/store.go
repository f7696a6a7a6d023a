package object

import (
	"context"
	"io"
)

// Locator identifies a stored object by bucket and key.
type Locator struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Store defines the contract for saving and retrieving binary objects.
type Store interface {
	Save(ctx context.Context, loc Locator, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, loc Locator) (io.ReadCloser, error)
}
