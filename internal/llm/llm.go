package llm

import (
	"context"
	"errors"
)

// Client abstracts LLM inference providers for grocery-list extraction.
type Client interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

// ErrNotImplemented is returned by the placeholder client.
var ErrNotImplemented = errors.New("LLM not implemented")

// PlaceholderClient is a stub implementation until provider wiring is added.
type PlaceholderClient struct{}

// Infer returns ErrNotImplemented.
func (PlaceholderClient) Infer(ctx context.Context, prompt string) (string, error) {
	_ = ctx
	_ = prompt
	return "", ErrNotImplemented
}
