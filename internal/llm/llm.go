package llm

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("llm unavailable")

// Generator produces one raw completion for one prompt. The response
// carries no format guarantee; callers must treat it as untrusted text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
