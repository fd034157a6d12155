// Package generation is the boundary to the external text-generation service.
// The orchestrator depends only on the Generator interface; the gemini
// subpackage provides the production implementation.
package generation

import "context"

// Generator sends a prompt and returns the raw model text
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
