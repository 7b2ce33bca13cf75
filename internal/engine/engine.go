package engine

import (
	"context"
	"io"
)

// Generator is a text generation backend used to plan search queries and to
// score candidates. Implementations are the local Ollama model and the hosted
// OpenRouter API.
type Generator interface {
	// Generate sends the prompt and returns the raw model text. When
	// req.Schema is non-nil the backend is asked for JSON output.
	Generate(ctx context.Context, req Request) (string, error)

	// Name identifies the backend and model, e.g. "local:qwen2.5:7b".
	Name() string

	// Prepare verifies the backend is usable, writing progress to w.
	Prepare(ctx context.Context, w io.Writer) error
}
