package engine

import (
	"context"
	"io"
	"time"

	"github.com/slapglif/clippyb/internal/ollama"
)

// Local generates with a model served by a local Ollama instance.
type Local struct {
	client  *ollama.Client
	model   string
	timeout time.Duration
}

// NewLocal creates a Local backend for model on the Ollama server at baseURL.
func NewLocal(baseURL, model string, timeout time.Duration) *Local {
	client := ollama.New(baseURL).WithOptions(ollama.Options{
		Temperature: 0.1,
		NumPredict:  1000,
	})
	return &Local{client: client, model: model, timeout: timeout}
}

func (l *Local) Name() string { return "local:" + l.model }

func (l *Local) Generate(ctx context.Context, req Request) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	var msgs []ollama.Message
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: req.Prompt})

	return l.client.Chat(ctx, l.model, msgs, toOllamaSchema(req.Schema))
}

func (l *Local) Prepare(ctx context.Context, w io.Writer) error {
	return ollama.EnsureReady(ctx, l.client, l.model, w)
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{Type: s.Type, Required: s.Required}
	if s.Properties != nil {
		out.Properties = make(map[string]ollama.SchemaProperty, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toOllamaProperty(v)
		}
	}
	return out
}

func toOllamaProperty(p SchemaProperty) ollama.SchemaProperty {
	out := ollama.SchemaProperty{Type: p.Type, Description: p.Description}
	if p.Items != nil {
		items := toOllamaProperty(*p.Items)
		out.Items = &items
	}
	return out
}
