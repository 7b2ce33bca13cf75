package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/slapglif/clippyb/internal/proxy"
)

// Hosted generates through the OpenRouter chat completions API.
type Hosted struct {
	client  *proxy.Client
	model   string
	timeout time.Duration
}

// NewHosted creates a Hosted backend using the given client and model.
func NewHosted(client *proxy.Client, model string, timeout time.Duration) *Hosted {
	return &Hosted{client: client, model: model, timeout: timeout}
}

func (h *Hosted) Name() string { return "hosted:" + h.model }

func (h *Hosted) Generate(ctx context.Context, req Request) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	temp := 0.1
	cr := proxy.ChatRequest{
		Model:       h.model,
		Temperature: &temp,
		MaxTokens:   1000,
	}
	if req.System != "" {
		cr.Messages = append(cr.Messages, proxy.Message{Role: "system", Content: req.System})
	}
	cr.Messages = append(cr.Messages, proxy.Message{Role: "user", Content: req.Prompt})
	if req.Schema != nil {
		cr.ResponseFormat = &proxy.ResponseFormat{Type: "json_object"}
	}

	return h.client.Complete(ctx, cr)
}

func (h *Hosted) Prepare(ctx context.Context, w io.Writer) error {
	models, err := h.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("reaching OpenRouter: %w", err)
	}
	for _, m := range models {
		if m.ID == h.model {
			fmt.Fprintf(w, "model %s: available\n", h.model)
			return nil
		}
	}
	fmt.Fprintf(w, "model %s: not listed by OpenRouter (continuing)\n", h.model)
	return nil
}
