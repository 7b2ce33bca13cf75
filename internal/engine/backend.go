package engine

import (
	"fmt"

	"github.com/slapglif/clippyb/internal/config"
	"github.com/slapglif/clippyb/internal/proxy"
)

// New returns the generation backend selected by cfg.Generation.Backend.
func New(cfg config.Config) (Generator, error) {
	timeout := config.Duration(cfg.Generation.Timeout, 0)
	switch cfg.Generation.Backend {
	case config.BackendLocal, "":
		return NewLocal(cfg.Ollama.BaseURL, cfg.Ollama.Model, timeout), nil
	case config.BackendHosted:
		if cfg.OpenRouter.APIKey == "" {
			return nil, fmt.Errorf("hosted backend requires an OpenRouter API key")
		}
		return NewHosted(proxy.NewClient(cfg.OpenRouter.APIKey), cfg.OpenRouter.Model, timeout), nil
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.Generation.Backend)
	}
}
