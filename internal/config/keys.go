package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CLIPPYB_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "CLIPPYB_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "ollama.base_url", typ: kString, env: "CLIPPYB_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "CLIPPYB_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "CLIPPYB_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "openrouter.model", typ: kString, env: "CLIPPYB_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.Model },
	},
	{
		key: "generation.backend", typ: kString, env: "CLIPPYB_GENERATION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generation.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Backend },
	},
	{
		key: "generation.timeout", typ: kString, env: "CLIPPYB_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "search.ytdlp_path", typ: kString, env: "CLIPPYB_YTDLP_PATH",
		apply:   func(cfg *Config, v any) { cfg.Search.YtdlpPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.YtdlpPath },
	},
	{
		key: "search.concurrency", typ: kInt, env: "CLIPPYB_SEARCH_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Search.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.Concurrency },
	},
	{
		key: "search.results_per_query", typ: kInt, env: "CLIPPYB_SEARCH_RESULTS_PER_QUERY",
		apply:   func(cfg *Config, v any) { cfg.Search.ResultsPerQuery = v.(int) },
		extract: func(cfg Config) any { return cfg.Search.ResultsPerQuery },
	},
	{
		key: "search.rate_per_second", typ: kFloat, env: "CLIPPYB_SEARCH_RATE_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Search.RatePerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Search.RatePerSecond },
	},
	{
		key: "coordinator.strategy", typ: kString, env: "CLIPPYB_COORDINATOR_STRATEGY",
		apply:   func(cfg *Config, v any) { cfg.Coordinator.Strategy = v.(string) },
		extract: func(cfg Config) any { return cfg.Coordinator.Strategy },
	},
	{
		key: "coordinator.max_rounds", typ: kInt, env: "CLIPPYB_COORDINATOR_MAX_ROUNDS",
		apply:   func(cfg *Config, v any) { cfg.Coordinator.MaxRounds = v.(int) },
		extract: func(cfg Config) any { return cfg.Coordinator.MaxRounds },
	},
	{
		key: "coordinator.accept_threshold", typ: kFloat, env: "CLIPPYB_COORDINATOR_ACCEPT_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Coordinator.AcceptThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Coordinator.AcceptThreshold },
	},
	{
		key: "coordinator.fallback", typ: kString, env: "CLIPPYB_COORDINATOR_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Coordinator.Fallback = v.(string) },
		extract: func(cfg Config) any { return cfg.Coordinator.Fallback },
	},
	{
		key: "queue.path", typ: kString, env: "CLIPPYB_QUEUE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Queue.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Queue.Path },
	},
	{
		key: "queue.workers", typ: kInt, env: "CLIPPYB_QUEUE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Queue.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.Workers },
	},
	{
		key: "queue.batch_interval", typ: kString, env: "CLIPPYB_QUEUE_BATCH_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Queue.BatchInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Queue.BatchInterval },
	},
	{
		key: "queue.idle_interval", typ: kString, env: "CLIPPYB_QUEUE_IDLE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Queue.IdleInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Queue.IdleInterval },
	},
	{
		key: "queue.max_retries", typ: kInt, env: "CLIPPYB_QUEUE_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Queue.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Queue.MaxRetries },
	},
	{
		key: "library.music_dir", typ: kString, env: "CLIPPYB_MUSIC_DIR",
		apply:   func(cfg *Config, v any) { cfg.Library.MusicDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Library.MusicDir },
	},
	{
		key: "library.audio_format", typ: kString, env: "CLIPPYB_AUDIO_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Library.AudioFormat = v.(string) },
		extract: func(cfg Config) any { return cfg.Library.AudioFormat },
	},
	{
		key: "library.duplicate_threshold", typ: kFloat, env: "CLIPPYB_DUPLICATE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Library.DuplicateThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Library.DuplicateThreshold },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CLIPPYB_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CLIPPYB_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					slog.Warn("ignoring invalid bool in config", "key", s.key, "value", v, "error", err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					slog.Warn("ignoring invalid float in config", "key", s.key, "value", v, "error", err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("ignoring invalid integer in environment", "var", s.env, "value", raw, "error", err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				slog.Warn("ignoring invalid bool in environment", "var", s.env, "value", raw, "error", err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				slog.Warn("ignoring invalid float in environment", "var", s.env, "value", raw, "error", err)
			}
		}
	}
}
