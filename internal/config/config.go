package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Ollama      OllamaConfig
	OpenRouter  OpenRouterConfig
	Generation  GenerationConfig
	Search      SearchConfig
	Coordinator CoordinatorConfig
	Queue       QueueConfig
	Library     LibraryConfig
	Storage     StorageConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type OpenRouterConfig struct {
	APIKey string
	Model  string
}

// GenerationConfig selects which model backend produces queries and scores.
// Backend is "local" (Ollama) or "hosted" (OpenRouter).
type GenerationConfig struct {
	Backend string
	Timeout string
}

type SearchConfig struct {
	YtdlpPath       string
	Concurrency     int
	ResultsPerQuery int
	RatePerSecond   float64
}

// CoordinatorConfig controls the resolution loop. Fallback is "auto",
// "strict" or "lenient"; auto means strict for multi_round and lenient for
// single_pass.
type CoordinatorConfig struct {
	Strategy        string
	MaxRounds       int
	AcceptThreshold float64
	Fallback        string
}

type QueueConfig struct {
	Path          string
	Workers       int
	BatchInterval string
	IdleInterval  string
	MaxRetries    int
}

type LibraryConfig struct {
	MusicDir           string
	AudioFormat        string
	DuplicateThreshold float64
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

const (
	BackendLocal  = "local"
	BackendHosted = "hosted"

	StrategyMultiRound = "multi_round"
	StrategySinglePass = "single_pass"

	FallbackAuto    = "auto"
	FallbackStrict  = "strict"
	FallbackLenient = "lenient"
)

func defaults() Config {
	musicDir := defaultMusicDir()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen2.5:7b",
		},
		OpenRouter: OpenRouterConfig{
			Model: "google/gemini-2.0-flash-001",
		},
		Generation: GenerationConfig{
			Backend: BackendLocal,
			Timeout: "60s",
		},
		Search: SearchConfig{
			YtdlpPath:       "yt-dlp",
			ResultsPerQuery: 10,
		},
		Coordinator: CoordinatorConfig{
			Strategy:        StrategyMultiRound,
			MaxRounds:       3,
			AcceptThreshold: 0.5,
			Fallback:        FallbackAuto,
		},
		Queue: QueueConfig{
			BatchInterval: "5s",
			IdleInterval:  "1s",
			MaxRetries:    3,
		},
		Library: LibraryConfig{
			MusicDir:           musicDir,
			AudioFormat:        "mp3",
			DuplicateThreshold: 0.8,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.clippyb.app) and secrets
// fall back to the macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/clippyb/config.json
// and secrets come from environment variables or
// $XDG_DATA_HOME/clippyb/secrets.json.
//
// Environment variables (CLIPPYB_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.OpenRouter.APIKey == "" {
		if key, err := kc.Get("clippyb", "openrouter_api_key"); err == nil && key != "" {
			cfg.OpenRouter.APIKey = key
		}
	}
	if cfg.Server.APIToken == "" {
		if tok, err := kc.Get("clippyb", "api_token"); err == nil && tok != "" {
			cfg.Server.APIToken = tok
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AudioFormats are the yt-dlp --audio-format values whose output file
// extension equals the format name.
var AudioFormats = []string{"mp3", "m4a", "opus", "flac", "wav"}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Generation.Backend {
	case BackendLocal:
	case BackendHosted:
		if c.OpenRouter.APIKey == "" {
			return fmt.Errorf("%s", "missing required config: OpenRouter API key. "+
				"Set it via environment variable CLIPPYB_OPENROUTER_API_KEY"+apiKeyHint())
		}
	default:
		return fmt.Errorf("invalid generation.backend %q (expected %s or %s)", c.Generation.Backend, BackendLocal, BackendHosted)
	}

	switch c.Coordinator.Strategy {
	case StrategyMultiRound, StrategySinglePass:
	default:
		return fmt.Errorf("invalid coordinator.strategy %q (expected %s or %s)", c.Coordinator.Strategy, StrategyMultiRound, StrategySinglePass)
	}
	switch c.Coordinator.Fallback {
	case FallbackAuto, FallbackStrict, FallbackLenient:
	default:
		return fmt.Errorf("invalid coordinator.fallback %q (expected auto, strict or lenient)", c.Coordinator.Fallback)
	}
	if c.Coordinator.MaxRounds < 1 {
		return fmt.Errorf("coordinator.max_rounds must be at least 1, got %d", c.Coordinator.MaxRounds)
	}
	if c.Coordinator.AcceptThreshold < 0 || c.Coordinator.AcceptThreshold > 1 {
		return fmt.Errorf("coordinator.accept_threshold must be within [0,1], got %v", c.Coordinator.AcceptThreshold)
	}
	if c.Search.Concurrency < 0 || c.Queue.Workers < 0 {
		return fmt.Errorf("concurrency settings must not be negative")
	}
	if c.Library.MusicDir == "" {
		return fmt.Errorf("library.music_dir must be set")
	}
	if !slices.Contains(AudioFormats, c.Library.AudioFormat) {
		return fmt.Errorf("invalid library.audio_format %q (expected one of %s)",
			c.Library.AudioFormat, strings.Join(AudioFormats, ", "))
	}
	return nil
}

// ForceFallback resolves the fallback policy against the configured strategy.
func (c CoordinatorConfig) ForceFallback() bool {
	switch c.Fallback {
	case FallbackLenient:
		return true
	case FallbackStrict:
		return false
	default:
		return c.Strategy == StrategySinglePass
	}
}

// QueuePath returns the queue snapshot location, defaulting to a file inside
// the music directory.
func (c Config) QueuePath() string {
	if c.Queue.Path != "" {
		return c.Queue.Path
	}
	return filepath.Join(c.Library.MusicDir, "clippyb_queue.json")
}

// Duration parses a duration setting, returning def when it is empty or invalid.
func Duration(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
