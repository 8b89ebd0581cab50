package embed

import (
	"context"
	"log/slog"
	"time"

	hukmerrors "github.com/hukm-search/hukm/internal/errors"
)

// Backend names accepted by the factory.
const (
	BackendAuto   = "auto"
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
	BackendStatic = "static"
)

// Config selects and configures an embedding backend.
type Config struct {
	// Backend is one of auto, openai, ollama, static. Empty means auto.
	Backend string

	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	CacheSize  int

	// OpenAI settings.
	APIKey  string
	BaseURL string

	// Ollama settings.
	OllamaHost string
}

// New creates an embedder for the configured backend, wrapped with an
// LRU cache. In auto mode it tries OpenAI (when an API key is set),
// then a local Ollama server, then falls back to the static embedder
// so the engine always comes up.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	inner, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("embedder ready",
		"model", inner.ModelName(),
		"dimensions", inner.Dimensions())
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}

func newBackend(ctx context.Context, cfg Config, logger *slog.Logger) (Embedder, error) {
	switch cfg.Backend {
	case BackendOpenAI:
		return newOpenAI(cfg)
	case BackendOllama:
		return newOllama(ctx, cfg)
	case BackendStatic:
		return NewStaticEmbedder(cfg.Dimensions), nil
	case BackendAuto, "":
		return newAuto(ctx, cfg, logger)
	default:
		return nil, hukmerrors.New(hukmerrors.ErrCodeConfigInvalid, "unknown embedding backend", nil).
			WithDetail("backend", cfg.Backend)
	}
}

func newOpenAI(cfg Config) (Embedder, error) {
	return NewOpenAIEmbedder(OpenAIConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		BatchSize:  cfg.BatchSize,
		Timeout:    cfg.Timeout,
	})
}

func newOllama(ctx context.Context, cfg Config) (Embedder, error) {
	return NewOllamaEmbedder(ctx, OllamaConfig{
		Host:       cfg.OllamaHost,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		BatchSize:  cfg.BatchSize,
		Timeout:    cfg.Timeout,
	})
}

// newAuto walks the fallback chain. Probe failures are logged and
// skipped rather than surfaced; only the static terminal backend is
// guaranteed.
func newAuto(ctx context.Context, cfg Config, logger *slog.Logger) (Embedder, error) {
	if cfg.APIKey != "" {
		e, err := newOpenAI(cfg)
		if err == nil && e.Available(ctx) {
			return e, nil
		}
		if err == nil {
			_ = e.Close()
		}
		logger.Warn("OpenAI embedder unavailable, trying Ollama", "error", err)
	}

	ollamaCfg := cfg
	if cfg.APIKey != "" {
		// A configured model name belongs to the OpenAI backend here;
		// let the Ollama probe use its own default.
		ollamaCfg.Model = ""
	}
	if e, err := newOllama(ctx, ollamaCfg); err == nil {
		return e, nil
	} else {
		logger.Warn("Ollama embedder unavailable, falling back to static embeddings", "error", err)
	}

	return NewStaticEmbedder(cfg.Dimensions), nil
}
