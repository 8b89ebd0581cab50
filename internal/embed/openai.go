package embed

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	hukmerrors "github.com/hukm-search/hukm/internal/errors"
)

// DefaultOpenAIModel supports the dimensions parameter, which lets us
// truncate to the index dimension server-side.
const DefaultOpenAIModel = "text-embedding-3-large"

// OpenAIConfig configures the OpenAI embedding backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional, for API-compatible gateways
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
}

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	config OpenAIConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, hukmerrors.New(hukmerrors.ErrCodeConfigInvalid, "OpenAI API key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize < MinBatchSize || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts, splitting into
// API-sized batches. Result order matches input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, hukmerrors.New(hukmerrors.ErrCodeEmbeddingFailed, "embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.config.Model),
		Dimensions: e.config.Dimensions,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, hukmerrors.Wrap(hukmerrors.ErrCodeEmbedderTimeout, "OpenAI embedding request timed out", err)
		}
		return nil, hukmerrors.Wrap(hukmerrors.ErrCodeEmbeddingFailed, "OpenAI embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, hukmerrors.New(hukmerrors.ErrCodeEmbeddingFailed, "OpenAI returned wrong number of embeddings", nil).
			WithDetail("expected", strconv.Itoa(len(texts))).
			WithDetail("got", strconv.Itoa(len(resp.Data)))
	}

	// The API documents Data order as input order; Index is authoritative.
	results := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(results) {
			return nil, hukmerrors.New(hukmerrors.ErrCodeEmbeddingFailed, "OpenAI returned out-of-range embedding index", nil)
		}
		if len(d.Embedding) != e.config.Dimensions {
			return nil, hukmerrors.New(hukmerrors.ErrCodeDimensionMismatch, "embedding dimension mismatch", nil).
				WithDetail("expected", strconv.Itoa(e.config.Dimensions)).
				WithDetail("got", strconv.Itoa(len(d.Embedding)))
		}
		results[d.Index] = d.Embedding
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available checks the API with a lightweight models listing.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(checkCtx)
	return err == nil
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
