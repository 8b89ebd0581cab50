package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hukmerrors "github.com/hukm-search/hukm/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed with fixed vectors.
func fakeOllama(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"bge-m3:latest"}]}`))
		case "/api/embed":
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			embeddings := make([][]float32, len(req.Input))
			for i := range req.Input {
				vec := make([]float32, dims)
				vec[i%dims] = 1.0
				embeddings[i] = vec
			}
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{
				Model:      req.Model,
				Embeddings: embeddings,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_DetectsDimensions(t *testing.T) {
	srv := fakeOllama(t, 16)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, 16, e.Dimensions())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	srv := fakeOllama(t, 8)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:       srv.URL,
		Dimensions: 8,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"نفقة", "حضانة", "طلاق"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 8)
	}
}

func TestOllamaEmbedder_DimensionMismatchRejected(t *testing.T) {
	srv := fakeOllama(t, 8)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Dimensions:      32, // server returns 8
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Embed(context.Background(), "نص")
	require.Error(t, err)
	assert.Equal(t, hukmerrors.ErrCodeDimensionMismatch, hukmerrors.GetCode(err))
}

func TestOllamaEmbedder_ServerErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Dimensions:      8,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Embed(context.Background(), "نص")
	require.Error(t, err)
	assert.Equal(t, hukmerrors.ErrCodeEmbeddingFailed, hukmerrors.GetCode(err))
}

func TestOllamaEmbedder_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Dimensions:      8,
		Timeout:         20 * time.Millisecond,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Embed(context.Background(), "نص")
	require.Error(t, err)
	assert.Equal(t, hukmerrors.ErrCodeEmbedderTimeout, hukmerrors.GetCode(err))
	assert.True(t, hukmerrors.IsRetryable(err))
}

func TestOllamaEmbedder_UnreachableHostFailsConstruction(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:    "http://127.0.0.1:1",
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
}
