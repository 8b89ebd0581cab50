// Package config loads hukm configuration: hardcoded defaults, then a
// YAML file, then HUKM_* environment variables, each layer overriding
// the previous. A .env file in the working directory is loaded first so
// local deployments can keep tokens out of the shell profile.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hukm-search/hukm/internal/discovery"
	"github.com/hukm-search/hukm/internal/embed"
	hukmerrors "github.com/hukm-search/hukm/internal/errors"
	"github.com/hukm-search/hukm/internal/qa"
	"github.com/hukm-search/hukm/internal/search"
	"github.com/hukm-search/hukm/internal/server"
)

// DefaultFileName is the config file looked up in the data directory
// when no explicit path is given.
const DefaultFileName = "hukm.yaml"

// Config is the complete hukm configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	QA         QAConfig         `yaml:"qa"`
	Server     ServerConfig     `yaml:"server"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Load       LoadConfig       `yaml:"load"`
	LogLevel   string           `yaml:"log_level"`
}

// SearchConfig tunes the hybrid search engine.
type SearchConfig struct {
	// DenseWeight and SparseWeight scale each path's RRF contribution.
	// RRF equalizes score scales by rank, so both default to 1.0.
	DenseWeight  float64 `yaml:"dense_weight"`
	SparseWeight float64 `yaml:"sparse_weight"`

	// RRFConstant is the fusion smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant"`

	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`

	// PathTimeout bounds each retrieval path, e.g. "3s".
	PathTimeout string `yaml:"path_timeout"`

	// SparseBackend selects the sparse index: "memory" or "bleve".
	SparseBackend string `yaml:"sparse_backend"`
}

// EmbeddingsConfig selects and tunes the embedding backend.
type EmbeddingsConfig struct {
	// Backend is "auto", "openai", "ollama", or "static".
	Backend    string `yaml:"backend"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
	Timeout    string `yaml:"timeout"`

	// APIKey is usually supplied via HUKM_OPENAI_API_KEY, not the file.
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	OllamaHost string `yaml:"ollama_host"`
}

// QAConfig tunes the Q&A matcher.
type QAConfig struct {
	DefaultThreshold float64 `yaml:"default_threshold"`
	DefaultLimit     int     `yaml:"default_limit"`
	MaxLimit         int     `yaml:"max_limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AuthTokens are accepted bearer tokens. Empty disables auth.
	AuthTokens []string `yaml:"auth_tokens"`
}

// DiscoveryConfig tunes the facet cache.
type DiscoveryConfig struct {
	// TTL is the facet staleness bound, e.g. "5m".
	TTL string `yaml:"ttl"`
}

// LoadConfig tunes bulk loading.
type LoadConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Search: SearchConfig{
			DenseWeight:   1.0,
			SparseWeight:  1.0,
			RRFConstant:   60,
			DefaultLimit:  10,
			MaxLimit:      100,
			PathTimeout:   "3s",
			SparseBackend: "memory",
		},
		Embeddings: EmbeddingsConfig{
			Backend:   "auto",
			BatchSize: embed.DefaultBatchSize,
			CacheSize: embed.DefaultEmbeddingCacheSize,
			Timeout:   "30s",
		},
		QA: QAConfig{
			DefaultThreshold: 0.7,
			DefaultLimit:     10,
			MaxLimit:         50,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8091,
		},
		Discovery: DiscoveryConfig{TTL: "5m"},
		Load:      LoadConfig{BatchSize: 64},
		LogLevel:  "info",
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "hukm")
	}
	return filepath.Join(home, ".hukm")
}

// Load builds the effective configuration. path may be empty; then
// DefaultFileName in the working directory is used if present. A
// missing config file is fine, defaults apply.
func Load(path string) (*Config, error) {
	// Values already exported in the environment win over .env.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFileName); err == nil {
			path = DefaultFileName
		}
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return hukmerrors.New(hukmerrors.ErrCodeConfigNotFound,
			"cannot read config file "+path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return hukmerrors.New(hukmerrors.ErrCodeConfigInvalid,
			"cannot parse config file "+path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays non-zero values from other onto c. Weights merge
// only when non-zero; zeroing a path weight is an env-only operation.
func (c *Config) mergeWith(other *Config) {
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}

	if other.Search.DenseWeight != 0 {
		c.Search.DenseWeight = other.Search.DenseWeight
	}
	if other.Search.SparseWeight != 0 {
		c.Search.SparseWeight = other.Search.SparseWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.DefaultLimit != 0 {
		c.Search.DefaultLimit = other.Search.DefaultLimit
	}
	if other.Search.MaxLimit != 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}
	if other.Search.PathTimeout != "" {
		c.Search.PathTimeout = other.Search.PathTimeout
	}
	if other.Search.SparseBackend != "" {
		c.Search.SparseBackend = other.Search.SparseBackend
	}

	if other.Embeddings.Backend != "" {
		c.Embeddings.Backend = other.Embeddings.Backend
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.Timeout != "" {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.APIKey != "" {
		c.Embeddings.APIKey = other.Embeddings.APIKey
	}
	if other.Embeddings.BaseURL != "" {
		c.Embeddings.BaseURL = other.Embeddings.BaseURL
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	if other.QA.DefaultThreshold != 0 {
		c.QA.DefaultThreshold = other.QA.DefaultThreshold
	}
	if other.QA.DefaultLimit != 0 {
		c.QA.DefaultLimit = other.QA.DefaultLimit
	}
	if other.QA.MaxLimit != 0 {
		c.QA.MaxLimit = other.QA.MaxLimit
	}

	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if len(other.Server.AuthTokens) > 0 {
		c.Server.AuthTokens = other.Server.AuthTokens
	}

	if other.Discovery.TTL != "" {
		c.Discovery.TTL = other.Discovery.TTL
	}
	if other.Load.BatchSize != 0 {
		c.Load.BatchSize = other.Load.BatchSize
	}
}

// applyEnvOverrides applies HUKM_* environment variables, the highest
// precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HUKM_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("HUKM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	if v := os.Getenv("HUKM_DENSE_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 {
			c.Search.DenseWeight = w
		}
	}
	if v := os.Getenv("HUKM_SPARSE_WEIGHT"); v != "" {
		if w, err := strconv.ParseFloat(v, 64); err == nil && w >= 0 {
			c.Search.SparseWeight = w
		}
	}
	if v := os.Getenv("HUKM_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("HUKM_SPARSE_BACKEND"); v != "" {
		c.Search.SparseBackend = v
	}

	if v := os.Getenv("HUKM_EMBEDDINGS_BACKEND"); v != "" {
		c.Embeddings.Backend = v
	}
	if v := os.Getenv("HUKM_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("HUKM_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	// The conventional variable name is honored alongside the HUKM one.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.Embeddings.APIKey == "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("HUKM_OPENAI_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}

	if v := os.Getenv("HUKM_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("HUKM_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("HUKM_AUTH_TOKENS"); v != "" {
		var tokens []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
		c.Server.AuthTokens = tokens
	}
}

// Validate checks the final configuration.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return hukmerrors.New(hukmerrors.ErrCodeConfigInvalid,
			fmt.Sprintf(format, args...), nil)
	}

	if c.Search.DenseWeight < 0 || c.Search.SparseWeight < 0 {
		return fail("search weights must be non-negative")
	}
	if c.Search.DenseWeight == 0 && c.Search.SparseWeight == 0 {
		return fail("at least one search weight must be positive")
	}
	if c.Search.MaxLimit < c.Search.DefaultLimit {
		return fail("search.max_limit %d below search.default_limit %d",
			c.Search.MaxLimit, c.Search.DefaultLimit)
	}
	if _, err := time.ParseDuration(c.Search.PathTimeout); err != nil {
		return fail("search.path_timeout %q is not a duration", c.Search.PathTimeout)
	}
	switch c.Search.SparseBackend {
	case "memory", "bleve":
	default:
		return fail("search.sparse_backend must be 'memory' or 'bleve', got %q", c.Search.SparseBackend)
	}

	switch c.Embeddings.Backend {
	case "auto", "openai", "ollama", "static":
	default:
		return fail("embeddings.backend must be 'auto', 'openai', 'ollama', or 'static', got %q", c.Embeddings.Backend)
	}
	if _, err := time.ParseDuration(c.Embeddings.Timeout); err != nil {
		return fail("embeddings.timeout %q is not a duration", c.Embeddings.Timeout)
	}

	if c.QA.DefaultThreshold < 0 || c.QA.DefaultThreshold > 1 {
		return fail("qa.default_threshold must be in [0,1], got %g", c.QA.DefaultThreshold)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fail("server.port %d out of range", c.Server.Port)
	}
	if _, err := time.ParseDuration(c.Discovery.TTL); err != nil {
		return fail("discovery.ttl %q is not a duration", c.Discovery.TTL)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fail("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}

// duration parses an already-validated duration string.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// EngineConfig maps onto the search engine configuration.
func (c *Config) EngineConfig() search.EngineConfig {
	return search.EngineConfig{
		DefaultLimit: c.Search.DefaultLimit,
		MaxLimit:     c.Search.MaxLimit,
		DefaultWeights: search.Weights{
			Dense:  c.Search.DenseWeight,
			Sparse: c.Search.SparseWeight,
		},
		RRFConstant: c.Search.RRFConstant,
		PathTimeout: duration(c.Search.PathTimeout),
	}
}

// EmbedConfig maps onto the embedder factory configuration.
func (c *Config) EmbedConfig() embed.Config {
	return embed.Config{
		Backend:    c.Embeddings.Backend,
		Model:      c.Embeddings.Model,
		Dimensions: c.Embeddings.Dimensions,
		BatchSize:  c.Embeddings.BatchSize,
		Timeout:    duration(c.Embeddings.Timeout),
		CacheSize:  c.Embeddings.CacheSize,
		APIKey:     c.Embeddings.APIKey,
		BaseURL:    c.Embeddings.BaseURL,
		OllamaHost: c.Embeddings.OllamaHost,
	}
}

// QAMatcherConfig maps onto the Q&A matcher configuration.
func (c *Config) QAMatcherConfig() qa.Config {
	return qa.Config{
		DefaultLimit:     c.QA.DefaultLimit,
		MaxLimit:         c.QA.MaxLimit,
		DefaultThreshold: c.QA.DefaultThreshold,
	}
}

// HTTPConfig maps onto the HTTP server configuration.
func (c *Config) HTTPConfig() server.Config {
	return server.Config{
		Host:       c.Server.Host,
		Port:       c.Server.Port,
		AuthTokens: c.Server.AuthTokens,
	}
}

// DiscoveryConfigValue maps onto the facet cache configuration.
func (c *Config) DiscoveryConfigValue() discovery.Config {
	return discovery.Config{TTL: duration(c.Discovery.TTL)}
}
