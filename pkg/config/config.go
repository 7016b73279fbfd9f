// Package config loads the gateway's frozen configuration record from an
// optional YAML file, a .env file, and the process environment, in that
// increasing order of precedence, using koanf for the layered merge.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yamlparser "github.com/knadh/koanf/parsers/yaml"
	envprovider "github.com/knadh/koanf/providers/env/v2"
	fileprovider "github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// BackendType selects which wire dialect the adapter speaks.
type BackendType string

const (
	BackendNative       BackendType = "native"
	BackendOpenAICompat BackendType = "openai-compatible"
)

// Config is the immutable record every other component is constructed
// from. It is never mutated after Load returns; per-request overrides
// (model override, pause signals) are threaded as call parameters instead
// of fields on this struct.
type Config struct {
	BackendType           BackendType   `koanf:"backend_type"`
	BackendEndpoint       string        `koanf:"backend_endpoint"`
	BackendModel          string        `koanf:"backend_model"`
	BackendConnectTimeout time.Duration `koanf:"backend_connect_timeout"`
	BackendReadTimeout    time.Duration `koanf:"backend_read_timeout"`
	BackendRetryAttempts  int           `koanf:"backend_retry_attempts"`
	BackendRetryInitDelay time.Duration `koanf:"backend_retry_initial_delay"`
	HealthCheckOnStartup  bool          `koanf:"health_check_on_startup"`
	HealthCheckTimeout    time.Duration `koanf:"health_check_timeout"`

	MaxToolIterations        int     `koanf:"max_tool_iterations"`
	ToolLoopTimeout          time.Duration `koanf:"tool_loop_timeout"`
	FirstIterationToolChoice string  `koanf:"first_iteration_tool_choice"`
	MaxToolResultChars       int     `koanf:"max_tool_result_chars"`
	SystemPromptPath         string  `koanf:"system_prompt_path"`
	DefaultSystemPrompt      string  `koanf:"default_system_prompt"`
	DefaultTemperature       float64 `koanf:"default_temperature"`

	BindHost string `koanf:"bind_host"`
	BindPort int    `koanf:"bind_port"`

	LogLevel       string `koanf:"log_level"`
	LogFormat      string `koanf:"log_format"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	MetricsPort    int    `koanf:"metrics_port"`

	RAG RAGConfig `koanf:"rag"`
}

// RAGConfig is the RAG index's slice of the frozen record.
type RAGConfig struct {
	Enabled                bool          `koanf:"enabled"`
	BaseURL                string        `koanf:"base_url"`
	CacheDir               string        `koanf:"cache_dir"`
	ManualURLs             []string      `koanf:"manual_urls"`
	ManualURLsOnly         bool          `koanf:"manual_urls_only"`
	MaxCrawlDepth          int           `koanf:"max_crawl_depth"`
	MaxPages               int           `koanf:"max_pages"`
	RequestTimeout         time.Duration `koanf:"request_timeout"`
	MaxWorkers             int           `koanf:"max_workers"`
	MaxURLRetries          int           `koanf:"max_url_retries"`
	RateLimitDelay         time.Duration `koanf:"rate_limit_delay"`
	PageCacheTTLHours      int           `koanf:"page_cache_ttl_hours"`
	UpdateIntervalHours    float64       `koanf:"update_interval_hours"`
	UpdateBatchSize        int           `koanf:"update_batch_size"`
	RebuildThreshold       float64       `koanf:"rebuild_threshold"`
	ChildChunkSize         int           `koanf:"child_chunk_size"`
	ChildChunkMinTokens    int           `koanf:"child_chunk_min_tokens"`
	ParentChunkSize        int           `koanf:"parent_chunk_size"`
	ParentChunkMinTokens   int           `koanf:"parent_chunk_min_tokens"`
	AbsoluteMaxChunkTokens int           `koanf:"absolute_max_chunk_tokens"`
	HybridLexicalWeight    float64       `koanf:"hybrid_lexical_weight"`
	HybridSemanticWeight   float64       `koanf:"hybrid_semantic_weight"`
	SearchTopK             int           `koanf:"search_top_k"`
	RetrieverMultiplier    int           `koanf:"retriever_candidate_multiplier"`
	RerankEnabled          bool          `koanf:"rerank_enabled"`
	ParentContextMaxChars  int           `koanf:"parent_context_max_chars"`
	EmbeddingModel         string        `koanf:"embedding_model"`
	RerankModel            string        `koanf:"rerank_model"`
	ContextualEnabled      bool          `koanf:"contextual_retrieval_enabled"`
	ContextualBackground   bool          `koanf:"contextual_retrieval_background"`
}

func defaults() *koanf.Koanf {
	k := koanf.New(".")
	d := map[string]any{
		"backend_type":                        string(BackendOpenAICompat),
		"backend_endpoint":                    "http://localhost:1234/v1",
		"backend_model":                       "openai/gpt-oss-20b",
		"backend_connect_timeout":             "10s",
		"backend_read_timeout":                "300s",
		"backend_retry_attempts":              3,
		"backend_retry_initial_delay":         "1s",
		"health_check_on_startup":             true,
		"health_check_timeout":                "5s",
		"max_tool_iterations":                 5,
		"tool_loop_timeout":                   "120s",
		"first_iteration_tool_choice":         "auto",
		"max_tool_result_chars":               4000,
		"system_prompt_path":                  "system_prompt.md",
		"default_system_prompt":               "You are a helpful AI assistant.",
		"default_temperature":                 0.0,
		"bind_host":                           "127.0.0.1",
		"bind_port":                           8000,
		"log_level":                           "info",
		"log_format":                          "text",
		"metrics_enabled":                     true,
		"metrics_port":                        9090,
		"rag.enabled":                         false,
		"rag.cache_dir":                       "./rag_cache",
		"rag.manual_urls_only":                false,
		"rag.max_crawl_depth":                 3,
		"rag.max_pages":                       0,
		"rag.request_timeout":                 "10s",
		"rag.max_workers":                     5,
		"rag.max_url_retries":                 3,
		"rag.rate_limit_delay":                "100ms",
		"rag.page_cache_ttl_hours":            168,
		"rag.update_interval_hours":           1.0,
		"rag.update_batch_size":               50,
		"rag.rebuild_threshold":               0.3,
		"rag.child_chunk_size":                350,
		"rag.child_chunk_min_tokens":          150,
		"rag.parent_chunk_size":                900,
		"rag.parent_chunk_min_tokens":          300,
		"rag.absolute_max_chunk_tokens":        1200,
		"rag.hybrid_lexical_weight":            0.3,
		"rag.hybrid_semantic_weight":           0.7,
		"rag.search_top_k":                     5,
		"rag.retriever_candidate_multiplier":   3,
		"rag.rerank_enabled":                   true,
		"rag.parent_context_max_chars":         500,
		"rag.embedding_model":                  "all-MiniLM-L6-v2",
		"rag.rerank_model":                     "cross-encoder/ms-marco-MiniLM-L-12-v2",
		"rag.contextual_retrieval_enabled":    false,
		"rag.contextual_retrieval_background": true,
	}
	_ = k.Load(confmapProvider(d), nil)
	return k
}

// Load builds the frozen Config from (in increasing precedence):
// built-in defaults, an optional YAML file, an optional .env file, and the
// process environment. envFile may be empty to skip .env loading.
func Load(yamlPath, envFile string) (*Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	k := defaults()

	if yamlPath != "" {
		if err := k.Load(fileprovider.Provider(yamlPath), yamlparser.Parser()); err != nil {
			return nil, fmt.Errorf("config: load yaml %s: %w", yamlPath, err)
		}
	}

	if err := k.Load(envprovider.Provider(".", envprovider.Opt{
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "GATEWAY_"))
			key = strings.ReplaceAll(key, "__", ".")
			return key, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.BackendType {
	case BackendNative, BackendOpenAICompat:
	default:
		return fmt.Errorf("config: invalid backend_type %q", c.BackendType)
	}
	total := c.RAG.HybridLexicalWeight + c.RAG.HybridSemanticWeight
	if c.RAG.Enabled && (total < 0.99 || total > 1.01) {
		return fmt.Errorf("config: rag hybrid weights must sum to 1.0, got %.3f", total)
	}
	return nil
}

// IsLoopbackHost reports whether host is a loopback address, used to decide
// whether to print the non-loopback bind security warning.
func IsLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
