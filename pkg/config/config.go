package config

import (
	"time"
)

// Config is the process-wide configuration, loaded once at startup and passed
// by injection; no package holds a mutable global copy.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Completion CompletionConfig `koanf:"completion" validate:"required"`
	Embedding  EmbeddingConfig  `koanf:"embedding"  validate:"required"`
	Index      IndexConfig      `koanf:"index"      validate:"required"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"  validate:"required"`
	Chat       ChatConfig       `koanf:"chat"`
	Session    SessionConfig    `koanf:"session"`
	Tokens     TokensConfig     `koanf:"tokens"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	JSON   bool   `koanf:"json"`
	Source bool   `koanf:"source"`
}

// CompletionConfig configures the completion provider and the wrapper's
// retry/pre-flight behavior. The chat and report paths carry separate retry
// settings because the upstream call sites they serve historically diverged.
type CompletionConfig struct {
	Provider                string        `koanf:"provider"                  validate:"required,oneof=groq openai ollama"`
	Model                   string        `koanf:"model"                     validate:"required"`
	APIKey                  string        `koanf:"api_key"`
	BaseURL                 string        `koanf:"base_url"`
	Temperature             float64       `koanf:"temperature"               validate:"gte=0,lte=2"`
	MaxTokens               int           `koanf:"max_tokens"                validate:"gt=0"`
	RAGMaxTokens            int           `koanf:"rag_max_tokens"            validate:"gt=0"`
	Retries                 int           `koanf:"retries"                   validate:"gte=0"`
	RetryBaseDelay          time.Duration `koanf:"retry_base_delay"`
	ReportRetries           int           `koanf:"report_retries"            validate:"gte=0"`
	ReportRetryBaseDelay    time.Duration `koanf:"report_retry_base_delay"`
	OversizePolicy          string        `koanf:"oversize_policy"           validate:"oneof=warn truncate"`
	WarnThresholdTokens     int           `koanf:"warn_threshold_tokens"     validate:"gt=0"`
	TruncateThresholdTokens int           `koanf:"truncate_threshold_tokens" validate:"gt=0"`
	TruncateContextChars    int           `koanf:"truncate_context_chars"    validate:"gt=0"`
}

// EmbeddingConfig configures the embedding provider adapter.
type EmbeddingConfig struct {
	Provider  string `koanf:"provider"   validate:"required,oneof=local openai vertex"`
	Model     string `koanf:"model"      validate:"required"`
	APIKey    string `koanf:"api_key"`
	Dimension int    `koanf:"dimension"  validate:"gt=0"`
	BatchSize int    `koanf:"batch_size" validate:"gt=0"`
	CacheSize int    `koanf:"cache_size" validate:"gte=0"`
	ModelsDir string `koanf:"models_dir"`
	ProjectID string `koanf:"project_id"`
	Location  string `koanf:"location"`
}

// IndexConfig configures the vector index backend and its named collection.
type IndexConfig struct {
	Provider   string `koanf:"provider"   validate:"required,oneof=chromem pgvector qdrant redis"`
	Path       string `koanf:"path"`
	DSN        string `koanf:"dsn"`
	Collection string `koanf:"collection" validate:"required"`
	Metric     string `koanf:"metric"`
	MaxTopK    int    `koanf:"max_top_k"`
	APIKey     string `koanf:"api_key"`
}

// RetrievalConfig carries the per-call-site assembler parameters. The chat,
// query, report, and similar-event paths use different top-k values and token
// ceilings; all are named here rather than reconciled silently.
type RetrievalConfig struct {
	ChatTopK             int `koanf:"chat_top_k"              validate:"gt=0"`
	ChatMaxTokens        int `koanf:"chat_max_tokens"         validate:"gt=0"`
	QueryTopK            int `koanf:"query_top_k"             validate:"gt=0"`
	QueryMaxTokens       int `koanf:"query_max_tokens"        validate:"gt=0"`
	ReportTopK           int `koanf:"report_top_k"            validate:"gt=0"`
	ReportMaxTokens      int `koanf:"report_max_tokens"       validate:"gt=0"`
	SimilarTopK          int `koanf:"similar_top_k"           validate:"gt=0"`
	SimilarMaxTokens     int `koanf:"similar_max_tokens"      validate:"gt=0"`
	PerCategoryCap       int `koanf:"per_category_cap"        validate:"gt=0"`
	ReportPerCategoryCap int `koanf:"report_per_category_cap" validate:"gt=0"`
	TopSources           int `koanf:"top_sources"             validate:"gt=0"`
}

// ChatConfig bounds the interactive conversation.
type ChatConfig struct {
	HistoryLimit int `koanf:"history_limit" validate:"gt=0"`
}

// SessionConfig configures index statistics sampling and the on-disk
// directories removed by clear-session.
type SessionConfig struct {
	StatsSampleLimit int    `koanf:"stats_sample_limit" validate:"gt=0"`
	NormalizedDir    string `koanf:"normalized_dir"`
	RawDir           string `koanf:"raw_dir"`
}

// TokensConfig selects the tokenizer encoding used for budget estimation.
type TokensConfig struct {
	Encoding string `koanf:"encoding"`
}

// Default returns a Config with default values for development.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Completion: CompletionConfig{
			Provider:                "groq",
			Model:                   "llama-3.3-70b-versatile",
			Temperature:             0.3,
			MaxTokens:               2000,
			RAGMaxTokens:            4000,
			Retries:                 3,
			RetryBaseDelay:          time.Second,
			ReportRetries:           3,
			ReportRetryBaseDelay:    3 * time.Second,
			OversizePolicy:          "warn",
			WarnThresholdTokens:     7500,
			TruncateThresholdTokens: 7000,
			TruncateContextChars:    16000,
		},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Model:     "sentence-transformers/all-MiniLM-L6-v2",
			Dimension: 384,
			BatchSize: 64,
			CacheSize: 512,
		},
		Index: IndexConfig{
			Provider:   "chromem",
			Path:       "./defensight_db",
			Collection: "security_logs",
			Metric:     "cosine",
		},
		Retrieval: RetrievalConfig{
			ChatTopK:             30,
			ChatMaxTokens:        4500,
			QueryTopK:            40,
			QueryMaxTokens:       6000,
			ReportTopK:           50,
			ReportMaxTokens:      4500,
			SimilarTopK:          15,
			SimilarMaxTokens:     3000,
			PerCategoryCap:       8,
			ReportPerCategoryCap: 10,
			TopSources:           5,
		},
		Chat: ChatConfig{
			HistoryLimit: 20,
		},
		Session: SessionConfig{
			StatsSampleLimit: 1000,
			NormalizedDir:    "./normalized",
			RawDir:           "./raw_data",
		},
		Tokens: TokensConfig{
			Encoding: "cl100k_base",
		},
	}
}
