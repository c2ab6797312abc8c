// internal/common/config/config.go
package config

import "strings"

// Config is the main application configuration struct.
type Config struct {
	App         AppConfig               `mapstructure:"app"`
	Server      ServerConfig            `mapstructure:"server"`
	Camunda     CamundaConfig           `mapstructure:"camunda"`
	Database    DatabaseConfig          `mapstructure:"database"`
	Relational  RelationalConfig        `mapstructure:"relational"`
	LLM         LLMConfig               `mapstructure:"llm"`
	Embedding   EmbeddingConfig         `mapstructure:"embedding"`
	VectorIndex VectorIndexConfig       `mapstructure:"vector_index"`
	History     HistoryConfig           `mapstructure:"history"`
	Workers     map[string]WorkerConfig `mapstructure:"workers"`
	Logging     LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	RequestTimeout  int    `mapstructure:"request_timeout"`  // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

// Enabled reports whether any Elasticsearch endpoint is configured.
func (e ElasticsearchConfig) Enabled() bool {
	return e.GetURL() != ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MongoConfig tunes the per-request MongoDB clients. The connection string itself
// arrives with each request.
type MongoConfig struct {
	ConnectTimeout         int `mapstructure:"connect_timeout"`          // milliseconds
	ServerSelectionTimeout int `mapstructure:"server_selection_timeout"` // milliseconds
	MaxCachedClients       int `mapstructure:"max_cached_clients"`
}

// RelationalConfig lists the databases the SQL pipeline may index and query.
type RelationalConfig struct {
	DatabaseURLs []string `mapstructure:"database_urls"`
	MaxParallel  int      `mapstructure:"max_parallel"`
	QueryTimeout int      `mapstructure:"query_timeout"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Model Configuration ---

// Stage names used as keys of LLMConfig.Stages.
const (
	StageCollectionSelection = "collection_selection"
	StageMongoPlan           = "mongo_plan"
	StageSQLPlan             = "sql_plan"
	StageMongoSummary        = "mongo_summary"
	StageSummary             = "summary"
)

// Provider names accepted by llm.provider and embedding.provider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// LLMConfig holds the completion service settings and the per-stage profiles.
type LLMConfig struct {
	Provider string                  `mapstructure:"provider"`
	BaseURL  string                  `mapstructure:"base_url"`
	APIKey   string                  `mapstructure:"api_key"`
	Timeout  int                     `mapstructure:"timeout"` // milliseconds
	Stages   map[string]StageProfile `mapstructure:"stages"`
}

// StageProfile configures one model call. An empty Template selects the built-in prompt.
type StageProfile struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	Template    string  `mapstructure:"template"`
}

// Stage returns the profile for a stage, falling back to the built-in default.
func (l LLMConfig) Stage(name string) StageProfile {
	if p, ok := l.Stages[name]; ok {
		return p
	}
	return DefaultStageProfiles()[name]
}

// DefaultStageProfiles returns the profiles used when the configuration names none.
func DefaultStageProfiles() map[string]StageProfile {
	return map[string]StageProfile{
		StageCollectionSelection: {Model: "gpt-4o-mini", Temperature: 0.3},
		StageMongoPlan:           {Model: "gpt-4o", Temperature: 0.3},
		StageMongoSummary:        {Model: "gpt-4o-mini", Temperature: 0.3},
		StageSQLPlan:             {Model: "gpt-4", Temperature: 0.2},
		StageSummary:             {Model: "gpt-4", Temperature: 0.2},
	}
}

type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	Timeout    int    `mapstructure:"timeout"`   // milliseconds
	CacheTTL   int    `mapstructure:"cache_ttl"` // seconds, 0 disables the cache
}

type VectorIndexConfig struct {
	Index string `mapstructure:"index"`
	TopK  int    `mapstructure:"top_k"`
}

type HistoryConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxEntries int  `mapstructure:"max_entries"`
	TTL        int  `mapstructure:"ttl"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
