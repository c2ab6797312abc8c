// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml over it,
// expands ${VAR} placeholders and applies defaults.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// 1. base config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// 2. environment overlay, optional
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	// NLQ_LLM_API_KEY overrides llm.api_key and so on
	v.SetEnvPrefix("NLQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		switch typed := val.(type) {
		case string:
			if strings.Contains(typed, "${") || (strings.HasPrefix(typed, "$") && len(typed) > 1) {
				// an unset variable leaves the key empty so optional backends stay disabled
				if expanded := os.ExpandEnv(typed); expanded != typed {
					v.Set(key, expanded)
				}
			}
		case []interface{}:
			// database_urls entries usually carry credentials from the environment
			changed := false
			out := make([]interface{}, 0, len(typed))
			for _, item := range typed {
				s, ok := item.(string)
				if !ok || !strings.Contains(s, "$") {
					out = append(out, item)
					continue
				}
				changed = true
				if expanded := os.ExpandEnv(s); expanded != "" {
					out = append(out, expanded)
				}
			}
			if changed {
				v.Set(key, out)
			}
		}
	}
}

// overrideEmptyConfig fills secrets from well-known variables when the file left them blank.
func overrideEmptyConfig(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case ProviderGemini:
			cfg.LLM.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		default:
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if cfg.Embedding.APIKey == "" {
		switch cfg.Embedding.Provider {
		case ProviderGemini:
			cfg.Embedding.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		default:
			cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if cfg.Database.Elasticsearch.Password == "" {
		if val := os.Getenv("ES_PASSWORD"); val != "" {
			cfg.Database.Elasticsearch.Password = val
		}
	}

	if cfg.Database.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Database.Redis.Password = val
		}
	}

	if len(cfg.Relational.DatabaseURLs) == 0 {
		if val := os.Getenv("DATABASE_URLS"); val != "" {
			for _, u := range strings.Split(val, ",") {
				if u = strings.TrimSpace(u); u != "" {
					cfg.Relational.DatabaseURLs = append(cfg.Relational.DatabaseURLs, u)
				}
			}
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if val := os.Getenv(k); val != "" {
			return val
		}
	}
	return ""
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "nlquery"
	}

	// Server defaults
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8000"
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	// Camunda defaults
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	// Elasticsearch URL fallback
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if len(cfg.Database.Elasticsearch.Addresses) == 0 && cfg.Database.Elasticsearch.URL != "" {
		cfg.Database.Elasticsearch.Addresses = []string{cfg.Database.Elasticsearch.URL}
	}

	// Mongo defaults
	if cfg.Database.Mongo.ConnectTimeout == 0 {
		cfg.Database.Mongo.ConnectTimeout = 10000
	}
	if cfg.Database.Mongo.ServerSelectionTimeout == 0 {
		cfg.Database.Mongo.ServerSelectionTimeout = 5000
	}
	if cfg.Database.Mongo.MaxCachedClients == 0 {
		cfg.Database.Mongo.MaxCachedClients = 16
	}

	// Relational defaults
	if cfg.Relational.MaxParallel <= 0 {
		cfg.Relational.MaxParallel = 1
	}
	if cfg.Relational.QueryTimeout == 0 {
		cfg.Relational.QueryTimeout = 30000
	}

	// LLM defaults
	cfg.LLM.Provider = normalizeProvider(cfg.LLM.Provider)
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOpenAI
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == ProviderOpenAI {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60000
	}
	if cfg.LLM.Stages == nil {
		cfg.LLM.Stages = make(map[string]StageProfile)
	}
	for name, def := range DefaultStageProfiles() {
		stage, ok := cfg.LLM.Stages[name]
		if !ok {
			cfg.LLM.Stages[name] = def
			continue
		}
		if stage.Model == "" {
			stage.Model = def.Model
		}
		cfg.LLM.Stages[name] = stage
	}

	// Embedding defaults
	cfg.Embedding.Provider = normalizeProvider(cfg.Embedding.Provider)
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = cfg.LLM.Provider
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == ProviderOpenAI {
		cfg.Embedding.BaseURL = cfg.LLM.BaseURL
		if cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = "https://api.openai.com/v1"
		}
	}
	if cfg.Embedding.Model == "" {
		if cfg.Embedding.Provider == ProviderGemini {
			cfg.Embedding.Model = "gemini-embedding-001"
		} else {
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30000
	}

	// Vector index defaults
	if cfg.VectorIndex.Index == "" {
		cfg.VectorIndex.Index = "table-metadata-index-v2"
	}
	if cfg.VectorIndex.TopK == 0 {
		cfg.VectorIndex.TopK = 10
	}

	// History defaults
	if cfg.History.MaxEntries == 0 {
		cfg.History.MaxEntries = 50
	}
	if cfg.History.TTL == 0 {
		cfg.History.TTL = 7 * 24 * 3600
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 120000
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	switch cfg.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, cfg.LLM.Provider)
	}

	switch cfg.Embedding.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("embedding.provider must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, cfg.Embedding.Provider)
	}

	for name, stage := range cfg.LLM.Stages {
		if stage.Temperature < 0 || stage.Temperature > 2 {
			return fmt.Errorf("llm.stages.%s.temperature must be between 0 and 2", name)
		}
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda.enabled is set")
	}

	if cfg.History.Enabled && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when history.enabled is set")
	}

	if cfg.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       120000,
		MaxRetries:    0,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
