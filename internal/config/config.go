// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.floatchat/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model
//   - Storage: PostgreSQL connection (see storage.go)
//   - Geo: gazetteer radius and external geocoding fallback
//   - History: conversation token ceilings and message caps
//   - Query: execution timeout and result limits
//
// Security: sensitive data (passwords) is never logged; the config directory
// uses 0750 permissions.
// Validation: range checks in validation.go with clear error messages.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidRadius indicates the proximity radius is out of range.
	ErrInvalidRadius = errors.New("invalid proximity radius")

	// ErrInvalidQueryTimeout indicates the query timeout is out of range.
	ErrInvalidQueryTimeout = errors.New("invalid query timeout")

	// ErrInvalidTokenCeiling indicates a token ceiling is out of range.
	ErrInvalidTokenCeiling = errors.New("invalid token ceiling")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 supports truncation to 768 dimensions via
	// OutputDimensionality; our pgvector schema uses 768 dimensions.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultProximityRadiusKm is the default radius for geographic
	// proximity conditions.
	DefaultProximityRadiusKm = 500.0

	// DefaultQueryTimeoutSeconds is the default statement timeout pushed
	// down to PostgreSQL for generated queries.
	DefaultQueryTimeoutSeconds = 30
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`     // "gemini" (default) or "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "llama3.3"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Geographic enrichment
	ProximityRadiusKm  float64 `mapstructure:"proximity_radius_km" json:"proximity_radius_km"`
	ExternalGeocoding  bool    `mapstructure:"external_geocoding" json:"external_geocoding"`
	GeocodingUserAgent string  `mapstructure:"geocoding_user_agent" json:"geocoding_user_agent"`

	// Conversation history ceilings
	MaxMessageTokens   int `mapstructure:"max_message_tokens" json:"max_message_tokens"`
	MaxSessionTokens   int `mapstructure:"max_session_tokens" json:"max_session_tokens"`
	MaxSessionMessages int `mapstructure:"max_session_messages" json:"max_session_messages"`
	HistoryTurns       int `mapstructure:"history_turns" json:"history_turns"`

	// Query execution
	QueryTimeoutSeconds int `mapstructure:"query_timeout_seconds" json:"query_timeout_seconds"`
	RetrievalTopK       int `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// HTTP server
	ServeAddr string `mapstructure:"serve_addr" json:"serve_addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values
func Load() (*Config, error) {
	// Configuration directory: ~/.floatchat/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".floatchat")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "floatchat")
	viper.SetDefault("postgres_password", "floatchat_dev_password")
	viper.SetDefault("postgres_db_name", "floatchat")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Geographic enrichment defaults
	viper.SetDefault("proximity_radius_km", DefaultProximityRadiusKm)
	viper.SetDefault("external_geocoding", true)
	viper.SetDefault("geocoding_user_agent", "FloatChat/1.0 (oceanographic research)")

	// History defaults
	viper.SetDefault("max_message_tokens", 1000)
	viper.SetDefault("max_session_tokens", 4000)
	viper.SetDefault("max_session_messages", 20)
	viper.SetDefault("history_turns", 8)

	// Query defaults
	viper.SetDefault("query_timeout_seconds", DefaultQueryTimeoutSeconds)
	viper.SetDefault("retrieval_top_k", 5)

	// Server defaults
	viper.SetDefault("serve_addr", "127.0.0.1:8080")
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit (not via viper); validation
// checks its presence based on the selected provider.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "FLOATCHAT_PROVIDER")
	mustBind("model_name", "FLOATCHAT_MODEL_NAME")
	mustBind("embedder_model", "FLOATCHAT_EMBEDDER_MODEL")
	mustBind("ollama_host", "FLOATCHAT_OLLAMA_HOST")
	mustBind("serve_addr", "FLOATCHAT_SERVE_ADDR")
	mustBind("external_geocoding", "FLOATCHAT_EXTERNAL_GEOCODING")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matching against
// real secret fragments.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// attacks; longer secrets show the first and last 2 characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
