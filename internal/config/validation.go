package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// validSSLModes are the SSL modes accepted by PostgreSQL.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate performs fail-fast validation of the configuration.
// Called once at Load time so invalid settings surface at startup,
// not at first query.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: set GEMINI_API_KEY or GOOGLE_API_KEY for provider %q",
				ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host is empty", ErrInvalidOllamaHost)
		}
		if u, err := url.Parse(c.OllamaHost); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q is not a valid URL", ErrInvalidOllamaHost, c.OllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model_name is empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder_model is empty", ErrInvalidEmbedderModel)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: postgres_host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: postgres_db_name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.ProximityRadiusKm <= 0 || c.ProximityRadiusKm > 20000 {
		return fmt.Errorf("%w: %.1f km (must be in (0, 20000])", ErrInvalidRadius, c.ProximityRadiusKm)
	}
	if c.QueryTimeoutSeconds < 1 || c.QueryTimeoutSeconds > 600 {
		return fmt.Errorf("%w: %d seconds (must be 1-600)", ErrInvalidQueryTimeout, c.QueryTimeoutSeconds)
	}
	if c.MaxMessageTokens < 1 {
		return fmt.Errorf("%w: max_message_tokens=%d", ErrInvalidTokenCeiling, c.MaxMessageTokens)
	}
	if c.MaxSessionTokens < c.MaxMessageTokens {
		return fmt.Errorf("%w: max_session_tokens=%d is below max_message_tokens=%d",
			ErrInvalidTokenCeiling, c.MaxSessionTokens, c.MaxMessageTokens)
	}
	if c.MaxSessionMessages < 2 {
		return fmt.Errorf("%w: max_session_messages=%d (must hold at least one turn pair)",
			ErrInvalidTokenCeiling, c.MaxSessionMessages)
	}

	return nil
}
