package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "CODEFORGE"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabaseDriver      = DatabaseDriverSQLite
	defaultDatabasePath        = "codeforge.db"
	defaultLogLevel            = "info"
	defaultCookieName          = "app_session"
	defaultSessionIssuer       = "tauth"
	defaultAIProvider          = AIProviderTogether
	defaultAITimeout           = 30 * time.Second
	defaultAIRateLimit         = 30
	defaultEnrollBonus         = 50
	defaultSnippetBonus        = 10
	defaultCompletionBonus     = 100
	defaultRerankMode          = RerankModeSync
	defaultRerankInterval      = 5 * time.Minute
	defaultTracingServiceName  = "codeforge-api"
	defaultTracingCollectorURL = "http://localhost:14268/api/traces"
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Supported AI providers.
const (
	AIProviderTogether = "together"
	AIProviderGemini   = "gemini"
)

// Supported leaderboard rerank modes.
const (
	RerankModeSync  = "sync"
	RerankModeAsync = "async"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	AllowedOrigins     []string
	DatabaseDriver     string
	DatabasePath       string
	DatabaseDSN        string
	LogLevel           string
	LogFile            string
	TAuthSigningKey    string
	TAuthIssuer        string
	TAuthCookieName    string
	AI                 AIConfig
	XP                 XPConfig
	RerankMode         string
	RerankInterval     time.Duration
	SeedCatalog        bool
	MetricsEnabled     bool
	TracingEnabled     bool
	TracingServiceName string
	TracingEndpoint    string
}

// AIConfig selects and configures the hosted completion backend.
type AIConfig struct {
	Provider           string
	APIKey             string
	BaseURL            string
	Model              string
	Timeout            time.Duration
	RateLimitPerMinute int
	// KeyUpdatesEnabled lets signed-in learners rotate the provider key at runtime.
	KeyUpdatesEnabled bool
}

// XPConfig holds the fixed bonuses awarded by route handlers.
type XPConfig struct {
	EnrollBonus     int64
	SnippetBonus    int64
	CompletionBonus int64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("ai.provider", defaultAIProvider)
	configViper.SetDefault("ai.api_key", "")
	configViper.SetDefault("ai.base_url", "")
	configViper.SetDefault("ai.model", "")
	configViper.SetDefault("ai.timeout", defaultAITimeout)
	configViper.SetDefault("ai.rate_limit_per_minute", defaultAIRateLimit)
	configViper.SetDefault("ai.key_updates_enabled", false)
	configViper.SetDefault("xp.enroll_bonus", defaultEnrollBonus)
	configViper.SetDefault("xp.snippet_bonus", defaultSnippetBonus)
	configViper.SetDefault("xp.completion_bonus", defaultCompletionBonus)
	configViper.SetDefault("leaderboard.rerank_mode", defaultRerankMode)
	configViper.SetDefault("leaderboard.rerank_interval", defaultRerankInterval)
	configViper.SetDefault("catalog.seed", true)
	configViper.SetDefault("metrics.enabled", true)
	configViper.SetDefault("tracing.enabled", false)
	configViper.SetDefault("tracing.service_name", defaultTracingServiceName)
	configViper.SetDefault("tracing.collector_endpoint", defaultTracingCollectorURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		AllowedOrigins:  configViper.GetStringSlice("cors.allowed_origins"),
		DatabaseDriver:  strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:    configViper.GetString("database.path"),
		DatabaseDSN:     configViper.GetString("database.dsn"),
		LogLevel:        configViper.GetString("log.level"),
		LogFile:         configViper.GetString("log.file"),
		TAuthSigningKey: configViper.GetString("tauth.signing_secret"),
		TAuthIssuer:     configViper.GetString("tauth.issuer"),
		TAuthCookieName: configViper.GetString("tauth.cookie_name"),
		AI: AIConfig{
			Provider:           strings.ToLower(strings.TrimSpace(configViper.GetString("ai.provider"))),
			APIKey:             configViper.GetString("ai.api_key"),
			BaseURL:            configViper.GetString("ai.base_url"),
			Model:              configViper.GetString("ai.model"),
			Timeout:            configViper.GetDuration("ai.timeout"),
			RateLimitPerMinute: configViper.GetInt("ai.rate_limit_per_minute"),
			KeyUpdatesEnabled:  configViper.GetBool("ai.key_updates_enabled"),
		},
		XP: XPConfig{
			EnrollBonus:     configViper.GetInt64("xp.enroll_bonus"),
			SnippetBonus:    configViper.GetInt64("xp.snippet_bonus"),
			CompletionBonus: configViper.GetInt64("xp.completion_bonus"),
		},
		RerankMode:         strings.ToLower(strings.TrimSpace(configViper.GetString("leaderboard.rerank_mode"))),
		RerankInterval:     configViper.GetDuration("leaderboard.rerank_interval"),
		SeedCatalog:        configViper.GetBool("catalog.seed"),
		MetricsEnabled:     configViper.GetBool("metrics.enabled"),
		TracingEnabled:     configViper.GetBool("tracing.enabled"),
		TracingServiceName: configViper.GetString("tracing.service_name"),
		TracingEndpoint:    configViper.GetString("tracing.collector_endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DatabaseDriver)
	}
	switch c.AI.Provider {
	case AIProviderTogether, AIProviderGemini:
	default:
		return fmt.Errorf("unsupported ai.provider %q", c.AI.Provider)
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive")
	}
	switch c.RerankMode {
	case RerankModeSync, RerankModeAsync:
	default:
		return fmt.Errorf("unsupported leaderboard.rerank_mode %q", c.RerankMode)
	}
	if c.XP.EnrollBonus <= 0 || c.XP.SnippetBonus <= 0 || c.XP.CompletionBonus <= 0 {
		return fmt.Errorf("xp bonuses must be positive")
	}
	if c.TracingEnabled && strings.TrimSpace(c.TracingEndpoint) == "" {
		return fmt.Errorf("tracing.collector_endpoint is required when tracing is enabled")
	}
	return nil
}
