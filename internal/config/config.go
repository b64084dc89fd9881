package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	Env      string
	HTTPPort string

	LogLevel  string
	LogPretty bool

	DatabaseDriver string
	DatabaseURL    string

	LLMProvider   string
	LLMTimeout    time.Duration
	GeminiAPIKey  string
	GeminiModelID string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	HistoryWindow        int
	FullHistoryThreshold int
	TitleMaxLength       int

	MetricsEnabled bool
}

// SetDefaults registers every known key on v so that AutomaticEnv can
// resolve it and cobra flags can be bound on top.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_env", EnvProduction)
	v.SetDefault("http_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("database_driver", DriverSQLite)
	v.SetDefault("database_url", "advisor_chat.db")
	v.SetDefault("llm_provider", ProviderGemini)
	v.SetDefault("llm_timeout", 60*time.Second)
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model_id", "gemini-1.5-pro")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("access_token_ttl", time.Hour)
	v.SetDefault("refresh_token_ttl", 30*24*time.Hour)
	v.SetDefault("history_window", 20)
	v.SetDefault("full_history_threshold", 10)
	v.SetDefault("title_max_length", 60)
	v.SetDefault("metrics_enabled", true)
}

// Load reads an optional .env file, then resolves configuration from the
// environment (and any flags already bound to v). A nil v gets a fresh
// viper instance.
func Load(v *viper.Viper) (*Config, error) {
	// A missing .env file is fine; the environment may carry everything.
	_ = godotenv.Load()

	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Env:                  strings.ToLower(v.GetString("app_env")),
		HTTPPort:             v.GetString("http_port"),
		LogLevel:             strings.ToLower(v.GetString("log_level")),
		LogPretty:            v.GetBool("log_pretty"),
		DatabaseDriver:       strings.ToLower(v.GetString("database_driver")),
		DatabaseURL:          v.GetString("database_url"),
		LLMProvider:          strings.ToLower(v.GetString("llm_provider")),
		LLMTimeout:           v.GetDuration("llm_timeout"),
		GeminiAPIKey:         v.GetString("gemini_api_key"),
		GeminiModelID:        v.GetString("gemini_model_id"),
		OpenAIAPIKey:         v.GetString("openai_api_key"),
		OpenAIBaseURL:        v.GetString("openai_base_url"),
		OpenAIModel:          v.GetString("openai_model"),
		JWTSecret:            v.GetString("jwt_secret"),
		AccessTokenTTL:       v.GetDuration("access_token_ttl"),
		RefreshTokenTTL:      v.GetDuration("refresh_token_ttl"),
		HistoryWindow:        v.GetInt("history_window"),
		FullHistoryThreshold: v.GetInt("full_history_threshold"),
		TitleMaxLength:       v.GetInt("title_max_length"),
		MetricsEnabled:       v.GetBool("metrics_enabled"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once so a misconfigured deployment can
// be fixed in a single pass.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}

	switch c.LLMProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY environment variable is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable is required"))
	}

	if c.HistoryWindow < 1 {
		errs = append(errs, fmt.Errorf("HISTORY_WINDOW must be positive, got %d", c.HistoryWindow))
	}
	if c.TitleMaxLength < 4 {
		errs = append(errs, fmt.Errorf("TITLE_MAX_LENGTH must be at least 4, got %d", c.TitleMaxLength))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}
