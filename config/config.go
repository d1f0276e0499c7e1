package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the analyst service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Session   SessionConfig   `mapstructure:"session"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"` // JWT secret for auth
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations and default model settings
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Defaults  ModelDefaults          `mapstructure:"defaults"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string        `mapstructure:"type"` // openai, anthropic, gemini, groq
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ModelDefaults are the app-level model settings stamped onto every session.
type ModelDefaults struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMRoutingConfig defines which model to use for different tasks
type LLMRoutingConfig struct {
	Planning string `mapstructure:"planning"` // model used to produce plans
	Chat     string `mapstructure:"chat"`     // model used for direct answers
	Fallback string `mapstructure:"fallback"` // fallback model
}

// SessionConfig controls per-session state defaults.
type SessionConfig struct {
	DefaultDataset     string        `mapstructure:"default_dataset"`
	DefaultFrameName   string        `mapstructure:"default_frame_name"`
	MaxRecentMessages  int           `mapstructure:"max_recent_messages"`
	HeaderName         string        `mapstructure:"header_name"`
	QueryParamFallback string        `mapstructure:"query_param_fallback"`
	IdleTTL            time.Duration `mapstructure:"idle_ttl"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
}

func (s SessionConfig) Validate() error {
	if s.MaxRecentMessages <= 0 {
		return fmt.Errorf("session.max_recent_messages must be > 0")
	}
	if s.IdleTTL < 0 || s.SweepInterval < 0 {
		return fmt.Errorf("session.idle_ttl and session.sweep_interval must not be negative")
	}
	return nil
}

// ExecutorConfig bounds a single chat request. Zero cost/token caps mean
// only the wall-clock limit applies.
type ExecutorConfig struct {
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxPlanSteps        int           `mapstructure:"max_plan_steps"`
	MaxCostPerRequest   float64       `mapstructure:"max_cost_per_request"`
	MaxTokensPerRequest int64         `mapstructure:"max_tokens_per_request"`
}

func (e ExecutorConfig) Validate() error {
	if e.RequestTimeout <= 0 {
		return fmt.Errorf("executor.request_timeout must be > 0")
	}
	return nil
}

// AgentsConfig controls agent resolution behaviour.
type AgentsConfig struct {
	CustomCacheTTL time.Duration `mapstructure:"custom_cache_ttl"`
}

// StorageConfig groups persistence backends.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig describes the usage/custom-agent database.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig describes the optional resolver cache backend.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if r.Host != "" && r.Port == "" {
		return fmt.Errorf("storage.redis.port required when host is set")
	}
	return nil
}

// Addr returns host:port or empty when redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from file and environment. Panics on failure:
// the service cannot run without a valid configuration.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":8000")
	viper.SetDefault("llm.defaults.provider", "openai")
	viper.SetDefault("llm.defaults.model", "gpt-4o-mini")
	viper.SetDefault("llm.defaults.temperature", 0.7)
	viper.SetDefault("llm.defaults.max_tokens", 6000)
	viper.SetDefault("session.default_dataset", "Housing.csv")
	viper.SetDefault("session.default_frame_name", "df")
	viper.SetDefault("session.max_recent_messages", 5)
	viper.SetDefault("session.header_name", "X-Session-ID")
	viper.SetDefault("session.query_param_fallback", "session_id")
	viper.SetDefault("session.idle_ttl", 24*time.Hour)
	viper.SetDefault("session.sweep_interval", 10*time.Minute)
	viper.SetDefault("executor.request_timeout", 90*time.Second)
	viper.SetDefault("executor.max_plan_steps", 10)
	viper.SetDefault("agents.custom_cache_ttl", 60*time.Second)
	viper.SetDefault("telemetry.enabled", true)

	if path == "" {
		viper.AddConfigPath("./app/config")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("ANALYST")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (ANALYST_*)

	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Session.Validate(); err != nil {
		panic(err)
	}
	if err := config.Executor.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}

	return &config
}
