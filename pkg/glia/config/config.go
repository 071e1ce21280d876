// Package config defines the Glia server configuration, loaded from a
// YAML file with .env support and environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/glia-ai/glia/pkg/glia/ratelimit"
	"github.com/glia-ai/glia/pkg/glia/token"
)

// Config holds all server configuration.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Auth configures bot authentication.
	Auth AuthConfig `yaml:"auth"`

	// Store configures durable persistence.
	Store StoreConfig `yaml:"store"`

	// Redis configures the volatile backend. Empty URL selects the
	// in-process backend.
	Redis RedisConfig `yaml:"redis"`

	// Agent configures the assistant backend.
	Agent AgentConfig `yaml:"agent"`

	// RateLimit configures chat rate limits.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Channels configures the platform bot adapters.
	Channels ChannelsConfig `yaml:"channels"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// FrontendURL is the web frontend base used in link auth URLs.
	FrontendURL string `yaml:"frontend_url"`

	// AllowedOrigins are CORS origins allowed to call the API.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig configures bot authentication.
type AuthConfig struct {
	// BotAPIKey is the shared key platform bots present.
	BotAPIKey string `yaml:"bot_api_key"`

	// SessionTokenSecret signs session JWTs. Minimum 32 bytes.
	SessionTokenSecret string `yaml:"session_token_secret"`

	// SessionTokenTTL is the session token lifetime.
	SessionTokenTTL time.Duration `yaml:"session_token_ttl"`
}

// StoreConfig configures durable persistence.
type StoreConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// RedisConfig configures the volatile backend.
type RedisConfig struct {
	// URL is the redis:// connection string.
	URL string `yaml:"url"`
}

// AgentConfig configures the assistant backend.
type AgentConfig struct {
	// BaseURL is the OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the endpoint.
	APIKey string `yaml:"api_key"`

	// Model is the model name.
	Model string `yaml:"model"`

	// SystemPrompt is the base system prompt.
	SystemPrompt string `yaml:"system_prompt"`
}

// RateLimitConfig configures chat rate limits.
type RateLimitConfig struct {
	// UserPerMinute is max chat requests per platform user.
	UserPerMinute int `yaml:"user_per_minute"`

	// GuildPerMinute is max mention requests per guild.
	GuildPerMinute int `yaml:"guild_per_minute"`
}

// ChannelsConfig configures the platform bot adapters.
type ChannelsConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// WhatsAppConfig configures the WhatsApp adapter.
type WhatsAppConfig struct {
	Enabled bool `yaml:"enabled"`

	// StorePath is the whatsmeow session database file.
	StorePath string `yaml:"store_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			FrontendURL: "http://localhost:3000",
		},
		Auth: AuthConfig{
			SessionTokenTTL: token.DefaultTTL,
		},
		Store: StoreConfig{
			Path: "./data/glia.db",
		},
		Agent: AgentConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		RateLimit: RateLimitConfig{
			UserPerMinute:  ratelimit.DefaultUserLimit,
			GuildPerMinute: ratelimit.DefaultGuildLimit,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{StorePath: "./data/whatsapp.db"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envVarPattern matches ${VAR_NAME} references in config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML config file, loading .env files first and
// expanding ${VAR} references against the environment.
func Load(path string) (*Config, error) {
	// godotenv.Load does NOT overwrite existing env vars.
	_ = godotenv.Load(".env", ".env.local")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Validate checks the invariants the server refuses to start without.
func (c *Config) Validate() error {
	if c.Auth.BotAPIKey == "" {
		return fmt.Errorf("auth.bot_api_key is required")
	}
	if len(c.Auth.SessionTokenSecret) < token.MinSecretLen {
		return fmt.Errorf("auth.session_token_secret must be at least %d bytes", token.MinSecretLen)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.RateLimit.UserPerMinute <= 0 || c.RateLimit.GuildPerMinute <= 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
