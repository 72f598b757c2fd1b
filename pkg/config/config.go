package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Stores    StoresConfig    `json:"stores"`
	Remit     RemitConfig     `json:"remit"`
	Verify    VerifyConfig    `json:"verify"`
	Logging   LoggingConfig   `json:"logging"`
	mu        sync.RWMutex
}

type AgentConfig struct {
	Provider         string   `json:"provider" env:"IKAMBA_AGENT_PROVIDER"`
	Model            string   `json:"model" env:"IKAMBA_AGENT_MODEL"`
	FallbackProvider string   `json:"fallback_provider" env:"IKAMBA_AGENT_FALLBACK_PROVIDER"`
	FallbackModel    string   `json:"fallback_model" env:"IKAMBA_AGENT_FALLBACK_MODEL"`
	UsageFile        string   `json:"usage_file" env:"IKAMBA_AGENT_USAGE_FILE"`
	MaxTokens        int      `json:"max_tokens" env:"IKAMBA_AGENT_MAX_TOKENS"`
	Temperature      float64  `json:"temperature" env:"IKAMBA_AGENT_TEMPERATURE"`
	RequestTimeout   int      `json:"request_timeout" env:"IKAMBA_AGENT_REQUEST_TIMEOUT"` // seconds
	HistoryTurns     int      `json:"history_turns" env:"IKAMBA_AGENT_HISTORY_TURNS"`
	PaymentKeywords  []string `json:"payment_keywords" env:"IKAMBA_AGENT_PAYMENT_KEYWORDS"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai" envPrefix:"IKAMBA_PROVIDERS_OPENAI_"`
	Anthropic ProviderConfig `json:"anthropic" envPrefix:"IKAMBA_PROVIDERS_ANTHROPIC_"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"API_KEY"`
	APIBase string `json:"api_base" env:"API_BASE"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
}

type WhatsAppConfig struct {
	Enabled       bool                `json:"enabled" env:"IKAMBA_CHANNELS_WHATSAPP_ENABLED"`
	AccessToken   string              `json:"access_token" env:"IKAMBA_CHANNELS_WHATSAPP_ACCESS_TOKEN"`
	PhoneNumberID string              `json:"phone_number_id" env:"IKAMBA_CHANNELS_WHATSAPP_PHONE_NUMBER_ID"`
	VerifyToken   string              `json:"verify_token" env:"IKAMBA_CHANNELS_WHATSAPP_VERIFY_TOKEN"`
	GraphVersion  string              `json:"graph_version" env:"IKAMBA_CHANNELS_WHATSAPP_GRAPH_VERSION"`
	AllowFrom     FlexibleStringSlice `json:"allow_from" env:"IKAMBA_CHANNELS_WHATSAPP_ALLOW_FROM"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled" env:"IKAMBA_CHANNELS_TELEGRAM_ENABLED"`
	Token     string              `json:"token" env:"IKAMBA_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"IKAMBA_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"IKAMBA_GATEWAY_HOST"`
	Port int    `json:"port" env:"IKAMBA_GATEWAY_PORT"`
}

type StoresConfig struct {
	Redis    RedisConfig    `json:"redis"`
	Postgres PostgresConfig `json:"postgres"`
	Proofs   ProofsConfig   `json:"proofs"`
}

type RedisConfig struct {
	Addr     string `json:"addr" env:"IKAMBA_STORES_REDIS_ADDR"`
	Password string `json:"password" env:"IKAMBA_STORES_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"IKAMBA_STORES_REDIS_DB"`
}

type PostgresConfig struct {
	DSN string `json:"dsn" env:"IKAMBA_STORES_POSTGRES_DSN"`
}

type ProofsConfig struct {
	Dir string `json:"dir" env:"IKAMBA_STORES_PROOFS_DIR"`
}

type RemitConfig struct {
	RatesURL          string   `json:"rates_url" env:"IKAMBA_REMIT_RATES_URL"`
	RatesCacheSeconds int      `json:"rates_cache_seconds" env:"IKAMBA_REMIT_RATES_CACHE_SECONDS"`
	EmailURL          string   `json:"email_url" env:"IKAMBA_REMIT_EMAIL_URL"`
	EmailAPIKey       string   `json:"email_api_key" env:"IKAMBA_REMIT_EMAIL_API_KEY"`
	AdminEmail        string   `json:"admin_email" env:"IKAMBA_REMIT_ADMIN_EMAIL"`
	DefaultMargin     float64  `json:"default_margin" env:"IKAMBA_REMIT_DEFAULT_MARGIN"`
	ReverseCorridors  []string `json:"reverse_corridors" env:"IKAMBA_REMIT_REVERSE_CORRIDORS"`
}

type VerifyConfig struct {
	CodeTTLSeconds int `json:"code_ttl_seconds" env:"IKAMBA_VERIFY_CODE_TTL_SECONDS"`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"IKAMBA_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"IKAMBA_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"IKAMBA_LOGGING_FILE_PATH"`
	MaxSizeMB   int    `json:"max_size_mb" env:"IKAMBA_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:       "openai",
			Model:          "gpt-4o",
			UsageFile:      "~/.ikamba/usage.json",
			MaxTokens:      2048,
			Temperature:    0.3,
			RequestTimeout: 60,
			HistoryTurns:   20,
			PaymentKeywords: []string{
				"payment details",
				"sberbank",
				"account number",
				"i paid",
				"payment proof",
				"receipt",
			},
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{},
			Anthropic: ProviderConfig{},
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:      false,
				GraphVersion: "v22.0",
				AllowFrom:    FlexibleStringSlice{},
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Stores: StoresConfig{
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Postgres: PostgresConfig{
				DSN: "",
			},
			Proofs: ProofsConfig{
				Dir: "~/.ikamba/proofs",
			},
		},
		Remit: RemitConfig{
			RatesURL:          "https://open.er-api.com/v6/latest/RUB",
			RatesCacheSeconds: 300,
			EmailURL:          "",
			AdminEmail:        "",
			DefaultMargin:     0.02,
			ReverseCorridors:  []string{"KES", "UGX", "TZS"},
		},
		Verify: VerifyConfig{
			CodeTTLSeconds: 600,
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileEnabled: false,
			FilePath:    "~/.ikamba/agent.log",
			MaxSizeMB:   50,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Environment overrides apply whether or not a config file exists.
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	resolveSecretEnvRefs(cfg)

	return cfg, nil
}

func resolveSecretEnvRefs(cfg *Config) {
	providers := []*ProviderConfig{
		&cfg.Providers.OpenAI,
		&cfg.Providers.Anthropic,
	}
	for _, p := range providers {
		p.APIKey = resolveEnvRef(p.APIKey)
		p.APIBase = resolveEnvRef(p.APIBase)
	}
	cfg.Channels.WhatsApp.AccessToken = resolveEnvRef(cfg.Channels.WhatsApp.AccessToken)
	cfg.Channels.WhatsApp.VerifyToken = resolveEnvRef(cfg.Channels.WhatsApp.VerifyToken)
	cfg.Channels.Telegram.Token = resolveEnvRef(cfg.Channels.Telegram.Token)
	cfg.Stores.Redis.Password = resolveEnvRef(cfg.Stores.Redis.Password)
	cfg.Stores.Postgres.DSN = resolveEnvRef(cfg.Stores.Postgres.DSN)
	cfg.Remit.EmailAPIKey = resolveEnvRef(cfg.Remit.EmailAPIKey)
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return v
	}
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		key := strings.TrimSpace(s[1:])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
	}
	return v
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func (c *Config) ProofsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Stores.Proofs.Dir)
}

func (c *Config) UsageFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agent.UsageFile)
}

func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Logging.FilePath)
}

func ExpandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
