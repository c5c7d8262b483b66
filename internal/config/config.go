package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath          = "CONFIG_PATH"
	EnvDBConnection        = "DB_CONNECTION"
	EnvJWTSecret           = "JWT_SECRET"
	EnvJWTExpiry           = "JWT_EXPIRY"
	EnvPort                = "PORT"
	EnvOpenAIAPIKey        = "OPENAI_API_KEY"
	EnvGroqAPIKey          = "GROQ_API_KEY"
	EnvRazorpayKeyID       = "RAZORPAY_KEY_ID"
	EnvRazorpayKeySecret   = "RAZORPAY_KEY_SECRET"
	EnvStripeSecretKey     = "STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	EnvFrontendURL         = "FRONTEND_URL"
	EnvSMTPHost            = "SMTP_HOST"
	EnvSMTPPort            = "SMTP_PORT"
	EnvSMTPUsername        = "SMTP_USERNAME"
	EnvSMTPPassword        = "SMTP_PASSWORD"
	EnvSMTPFrom            = "SMTP_FROM"
	EnvRedisAddr           = "REDIS_ADDR"
)

// Defaults applied before the config file is read.
const (
	defaultPort            = 8000
	defaultJWTExpiry       = 30 * 24 * time.Hour
	defaultSystemPrompt    = "You are a helpful AI assistant."
	defaultContextMessages = 10
	defaultAITimeout       = 60 * time.Second
	defaultTemperature     = 0.7
	defaultRazorpayMinimum = 100
	defaultInvoiceDir      = "invoices"
	defaultSiteName        = "UKSChat"
	defaultRateLimit       = 20
	defaultRateLimitWindow = time.Minute
	defaultRedisPrefix     = "ukschat:rl"
	defaultFrontendURL     = "http://localhost:5173"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string `yaml:"-"`

	DatabaseDSN string `yaml:"database-dsn"`
	Port        int    `yaml:"port"`
	Debug       bool   `yaml:"debug"`
	LogFormat   string `yaml:"log-format"`

	FrontendURL string   `yaml:"frontend-url"`
	CORSOrigins []string `yaml:"cors-origins"`

	JWT       JWTConfig       `yaml:"jwt"`
	AI        AIConfig        `yaml:"ai"`
	Razorpay  RazorpayConfig  `yaml:"razorpay"`
	Stripe    StripeConfig    `yaml:"stripe"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Invoices  InvoiceConfig   `yaml:"invoices"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
	Seed      SeedConfig      `yaml:"seed"`
}

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// ProviderConfig describes one OpenAI-compatible completion endpoint.
type ProviderConfig struct {
	Name        string  `yaml:"name"`
	URL         string  `yaml:"url"`
	APIKey      string  `yaml:"api-key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// Enabled reports whether the provider has enough settings to be called.
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" && strings.TrimSpace(p.APIKey) != ""
}

// AIConfig configures the chat relay.
type AIConfig struct {
	Primary         ProviderConfig `yaml:"primary"`
	Fallback        ProviderConfig `yaml:"fallback"`
	SystemPrompt    string         `yaml:"system-prompt"`
	ContextMessages int            `yaml:"context-messages"`
	Timeout         time.Duration  `yaml:"timeout"`
}

// RazorpayConfig configures the domestic gateway.
type RazorpayConfig struct {
	KeyID     string `yaml:"key-id"`
	KeySecret string `yaml:"key-secret"`
	// MinAmount is the smallest chargeable amount in minor units.
	MinAmount int64 `yaml:"min-amount"`
}

// StripeConfig configures the international gateway.
type StripeConfig struct {
	SecretKey     string `yaml:"secret-key"`
	WebhookSecret string `yaml:"webhook-secret"`
	SuccessURL    string `yaml:"success-url"`
	CancelURL     string `yaml:"cancel-url"`
}

// SMTPConfig configures invoice delivery.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Enabled reports whether SMTP delivery is configured.
func (s SMTPConfig) Enabled() bool {
	return strings.TrimSpace(s.Host) != "" && s.Port > 0
}

// InvoiceConfig configures invoice rendering.
type InvoiceConfig struct {
	Dir      string `yaml:"dir"`
	SiteName string `yaml:"site-name"`
}

// RateLimitConfig configures the chat request limiter.
type RateLimitConfig struct {
	// Limit is the default per-window request count when a plan sets none.
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
	Redis  RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the shared limiter backend.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// SeedConfig controls startup seeding of plans and accounts.
type SeedConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AdminEmail    string `yaml:"admin-email"`
	AdminPassword string `yaml:"admin-password"`
	UserEmail     string `yaml:"user-email"`
	UserPassword  string `yaml:"user-password"`
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return Load(ResolveConfigPath(os.Getenv(EnvConfigPath)))
}

// Defaults returns a config populated with built-in defaults.
func Defaults() AppConfig {
	return AppConfig{
		Port:        defaultPort,
		FrontendURL: defaultFrontendURL,
		JWT:         JWTConfig{Expiry: defaultJWTExpiry},
		AI: AIConfig{
			Primary: ProviderConfig{
				Name:        "openai",
				URL:         "https://api.openai.com/v1/chat/completions",
				Model:       "gpt-4o-mini",
				Temperature: defaultTemperature,
			},
			Fallback: ProviderConfig{
				Name:        "groq",
				URL:         "https://api.groq.com/openai/v1/chat/completions",
				Model:       "llama-3.3-70b-versatile",
				Temperature: defaultTemperature,
			},
			SystemPrompt:    defaultSystemPrompt,
			ContextMessages: defaultContextMessages,
			Timeout:         defaultAITimeout,
		},
		Razorpay: RazorpayConfig{MinAmount: defaultRazorpayMinimum},
		SMTP:     SMTPConfig{Port: 587},
		Invoices: InvoiceConfig{Dir: defaultInvoiceDir, SiteName: defaultSiteName},
		RateLimit: RateLimitConfig{
			Limit:  defaultRateLimit,
			Window: defaultRateLimitWindow,
			Redis:  RedisConfig{Prefix: defaultRedisPrefix},
		},
		Seed: SeedConfig{
			Enabled:       true,
			AdminEmail:    "admin@ukschat.com",
			AdminPassword: "Admin@123",
			UserEmail:     "user@ukschat.com",
			UserPassword:  "User@123",
		},
	}
}

// Load reads the YAML file at configPath (if present) on top of the defaults
// and applies environment overrides. A missing file is not an error.
func Load(configPath string) (AppConfig, error) {
	cfg := Defaults()
	cfg.ConfigPath = configPath

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return AppConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return AppConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	applyEnv(&cfg)
	cfg.normalize()

	if strings.TrimSpace(cfg.DatabaseDSN) == "" {
		return AppConfig{}, ErrMissingDatabaseDSN
	}
	return cfg, nil
}

// applyEnv overrides file values with non-empty environment variables.
func applyEnv(cfg *AppConfig) {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.DatabaseDSN, EnvDBConnection)
	setString(&cfg.JWT.Secret, EnvJWTSecret)
	setString(&cfg.AI.Primary.APIKey, EnvOpenAIAPIKey)
	setString(&cfg.AI.Fallback.APIKey, EnvGroqAPIKey)
	setString(&cfg.Razorpay.KeyID, EnvRazorpayKeyID)
	setString(&cfg.Razorpay.KeySecret, EnvRazorpayKeySecret)
	setString(&cfg.Stripe.SecretKey, EnvStripeSecretKey)
	setString(&cfg.Stripe.WebhookSecret, EnvStripeWebhookSecret)
	setString(&cfg.FrontendURL, EnvFrontendURL)
	setString(&cfg.SMTP.Host, EnvSMTPHost)
	setString(&cfg.SMTP.Username, EnvSMTPUsername)
	setString(&cfg.SMTP.Password, EnvSMTPPassword)
	setString(&cfg.SMTP.From, EnvSMTPFrom)

	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.RateLimit.Redis.Addr = addr
		cfg.RateLimit.Redis.Enabled = true
	}
	if raw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); raw != "" {
		if expiry, errParse := time.ParseDuration(raw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		if port, errParse := strconv.Atoi(raw); errParse == nil && port > 0 {
			cfg.Port = port
		}
	}
	if raw := strings.TrimSpace(os.Getenv(EnvSMTPPort)); raw != "" {
		if port, errParse := strconv.Atoi(raw); errParse == nil && port > 0 {
			cfg.SMTP.Port = port
		}
	}
}

// normalize repairs zero or invalid values left by the file.
func (cfg *AppConfig) normalize() {
	cfg.DatabaseDSN = strings.TrimSpace(cfg.DatabaseDSN)
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}
	if cfg.AI.ContextMessages <= 0 {
		cfg.AI.ContextMessages = defaultContextMessages
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = defaultAITimeout
	}
	if strings.TrimSpace(cfg.AI.SystemPrompt) == "" {
		cfg.AI.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Razorpay.MinAmount <= 0 {
		cfg.Razorpay.MinAmount = defaultRazorpayMinimum
	}
	if strings.TrimSpace(cfg.Invoices.Dir) == "" {
		cfg.Invoices.Dir = defaultInvoiceDir
	}
	if strings.TrimSpace(cfg.Invoices.SiteName) == "" {
		cfg.Invoices.SiteName = defaultSiteName
	}
	if cfg.RateLimit.Limit < 0 {
		cfg.RateLimit.Limit = 0
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = defaultRateLimitWindow
	}
	if strings.TrimSpace(cfg.RateLimit.Redis.Prefix) == "" {
		cfg.RateLimit.Redis.Prefix = defaultRedisPrefix
	}
	frontend := strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
	if frontend == "" {
		frontend = defaultFrontendURL
	}
	cfg.FrontendURL = frontend
	if strings.TrimSpace(cfg.Stripe.SuccessURL) == "" {
		cfg.Stripe.SuccessURL = frontend + "/payment/success?session_id={CHECKOUT_SESSION_ID}"
	}
	if strings.TrimSpace(cfg.Stripe.CancelURL) == "" {
		cfg.Stripe.CancelURL = frontend + "/pricing"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
}

// Addr returns the listen address for the HTTP server.
func (cfg AppConfig) Addr() string {
	return fmt.Sprintf(":%d", cfg.Port)
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` in config file or DB_CONNECTION)")

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}
