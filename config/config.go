package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Secrets   SecretsConfig   `mapstructure:"secrets" yaml:"secrets"`
	Payments  PaymentsConfig  `mapstructure:"payments" yaml:"payments"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	CORS      CORSConfig      `mapstructure:"cors" yaml:"cors"`
}

type ServerConfig struct {
	Port          string `mapstructure:"port" yaml:"port"`
	Mode          string `mapstructure:"mode" yaml:"mode"`
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

type SecretsConfig struct {
	CredentialKey string `mapstructure:"credential_key" yaml:"credential_key"`
}

type PaymentsConfig struct {
	FixedSplitFee         int64         `mapstructure:"fixed_split_fee" yaml:"fixed_split_fee"`
	ClaimWindow           time.Duration `mapstructure:"claim_window" yaml:"claim_window"`
	MarketplaceFeeBps     int64         `mapstructure:"marketplace_fee_bps" yaml:"marketplace_fee_bps"`
	Currency              string        `mapstructure:"currency" yaml:"currency"`
	CurrencyDecimals      int32         `mapstructure:"currency_decimals" yaml:"currency_decimals"`
	PaidTolerance         int64         `mapstructure:"paid_tolerance" yaml:"paid_tolerance"`
	GatewayTimeout        time.Duration `mapstructure:"gateway_timeout" yaml:"gateway_timeout"`
	MaxCredentialAttempts int           `mapstructure:"max_credential_attempts" yaml:"max_credential_attempts"`
	SandboxEnabled        bool          `mapstructure:"sandbox_enabled" yaml:"sandbox_enabled"`
	MercadoPagoBaseURL    string        `mapstructure:"mercadopago_base_url" yaml:"mercadopago_base_url"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins" yaml:"allow_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.public_base_url", "http://localhost:8080")

	v.SetDefault("database.dsn", "splitpay.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("auth.jwt_secret", "splitpay_dev_jwt_secret")
	v.SetDefault("secrets.credential_key", "splitpay_dev_credential_key")

	v.SetDefault("payments.fixed_split_fee", 800)
	v.SetDefault("payments.claim_window", 5*time.Minute)
	v.SetDefault("payments.marketplace_fee_bps", 0)
	v.SetDefault("payments.currency", "CLP")
	v.SetDefault("payments.currency_decimals", 0)
	v.SetDefault("payments.paid_tolerance", 1)
	v.SetDefault("payments.gateway_timeout", 10*time.Second)
	v.SetDefault("payments.max_credential_attempts", 25)
	v.SetDefault("payments.sandbox_enabled", false)
	v.SetDefault("payments.mercadopago_base_url", "https://api.mercadopago.com")

	v.SetDefault("rate_limit.rps", 5)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("cors.allow_origins", []string{"*"})
}

// Load merges defaults, an optional YAML file, an optional .env file and
// SPLITPAY_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SPLITPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("splitpay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the payment core cannot run with
func (c *Config) Validate() error {
	if c.Payments.FixedSplitFee < 0 {
		return errors.New("payments.fixed_split_fee must not be negative")
	}
	if c.Payments.ClaimWindow <= 0 {
		return errors.New("payments.claim_window must be positive")
	}
	if c.Payments.CurrencyDecimals < 0 || c.Payments.CurrencyDecimals > 3 {
		return errors.New("payments.currency_decimals must be between 0 and 3")
	}
	if c.Payments.MaxCredentialAttempts <= 0 {
		return errors.New("payments.max_credential_attempts must be positive")
	}
	if c.Secrets.CredentialKey == "" {
		return errors.New("secrets.credential_key is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}

// Redacted returns a copy safe to print
func (c Config) Redacted() Config {
	if c.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = "<redacted>"
	}
	if c.Secrets.CredentialKey != "" {
		c.Secrets.CredentialKey = "<redacted>"
	}
	return c
}
