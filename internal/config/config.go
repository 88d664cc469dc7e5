// Package config loads process configuration from defaults, an optional
// YAML file and MATCHBASE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environments recognised by the service.
const (
	EnvLocal       = "local"
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type Config struct {
	Env        string           `mapstructure:"env"`
	Version    string           `mapstructure:"version"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	GRPC       GRPCConfig       `mapstructure:"grpc"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Cookie     CookieConfig     `mapstructure:"cookie"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Storage    StorageConfig    `mapstructure:"storage"`
	I18n       I18nConfig       `mapstructure:"i18n"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Attachment AttachmentConfig `mapstructure:"attachment"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// IdentityConfig describes the external identity provider.
type IdentityConfig struct {
	// Emulator enables the unverified local decode path. Only honoured in
	// the local environment.
	Emulator        bool          `mapstructure:"emulator"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	CertsURL        string        `mapstructure:"certs_url"`
	HMACSecret      string        `mapstructure:"hmac_secret"`
	TokenURL        string        `mapstructure:"token_url"`
	APIKey          string        `mapstructure:"api_key"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
	KeysRefresh     time.Duration `mapstructure:"keys_refresh"`
}

type CookieConfig struct {
	AccessName  string        `mapstructure:"access_name"`
	RefreshName string        `mapstructure:"refresh_name"`
	Domain      string        `mapstructure:"domain"`
	HashKey     string        `mapstructure:"hash_key"`
	MaxAge      time.Duration `mapstructure:"max_age"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type StorageConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Region       string        `mapstructure:"region"`
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	Bucket       string        `mapstructure:"bucket"`
	PresignedTTL time.Duration `mapstructure:"presigned_ttl"`
}

type I18nConfig struct {
	Fallback string `mapstructure:"fallback"`
}

type RateLimitConfig struct {
	Burst     int `mapstructure:"burst"`
	PerSecond int `mapstructure:"per_second"`
}

type AttachmentConfig struct {
	MaxBytes     int64    `mapstructure:"max_bytes"`
	ContentTypes []string `mapstructure:"content_types"`
}

// IsLocal reports whether the service runs against local stand-ins.
func (c *Config) IsLocal() bool {
	return strings.EqualFold(c.Env, EnvLocal)
}

// Load reads configuration. The file is optional; a missing file falls back
// to defaults and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := strings.ToLower(strings.TrimSpace(os.Getenv("MATCHBASE_ENV")))
	if env == "" {
		env = EnvLocal
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("MATCHBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces cross-field rules that viper cannot express.
func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("config: unknown env %q", c.Env)
	}
	if c.Identity.Emulator && !c.IsLocal() {
		return fmt.Errorf("config: identity emulator mode is only allowed in %q, got %q", EnvLocal, c.Env)
	}
	if !c.IsLocal() {
		if len(c.Cookie.HashKey) < 32 {
			return errors.New("config: cookie.hash_key must be at least 32 bytes outside local")
		}
		if c.Identity.CertsURL == "" && c.Identity.HMACSecret == "" {
			return errors.New("config: identity.certs_url or identity.hmac_secret is required")
		}
		if c.Identity.TokenURL == "" {
			return errors.New("config: identity.token_url is required")
		}
	}
	if c.Cookie.AccessName == "" || c.Cookie.RefreshName == "" {
		return errors.New("config: cookie names are required")
	}
	if c.Cookie.AccessName == c.Cookie.RefreshName {
		return errors.New("config: access and refresh cookie names must differ")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvLocal)
	v.SetDefault("version", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("log.level", "info")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("identity.emulator", false)
	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.audience", "")
	v.SetDefault("identity.certs_url", "")
	v.SetDefault("identity.hmac_secret", "")
	v.SetDefault("identity.token_url", "")
	v.SetDefault("identity.api_key", "")
	v.SetDefault("identity.exchange_timeout", 10*time.Second)
	v.SetDefault("identity.keys_refresh", time.Hour)

	v.SetDefault("cookie.access_name", "mb_access_token")
	v.SetDefault("cookie.refresh_name", "mb_refresh_token")
	v.SetDefault("cookie.domain", "")
	v.SetDefault("cookie.hash_key", "local-development-cookie-hash-key!")
	v.SetDefault("cookie.max_age", 400*24*time.Hour)

	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 1025)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@matchbase.local")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "ap-northeast-1")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.bucket", "matchbase-attachments")
	v.SetDefault("storage.presigned_ttl", 15*time.Minute)

	v.SetDefault("i18n.fallback", "en")

	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("rate_limit.per_second", 20)

	v.SetDefault("attachment.max_bytes", int64(10<<20))
	v.SetDefault("attachment.content_types", []string{"application/pdf", "image/png", "image/jpeg"})
}
