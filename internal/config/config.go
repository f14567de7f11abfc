// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, push
// credentials, the local relay, and observability.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS" envDefault:"false"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" envDefault:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"go-call-relay"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1.0"` // [0..1]
}

// PushConfig holds vendor push credentials and endpoints.
//
// APN supports two credential modes: a PEM file carrying certificate and
// private key (CertPath), or token-based auth with a .p8 signing key
// (AuthKeyPath + KeyID + TeamID). Token auth wins when both are set. With
// neither, VoIP pushes are reported as undelivered.
type PushConfig struct {
	IOSBundle     string `env:"IOS_BUNDLE"`
	AndroidBundle string `env:"ANDROID_BUNDLE"`

	FCMKey           string `env:"FCM_KEY"`
	FCMURL           string `env:"FCM_URL" envDefault:"https://fcm.googleapis.com/fcm/send"`
	FCMCallChannelID string `env:"FCM_CALL_CHANNEL_ID" envDefault:"acu_incoming_call"`

	APNCertPath    string `env:"APN_CERT_PATH"`
	APNAuthKeyPath string `env:"APN_AUTH_KEY_PATH"`
	APNKeyID       string `env:"APN_KEY_ID"`
	APNTeamID      string `env:"APN_TEAM_ID"`
	APNProduction  bool   `env:"APN_PRODUCTION" envDefault:"false"`

	Timeout time.Duration `env:"PUSH_TIMEOUT" envDefault:"10s"`
}

// APNTokenAuth reports whether token-based APN credentials are configured.
func (p PushConfig) APNTokenAuth() bool {
	return p.APNAuthKeyPath != "" && p.APNKeyID != "" && p.APNTeamID != ""
}

// APNConfigured reports whether any APN credential is configured. Without
// one, iOS ringing fails per call while every other channel keeps working.
func (p PushConfig) APNConfigured() bool {
	return p.APNTokenAuth() || p.APNCertPath != ""
}

// VoIPTopic is the APN topic used for VoIP pushes.
func (p PushConfig) VoIPTopic() string {
	return p.IOSBundle + ".voip"
}

// RelayConfig configures the in-process relay feeding live web connections.
type RelayConfig struct {
	Buffer       int           `env:"RELAY_BUFFER" envDefault:"16"`
	PingInterval time.Duration `env:"WS_PING_INTERVAL" envDefault:"30s"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `env:"PORT" envDefault:"3500"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"20s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	GinMode           string        `env:"GIN_MODE" envDefault:"release"` // debug|release|test

	// Logging / Docs
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	SwaggerEnabled bool   `env:"SWAGGER_ENABLED" envDefault:"false"`
	APIBasePath    string `env:"API_BASE_PATH" envDefault:"/api/v1"`

	// Directory
	DBPath string `env:"DB_PATH" envDefault:"app.db"`

	// Rate limiting
	RateRPS   float64 `env:"RATE_RPS" envDefault:"5.0"`
	RateBurst int     `env:"RATE_BURST" envDefault:"10"`

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Push  PushConfig
	Relay RelayConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	// --- normalization ---
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.GinMode = strings.ToLower(cfg.GinMode)
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)
	cfg.CORS.AllowedOrigins = compact(cfg.CORS.AllowedOrigins)

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if cfg.Push.Timeout <= 0 {
		return errors.New("PUSH_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.Push.FCMURL) == "" {
		return errors.New("FCM_URL must not be empty")
	}
	if cfg.Relay.Buffer < 1 {
		return errors.New("RELAY_BUFFER must be >= 1")
	}
	if cfg.Relay.PingInterval <= 0 {
		return errors.New("WS_PING_INTERVAL must be > 0")
	}
	return nil
}

// compact trims entries and drops empty ones.
func compact(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
