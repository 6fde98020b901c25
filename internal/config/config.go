// Package config loads settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-chat/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Realtime  RealtimeConfig
	Internal  InternalConfig
	Telemetry TelemetryConfig
	LogLevel  logger.Level
}

type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type DatabaseConfig struct {
	// URL is empty when the in-memory store should be used.
	URL string
}

type JWTConfig struct {
	Secret []byte
	Issuer string
}

type RealtimeConfig struct {
	AuthTimeout       time.Duration
	EventTimeout      time.Duration
	MessageMaxLength  int
	SendBuffer        int
	NotifyConcurrency int
}

type InternalConfig struct {
	// APIKey guards /internal routes; empty disables them.
	APIKey string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

type rawConfig struct {
	HTTPAddr          string `mapstructure:"HTTP_ADDR"`
	ReadTimeout       string `mapstructure:"READ_TIMEOUT"`
	WriteTimeout      string `mapstructure:"WRITE_TIMEOUT"`
	AllowedOrigins    string `mapstructure:"ALLOWED_ORIGINS"`
	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	JWTSecret         string `mapstructure:"JWT_SECRET"`
	JWTIssuer         string `mapstructure:"JWT_ISSUER"`
	AuthTimeout       string `mapstructure:"AUTH_TIMEOUT"`
	EventTimeout      string `mapstructure:"EVENT_TIMEOUT"`
	MessageMaxLength  int    `mapstructure:"MESSAGE_MAX_LENGTH"`
	SendBuffer        int    `mapstructure:"SEND_BUFFER"`
	NotifyConcurrency int    `mapstructure:"NOTIFY_CONCURRENCY"`
	InternalAPIKey    string `mapstructure:"INTERNAL_API_KEY"`
	OTLPEndpoint      string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName       string `mapstructure:"OTEL_SERVICE_NAME"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
}

var keys = []string{
	"HTTP_ADDR", "READ_TIMEOUT", "WRITE_TIMEOUT", "ALLOWED_ORIGINS", "DATABASE_URL",
	"JWT_SECRET", "JWT_ISSUER", "AUTH_TIMEOUT", "EVENT_TIMEOUT", "MESSAGE_MAX_LENGTH",
	"SEND_BUFFER", "NOTIFY_CONCURRENCY", "INTERNAL_API_KEY", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_SERVICE_NAME", "LOG_LEVEL",
}

// Load reads .env (if present) and the environment. Environment variables win
// over .env, which never overrides an already-set variable.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded: %v", err)
	}
	return FromViper(viper.New())
}

// FromViper builds a Config from v after applying defaults and env binding.
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("READ_TIMEOUT", "15s")
	v.SetDefault("WRITE_TIMEOUT", "15s")
	v.SetDefault("AUTH_TIMEOUT", "10s")
	v.SetDefault("EVENT_TIMEOUT", "15s")
	v.SetDefault("MESSAGE_MAX_LENGTH", 1000)
	v.SetDefault("SEND_BUFFER", 256)
	v.SetDefault("NOTIFY_CONCURRENCY", 8)
	v.SetDefault("OTEL_SERVICE_NAME", "marketplace-chat")
	v.SetDefault("LOG_LEVEL", "info")

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if raw.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET must be set")
	}
	if raw.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if raw.MessageMaxLength <= 0 {
		return nil, errors.New("config: MESSAGE_MAX_LENGTH must be positive")
	}
	if raw.SendBuffer <= 0 {
		return nil, errors.New("config: SEND_BUFFER must be positive")
	}
	if raw.NotifyConcurrency <= 0 {
		return nil, errors.New("config: NOTIFY_CONCURRENCY must be positive")
	}

	level, err := logger.ParseLevel(raw.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:           raw.HTTPAddr,
			AllowedOrigins: splitList(raw.AllowedOrigins),
		},
		Database: DatabaseConfig{URL: raw.DatabaseURL},
		JWT: JWTConfig{
			Secret: []byte(raw.JWTSecret),
			Issuer: raw.JWTIssuer,
		},
		Realtime: RealtimeConfig{
			MessageMaxLength:  raw.MessageMaxLength,
			SendBuffer:        raw.SendBuffer,
			NotifyConcurrency: raw.NotifyConcurrency,
		},
		Internal: InternalConfig{APIKey: raw.InternalAPIKey},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: raw.OTLPEndpoint,
			ServiceName:  raw.ServiceName,
		},
		LogLevel: level,
	}

	durations := []struct {
		key string
		in  string
		out *time.Duration
	}{
		{"READ_TIMEOUT", raw.ReadTimeout, &cfg.Server.ReadTimeout},
		{"WRITE_TIMEOUT", raw.WriteTimeout, &cfg.Server.WriteTimeout},
		{"AUTH_TIMEOUT", raw.AuthTimeout, &cfg.Realtime.AuthTimeout},
		{"EVENT_TIMEOUT", raw.EventTimeout, &cfg.Realtime.EventTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.in)
		if err != nil {
			return nil, fmt.Errorf("config: invalid duration for %s: %w", d.key, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("config: %s must be positive", d.key)
		}
		*d.out = parsed
	}

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
