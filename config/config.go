// Package config reads the process configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"

	"prism-board/notify"
)

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	// FunctionsPort overrides ListenAddr when running as an Azure Functions
	// custom handler.
	FunctionsPort string `env:"FUNCTIONS_CUSTOMHANDLER_PORT"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"prism-board.db"`

	RedisConnectionString string        `env:"REDIS_CONNECTION_STRING"`
	BoardCacheTTL         time.Duration `env:"BOARD_CACHE_TTL" envDefault:"30s"`
	DeduperTTL            time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`
	RealtimeChannel       string        `env:"REALTIME_CHANNEL" envDefault:"prism:board-events"`
	CacheEvictTimeout     time.Duration `env:"CACHE_EVICT_TIMEOUT" envDefault:"250ms"`

	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	ActivityTable           string `env:"ACTIVITY_TABLE"`
	EventExportQueue        string `env:"EVENT_EXPORT_QUEUE"`

	Auth0Domain     string        `env:"AUTH0_DOMAIN"`
	Auth0Audience   string        `env:"AUTH0_AUDIENCE"`
	LocalAuthMode   string        `env:"LOCAL_AUTH_MODE"`
	LocalAuthSecret string        `env:"LOCAL_AUTH_SHARED_SECRET"`
	JWKSCacheTTL    time.Duration `env:"JWKS_CACHE_TTL" envDefault:"15m"`

	SinkBuffer      int           `env:"SINK_BUFFER" envDefault:"64"`
	StreamHeartbeat time.Duration `env:"STREAM_HEARTBEAT" envDefault:"25s"`

	Outlets notify.DispatcherConfig

	// OTelEndpoint enables span export over OTLP/HTTP when set.
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`

	Debug bool `env:"DEBUG"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.LocalAuthMode == "" && (c.Auth0Domain == "" || c.Auth0Audience == "") {
		return errors.New("missing Auth0 config")
	}
	if c.SinkBuffer <= 0 {
		return errors.New("SINK_BUFFER must be greater than zero")
	}
	if c.BoardCacheTTL < 0 || c.DeduperTTL < 0 || c.JWKSCacheTTL < 0 || c.CacheEvictTimeout < 0 {
		return errors.New("ttl settings must not be negative")
	}
	if c.StorageConnectionString == "" && (c.ActivityTable != "" || c.EventExportQueue != "") {
		return errors.New("STORAGE_CONNECTION_STRING is required for ACTIVITY_TABLE and EVENT_EXPORT_QUEUE")
	}
	return nil
}

// Addr is the address the HTTP server listens on.
func (c Config) Addr() string {
	if c.FunctionsPort != "" {
		return ":" + c.FunctionsPort
	}
	return c.ListenAddr
}

func (c Config) JWKSURL() string { return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain) }

func (c Config) Issuer() string { return "https://" + c.Auth0Domain + "/" }

// RedisOptions returns nil when redis is not configured. Besides redis://
// URLs it accepts the Azure form "host:port,password=...,ssl=true".
func (c Config) RedisOptions() (*redis.Options, error) {
	raw := strings.TrimSpace(c.RedisConnectionString)
	if raw == "" {
		return nil, nil
	}
	if opts, err := redis.ParseURL(raw); err == nil {
		return opts, nil
	}
	parts := strings.Split(raw, ",")
	if strings.Contains(parts[0], "://") || strings.TrimSpace(parts[0]) == "" {
		return nil, fmt.Errorf("invalid REDIS_CONNECTION_STRING")
	}
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
