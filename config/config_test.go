package config

import (
	"testing"
	"time"
)

func localEnv(extra map[string]string) map[string]string {
	environ := map[string]string{
		"LOCAL_AUTH_MODE":          "hs256",
		"LOCAL_AUTH_SHARED_SECRET": "secret",
	}
	for k, v := range extra {
		environ[k] = v
	}
	return environ
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(localEnv(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != ":8080" || cfg.DatabasePath != "prism-board.db" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.StreamHeartbeat != 25*time.Second || cfg.SinkBuffer != 64 || cfg.BoardCacheTTL != 30*time.Second {
		t.Fatalf("unexpected realtime defaults %+v", cfg)
	}
	if cfg.Outlets.Workers != 4 || cfg.Outlets.Buffer != 1024 || cfg.Outlets.HandoffTimeout != 15*time.Millisecond {
		t.Fatalf("unexpected outlet defaults %+v", cfg.Outlets)
	}
	if opts, err := cfg.RedisOptions(); err != nil || opts != nil {
		t.Fatalf("redis must be disabled by default: %v %v", opts, err)
	}
	if cfg.CacheEvictTimeout != 250*time.Millisecond || cfg.OTelEndpoint != "" || !cfg.OTelEnabled {
		t.Fatalf("unexpected cache/tracing defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(localEnv(map[string]string{
		"FUNCTIONS_CUSTOMHANDLER_PORT": "7071",
		"STREAM_HEARTBEAT":             "5s",
		"OUTLET_WORKERS":               "9",
		"DEBUG":                        "true",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr() != ":7071" || cfg.StreamHeartbeat != 5*time.Second || cfg.Outlets.Workers != 9 || !cfg.Debug {
		t.Fatalf("overrides not applied %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := map[string]map[string]string{
		"no auth":            {},
		"bad sink buffer":    localEnv(map[string]string{"SINK_BUFFER": "0"}),
		"table without conn": localEnv(map[string]string{"ACTIVITY_TABLE": "activity"}),
		"bad duration":       localEnv(map[string]string{"BOARD_CACHE_TTL": "soon"}),
	}
	for name, environ := range tests {
		if _, err := LoadFrom(environ); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	cfg, err := LoadFrom(map[string]string{"AUTH0_DOMAIN": "tenant.eu.auth0.com", "AUTH0_AUDIENCE": "api://prism"})
	if err != nil {
		t.Fatalf("auth0 config: %v", err)
	}
	if cfg.Issuer() != "https://tenant.eu.auth0.com/" || cfg.JWKSURL() != "https://tenant.eu.auth0.com/.well-known/jwks.json" {
		t.Fatalf("unexpected auth0 urls %s %s", cfg.Issuer(), cfg.JWKSURL())
	}
}

func TestRedisOptions(t *testing.T) {
	cfg := Config{RedisConnectionString: "redis://:pw@localhost:6380/2"}
	opts, err := cfg.RedisOptions()
	if err != nil {
		t.Fatalf("url form: %v", err)
	}
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options %+v", opts)
	}

	cfg.RedisConnectionString = "prism.redis.cache.windows.net:6380,password=secret,ssl=True,abortConnect=False"
	opts, err = cfg.RedisOptions()
	if err != nil {
		t.Fatalf("azure form: %v", err)
	}
	if opts.Addr != "prism.redis.cache.windows.net:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options %+v", opts)
	}
}
