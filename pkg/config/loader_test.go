package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-essam23/chirp-relay/pkg/logging"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(logging.Discard(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("expected default address :8080, got %s", cfg.Server.Address)
	}
	if cfg.Transport.ReadTimeout != 0 {
		t.Fatalf("expected no default read timeout, got %s", cfg.Transport.ReadTimeout)
	}
	if cfg.Relay.StoreWorkers != 4 {
		t.Fatalf("expected 4 store workers, got %d", cfg.Relay.StoreWorkers)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %s", cfg.Store.Driver)
	}
	if cfg.Auth.EnforceTokens {
		t.Fatal("expected token enforcement to be off by default")
	}
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "relay.yaml"), []byte(`
server:
  address: "127.0.0.1:7001"
transport:
  readTimeout: "30s"
  rateLimit: "10/s"
store:
  driver: "memory"
relay:
  storeWorkers: 2
log:
  level: "debug"
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("CHIRP_SERVER_ADDRESS", ":6000")

	cfg, err := Load(logging.Discard(), "relay")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Address != ":6000" {
		t.Fatalf("expected env override for address, got %s", cfg.Server.Address)
	}
	if cfg.Transport.ReadTimeout != 30*time.Second {
		t.Fatalf("expected read timeout 30s, got %s", cfg.Transport.ReadTimeout)
	}
	if cfg.Transport.RateLimit != "10/s" {
		t.Fatalf("expected rate limit from file, got %q", cfg.Transport.RateLimit)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected memory driver, got %s", cfg.Store.Driver)
	}
	if cfg.Relay.StoreWorkers != 2 {
		t.Fatalf("expected 2 store workers, got %d", cfg.Relay.StoreWorkers)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug log level, got %s", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Transport: TransportConfig{SendBuffer: 1},
		Relay:     RelayConfig{InboxSize: 1, StoreWorkers: 1},
		Store:     StoreConfig{Driver: "memory"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(c *Config){
		"unknown driver":     func(c *Config) { c.Store.Driver = "postgres" },
		"sqlite without dsn": func(c *Config) { c.Store.Driver = "sqlite" },
		"no workers":         func(c *Config) { c.Relay.StoreWorkers = 0 },
		"no inbox":           func(c *Config) { c.Relay.InboxSize = 0 },
		"no send buffer":     func(c *Config) { c.Transport.SendBuffer = 0 },
		"enforce no secret":  func(c *Config) { c.Auth.EnforceTokens = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
