package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "prod" {
		t.Fatalf("expected App.Env to be prod, got %q", cfg.App.Env)
	}
	if cfg.API.BaseURL != "https://api.packlane.test" {
		t.Fatalf("unexpected API base URL: %q", cfg.API.BaseURL)
	}
	if got := cfg.API.RequestTimeout; got != 15*time.Second {
		t.Fatalf("expected default request timeout 15s, got %v", got)
	}
	if cfg.Store.NormalizedDriver() != StoreDriverSQLite {
		t.Fatalf("expected sqlite default driver, got %q", cfg.Store.Driver)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv("STOREFRONT_API_BASE_URL"); err != nil {
		t.Fatalf("failed to unset base url: %v", err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_RedisDriverNeedsAddress(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("STOREFRONT_STORE_DRIVER", "redis")

	if _, err := Load(); err == nil {
		t.Fatal("expected redis driver without address to fail")
	}

	t.Setenv("STOREFRONT_STORE_REDIS_URL", "redis://localhost:6379/0")
	if _, err := Load(); err != nil {
		t.Fatalf("redis driver with url should load: %v", err)
	}
}

func TestLoad_UnknownDriverRejected(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("STOREFRONT_STORE_DRIVER", "etcd")

	if _, err := Load(); err == nil {
		t.Fatal("expected unknown store driver to fail")
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv("STOREFRONT_APP_ENV", "prod")
	t.Setenv("STOREFRONT_API_BASE_URL", "https://api.packlane.test")
	t.Setenv("STOREFRONT_PUSH_URL", "wss://push.packlane.test/socket")
	t.Setenv("STOREFRONT_STORE_DRIVER", "sqlite")
	t.Setenv("STOREFRONT_STORE_SQLITE_PATH", "storefront-test.db")
}
