package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.Catalog.Namespace != "custom" || !cfg.Catalog.RootListing {
		t.Fatalf("unexpected catalog defaults %+v", cfg.Catalog)
	}
	if cfg.Cache.Backend != CacheMemory || cfg.Cache.TTL != time.Hour {
		t.Fatalf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Server.Addr != ":3000" || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Database.DB().DBName != "customdata" {
		t.Fatalf("unexpected database defaults %+v", cfg.Database)
	}
	if err := cfg.RequireShop(); err == nil {
		t.Fatalf("expected missing shop settings to be reported")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
shop:
  domain: demo.myshopify.com
  api_version: "2024-10"
catalog:
  namespace: app
cache:
  backend: redis
  ttl: 5m
  redis:
    addr: redis:6379
server:
  allowed_origins: ["https://example.com"]
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CUSTOMDATA_SHOP_ACCESS_TOKEN", "shpat_test")
	t.Setenv("CUSTOMDATA_CACHE_TTL", "30s")

	cfg, err := Load(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Shop.AccessToken != "shpat_test" {
		t.Fatalf("expected env token, got %q", cfg.Shop.AccessToken)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Fatalf("expected env to override file ttl, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.Backend != CacheRedis || cfg.Cache.Redis.Addr != "redis:6379" {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Catalog.Namespace != "app" {
		t.Fatalf("expected file namespace, got %q", cfg.Catalog.Namespace)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://example.com" {
		t.Fatalf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if got := cfg.Shop.Endpoint(); got != "https://demo.myshopify.com/admin/api/2024-10/graphql.json" {
		t.Fatalf("unexpected endpoint %q", got)
	}
	if err := cfg.RequireShop(); err != nil {
		t.Fatalf("expected shop settings to be complete, got %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CUSTOMDATA_CACHE_BACKEND", "memcached")
	if _, err := Load(t.TempDir(), zerolog.Nop()); err == nil || !strings.Contains(err.Error(), "cache.backend") {
		t.Fatalf("expected cache backend error, got %v", err)
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("shop: [unterminated"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(dir, zerolog.Nop()); err == nil {
		t.Fatalf("expected parse error")
	}
}
