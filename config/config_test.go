package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T) string {
	t.Helper()
	content := `bookflow:
  name: "TestApp"
  version: "1.0"
coinbase:
  products: ["btc-usd", "BTC-USD", "eth-usd"]
session:
  buffer_capacity: 100
  snapshot_delay: "500ms"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Bookflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Bookflow.Name)
	}
	if cfg.Session.BufferCapacity != 100 {
		t.Errorf("unexpected buffer capacity: %d", cfg.Session.BufferCapacity)
	}
	if got := cfg.Session.SnapshotDelay.Std(); got != 500*time.Millisecond {
		t.Errorf("unexpected snapshot delay: %v", got)
	}
	// Defaults fill the sections the file leaves out.
	if cfg.Coinbase.WebsocketURL == "" {
		t.Error("expected default websocket url")
	}
	if got := cfg.Feed.ReadTimeout.Std(); got != 10*time.Second {
		t.Errorf("unexpected default read timeout: %v", got)
	}
}

func TestLoadConfigNormalizesProducts(t *testing.T) {
	path := writeTempConfig(t)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	want := []string{"BTC-USD", "ETH-USD"}
	if len(cfg.Coinbase.Products) != len(want) {
		t.Fatalf("expected %d products, got %v", len(want), cfg.Coinbase.Products)
	}
	for i, p := range want {
		if cfg.Coinbase.Products[i] != p {
			t.Errorf("product[%d] = %s, want %s", i, cfg.Coinbase.Products[i], p)
		}
	}
}

func TestLoadConfigRejectsMissingProducts(t *testing.T) {
	content := `bookflow:
  name: "TestApp"
  version: "1.0"
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected validation error for missing products")
	} else if !strings.Contains(err.Error(), "coinbase.products") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDurationRejectsBareIntegers(t *testing.T) {
	content := `bookflow:
  name: "TestApp"
  version: "1.0"
coinbase:
  products: ["BTC-USD"]
feed:
  read_timeout: 10
`
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	defer os.Remove(f.Name())

	if _, err := LoadConfig(f.Name()); err == nil {
		t.Fatal("expected error for integer duration")
	}
}

func TestIsValidProduct(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"BTC-USD", true},
		{"ETH-BTC", true},
		{"1INCH-USD", true},
		{"btc-usd", false},
		{"BTCUSD", false},
		{"BTC-USD-PERP", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isValidProduct(c.id); got != c.valid {
			t.Errorf("isValidProduct(%q) = %v, want %v", c.id, got, c.valid)
		}
	}
}

func TestIsValidKafkaTopic(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"bookflow.updates", true},
		{"book_flow-1", true},
		{"", false},
		{"..", false},
		{"bad topic", false},
	}
	for _, c := range cases {
		if got := isValidKafkaTopic(c.name); got != c.valid {
			t.Errorf("isValidKafkaTopic(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestResolveConfigPathHonorsExplicitOverride(t *testing.T) {
	t.Setenv(appEnvVar, "production")
	if got := ResolveConfigPath("custom/path.yml"); got != "custom/path.yml" {
		t.Errorf("explicit path overridden: %s", got)
	}
	if got := ResolveConfigPath(DefaultConfigPath); got != "config/config.production.yml" {
		t.Errorf("expected production config, got %s", got)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv(appEnvVar, "prod")
	if got := AppEnvironment(); got != EnvironmentProduction {
		t.Errorf("AppEnvironment() = %s, want %s", got, EnvironmentProduction)
	}
	if !IsProductionLike(EnvironmentStaging) {
		t.Error("staging should be production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Error("development should not be production-like")
	}
}
