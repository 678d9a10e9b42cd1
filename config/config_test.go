package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Feeds.SearchVisitorWindow != 50 {
		t.Errorf("Feeds.SearchVisitorWindow = %d, want 50", cfg.Feeds.SearchVisitorWindow)
	}
	if len(cfg.Tracking.PossibleKeywords) != 5 {
		t.Errorf("PossibleKeywords = %v, want 5 entries", cfg.Tracking.PossibleKeywords)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("FE_ORIGIN", "https://pledge.example")
	t.Setenv("TRACKING_WRITE_TIMEOUT", "3s")
	t.Setenv("POSSIBLE_KEYWORDS", "alpha, beta ,,gamma")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.AllowedOrigin != "https://pledge.example" {
		t.Errorf("AllowedOrigin = %q", cfg.Server.AllowedOrigin)
	}
	if cfg.Tracking.WriteTimeout != 3*time.Second {
		t.Errorf("WriteTimeout = %v, want 3s", cfg.Tracking.WriteTimeout)
	}
	want := []string{"alpha", "beta", "gamma"}
	if strings.Join(cfg.Tracking.PossibleKeywords, "|") != strings.Join(want, "|") {
		t.Errorf("PossibleKeywords = %v, want %v", cfg.Tracking.PossibleKeywords, want)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	yml := "server:\n  port: 7070\nfeeds:\n  top_buttons: 3\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Feeds.TopButtons != 3 {
		t.Errorf("Feeds.TopButtons = %d, want 3", cfg.Feeds.TopButtons)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres" }, "database_url"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "unknown store.driver"},
		{"clickhouse without host", func(c *Config) { c.ClickHouse.Enabled = true }, "clickhouse.host"},
		{"no workers", func(c *Config) { c.Tracking.Workers = 0 }, "tracking.workers"},
		{"release without secret", func(c *Config) { c.Server.Mode = "release" }, "session.secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	if got := envTransformFunc("CLICKHOUSE_DB_NAME"); got != "clickhouse.database" {
		t.Errorf("CLICKHOUSE_DB_NAME -> %q", got)
	}
	if got := envTransformFunc("HOME"); got != "" {
		t.Errorf("HOME -> %q, want empty", got)
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir from Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir(%q): %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Errorf("restore Chdir(%q): %v", old, err)
		}
	})
}
