package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != "local" {
		t.Errorf("default backend should be local, got %s", cfg.Store.Backend)
	}
	if cfg.Search.TextWeight != 0.65 || cfg.Search.ImageWeight != 0.35 {
		t.Errorf("unexpected default weights: %f/%f", cfg.Search.TextWeight, cfg.Search.ImageWeight)
	}
	if cfg.Chunking.Size != 1000 || cfg.Chunking.Overlap != 200 {
		t.Errorf("unexpected default chunking: %d/%d", cfg.Chunking.Size, cfg.Chunking.Overlap)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: milvus
  address: localhost:19530
chunking:
  size: 500
  overlap: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != "milvus" || cfg.Store.Address != "localhost:19530" {
		t.Errorf("store override lost: %+v", cfg.Store)
	}
	if cfg.Chunking.Size != 500 {
		t.Errorf("chunking override lost: %d", cfg.Chunking.Size)
	}
	// Untouched sections keep defaults.
	if cfg.Embedders.Text.Model != "nomic-embed-text" {
		t.Errorf("default embedder lost: %s", cfg.Embedders.Text.Model)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
store:
  backened: local
`)
	if _, err := Load(path); err == nil {
		t.Fatal("typo in field name should be rejected")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_MILVUS_ADDR", "milvus.internal:19530")
	path := writeConfig(t, `
store:
  backend: milvus
  address: ${TEST_MILVUS_ADDR}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.Address != "milvus.internal:19530" {
		t.Errorf("env not expanded: %s", cfg.Store.Address)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"bad backend", func(c *Config) { c.Store.Backend = "redis" }, "backend"},
		{"milvus without address", func(c *Config) { c.Store.Backend = "milvus"; c.Store.Address = "" }, "address"},
		{"overlap too large", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }, "overlap"},
		{"zero text dim", func(c *Config) { c.Embedders.Text.Dim = 0 }, "dim"},
		{"negative weight", func(c *Config) { c.Search.TextWeight = -1 }, "weights"},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.substr) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.substr)
		}
	}
}

func TestParsedTimeout(t *testing.T) {
	e := EmbedderConfig{Timeout: "5s"}
	if d := e.ParsedTimeout(); d.Seconds() != 5 {
		t.Errorf("unexpected timeout: %v", d)
	}
	e = EmbedderConfig{}
	if d := e.ParsedTimeout(); d.Seconds() != 60 {
		t.Errorf("default timeout should be 60s, got %v", d)
	}
}
