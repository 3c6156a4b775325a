// Package config defines the YAML configuration for the retrieval service:
// where PDFs come from, which embedding services to call, which vector
// store backend to use and how documents are chunked.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level structure of the configuration file.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedders EmbeddersConfig `yaml:"embedders"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Extract   ExtractConfig   `yaml:"extract"`
	Search    SearchConfig    `yaml:"search"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Backend         string `yaml:"backend"` // "local" or "milvus"
	Path            string `yaml:"path"`    // local backend data dir
	Address         string `yaml:"address"` // milvus endpoint
	TextCollection  string `yaml:"text_collection"`
	ImageCollection string `yaml:"image_collection"`
}

// EmbedderConfig defines one embedding service endpoint.
type EmbedderConfig struct {
	Type    string `yaml:"type"` // "ollama", "openai", "clip"
	URL     string `yaml:"url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	Dim     int    `yaml:"dim"`
	Timeout string `yaml:"timeout"`
}

// EmbeddersConfig holds the text and image embedding services. Image is
// optional: leaving it out produces a text-only index.
type EmbeddersConfig struct {
	Text  EmbedderConfig `yaml:"text"`
	Image EmbedderConfig `yaml:"image"`
}

// ChunkingConfig defines how paper text is split.
type ChunkingConfig struct {
	Strategy string `yaml:"strategy"` // "fixed" or "sections"
	Size     int    `yaml:"size"`
	Overlap  int    `yaml:"overlap"`
}

// ExtractConfig tunes PDF extraction.
type ExtractConfig struct {
	AssetDir           string `yaml:"asset_dir"`
	MaxPages           int    `yaml:"max_pages"`
	MinImageDim        int    `yaml:"min_image_dim"`
	MinFirstPageHeight int    `yaml:"min_first_page_height"`
	LowTextThreshold   int    `yaml:"low_text_threshold"`
}

// SearchConfig sets retrieval defaults.
type SearchConfig struct {
	TextWeight  float64 `yaml:"text_weight"`
	ImageWeight float64 `yaml:"image_weight"`
	K           int     `yaml:"k"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers   int    `yaml:"workers"`
	StatePath string `yaml:"state_path"`
	Relations string `yaml:"relations_path"`
}

// Default returns a configuration that works out of the box with a local
// store and an Ollama text embedder.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:         "local",
			Path:            "data",
			TextCollection:  "paper_chunks",
			ImageCollection: "paper_images",
		},
		Embedders: EmbeddersConfig{
			Text: EmbedderConfig{
				Type:    "ollama",
				URL:     "http://localhost:11434/api/embed",
				Model:   "nomic-embed-text",
				Dim:     768,
				Timeout: "60s",
			},
		},
		Chunking: ChunkingConfig{
			Strategy: "fixed",
			Size:     1000,
			Overlap:  200,
		},
		Search: SearchConfig{
			TextWeight:  0.65,
			ImageWeight: 0.35,
			K:           5,
		},
		Ingest: IngestConfig{
			Workers:   2,
			StatePath: "data/processed.json",
			Relations: "data/relations.json",
		},
	}
}

// Load reads and parses the YAML configuration file from the given path.
// It uses Strict Mode (KnownFields) to prevent silent errors due to typos.
// Missing values fall back to defaults; an empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	expandedData := os.ExpandEnv(string(data))

	decoder := yaml.NewDecoder(strings.NewReader(expandedData))
	decoder.KnownFields(true)

	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that could only fail later at runtime.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "local":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the local backend")
		}
	case "milvus":
		if c.Store.Address == "" {
			return fmt.Errorf("store.address is required for the milvus backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	if c.Embedders.Text.URL == "" || c.Embedders.Text.Dim <= 0 {
		return fmt.Errorf("embedders.text needs a url and a positive dim")
	}
	if c.Embedders.Image.URL != "" && c.Embedders.Image.Dim <= 0 {
		return fmt.Errorf("embedders.image needs a positive dim")
	}

	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking overlap must be non-negative and smaller than size")
	}

	if c.Search.TextWeight < 0 || c.Search.ImageWeight < 0 {
		return fmt.Errorf("search weights must be non-negative")
	}
	return nil
}

// Timeout parses an embedder timeout, defaulting when empty or invalid.
func (e EmbedderConfig) ParsedTimeout() time.Duration {
	d, err := time.ParseDuration(e.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
