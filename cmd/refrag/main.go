package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/refbase/refrag/internal/config"
	"github.com/refbase/refrag/pkg/chunk"
	"github.com/refbase/refrag/pkg/embeddings"
	"github.com/refbase/refrag/pkg/extract"
	"github.com/refbase/refrag/pkg/ingest"
	"github.com/refbase/refrag/pkg/metrics"
	"github.com/refbase/refrag/pkg/relations"
	"github.com/refbase/refrag/pkg/retriever"
	"github.com/refbase/refrag/pkg/vectorstore"
	"github.com/refbase/refrag/pkg/vectorstore/factory"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	ingestPath := flag.String("ingest", "", "Path to a PDF to ingest")
	paperID := flag.String("paper-id", "", "Paper id for -ingest (defaults to the file name)")
	title := flag.String("title", "", "Paper title for -ingest")
	batchDir := flag.String("batch", "", "Directory of PDFs to ingest")
	searchText := flag.String("search", "", "Query text to search for")
	searchImage := flag.String("search-image", "", "Query image path for image-to-image search")
	mode := flag.String("mode", "hybrid", "Search mode: text, image or hybrid")
	k := flag.Int("k", 0, "Number of results (0 uses the configured default)")
	force := flag.Bool("force", false, "Re-ingest papers already marked as processed")
	verbose := flag.Bool("v", false, "Enable debug logging")

	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *ingestPath, *paperID, *title, *batchDir, *searchText, *searchImage, *mode, *k, *force); err != nil {
		slog.Error("refrag failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, ingestPath, paperID, title, batchDir, searchText, searchImage, mode string, k int, force bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := factory.Open(ctx, factory.Config{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Address: cfg.Store.Address,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	textEmb, err := buildTextEmbedder(cfg.Embedders.Text)
	if err != nil {
		return err
	}
	texts, err := store.Collection(ctx, cfg.Store.TextCollection, textEmb.Dim(), vectorstore.MetricCosine)
	if err != nil {
		return err
	}

	var imageEmb embeddings.ImageEmbedder
	var images vectorstore.Collection
	if cfg.Embedders.Image.URL != "" {
		imageEmb = embeddings.NewCLIPEmbedder(
			cfg.Embedders.Image.URL, cfg.Embedders.Image.Dim, cfg.Embedders.Image.ParsedTimeout())
		images, err = store.Collection(ctx, cfg.Store.ImageCollection, imageEmb.Dim(), vectorstore.MetricCosine)
		if err != nil {
			return err
		}
	}

	rel, err := relations.Load(cfg.Ingest.Relations)
	if err != nil {
		return err
	}

	switch {
	case ingestPath != "" || batchDir != "":
		pipeline, err := buildPipeline(cfg, textEmb, imageEmb, texts, images, rel)
		if err != nil {
			return err
		}
		if ingestPath != "" {
			id := paperID
			if id == "" {
				id = strings.TrimSuffix(filepath.Base(ingestPath), filepath.Ext(ingestPath))
			}
			return pipeline.ProcessPDF(ctx, id, ingestPath, relations.PaperInfo{Title: title}, force)
		}
		return runBatch(ctx, pipeline, batchDir, cfg.Ingest.Workers)

	case searchText != "" || searchImage != "":
		searcher := retriever.NewSearcher(texts, images, textEmb, imageEmb, rel)
		if k <= 0 {
			k = cfg.Search.K
		}
		q := retriever.Query{
			Text:        searchText,
			ImagePath:   searchImage,
			Mode:        retriever.Mode(mode),
			K:           k,
			TextWeight:  cfg.Search.TextWeight,
			ImageWeight: cfg.Search.ImageWeight,
		}
		if searchImage != "" && searchText == "" {
			q.Mode = retriever.ModeImage
		}
		return runSearch(ctx, searcher, q)

	default:
		return fmt.Errorf("nothing to do: pass -ingest, -batch or -search")
	}
}

func buildTextEmbedder(cfg config.EmbedderConfig) (embeddings.Embedder, error) {
	switch cfg.Type {
	case "ollama", "":
		return embeddings.NewOllamaEmbedder(cfg.URL, cfg.Model, cfg.Dim, cfg.ParsedTimeout()), nil
	case "openai":
		return embeddings.NewOpenAIEmbedder(cfg.URL, cfg.Model, cfg.APIKey, cfg.Dim, cfg.ParsedTimeout()), nil
	case "clip":
		return embeddings.NewCLIPEmbedder(cfg.URL, cfg.Dim, cfg.ParsedTimeout()), nil
	default:
		return nil, fmt.Errorf("unknown text embedder type %q", cfg.Type)
	}
}

func buildPipeline(cfg *config.Config, textEmb embeddings.Embedder, imageEmb embeddings.ImageEmbedder,
	texts, images vectorstore.Collection, rel *relations.Index) (*ingest.Pipeline, error) {

	var chunker chunk.Chunker
	var err error
	switch cfg.Chunking.Strategy {
	case "sections":
		chunker, err = chunk.NewSectionChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	case "fixed", "":
		chunker, err = chunk.NewFixedChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", cfg.Chunking.Strategy)
	}
	if err != nil {
		return nil, err
	}

	extractOpts := extract.DefaultOptions()
	extractOpts.AssetDir = cfg.Extract.AssetDir
	if cfg.Extract.MaxPages > 0 {
		extractOpts.MaxPages = cfg.Extract.MaxPages
	}
	if cfg.Extract.MinImageDim > 0 {
		extractOpts.MinImageDim = cfg.Extract.MinImageDim
	}
	if cfg.Extract.MinFirstPageHeight > 0 {
		extractOpts.MinFirstPageHeight = cfg.Extract.MinFirstPageHeight
	}
	if cfg.Extract.LowTextThreshold > 0 {
		extractOpts.LowTextThreshold = cfg.Extract.LowTextThreshold
	}

	return ingest.New(ingest.Options{
		Extractor:     extract.New(extractOpts),
		Chunker:       chunker,
		TextEmbedder:  textEmb,
		ImageEmbedder: imageEmb,
		Texts:         texts,
		Images:        images,
		Relations:     rel,
		StatePath:     cfg.Ingest.StatePath,
	})
}

func runBatch(ctx context.Context, pipeline *ingest.Pipeline, dir string, workers int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("could not read batch directory: %w", err)
	}

	var items []ingest.Item
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		items = append(items, ingest.Item{PaperID: id, Path: filepath.Join(dir, e.Name())})
	}
	if len(items) == 0 {
		return fmt.Errorf("no PDFs found in %s", dir)
	}

	res := pipeline.ProcessBatch(ctx, items, workers)
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d papers failed", res.Failed, len(items))
	}
	return nil
}

func runSearch(ctx context.Context, searcher *retriever.Searcher, q retriever.Query) error {
	start := time.Now()
	results, err := searcher.Search(ctx, q)
	metrics.QueryDuration.WithLabelValues(string(q.Mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [%s] %s (score %.3f, combined %.3f)\n",
			i+1, r.Modality, r.PaperID, r.Score, r.CombinedScore)
		if r.Paper != nil && r.Paper.Title != "" {
			fmt.Printf("   %s", r.Paper.Title)
			if r.Paper.Year > 0 {
				fmt.Printf(" (%d)", r.Paper.Year)
			}
			fmt.Println()
		}
		text := r.Text
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		fmt.Printf("   %s\n", text)
		for _, rel := range r.Related {
			fmt.Printf("   related [%s] %s\n", rel.Modality, rel.ID)
		}
	}
	return nil
}
