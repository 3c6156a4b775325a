// Package ingest runs the extraction-to-index pipeline: a PDF goes in,
// text chunks, caption chunks and image vectors come out the other side,
// written to the vector store with their cross-modal relations recorded.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/refbase/refrag/pkg/chunk"
	"github.com/refbase/refrag/pkg/embeddings"
	"github.com/refbase/refrag/pkg/extract"
	"github.com/refbase/refrag/pkg/metrics"
	"github.com/refbase/refrag/pkg/relations"
	"github.com/refbase/refrag/pkg/vectorstore"
)

// maxImagesPerPaper caps how many figures of one paper are embedded. The
// featured figure always makes the cut.
const maxImagesPerPaper = 5

// Extractor is the document-extraction dependency of the pipeline.
// *extract.Extractor satisfies it.
type Extractor interface {
	Extract(path string) (*extract.Document, error)
}

// Pipeline wires extraction, chunking, embedding and storage together.
type Pipeline struct {
	extractor Extractor
	chunker   chunk.Chunker
	textEmb   embeddings.Embedder
	imageEmb  embeddings.ImageEmbedder
	texts     vectorstore.Collection
	images    vectorstore.Collection
	rel       *relations.Index

	statePath string

	mu        sync.Mutex
	processed map[string]string
}

// Options carries the pipeline dependencies. Texts, Chunker, TextEmbedder
// and Extractor are required; the image side is optional and its absence
// produces a text-only index.
type Options struct {
	Extractor     Extractor
	Chunker       chunk.Chunker
	TextEmbedder  embeddings.Embedder
	ImageEmbedder embeddings.ImageEmbedder
	Texts         vectorstore.Collection
	Images        vectorstore.Collection
	Relations     *relations.Index
	// StatePath is where processed-paper bookkeeping lives. Empty
	// disables skip-on-reingest tracking.
	StatePath string
}

// New validates the wiring, in particular that embedder output fits the
// collection dimensions, so a mismatch fails at startup instead of on the
// first batch.
func New(opts Options) (*Pipeline, error) {
	if opts.Extractor == nil {
		return nil, fmt.Errorf("ingest: extractor is required")
	}
	if opts.Chunker == nil {
		return nil, fmt.Errorf("ingest: chunker is required")
	}
	if opts.TextEmbedder == nil || opts.Texts == nil {
		return nil, fmt.Errorf("ingest: text embedder and collection are required")
	}
	if opts.TextEmbedder.Dim() != opts.Texts.Dim() {
		return nil, fmt.Errorf("ingest: text embedder dim %d vs collection %q dim %d: %w",
			opts.TextEmbedder.Dim(), opts.Texts.Name(), opts.Texts.Dim(), vectorstore.ErrDimensionMismatch)
	}
	if (opts.ImageEmbedder == nil) != (opts.Images == nil) {
		return nil, fmt.Errorf("ingest: image embedder and collection must be configured together")
	}
	if opts.ImageEmbedder != nil && opts.ImageEmbedder.Dim() != opts.Images.Dim() {
		return nil, fmt.Errorf("ingest: image embedder dim %d vs collection %q dim %d: %w",
			opts.ImageEmbedder.Dim(), opts.Images.Name(), opts.Images.Dim(), vectorstore.ErrDimensionMismatch)
	}

	rel := opts.Relations
	if rel == nil {
		rel = relations.NewIndex("")
	}

	p := &Pipeline{
		extractor: opts.Extractor,
		chunker:   opts.Chunker,
		textEmb:   opts.TextEmbedder,
		imageEmb:  opts.ImageEmbedder,
		texts:     opts.Texts,
		images:    opts.Images,
		rel:       rel,
		statePath: opts.StatePath,
		processed: make(map[string]string),
	}
	if err := p.loadState(); err != nil {
		return nil, err
	}
	return p, nil
}

// ProcessPDF runs one paper through the pipeline. Already-processed
// papers are skipped; pass force to re-ingest. Stable chunk ids make
// re-ingestion an upsert, so forcing never duplicates records.
func (p *Pipeline) ProcessPDF(ctx context.Context, paperID, path string, info relations.PaperInfo, force bool) error {
	if !force && p.Processed(paperID) {
		slog.Info("[INGEST] Paper already processed, skipping", "paper", paperID)
		metrics.PapersProcessed.WithLabelValues("skipped").Inc()
		return nil
	}

	doc, err := p.extractor.Extract(path)
	if err != nil {
		metrics.PapersProcessed.WithLabelValues("failed").Inc()
		metrics.ExtractionFailures.WithLabelValues("text").Inc()
		return fmt.Errorf("extraction failed for %s: %w", paperID, err)
	}

	chunks := chunk.Assemble(paperID, p.chunker.Split(doc.Text))
	for i, c := range doc.Captions {
		if cc, ok := chunk.CaptionChunk(paperID, i, c.Page, c.Text); ok {
			chunks = append(chunks, cc)
		}
	}
	if len(chunks) == 0 {
		metrics.PapersProcessed.WithLabelValues("failed").Inc()
		return fmt.Errorf("paper %s produced no chunks: %w", paperID, extract.ErrNoText)
	}

	if err := p.storeTexts(ctx, paperID, chunks); err != nil {
		metrics.PapersProcessed.WithLabelValues("failed").Inc()
		return err
	}

	if p.imageEmb != nil && len(doc.Images) > 0 {
		if err := p.storeImages(ctx, paperID, doc, chunks); err != nil {
			// The text side is already indexed; an image-side failure
			// degrades the paper, it does not lose it.
			slog.Warn("[INGEST] Image indexing failed", "paper", paperID, "error", err)
		}
	}

	p.rel.SetPaper(paperID, info)
	if err := p.rel.Save(); err != nil {
		slog.Warn("[INGEST] Failed to save relation index", "error", err)
	}

	p.mu.Lock()
	p.processed[paperID] = time.Now().UTC().Format(time.RFC3339)
	err = p.saveState()
	p.mu.Unlock()
	if err != nil {
		slog.Warn("[INGEST] Failed to save pipeline state", "error", err)
	}

	metrics.PapersProcessed.WithLabelValues("ok").Inc()
	p.refreshGauges(ctx)
	slog.Info("[INGEST] Paper indexed",
		"paper", paperID, "chunks", len(chunks), "images", len(doc.Images), "pages", doc.Pages)
	return nil
}

func (p *Pipeline) storeTexts(ctx context.Context, paperID string, chunks []chunk.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	start := time.Now()
	vectors, err := p.textEmb.EmbedTexts(ctx, texts)
	metrics.EmbedDuration.WithLabelValues("text").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("text embedding failed for %s: %w", paperID, err)
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		meta := map[string]string{
			"paper_id": c.PaperID,
			"modality": "text",
			"type":     string(c.Type),
		}
		if c.Section != "" {
			meta["section"] = c.Section
		}
		if c.Page > 0 {
			meta["page"] = fmt.Sprintf("%d", c.Page)
		}
		records[i] = vectorstore.Record{
			ID:       c.ID,
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: meta,
		}
	}

	if err := p.texts.Upsert(ctx, records); err != nil {
		return fmt.Errorf("text upsert failed for %s: %w", paperID, err)
	}
	for _, c := range chunks {
		metrics.ChunksStored.WithLabelValues(string(c.Type)).Inc()
	}
	return nil
}

func (p *Pipeline) storeImages(ctx context.Context, paperID string, doc *extract.Document, chunks []chunk.Chunk) error {
	selected := selectImages(doc)
	if len(selected) == 0 {
		return nil
	}

	paths := make([]string, len(selected))
	for i, img := range selected {
		paths[i] = img.Path
	}

	start := time.Now()
	vectors, err := p.imageEmb.EmbedImages(ctx, paths)
	metrics.EmbedDuration.WithLabelValues("image").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("image embedding failed: %w", err)
	}

	records := make([]vectorstore.Record, len(selected))
	for i, img := range selected {
		ic := chunk.ImageChunk(paperID, i, img.Page, img.Caption, img.Filename)
		meta := map[string]string{
			"paper_id": paperID,
			"modality": "image",
			"path":     img.Path,
			"page":     fmt.Sprintf("%d", img.Page),
			"method":   string(img.Method),
		}
		if img.CaptionNumber != "" {
			meta["caption_number"] = img.CaptionNumber
		}
		records[i] = vectorstore.Record{
			ID:       ic.ID,
			Vector:   vectors[i],
			Text:     ic.Text,
			Metadata: meta,
		}
		p.linkImage(paperID, ic.ID, img, chunks)
	}

	if err := p.images.Upsert(ctx, records); err != nil {
		return fmt.Errorf("image upsert failed: %w", err)
	}
	metrics.ChunksStored.WithLabelValues("image").Add(float64(len(records)))

	if doc.Featured != nil {
		for i, img := range selected {
			if img.ID == doc.Featured.ID {
				p.rel.SetFeatured(paperID, records[i].ID)
				break
			}
		}
	}
	return nil
}

// selectImages caps the per-paper image set, keeping the featured figure
// first and the rest in document order. Page-snapshot artifacts are PDFs
// the embedding service cannot decode, so they are never embedded.
func selectImages(doc *extract.Document) []extract.Image {
	var images []extract.Image
	for _, img := range doc.Images {
		if img.Method == extract.MethodPageSnapshot {
			continue
		}
		images = append(images, img)
	}
	if len(images) < len(doc.Images) {
		slog.Debug("[INGEST] Page snapshots excluded from embedding",
			"skipped", len(doc.Images)-len(images))
	}
	if len(images) <= maxImagesPerPaper {
		return images
	}

	featured := doc.Featured != nil && doc.Featured.Method != extract.MethodPageSnapshot
	var out []extract.Image
	if featured {
		out = append(out, doc.Featured.Image)
	}
	for _, img := range images {
		if len(out) >= maxImagesPerPaper {
			break
		}
		if featured && img.ID == doc.Featured.ID {
			continue
		}
		out = append(out, img)
	}
	return out
}

// linkImage records which text chunks mention this figure so retrieval can
// enrich a text hit with its figures and vice versa. Mention detection is
// by caption number ("Figure 3", "Fig. 3").
func (p *Pipeline) linkImage(paperID, imageID string, img extract.Image, chunks []chunk.Chunk) {
	if img.CaptionNumber == "" {
		return
	}
	needles := []string{
		"figure " + strings.ToLower(img.CaptionNumber),
		"fig. " + strings.ToLower(img.CaptionNumber),
		"fig " + strings.ToLower(img.CaptionNumber),
	}
	for _, c := range chunks {
		if c.Type != chunk.TypeText {
			continue
		}
		lower := strings.ToLower(c.Text)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				p.rel.AddLink(paperID, relations.Link{ChunkID: c.ID, ImageID: imageID, Page: img.Page})
				break
			}
		}
	}
}

func (p *Pipeline) refreshGauges(ctx context.Context) {
	if n, err := p.texts.Count(ctx); err == nil {
		metrics.TotalVectors.WithLabelValues(p.texts.Name()).Set(float64(n))
	}
	if p.images != nil {
		if n, err := p.images.Count(ctx); err == nil {
			metrics.TotalVectors.WithLabelValues(p.images.Name()).Set(float64(n))
		}
	}
}

// Processed reports whether a paper has been ingested.
func (p *Pipeline) Processed(paperID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed[paperID] != ""
}

func (p *Pipeline) loadState() error {
	if p.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(p.statePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read pipeline state: %w", err)
	}
	if err := json.Unmarshal(data, &p.processed); err != nil {
		return fmt.Errorf("corrupt pipeline state: %w", err)
	}
	return nil
}

func (p *Pipeline) saveState() error {
	if p.statePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(p.processed, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.statePath), 0o755); err != nil {
		return err
	}
	tmp := p.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.statePath)
}
