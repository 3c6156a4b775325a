// Package extract turns a PDF file into plain text, a set of embedded
// images and figure/table caption candidates, and selects the single image
// most representative of the document.
//
// Text extraction runs layered fallbacks (row-aware, plain, last-resort
// per-page) so that one broken page never costs the whole document. Image
// and caption failures degrade; only a PDF that yields no text at all is a
// terminal error.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/refbase/refrag/pkg/metrics"
)

// ErrNoText is returned when every text extraction tier fails. Callers are
// expected to fall back to externally supplied metadata (e.g. an abstract).
var ErrNoText = errors.New("no text could be extracted")

// Method records how an image was obtained from the PDF.
type Method string

const (
	// MethodStandard is a raster image embedded in the page resources.
	MethodStandard Method = "standard"
	// MethodPageSnapshot is a whole-page export used as fallback for pages
	// that carry almost no extractable text.
	MethodPageSnapshot Method = "page_snapshot"
)

// Image is one extracted figure candidate. The file at Path is owned by the
// extraction run and is regenerated on re-extraction.
type Image struct {
	ID        string
	Path      string
	Filename  string
	Page      int
	Index     int
	Width     int
	Height    int
	SizeBytes int64
	Method    Method

	// Caption matching results, zero values when no caption matched.
	Caption           string
	CaptionClean      string
	CaptionType       CaptionType
	CaptionNumber     string
	CaptionConfidence float64
}

// Area returns the pixel area of the image.
func (im Image) Area() int { return im.Width * im.Height }

// FeaturedImage is the one image promoted as most representative of the
// document, with the heuristic rule that selected it spelled out.
type FeaturedImage struct {
	Image
	Priority        int
	SelectionReason string
}

// Document is the full result of one extraction run.
type Document struct {
	Text       string
	Pages      int
	EmptyPages int
	Images     []Image
	Captions   []Caption
	Featured   *FeaturedImage
}

// Options tunes the extraction heuristics. The numeric thresholds are
// empirical defaults, not guaranteed-optimal values.
type Options struct {
	// AssetDir is the root for extracted image files; each document gets
	// its own subdirectory named after the PDF. When empty, a directory
	// named "extracted_images" next to the PDF is used as the root.
	AssetDir string
	// MaxPages caps how many pages are processed (0 = all).
	MaxPages int

	// MinImageDim drops images smaller than this in either dimension
	// (logos, icons, artifacts).
	MinImageDim int
	// MinFirstPageHeight drops short images on page one (mastheads).
	MinFirstPageHeight int
	// MinAspect / MaxAspect drop extreme aspect ratios (rule lines).
	MinAspect float64
	MaxAspect float64
	// LowTextThreshold marks a page as image-dominant when its text is
	// shorter than this, triggering the page snapshot fallback.
	LowTextThreshold int
}

// DefaultOptions returns the thresholds tuned on academic paper PDFs.
func DefaultOptions() Options {
	return Options{
		MinImageDim:        200,
		MinFirstPageHeight: 400,
		MinAspect:          0.2,
		MaxAspect:          5.0,
		LowTextThreshold:   500,
	}
}

// Extractor extracts text, images and captions from PDFs. It holds no
// per-document state; one Extractor may be shared, but every Extract call
// opens its own document handle.
type Extractor struct {
	opts Options
}

// New returns an Extractor with the given options, filling zero thresholds
// from DefaultOptions.
func New(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.MinImageDim <= 0 {
		opts.MinImageDim = def.MinImageDim
	}
	if opts.MinFirstPageHeight <= 0 {
		opts.MinFirstPageHeight = def.MinFirstPageHeight
	}
	if opts.MinAspect <= 0 {
		opts.MinAspect = def.MinAspect
	}
	if opts.MaxAspect <= 0 {
		opts.MaxAspect = def.MaxAspect
	}
	if opts.LowTextThreshold <= 0 {
		opts.LowTextThreshold = def.LowTextThreshold
	}
	return &Extractor{opts: opts}
}

// stageDegraded logs a non-fatal extraction stage failure and counts it.
func stageDegraded(stage, file string, err error) {
	slog.Warn("[PDF] Extraction stage failed", "stage", stage, "file", file, "error", err)
	metrics.ExtractionFailures.WithLabelValues(stage).Inc()
}

// Extract runs the full pipeline: text, images, captions, caption matching
// and featured-image selection. Image and caption problems are logged and
// degrade the result; a document with no extractable text fails with a
// wrapped ErrNoText.
func (e *Extractor) Extract(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("pdf not readable: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("pdf %s: %w", path, ErrNoText)
	}

	slog.Info("[PDF] Extracting", "file", filepath.Base(path), "size_bytes", info.Size())

	text, pageChars, err := e.extractText(path)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Text:  text,
		Pages: len(pageChars),
	}
	for _, n := range pageChars {
		if n < minPageChars {
			doc.EmptyPages++
		}
	}

	assetDir := e.assetDir(path)

	runID := uuid.NewString()
	images, err := e.extractImages(path, assetDir, runID, pageChars)
	if err != nil {
		stageDegraded("images", filepath.Base(path), err)
	} else {
		doc.Images = images
	}

	captions, err := e.extractCaptions(path)
	if err != nil {
		stageDegraded("captions", filepath.Base(path), err)
	} else {
		doc.Captions = captions
	}

	if len(doc.Images) > 0 && len(doc.Captions) > 0 {
		matchCaptions(doc.Images, doc.Captions)
		matched := 0
		for _, im := range doc.Images {
			if im.Caption != "" {
				matched++
			}
		}
		slog.Debug("[PDF] Captions matched", "matched", matched, "images", len(doc.Images))
	}

	if len(doc.Images) > 0 {
		doc.Featured = SelectFeatured(doc.Images, doc.Captions)
		if doc.Featured != nil {
			slog.Info("[PDF] Featured image selected",
				"file", doc.Featured.Filename, "reason", doc.Featured.SelectionReason)
		}
	}

	slog.Info("[PDF] Extraction complete",
		"file", filepath.Base(path),
		"chars", len(doc.Text),
		"images", len(doc.Images),
		"captions", len(doc.Captions),
		"empty_pages", doc.EmptyPages)
	return doc, nil
}
