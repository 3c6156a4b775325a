package extract

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	// pdfcpu writes some color spaces as TIFF/BMP/WebP; register decoders.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	_ "image/gif"
	_ "image/jpeg"
)

var imgNameNums = regexp.MustCompile(`\d+`)

// docStem is the PDF filename without extension. pdfcpu prefixes every
// extracted image file with it.
func docStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// assetDir is where one document's extracted files land. Each document
// owns its own subdirectory under the configured root, so concurrent
// extraction of two PDFs never resets each other's assets.
func (e *Extractor) assetDir(path string) string {
	root := e.opts.AssetDir
	if root == "" {
		root = filepath.Join(filepath.Dir(path), "extracted_images")
	}
	return filepath.Join(root, docStem(path))
}

// extractImages pulls every embedded raster image out of the PDF, filters
// noise (icons, rule lines, first-page mastheads), de-duplicates by
// (page, width, height) and saves the keepers under assetDir. Pages with
// very little text and no surviving image get a whole-page snapshot so
// image-dominant pages are not lost.
func (e *Extractor) extractImages(path, assetDir, runID string, pageChars []int) ([]Image, error) {
	tempDir, err := os.MkdirTemp("", "refrag_img_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	conf := model.NewDefaultConfiguration()
	conf.Cmd = model.EXTRACTIMAGES
	conf.ValidationMode = model.ValidationRelaxed

	pagesSel := e.pageSelection(path)
	if err := api.ExtractImagesFile(path, tempDir, pagesSel, conf); err != nil {
		return nil, fmt.Errorf("pdfcpu extraction failed: %w", err)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return nil, err
	}

	// The asset dir is owned by this run: stale files from a previous
	// extraction are removed before writing.
	if err := os.RemoveAll(assetDir); err != nil {
		return nil, fmt.Errorf("failed to reset asset dir: %w", err)
	}
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset dir: %w", err)
	}

	stem := docStem(path)
	var candidates []Image
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		img, err := e.readCandidate(tempDir, entry.Name(), stem)
		if err != nil {
			slog.Warn("[PDF] Image decode failed", "file", entry.Name(), "error", err)
			continue
		}
		candidates = append(candidates, img)
	}

	kept := e.filterImages(candidates)

	var images []Image
	perPage := make(map[int]int)
	for _, img := range kept {
		perPage[img.Page]++
		saved, err := saveImage(img, assetDir, perPage[img.Page])
		if err != nil {
			slog.Warn("[PDF] Failed to save asset", "file", img.Filename, "error", err)
			continue
		}
		saved.ID = fmt.Sprintf("%s_p%d_i%d", runID, saved.Page, saved.Index)
		images = append(images, saved)
	}

	images = append(images, e.pageSnapshots(path, assetDir, runID, pageChars, perPage)...)

	sort.SliceStable(images, func(a, b int) bool {
		if images[a].Page != images[b].Page {
			return images[a].Page < images[b].Page
		}
		return images[a].Index < images[b].Index
	})

	if len(images) > 0 {
		slog.Debug("[PDF] Images extracted", "count", len(images), "dir", assetDir)
	}
	return images, nil
}

func (e *Extractor) pageSelection(path string) []string {
	if e.opts.MaxPages <= 0 {
		return nil
	}
	total, err := api.PageCountFile(path)
	if err != nil || total <= e.opts.MaxPages {
		return nil
	}
	return []string{fmt.Sprintf("1-%d", e.opts.MaxPages)}
}

// readCandidate decodes enough of one extracted file to know its page,
// dimensions and size. CMYK images are converted to RGB on the spot.
//
// pdfcpu names extracted files "<stem>_<page>_<imgName>.<ext>". The stem
// is stripped before parsing so digits in the PDF filename (arXiv ids,
// years) are never mistaken for the page number.
func (e *Extractor) readCandidate(dir, name, stem string) (Image, error) {
	full := filepath.Join(dir, name)

	trimmed := strings.TrimPrefix(name, stem+"_")
	page, index := 0, 0
	if nums := imgNameNums.FindAllString(trimmed, -1); len(nums) > 0 {
		page, _ = strconv.Atoi(nums[0])
		if len(nums) > 1 {
			index, _ = strconv.Atoi(nums[1])
		}
	}
	if page == 0 {
		page = 1
	}

	f, err := os.Open(full)
	if err != nil {
		return Image{}, err
	}
	cfg, _, err := image.DecodeConfig(f)
	f.Close()
	if err != nil {
		return Image{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.ColorModel == color.CMYKModel {
		if err := convertCMYK(full); err != nil {
			return Image{}, fmt.Errorf("cmyk conversion: %w", err)
		}
	}

	info, err := os.Stat(full)
	if err != nil {
		return Image{}, err
	}

	return Image{
		Path:      full,
		Filename:  name,
		Page:      page,
		Index:     index,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: info.Size(),
		Method:    MethodStandard,
	}, nil
}

// convertCMYK re-encodes a CMYK image as RGB PNG in place.
func convertCMYK(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return err
	}
	rgb := image.NewRGBA(src.Bounds())
	draw.Draw(rgb, rgb.Bounds(), src, src.Bounds().Min, draw.Src)

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return png.Encode(out, rgb)
}

// filterImages applies the noise heuristics and de-duplicates. Everything
// that survives satisfies Width > MinImageDim and Height > MinImageDim.
func (e *Extractor) filterImages(candidates []Image) []Image {
	var kept []Image
	seen := make(map[[3]int]bool)
	for _, img := range candidates {
		if img.Width < e.opts.MinImageDim || img.Height < e.opts.MinImageDim {
			continue
		}
		// Small images on the title page are almost always logos or
		// journal mastheads.
		if img.Page == 1 && img.Height < e.opts.MinFirstPageHeight {
			continue
		}
		aspect := float64(img.Width) / float64(img.Height)
		if aspect < e.opts.MinAspect || aspect > e.opts.MaxAspect {
			continue
		}
		key := [3]int{img.Page, img.Width, img.Height}
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, img)
	}
	return kept
}

// saveImage moves a kept candidate into the asset dir under a stable name.
func saveImage(img Image, assetDir string, ordinal int) (Image, error) {
	ext := filepath.Ext(img.Filename)
	if ext == "" {
		ext = ".png"
	}
	name := fmt.Sprintf("page%d_img%d%s", img.Page, ordinal, ext)
	target := filepath.Join(assetDir, name)

	data, err := os.ReadFile(img.Path)
	if err != nil {
		return Image{}, err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return Image{}, err
	}

	img.Path = target
	img.Filename = name
	img.Index = ordinal
	return img, nil
}

// pageSnapshots exports low-text pages that yielded no embedded image as
// single-page PDFs. There is no pure-Go rasterizer, so the snapshot keeps
// the page itself as the visual artifact.
func (e *Extractor) pageSnapshots(path, assetDir, runID string, pageChars []int, perPage map[int]int) []Image {
	dims, err := api.PageDimsFile(path)
	if err != nil {
		slog.Debug("[PDF] Page dims unavailable", "error", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var snaps []Image
	for i, chars := range pageChars {
		page := i + 1
		if chars >= e.opts.LowTextThreshold || perPage[page] > 0 {
			continue
		}
		name := fmt.Sprintf("page%d_snapshot.pdf", page)
		target := filepath.Join(assetDir, name)
		if err := api.TrimFile(path, target, []string{strconv.Itoa(page)}, conf); err != nil {
			slog.Warn("[PDF] Page snapshot failed", "page", page, "error", err)
			continue
		}
		w, h := 612, 792 // US Letter default when dims are unknown
		if i < len(dims) {
			w, h = int(dims[i].Width), int(dims[i].Height)
		}
		info, err := os.Stat(target)
		if err != nil {
			continue
		}
		snaps = append(snaps, Image{
			ID:        fmt.Sprintf("%s_p%d_snap", runID, page),
			Path:      target,
			Filename:  name,
			Page:      page,
			Width:     w,
			Height:    h,
			SizeBytes: info.Size(),
			Method:    MethodPageSnapshot,
		})
		slog.Debug("[PDF] Page snapshot saved", "page", page, "chars", chars)
	}
	return snaps
}
