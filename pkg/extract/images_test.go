package extract

import (
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/refbase/refrag/pkg/metrics"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 10, 10))); err != nil {
		t.Fatal(err)
	}
}

func TestReadCandidateNumericFilename(t *testing.T) {
	// The digits of an arXiv id in the PDF filename must not be taken for
	// the page number.
	dir := t.TempDir()
	name := "2106.01234_3_Im0.png"
	writePNG(t, filepath.Join(dir, name))

	e := New(DefaultOptions())
	img, err := e.readCandidate(dir, name, "2106.01234")
	if err != nil {
		t.Fatal(err)
	}
	if img.Page != 3 {
		t.Errorf("page = %d, want 3", img.Page)
	}
	if img.Index != 0 {
		t.Errorf("index = %d, want 0", img.Index)
	}
}

func TestReadCandidatePlainFilename(t *testing.T) {
	dir := t.TempDir()
	name := "paper_2_Im1.png"
	writePNG(t, filepath.Join(dir, name))

	e := New(DefaultOptions())
	img, err := e.readCandidate(dir, name, "paper")
	if err != nil {
		t.Fatal(err)
	}
	if img.Page != 2 {
		t.Errorf("page = %d, want 2", img.Page)
	}
	if img.Index != 1 {
		t.Errorf("index = %d, want 1", img.Index)
	}
}

func TestAssetDirPerDocument(t *testing.T) {
	e := New(Options{AssetDir: "/data/assets"})
	a := e.assetDir("/papers/2106.01234.pdf")
	b := e.assetDir("/papers/2203.99999.pdf")
	if a == b {
		t.Fatalf("documents share an asset dir: %s", a)
	}
	if a != filepath.Join("/data/assets", "2106.01234") {
		t.Errorf("unexpected asset dir: %s", a)
	}

	// Without a configured root the per-document dir still lands under a
	// root next to the PDF.
	def := New(DefaultOptions())
	got := def.assetDir("/papers/2106.01234.pdf")
	want := filepath.Join("/papers", "extracted_images", "2106.01234")
	if got != want {
		t.Errorf("default asset dir = %s, want %s", got, want)
	}
}

func TestStageFailuresCounted(t *testing.T) {
	for _, stage := range []string{"images", "captions"} {
		c := metrics.ExtractionFailures.WithLabelValues(stage)
		before := testutil.ToFloat64(c)
		stageDegraded(stage, "x.pdf", errors.New("boom"))
		if got := testutil.ToFloat64(c) - before; got != 1 {
			t.Errorf("stage %s counted %f times, want 1", stage, got)
		}
	}
}
