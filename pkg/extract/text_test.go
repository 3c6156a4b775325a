package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/ledongthuc/pdf"
)

func TestAssemblePages(t *testing.T) {
	text, counts, nonEmpty := assemblePages([]string{
		"First page content goes here.",
		"   ",
		"Third page content.",
	})

	if nonEmpty != 2 {
		t.Errorf("expected 2 non-empty pages, got %d", nonEmpty)
	}
	if len(counts) != 3 {
		t.Fatalf("expected 3 counts, got %d", len(counts))
	}
	if counts[1] != 0 {
		t.Errorf("blank page should count 0 chars, got %d", counts[1])
	}

	if !strings.Contains(text, "--- Page 1 ---") {
		t.Error("missing marker for page 1")
	}
	if strings.Contains(text, "--- Page 2 ---") {
		t.Error("empty page should not get a marker")
	}
	if !strings.Contains(text, "--- Page 3 ---") {
		t.Error("empty pages must not shift later page numbers")
	}
}

func TestAssemblePagesAllEmpty(t *testing.T) {
	text, _, nonEmpty := assemblePages([]string{"", "  ", "x"})
	if nonEmpty != 0 {
		t.Errorf("pages below the char floor should not count, got %d", nonEmpty)
	}
	if text != "" {
		t.Errorf("expected empty output, got %q", text)
	}
}

func span(x, w float64, s string) pdf.Text {
	return pdf.Text{X: x, W: w, S: s}
}

func TestRenderRowColumnGaps(t *testing.T) {
	row := &pdf.Row{
		Content: pdf.TextHorizontal{
			span(0, 30, "Method"),
			// 20pt gap: column boundary, rendered as a tab.
			span(50, 30, "Accuracy"),
			// 2pt gap: word space.
			span(82, 20, "(%)"),
		},
	}
	got := renderRow(row)
	want := "Method\tAccuracy (%)"
	if got != want {
		t.Errorf("renderRow = %q, want %q", got, want)
	}
}

func TestRenderRowTouchingSpans(t *testing.T) {
	row := &pdf.Row{
		Content: pdf.TextHorizontal{
			span(0, 10, "Hel"),
			span(10, 10, "lo"),
		},
	}
	if got := renderRow(row); got != "Hello" {
		t.Errorf("touching spans should concatenate, got %q", got)
	}
}

func TestSafelyRecoversPanics(t *testing.T) {
	err := safely(func() error {
		panic("malformed xref")
	})
	if err == nil || !strings.Contains(err.Error(), "malformed xref") {
		t.Errorf("panic not converted to error: %v", err)
	}

	sentinel := errors.New("plain failure")
	if err := safely(func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("plain errors must pass through, got %v", err)
	}
}

func TestPageLimit(t *testing.T) {
	e := New(Options{MaxPages: 10})
	if got := e.pageLimit(50); got != 10 {
		t.Errorf("pageLimit(50) = %d, want 10", got)
	}
	if got := e.pageLimit(5); got != 5 {
		t.Errorf("pageLimit(5) = %d, want 5", got)
	}

	unlimited := New(Options{})
	if got := unlimited.pageLimit(50); got != 50 {
		t.Errorf("unlimited pageLimit(50) = %d, want 50", got)
	}
}

func TestExtractMissingFile(t *testing.T) {
	e := New(DefaultOptions())
	if _, err := e.Extract("/nonexistent/paper.pdf"); err == nil {
		t.Error("expected an error for a missing file")
	}
}
