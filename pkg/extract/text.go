package extract

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// minPageChars is the cutoff below which a page counts as empty. Empty
// pages contribute nothing but are never dropped from the page numbering.
const minPageChars = 10

// extractText tries the extraction tiers in order of output quality:
// row-aware (keeps column and table structure), plain per-page, then a
// last-resort pass that tries several reads per page. The first tier that
// yields any text wins. Returns the assembled text and per-page character
// counts.
func (e *Extractor) extractText(path string) (string, []int, error) {
	type tier struct {
		name string
		fn   func(string) ([]string, error)
	}
	tiers := []tier{
		{"rows", e.extractTextRows},
		{"plain", e.extractTextPlain},
		{"minimal", e.extractTextMinimal},
	}

	var lastErr error
	for _, t := range tiers {
		pages, err := t.fn(path)
		if err != nil {
			slog.Warn("[PDF] Text tier failed", "tier", t.name, "file", path, "error", err)
			lastErr = err
			continue
		}
		text, counts, nonEmpty := assemblePages(pages)
		if nonEmpty == 0 {
			lastErr = fmt.Errorf("tier %s produced no text", t.name)
			continue
		}
		slog.Debug("[PDF] Text extracted", "tier", t.name, "chars", len(text), "pages", len(pages))
		return text, counts, nil
	}

	if lastErr != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNoText, lastErr)
	}
	return "", nil, ErrNoText
}

// assemblePages joins per-page text with page markers and returns the
// character count per page plus the number of non-empty pages.
func assemblePages(pages []string) (string, []int, int) {
	var b strings.Builder
	counts := make([]int, len(pages))
	nonEmpty := 0
	for i, p := range pages {
		trimmed := strings.TrimSpace(p)
		counts[i] = len(trimmed)
		if len(trimmed) < minPageChars {
			continue
		}
		nonEmpty++
		fmt.Fprintf(&b, "\n--- Page %d ---\n", i+1)
		b.WriteString(trimmed)
		b.WriteString("\n")
	}
	return b.String(), counts, nonEmpty
}

// pageLimit applies the MaxPages cap.
func (e *Extractor) pageLimit(total int) int {
	if e.opts.MaxPages > 0 && e.opts.MaxPages < total {
		return e.opts.MaxPages
	}
	return total
}

// openPDF wraps pdf.Open. The library panics on some malformed xref tables,
// so callers run page reads through safely().
func openPDF(path string) (func() error, *pdf.Reader, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return f.Close, r, nil
}

// safely runs fn and converts a panic from the pdf library into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf parse panic: %v", rec)
		}
	}()
	return fn()
}

// extractTextRows is the structure-preserving tier. Rows come back sorted
// by vertical position; spans within a row are sorted horizontally and
// joined with tabs when a clear column gap exists, which renders simple
// tables as tab-separated lines.
func (e *Extractor) extractTextRows(path string) ([]string, error) {
	closeFn, r, err := openPDF(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	total := e.pageLimit(r.NumPage())
	pages := make([]string, total)

	for i := 1; i <= total; i++ {
		i := i
		err := safely(func() error {
			p := r.Page(i)
			if p.V.IsNull() {
				return nil
			}
			rows, err := p.GetTextByRow()
			if err != nil {
				return err
			}
			// Top of page first: PDF y grows upward.
			sort.SliceStable(rows, func(a, b int) bool {
				return rows[a].Position > rows[b].Position
			})
			var b strings.Builder
			for _, row := range rows {
				b.WriteString(renderRow(row))
				b.WriteString("\n")
			}
			pages[i-1] = b.String()
			return nil
		})
		if err != nil {
			// A single bad page only loses that page.
			slog.Warn("[PDF] Row extraction failed for page", "page", i, "error", err)
		}
	}
	return pages, nil
}

// columnGap is the horizontal distance (in points) between spans that is
// treated as a column boundary rather than a word space.
const columnGap = 12.0

func renderRow(row *pdf.Row) string {
	var b strings.Builder
	prevEnd := -1.0
	for _, t := range row.Content {
		if prevEnd >= 0 {
			gap := t.X - prevEnd
			switch {
			case gap > columnGap:
				b.WriteString("\t")
			case gap > 0.5:
				b.WriteString(" ")
			}
		}
		b.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	return strings.TrimRight(b.String(), " \t")
}

// extractTextPlain is the straightforward per-page tier.
func (e *Extractor) extractTextPlain(path string) ([]string, error) {
	closeFn, r, err := openPDF(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	total := e.pageLimit(r.NumPage())
	pages := make([]string, total)

	for i := 1; i <= total; i++ {
		i := i
		err := safely(func() error {
			p := r.Page(i)
			if p.V.IsNull() {
				return nil
			}
			text, err := p.GetPlainText(nil)
			if err != nil {
				return err
			}
			pages[i-1] = text
			return nil
		})
		if err != nil {
			slog.Warn("[PDF] Plain extraction failed for page", "page", i, "error", err)
		}
	}
	return pages, nil
}

// extractTextMinimal is the last-resort tier: three read variants per page,
// first one that yields enough characters wins. A page where all three
// fail is left empty rather than aborting the document.
func (e *Extractor) extractTextMinimal(path string) ([]string, error) {
	closeFn, r, err := openPDF(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	total := e.pageLimit(r.NumPage())
	pages := make([]string, total)

	variants := []func(pdf.Page) (string, error){
		func(p pdf.Page) (string, error) { return p.GetPlainText(nil) },
		func(p pdf.Page) (string, error) {
			rows, err := p.GetTextByRow()
			if err != nil {
				return "", err
			}
			var b strings.Builder
			for _, row := range rows {
				b.WriteString(renderRow(row))
				b.WriteString("\n")
			}
			return b.String(), nil
		},
		func(p pdf.Page) (string, error) {
			content := p.Content()
			var b strings.Builder
			for _, t := range content.Text {
				b.WriteString(t.S)
			}
			return b.String(), nil
		},
	}

	for i := 1; i <= total; i++ {
		i := i
		for vi, variant := range variants {
			var text string
			err := safely(func() error {
				p := r.Page(i)
				if p.V.IsNull() {
					return nil
				}
				var err error
				text, err = variant(p)
				return err
			})
			if err != nil {
				slog.Debug("[PDF] Minimal variant failed", "page", i, "variant", vi, "error", err)
				continue
			}
			if len(strings.TrimSpace(text)) >= minPageChars {
				pages[i-1] = text
				break
			}
		}
	}
	return pages, nil
}
