package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// CaptionType classifies what a caption labels.
type CaptionType string

const (
	CaptionFigure  CaptionType = "figure"
	CaptionTable   CaptionType = "table"
	CaptionScheme  CaptionType = "scheme"
	CaptionUnknown CaptionType = "unknown"
)

// Caption is a figure/table/scheme label found in the page text.
type Caption struct {
	Page      int
	Text      string
	CleanText string
	Type      CaptionType
	Priority  int
	Number    string
	Y         float64
}

// captionRule is one pattern in the ordered detection table. The first
// matching rule wins, so more specific patterns come first.
type captionRule struct {
	re       *regexp.Regexp
	typ      CaptionType
	priority int
}

var captionRules = []captionRule{
	{regexp.MustCompile(`(?i)^graphical\s+abstract`), CaptionFigure, 150},
	{regexp.MustCompile(`(?i)^(figure|fig\.?)\s+(\d+[a-z]?|[A-Z]\d*)[:.\s]`), CaptionFigure, 100},
	{regexp.MustCompile(`(?i)^(scheme|schema)\s*(\d+[a-z]?)?[:.\s]`), CaptionScheme, 95},
	{regexp.MustCompile(`(?i)^table\s+(\d+[a-z]?|[A-Z]\d*)[:.\s]`), CaptionTable, 90},
	{regexp.MustCompile(`(?i)^(chart|graph)\s*(\d+)?[:.\s]`), CaptionFigure, 85},
	{regexp.MustCompile(`(?i)^supplementary\s+(figure|fig\.?)\s*(\d+[a-z]?)?`), CaptionFigure, 70},
	{regexp.MustCompile(`^(그림|도표)\s*(\d+)?[:.\s]?`), CaptionFigure, 100},
	{regexp.MustCompile(`^표\s*(\d+)?[:.\s]?`), CaptionTable, 90},
	{regexp.MustCompile(`^(도식|스킴)\s*(\d+)?[:.\s]?`), CaptionScheme, 95},
	{regexp.MustCompile(`^(図|圖)\s*(\d+)?[:.\s]?`), CaptionFigure, 100},
	{regexp.MustCompile(`^表\s*(\d+)?[:.\s]?`), CaptionTable, 90},
	{regexp.MustCompile(`^图\s*(\d+)?[:.\s]?`), CaptionFigure, 100},
}

// captionKeywords is the fallback when no anchored pattern matches: short
// blocks mentioning these terms anywhere are kept at reduced priority.
var captionKeywords = []struct {
	word     string
	typ      CaptionType
	priority int
}{
	{"figure", CaptionFigure, 50},
	{"fig", CaptionFigure, 50},
	{"scheme", CaptionScheme, 45},
	{"table", CaptionTable, 40},
	{"diagram", CaptionFigure, 35},
	{"chart", CaptionFigure, 30},
	{"graph", CaptionFigure, 30},
	{"그림", CaptionFigure, 50},
	{"도식", CaptionScheme, 45},
	{"표", CaptionTable, 40},
	{"図", CaptionFigure, 50},
	{"图", CaptionFigure, 50},
}

const keywordBlockLimit = 500

// extractCaptions scans the row-level text of each page for caption blocks.
// Results are sorted by priority (desc), then page.
func (e *Extractor) extractCaptions(path string) ([]Caption, error) {
	var captions []Caption

	err := safely(func() error {
		closeFn, reader, err := openPDF(path)
		if err != nil {
			return err
		}
		defer closeFn()

		limit := e.pageLimit(reader.NumPage())
		for n := 1; n <= limit; n++ {
			page := reader.Page(n)
			if page.V.IsNull() {
				continue
			}
			blocks, err := pageBlocks(page)
			if err != nil {
				slog.Debug("[PDF] Caption scan failed for page", "page", n, "error", err)
				continue
			}
			for _, b := range blocks {
				if c, ok := classifyCaption(b.text); ok {
					c.Page = n
					c.Y = b.y
					captions = append(captions, c)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("caption extraction failed: %w", err)
	}

	captions = dedupCaptions(captions)
	sort.SliceStable(captions, func(a, b int) bool {
		if captions[a].Priority != captions[b].Priority {
			return captions[a].Priority > captions[b].Priority
		}
		return captions[a].Page < captions[b].Page
	})
	return captions, nil
}

type textBlock struct {
	text string
	y    float64
}

// blockGap is the vertical distance (points) below which adjacent rows are
// considered part of the same block.
const blockGap = 14.0

// pageBlocks groups the page rows into visual blocks by vertical proximity.
func pageBlocks(page pdf.Page) ([]textBlock, error) {
	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].Position > rows[b].Position
	})

	var blocks []textBlock
	var cur strings.Builder
	var curY, lastY float64
	flush := func() {
		if text := strings.TrimSpace(cur.String()); text != "" {
			blocks = append(blocks, textBlock{text: text, y: curY})
		}
		cur.Reset()
	}
	for _, row := range rows {
		line := strings.TrimSpace(renderRow(row))
		if line == "" {
			continue
		}
		y := float64(row.Position)
		if cur.Len() > 0 && lastY-y > blockGap {
			flush()
		}
		if cur.Len() == 0 {
			curY = y
		} else {
			cur.WriteByte(' ')
		}
		cur.WriteString(line)
		lastY = y
	}
	flush()
	return blocks, nil
}

// classifyCaption runs the rule table, then the keyword fallback, against
// one text block.
func classifyCaption(text string) (Caption, bool) {
	for _, rule := range captionRules {
		loc := rule.re.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		c := Caption{
			Text:     text,
			Type:     rule.typ,
			Priority: rule.priority,
		}
		// Second capture group, where present, is the label number.
		if len(loc) >= 6 && loc[4] >= 0 {
			c.Number = text[loc[4]:loc[5]]
		} else if len(loc) >= 4 && loc[2] >= 0 {
			if m := text[loc[2]:loc[3]]; isDigits(m) {
				c.Number = m
			}
		}
		c.CleanText = strings.TrimSpace(text[loc[1]:])
		if c.CleanText == "" {
			c.CleanText = text
		}
		return c, true
	}

	if len(text) < keywordBlockLimit {
		lower := strings.ToLower(text)
		for _, kw := range captionKeywords {
			if strings.Contains(lower, kw.word) {
				return Caption{
					Text:      text,
					CleanText: text,
					Type:      kw.typ,
					Priority:  kw.priority,
				}, true
			}
		}
	}
	return Caption{}, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// dedupCaptions drops repeats of the same block on the same page, which
// happen when a caption spans rows that get grouped twice.
func dedupCaptions(captions []Caption) []Caption {
	seen := make(map[string]bool)
	var out []Caption
	for _, c := range captions {
		key := fmt.Sprintf("%d:%s", c.Page, truncate(c.Text, 100))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
