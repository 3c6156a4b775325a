package chunk

import "strings"

// sectionMarkers are the headings a paper is segmented on, checked
// case-insensitively against short lines.
var sectionMarkers = []string{
	"abstract",
	"introduction",
	"background",
	"related work",
	"materials and methods",
	"methodology",
	"methods",
	"results",
	"experiments",
	"evaluation",
	"discussion",
	"conclusion",
	"future work",
	"references",
	"appendix",
}

// headingLineLimit rejects long lines as headings; real headings are short.
const headingLineLimit = 50

// SectionChunker segments text on academic section headings, then applies
// a fixed-size window inside each section. Pieces carry the section name
// they came from, so retrieval results can say which part of the paper a
// hit belongs to.
type SectionChunker struct {
	inner *FixedChunker
}

// NewSectionChunker builds a section-aware chunker over a fixed window.
func NewSectionChunker(size, overlap int) (*SectionChunker, error) {
	inner, err := NewFixedChunker(size, overlap)
	if err != nil {
		return nil, err
	}
	return &SectionChunker{inner: inner}, nil
}

type section struct {
	name string
	text string
}

// Split implements Chunker.
func (c *SectionChunker) Split(text string) []Piece {
	var pieces []Piece
	for _, sec := range splitSections(text) {
		for _, p := range c.inner.Split(sec.text) {
			p.Section = sec.name
			pieces = append(pieces, p)
		}
	}
	return pieces
}

// splitSections walks the text line by line and starts a new section each
// time a heading line is seen. Text before the first heading is kept under
// an empty section name.
func splitSections(text string) []section {
	var sections []section
	var cur strings.Builder
	name := ""

	flush := func() {
		if body := strings.TrimSpace(cur.String()); body != "" {
			sections = append(sections, section{name: name, text: body})
		}
		cur.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if marker, ok := headingMarker(line); ok {
			flush()
			name = marker
			continue
		}
		cur.WriteString(line)
		cur.WriteByte('\n')
	}
	flush()
	return sections
}

// headingMarker reports whether a line is a section heading and which
// marker it carries. Numbered headings like "3. Results" count.
func headingMarker(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) >= headingLineLimit {
		return "", false
	}
	lower := strings.ToLower(trimmed)
	lower = strings.TrimLeft(lower, "0123456789.)- \t")
	lower = strings.TrimRight(lower, ".: \t")
	for _, marker := range sectionMarkers {
		if lower == marker {
			return marker, true
		}
	}
	return "", false
}
