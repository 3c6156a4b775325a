// Package chunk splits extracted paper text into pieces suitable for
// embedding and indexing.
//
// All splitters operate on runes rather than bytes so multi-byte Unicode
// characters (Korean, Japanese, accented letters) are never cut in half.
// Two strategies are provided: a fixed-size window with overlap, and a
// section-aware splitter that segments on academic headings before applying
// the fixed window inside each section.
package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadOverlap is returned when a chunker is constructed with an overlap
// that is negative or not smaller than the chunk size.
var ErrBadOverlap = errors.New("chunk: overlap must be non-negative and smaller than chunk size")

// Type classifies what a chunk carries.
type Type string

const (
	TypeText    Type = "text"
	TypeCaption Type = "caption"
	TypeImage   Type = "image"
)

// Chunk is one indexable unit of a paper.
type Chunk struct {
	ID       string
	PaperID  string
	Text     string
	Type     Type
	Section  string
	Index    int
	Page     int
	Metadata map[string]any
}

// Piece is a raw split produced by a Chunker, before it is assigned a
// paper and an id.
type Piece struct {
	Text    string
	Section string
}

// Chunker splits a document's full text into pieces.
type Chunker interface {
	Split(text string) []Piece
}

// ChunkID builds the stable id for the n-th chunk of a paper. Re-splitting
// the same text yields the same ids, which makes re-ingestion an upsert.
func ChunkID(paperID string, n int) string {
	return fmt.Sprintf("%s_chunk_%d", paperID, n)
}

// Assemble turns raw pieces into chunks owned by a paper, assigning
// sequential indexes and stable ids.
func Assemble(paperID string, pieces []Piece) []Chunk {
	chunks := make([]Chunk, 0, len(pieces))
	for i, p := range pieces {
		chunks = append(chunks, Chunk{
			ID:      ChunkID(paperID, i),
			PaperID: paperID,
			Text:    p.Text,
			Type:    TypeText,
			Section: p.Section,
			Index:   i,
		})
	}
	return chunks
}

// minCaptionLen filters out captions too short to carry meaning on their
// own ("Fig. 3.").
const minCaptionLen = 20

// CaptionChunk builds the indexable chunk for one matched caption. Returns
// false when the caption is too short to be useful.
func CaptionChunk(paperID string, n, page int, captionText string) (Chunk, bool) {
	text := strings.TrimSpace(captionText)
	if len([]rune(text)) < minCaptionLen {
		return Chunk{}, false
	}
	return Chunk{
		ID:      fmt.Sprintf("%s_caption_%d", paperID, n),
		PaperID: paperID,
		Text:    text,
		Type:    TypeCaption,
		Page:    page,
	}, true
}

// ImageChunk builds the text-side stand-in for an extracted image so image
// records remain queryable by text. The synthetic text is the caption when
// one was matched, the filename otherwise.
func ImageChunk(paperID string, n, page int, caption, filename string) Chunk {
	label := strings.TrimSpace(caption)
	if label == "" {
		label = filename
	}
	return Chunk{
		ID:      fmt.Sprintf("%s_image_%d", paperID, n),
		PaperID: paperID,
		Text:    fmt.Sprintf("[Image %d] %s", n+1, label),
		Type:    TypeImage,
		Page:    page,
	}
}
