package chunk

// FixedChunker splits text into fixed-size rune windows with overlap.
//
// With size 1000 and overlap 200 the window advances by 800 runes: the
// first piece is runes[0:1000], the second runes[800:1800], and so on. The
// overlap keeps semantic context across boundaries for embedding.
type FixedChunker struct {
	size    int
	overlap int
}

// NewFixedChunker validates the window parameters up front so a bad
// configuration fails before any document is split.
func NewFixedChunker(size, overlap int) (*FixedChunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrBadOverlap
	}
	return &FixedChunker{size: size, overlap: overlap}, nil
}

// Split implements Chunker. Empty input yields no pieces.
func (c *FixedChunker) Split(text string) []Piece {
	runes := []rune(text)
	length := len(runes)
	if length == 0 {
		return nil
	}

	var pieces []Piece
	step := c.size - c.overlap
	for i := 0; i < length; i += step {
		end := i + c.size
		if end > length {
			end = length
		}
		pieces = append(pieces, Piece{Text: string(runes[i:end])})
		if end == length {
			break
		}
	}
	return pieces
}
