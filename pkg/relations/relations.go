// Package relations tracks cross-modal links inside a paper: which image
// records belong to which text chunks, which figure was selected as the
// paper's key figure, and the paper's bibliographic info. The retriever
// uses it to enrich hits with related material from the other modality.
package relations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PaperInfo is the bibliographic record kept per paper.
type PaperInfo struct {
	Title   string   `json:"title,omitempty"`
	Year    int      `json:"year,omitempty"`
	Authors []string `json:"authors,omitempty"`
}

// Link connects a record to a related record of the other modality.
type Link struct {
	ChunkID string `json:"chunk_id"`
	ImageID string `json:"image_id"`
	Page    int    `json:"page,omitempty"`
}

type paperEntry struct {
	Info       PaperInfo `json:"info"`
	Links      []Link    `json:"links,omitempty"`
	FeaturedID string    `json:"featured_id,omitempty"`
}

// Index is the in-memory relation table, persisted as a single JSON file.
type Index struct {
	mu     sync.RWMutex
	papers map[string]*paperEntry
	path   string
}

// NewIndex builds an empty index persisted at path. An empty path keeps
// the index memory-only.
func NewIndex(path string) *Index {
	return &Index{
		papers: make(map[string]*paperEntry),
		path:   path,
	}
}

// Load reads a previously saved index. A missing file yields an empty
// index, not an error.
func Load(path string) (*Index, error) {
	idx := NewIndex(path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read relation index: %w", err)
	}
	if err := json.Unmarshal(data, &idx.papers); err != nil {
		return nil, fmt.Errorf("corrupt relation index: %w", err)
	}
	return idx, nil
}

// Save writes the index to its path atomically.
func (idx *Index) Save() error {
	if idx.path == "" {
		return nil
	}
	idx.mu.RLock()
	data, err := json.MarshalIndent(idx.papers, "", "  ")
	idx.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := idx.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write relation index: %w", err)
	}
	return os.Rename(tmp, idx.path)
}

func (idx *Index) entry(paperID string) *paperEntry {
	e, ok := idx.papers[paperID]
	if !ok {
		e = &paperEntry{}
		idx.papers[paperID] = e
	}
	return e
}

// SetPaper records bibliographic info for a paper.
func (idx *Index) SetPaper(paperID string, info PaperInfo) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entry(paperID).Info = info
}

// Paper returns bibliographic info when known.
func (idx *Index) Paper(paperID string) (PaperInfo, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.papers[paperID]
	if !ok {
		return PaperInfo{}, false
	}
	return e.Info, true
}

// AddLink connects a text chunk with an image record of the same paper.
func (idx *Index) AddLink(paperID string, link Link) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	e := idx.entry(paperID)
	e.Links = append(e.Links, link)
}

// SetFeatured records the paper's key figure.
func (idx *Index) SetFeatured(paperID, imageID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entry(paperID).FeaturedID = imageID
}

// Featured returns the paper's key figure id when one was selected.
func (idx *Index) Featured(paperID string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.papers[paperID]
	if !ok || e.FeaturedID == "" {
		return "", false
	}
	return e.FeaturedID, true
}

// RelatedImages returns image ids linked to a chunk, at most limit.
func (idx *Index) RelatedImages(paperID, chunkID string, limit int) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.papers[paperID]
	if !ok {
		return nil
	}
	var out []string
	for _, l := range e.Links {
		if l.ChunkID == chunkID {
			out = append(out, l.ImageID)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// RelatedChunks returns text chunk ids linked to an image, at most limit.
func (idx *Index) RelatedChunks(paperID, imageID string, limit int) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.papers[paperID]
	if !ok {
		return nil
	}
	var out []string
	for _, l := range e.Links {
		if l.ImageID == imageID {
			out = append(out, l.ChunkID)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}
