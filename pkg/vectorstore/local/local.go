// Package local implements an embedded vector store backed by an ordered
// in-memory index and an append-only journal on disk.
//
// Queries are exact cosine scans over the index; there is no ANN
// structure, so results are always exact.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/floats"

	"github.com/refbase/refrag/pkg/vectorstore"
)

// Store is the embedded backend. Each collection lives in its own
// directory under the store root with a meta file and a journal.
type Store struct {
	root string

	mu          sync.Mutex
	collections map[string]*Collection
}

// Open opens or creates a local store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}
	return &Store{
		root:        dir,
		collections: make(map[string]*Collection),
	}, nil
}

type collectionMeta struct {
	Dim    int    `json:"dim"`
	Metric string `json:"metric"`
}

// Collection opens or creates a named collection. An existing collection
// reopened with a different dimension fails eagerly with
// ErrDimensionMismatch rather than on first write.
func (s *Store) Collection(ctx context.Context, name string, dim int, metric vectorstore.Metric) (vectorstore.Collection, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d for collection %q", dim, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		if c.dim != dim {
			return nil, fmt.Errorf("collection %q has dim %d, requested %d: %w",
				name, c.dim, dim, vectorstore.ErrDimensionMismatch)
		}
		return c, nil
	}

	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	metaPath := filepath.Join(dir, "meta.json")
	if data, err := os.ReadFile(metaPath); err == nil {
		var meta collectionMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("corrupt meta for collection %q: %w", name, err)
		}
		if meta.Dim != dim {
			return nil, fmt.Errorf("collection %q stored with dim %d, requested %d: %w",
				name, meta.Dim, dim, vectorstore.ErrDimensionMismatch)
		}
	} else {
		meta := collectionMeta{Dim: dim, Metric: string(metric)}
		data, _ := json.Marshal(meta)
		if err := os.WriteFile(metaPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write meta for collection %q: %w", name, err)
		}
	}

	c := &Collection{
		name: name,
		dim:  dim,
		path: filepath.Join(dir, "journal.jsonl"),
	}
	if err := c.replay(); err != nil {
		return nil, fmt.Errorf("failed to replay journal for %q: %w", name, err)
	}

	s.collections[name] = c
	slog.Debug("[STORE] Collection opened", "name", name, "dim", dim, "records", c.records.Len())
	return c, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections {
		if err := c.close(); err != nil {
			return err
		}
	}
	s.collections = nil
	return nil
}

// record is the resident form. The float64 copy of the vector feeds the
// cosine kernel without a per-query conversion.
type record struct {
	vec      []float64
	text     string
	metadata map[string]string
}

// Collection is one named set of vectors, fully resident in memory and
// journaled to disk.
type Collection struct {
	name string
	dim  int
	path string

	mu      sync.RWMutex
	records btree.Map[string, *record]
	journal *os.File
}

func (c *Collection) Name() string { return c.name }
func (c *Collection) Dim() int     { return c.dim }

// journalEntry is one line of the on-disk journal. Later entries for the
// same id overwrite earlier ones on replay, so replay is idempotent and a
// re-ingested record costs one line, not a rewrite.
type journalEntry struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Text     string            `json:"text,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (c *Collection) replay() error {
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(f)
	for dec.More() {
		var e journalEntry
		if err := dec.Decode(&e); err != nil {
			// A torn final line from a crash is dropped, everything
			// before it is intact.
			slog.Warn("[STORE] Journal truncated, dropping tail", "collection", c.name, "error", err)
			break
		}
		if len(e.Vector) != c.dim {
			slog.Warn("[STORE] Skipping journal entry with wrong dim", "collection", c.name, "id", e.ID)
			continue
		}
		c.records.Set(e.ID, &record{
			vec:      toFloat64(e.Vector),
			text:     e.Text,
			metadata: e.Metadata,
		})
	}

	if _, err := f.Seek(0, 2); err != nil {
		f.Close()
		return err
	}
	c.journal = f
	return nil
}

func (c *Collection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.journal == nil {
		return nil
	}
	err := c.journal.Close()
	c.journal = nil
	return err
}

// Upsert implements vectorstore.Collection.
func (c *Collection) Upsert(ctx context.Context, records []vectorstore.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(r.Vector) != c.dim {
			return fmt.Errorf("record %q has dim %d, collection %q wants %d: %w",
				r.ID, len(r.Vector), c.name, c.dim, vectorstore.ErrDimensionMismatch)
		}

		entry := journalEntry{ID: r.ID, Vector: r.Vector, Text: r.Text, Metadata: r.Metadata}
		line, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if _, err := c.journal.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("journal write failed: %w", err)
		}

		c.records.Set(r.ID, &record{
			vec:      toFloat64(r.Vector),
			text:     r.Text,
			metadata: r.Metadata,
		})
	}
	return c.journal.Sync()
}

// Query implements vectorstore.Collection with an exact cosine scan.
func (c *Collection) Query(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if len(vector) != c.dim {
		return nil, fmt.Errorf("query vector has dim %d, collection %q wants %d: %w",
			len(vector), c.name, c.dim, vectorstore.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	q := toFloat64(vector)
	qNorm := floats.Norm(q, 2)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var matches []vectorstore.Match
	var scanErr error
	c.records.Scan(func(id string, r *record) bool {
		if err := ctx.Err(); err != nil {
			scanErr = err
			return false
		}
		if !matchesFilter(r.metadata, filter) {
			return true
		}
		matches = append(matches, vectorstore.Match{
			ID:       id,
			Score:    cosineScore(q, qNorm, r.vec),
			Text:     r.text,
			Metadata: r.metadata,
		})
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Get implements vectorstore.Collection.
func (c *Collection) Get(ctx context.Context, id string) (vectorstore.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.records.Get(id)
	if !ok {
		return vectorstore.Record{}, fmt.Errorf("id %q: %w", id, vectorstore.ErrNotFound)
	}
	return vectorstore.Record{
		ID:       id,
		Vector:   toFloat32(r.vec),
		Text:     r.text,
		Metadata: r.metadata,
	}, nil
}

// Fetch implements vectorstore.Collection with a filtered scan.
func (c *Collection) Fetch(ctx context.Context, filter vectorstore.Filter) ([]vectorstore.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []vectorstore.Record
	var scanErr error
	c.records.Scan(func(id string, r *record) bool {
		if err := ctx.Err(); err != nil {
			scanErr = err
			return false
		}
		if !matchesFilter(r.metadata, filter) {
			return true
		}
		out = append(out, vectorstore.Record{
			ID:       id,
			Vector:   toFloat32(r.vec),
			Text:     r.text,
			Metadata: r.metadata,
		})
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// Count implements vectorstore.Collection.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(c.records.Len()), nil
}

func matchesFilter(metadata map[string]string, filter vectorstore.Filter) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// cosineScore returns cosine similarity clamped to [0, 1]. The engine
// works in distance form internally (1 - cos) and reports 1 - distance,
// so zero vectors score 0, not NaN.
func cosineScore(q []float64, qNorm float64, v []float64) float64 {
	vNorm := floats.Norm(v, 2)
	if qNorm == 0 || vNorm == 0 {
		return 0
	}
	cos := floats.Dot(q, v) / (qNorm * vNorm)
	dist := 1 - cos
	score := 1 - dist
	return math.Max(0, math.Min(1, score))
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
