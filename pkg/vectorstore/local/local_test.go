package local

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/refbase/refrag/pkg/vectorstore"
)

func openCollection(t *testing.T, dir string, dim int) vectorstore.Collection {
	t.Helper()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	c, err := s.Collection(context.Background(), "chunks", dim, vectorstore.MetricCosine)
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	return c
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, t.TempDir(), 3)

	recs := []vectorstore.Record{
		{ID: "a", Vector: []float32{1, 0, 0}, Text: "alpha"},
		{ID: "b", Vector: []float32{0, 1, 0}, Text: "beta"},
	}
	for i := 0; i < 3; i++ {
		if err := c.Upsert(ctx, recs); err != nil {
			t.Fatalf("Upsert round %d: %v", i, err)
		}
	}

	n, err := c.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 records after repeated upserts, got %d", n)
	}
}

func TestQueryScoreNormalization(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, t.TempDir(), 3)

	if err := c.Upsert(ctx, []vectorstore.Record{
		{ID: "same", Vector: []float32{1, 0, 0}},
		{ID: "orthogonal", Vector: []float32{0, 1, 0}},
	}); err != nil {
		t.Fatal(err)
	}

	matches, err := c.Query(ctx, []float32{1, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "same" {
		t.Errorf("best match should be the identical vector, got %s", matches[0].ID)
	}
	if math.Abs(matches[0].Score-1.0) > 1e-6 {
		t.Errorf("identical vector should score 1.0, got %f", matches[0].Score)
	}
	if math.Abs(matches[1].Score-0.0) > 1e-6 {
		t.Errorf("orthogonal vector should score 0.0, got %f", matches[1].Score)
	}
	for _, m := range matches {
		if m.Score < 0 || m.Score > 1 {
			t.Errorf("score out of [0,1]: %f", m.Score)
		}
	}
}

func TestQueryFilter(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, t.TempDir(), 2)

	if err := c.Upsert(ctx, []vectorstore.Record{
		{ID: "p1c0", Vector: []float32{1, 0}, Metadata: map[string]string{"paper_id": "p1"}},
		{ID: "p2c0", Vector: []float32{1, 0}, Metadata: map[string]string{"paper_id": "p2"}},
	}); err != nil {
		t.Fatal(err)
	}

	matches, err := c.Query(ctx, []float32{1, 0}, 10, vectorstore.Filter{"paper_id": "p2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ID != "p2c0" {
		t.Errorf("filter not applied: %+v", matches)
	}
}

func TestJournalReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	c, err := s.Collection(ctx, "chunks", 2, vectorstore.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Upsert(ctx, []vectorstore.Record{
		{ID: "a", Vector: []float32{1, 0}, Text: "first"},
		{ID: "a", Vector: []float32{0, 1}, Text: "rewritten"},
		{ID: "b", Vector: []float32{1, 1}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	c2, err := s2.Collection(ctx, "chunks", 2, vectorstore.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}

	n, _ := c2.Count(ctx)
	if n != 2 {
		t.Errorf("expected 2 records after reload, got %d", n)
	}
	rec, err := c2.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Text != "rewritten" {
		t.Errorf("later journal entry should win on replay, got %q", rec.Text)
	}
}

func TestReopenWithDifferentDim(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Collection(ctx, "chunks", 4, vectorstore.MetricCosine); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	_, err = s2.Collection(ctx, "chunks", 8, vectorstore.MetricCosine)
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestUpsertWrongDim(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, t.TempDir(), 3)

	err := c.Upsert(ctx, []vectorstore.Record{{ID: "x", Vector: []float32{1, 0}}})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestFetchByFilter(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, t.TempDir(), 2)

	if err := c.Upsert(ctx, []vectorstore.Record{
		{ID: "p1c0", Vector: []float32{1, 0}, Text: "one", Metadata: map[string]string{"paper_id": "p1"}},
		{ID: "p1c1", Vector: []float32{0, 1}, Text: "two", Metadata: map[string]string{"paper_id": "p1"}},
		{ID: "p2c0", Vector: []float32{1, 1}, Metadata: map[string]string{"paper_id": "p2"}},
	}); err != nil {
		t.Fatal(err)
	}

	recs, err := c.Fetch(ctx, vectorstore.Filter{"paper_id": "p1"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records for p1, got %d", len(recs))
	}
	for _, r := range recs {
		if len(r.Vector) != 2 {
			t.Errorf("record %s returned without its vector", r.ID)
		}
	}

	all, err := c.Fetch(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("nil filter should fetch everything, got %d", len(all))
	}
}

func TestGetMissing(t *testing.T) {
	c := openCollection(t, t.TempDir(), 2)
	_, err := c.Get(context.Background(), "ghost")
	if !errors.Is(err, vectorstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
