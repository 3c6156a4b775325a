// Package vectorstore defines the storage abstraction the retrieval core
// is built on, with an embedded local backend and a Milvus-backed remote
// one behind the same interface.
//
// Scores are normalized so every backend reports cosine similarity in
// [0, 1] with higher meaning closer, regardless of whether the engine
// natively returns distances or similarities.
package vectorstore

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a vector's dimensionality does not
// match the collection it is written to or queried against, or when an
// existing collection is reopened with a different dimension.
var ErrDimensionMismatch = errors.New("vectorstore: vector dimension does not match collection")

// ErrNotFound is returned by Get for an id with no record.
var ErrNotFound = errors.New("vectorstore: record not found")

// Metric names a similarity metric. Cosine is the only metric the
// retrieval core uses.
type Metric string

const MetricCosine Metric = "cosine"

// Record is one stored vector with its payload.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// Match is one query hit. Score is normalized cosine similarity, higher
// is closer.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]string
}

// Filter restricts a query to records whose metadata matches every listed
// key exactly.
type Filter map[string]string

// Collection is one named set of same-dimension vectors.
type Collection interface {
	Name() string
	Dim() int

	// Upsert writes records, replacing any existing record with the same
	// id. Re-writing identical records leaves the count unchanged.
	Upsert(ctx context.Context, records []Record) error

	// Query returns the k nearest records to the query vector, best
	// first. A nil filter matches everything.
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Match, error)

	// Get fetches one record by id.
	Get(ctx context.Context, id string) (Record, error)

	// Fetch returns the raw records whose metadata matches the filter.
	// A nil filter fetches everything.
	Fetch(ctx context.Context, filter Filter) ([]Record, error)

	// Count reports the number of stored records.
	Count(ctx context.Context) (int64, error)
}

// Store is a vector store backend holding named collections.
type Store interface {
	// Collection opens or creates a collection with the given dimension
	// and metric. Opening an existing collection with a different
	// dimension fails with ErrDimensionMismatch.
	Collection(ctx context.Context, name string, dim int, metric Metric) (Collection, error)

	Close() error
}
