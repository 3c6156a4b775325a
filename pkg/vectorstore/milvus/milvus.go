// Package milvus adapts a remote Milvus deployment to the vectorstore
// interfaces. It is the shared-index counterpart of the embedded local
// backend: same semantics, server-side ANN instead of an exact scan.
package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/refbase/refrag/pkg/vectorstore"
)

const (
	fieldID       = "id"
	fieldVector   = "vector"
	fieldText     = "text"
	fieldPaperID  = "paper_id"
	fieldModality = "modality"
	fieldMetadata = "metadata"

	// Milvus caps are generous, but writes are batched to keep each
	// request small.
	upsertBatchSize = 100
)

// Store is the Milvus-backed vector store.
type Store struct {
	client *milvusclient.Client
}

// Open connects to the Milvus deployment at address.
func Open(ctx context.Context, address string) (*Store, error) {
	cli, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", address, err)
	}
	slog.Info("[MILVUS] Connected", "address", address)
	return &Store{client: cli}, nil
}

// Collection opens or creates a Milvus collection and loads it for search.
func (s *Store) Collection(ctx context.Context, name string, dim int, metric vectorstore.Metric) (vectorstore.Collection, error) {
	if metric != vectorstore.MetricCosine {
		return nil, fmt.Errorf("unsupported metric %q", metric)
	}

	has, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return nil, fmt.Errorf("failed to check collection %q: %w", name, err)
	}

	if !has {
		if err := s.createCollection(ctx, name, dim); err != nil {
			return nil, err
		}
	} else {
		desc, err := s.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(name))
		if err != nil {
			return nil, fmt.Errorf("failed to describe collection %q: %w", name, err)
		}
		existing := vectorFieldDim(desc.Schema)
		if existing != 0 && existing != dim {
			return nil, fmt.Errorf("collection %q stored with dim %d, requested %d: %w",
				name, existing, dim, vectorstore.ErrDimensionMismatch)
		}
	}

	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %q: %w", name, err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return nil, fmt.Errorf("failed to await load of %q: %w", name, err)
	}

	return &Collection{client: s.client, name: name, dim: dim}, nil
}

func (s *Store) createCollection(ctx context.Context, name string, dim int) error {
	schema := entity.NewSchema().
		WithName(name).
		WithField(entity.NewField().
			WithName(fieldID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(255).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName(fieldVector).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim))).
		WithField(entity.NewField().
			WithName(fieldText).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(65535)).
		WithField(entity.NewField().
			WithName(fieldPaperID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(255)).
		WithField(entity.NewField().
			WithName(fieldModality).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(32)).
		WithField(entity.NewField().
			WithName(fieldMetadata).
			WithDataType(entity.FieldTypeJSON))

	if err := s.client.CreateCollection(ctx,
		milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}

	idxTask, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(
		name, fieldVector, index.NewHNSWIndex(entity.COSINE, 16, 200)))
	if err != nil {
		return fmt.Errorf("failed to create index on %q: %w", name, err)
	}
	if err := idxTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to await index on %q: %w", name, err)
	}

	slog.Info("[MILVUS] Collection created", "name", name, "dim", dim)
	return nil
}

func vectorFieldDim(schema *entity.Schema) int {
	if schema == nil {
		return 0
	}
	for _, f := range schema.Fields {
		if f.Name == fieldVector {
			if raw, ok := f.TypeParams[entity.TypeParamDim]; ok {
				if d, err := strconv.Atoi(raw); err == nil {
					return d
				}
			}
		}
	}
	return 0
}

func (s *Store) Close() error {
	return s.client.Close(context.Background())
}

// Collection is one Milvus collection seen through the vectorstore
// interface.
type Collection struct {
	client *milvusclient.Client
	name   string
	dim    int
}

func (c *Collection) Name() string { return c.name }
func (c *Collection) Dim() int     { return c.dim }

// Upsert implements vectorstore.Collection, writing in batches of at most
// upsertBatchSize records.
func (c *Collection) Upsert(ctx context.Context, records []vectorstore.Record) error {
	for _, r := range records {
		if len(r.Vector) != c.dim {
			return fmt.Errorf("record %q has dim %d, collection %q wants %d: %w",
				r.ID, len(r.Vector), c.name, c.dim, vectorstore.ErrDimensionMismatch)
		}
	}

	for _, batch := range splitBatches(records, upsertBatchSize) {
		cols, err := c.buildColumns(batch)
		if err != nil {
			return err
		}
		if _, err := c.client.Upsert(ctx,
			milvusclient.NewColumnBasedInsertOption(c.name, cols...)); err != nil {
			return fmt.Errorf("milvus upsert failed: %w", err)
		}
	}
	return nil
}

func (c *Collection) buildColumns(batch []vectorstore.Record) ([]column.Column, error) {
	n := len(batch)
	ids := make([]string, n)
	texts := make([]string, n)
	paperIDs := make([]string, n)
	modalities := make([]string, n)
	vectors := make([][]float32, n)
	metas := make([][]byte, n)

	for i, r := range batch {
		ids[i] = r.ID
		texts[i] = r.Text
		paperIDs[i] = r.Metadata[fieldPaperID]
		modalities[i] = r.Metadata[fieldModality]
		vectors[i] = r.Vector

		meta := map[string]string{}
		for k, v := range r.Metadata {
			if k == fieldPaperID || k == fieldModality {
				continue
			}
			meta[k] = v
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		metas[i] = data
	}

	return []column.Column{
		column.NewColumnVarChar(fieldID, ids),
		column.NewColumnFloatVector(fieldVector, c.dim, vectors),
		column.NewColumnVarChar(fieldText, texts),
		column.NewColumnVarChar(fieldPaperID, paperIDs),
		column.NewColumnVarChar(fieldModality, modalities),
		column.NewColumnJSONBytes(fieldMetadata, metas),
	}, nil
}

// Query implements vectorstore.Collection. Milvus returns COSINE
// similarity directly, which matches the normalized scale.
func (c *Collection) Query(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if len(vector) != c.dim {
		return nil, fmt.Errorf("query vector has dim %d, collection %q wants %d: %w",
			len(vector), c.name, c.dim, vectorstore.ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	opt := milvusclient.NewSearchOption(c.name, k, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(fieldVector).
		WithOutputFields(fieldText, fieldPaperID, fieldModality, fieldMetadata)
	if expr := filterExpr(filter); expr != "" {
		opt = opt.WithFilter(expr)
	}

	results, err := c.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	var matches []vectorstore.Match
	for _, rs := range results {
		for i := 0; i < rs.IDs.Len(); i++ {
			id, err := rs.IDs.GetAsString(i)
			if err != nil {
				return nil, err
			}
			m := vectorstore.Match{
				ID:       id,
				Score:    float64(rs.Scores[i]),
				Metadata: map[string]string{},
			}
			if col := rs.GetColumn(fieldText); col != nil {
				m.Text, _ = col.GetAsString(i)
			}
			if col := rs.GetColumn(fieldPaperID); col != nil {
				if v, err := col.GetAsString(i); err == nil && v != "" {
					m.Metadata[fieldPaperID] = v
				}
			}
			if col := rs.GetColumn(fieldModality); col != nil {
				if v, err := col.GetAsString(i); err == nil && v != "" {
					m.Metadata[fieldModality] = v
				}
			}
			if col := rs.GetColumn(fieldMetadata); col != nil {
				if raw, err := col.GetAsString(i); err == nil && raw != "" {
					var meta map[string]string
					if json.Unmarshal([]byte(raw), &meta) == nil {
						for k, v := range meta {
							m.Metadata[k] = v
						}
					}
				}
			}
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// Get implements vectorstore.Collection.
func (c *Collection) Get(ctx context.Context, id string) (vectorstore.Record, error) {
	rs, err := c.client.Query(ctx, milvusclient.NewQueryOption(c.name).
		WithFilter(fmt.Sprintf("%s == %s", fieldID, quote(id))).
		WithOutputFields(fieldID, fieldText, fieldPaperID, fieldModality, fieldMetadata).
		WithLimit(1))
	if err != nil {
		return vectorstore.Record{}, fmt.Errorf("milvus query failed: %w", err)
	}
	if rs.ResultCount == 0 {
		return vectorstore.Record{}, fmt.Errorf("id %q: %w", id, vectorstore.ErrNotFound)
	}

	rec := recordAt(rs, 0)
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

// Fetch implements vectorstore.Collection. An empty filter matches every
// record.
func (c *Collection) Fetch(ctx context.Context, filter vectorstore.Filter) ([]vectorstore.Record, error) {
	expr := filterExpr(filter)
	if expr == "" {
		expr = fmt.Sprintf(`%s != ""`, fieldID)
	}
	rs, err := c.client.Query(ctx, milvusclient.NewQueryOption(c.name).
		WithFilter(expr).
		WithOutputFields(fieldID, fieldText, fieldPaperID, fieldModality, fieldMetadata))
	if err != nil {
		return nil, fmt.Errorf("milvus query failed: %w", err)
	}

	out := make([]vectorstore.Record, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		out = append(out, recordAt(rs, i))
	}
	return out, nil
}

// recordAt rebuilds one record from a query result set row.
func recordAt(rs milvusclient.ResultSet, i int) vectorstore.Record {
	rec := vectorstore.Record{Metadata: map[string]string{}}
	if col := rs.GetColumn(fieldID); col != nil {
		rec.ID, _ = col.GetAsString(i)
	}
	if col := rs.GetColumn(fieldText); col != nil {
		rec.Text, _ = col.GetAsString(i)
	}
	if col := rs.GetColumn(fieldPaperID); col != nil {
		if v, err := col.GetAsString(i); err == nil && v != "" {
			rec.Metadata[fieldPaperID] = v
		}
	}
	if col := rs.GetColumn(fieldModality); col != nil {
		if v, err := col.GetAsString(i); err == nil && v != "" {
			rec.Metadata[fieldModality] = v
		}
	}
	if col := rs.GetColumn(fieldMetadata); col != nil {
		if raw, err := col.GetAsString(i); err == nil && raw != "" {
			var meta map[string]string
			if json.Unmarshal([]byte(raw), &meta) == nil {
				for k, v := range meta {
					rec.Metadata[k] = v
				}
			}
		}
	}
	return rec
}

// Count implements vectorstore.Collection.
func (c *Collection) Count(ctx context.Context) (int64, error) {
	rs, err := c.client.Query(ctx, milvusclient.NewQueryOption(c.name).
		WithOutputFields("count(*)"))
	if err != nil {
		return 0, fmt.Errorf("milvus count failed: %w", err)
	}
	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, nil
	}
	n, err := col.GetAsInt64(0)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// splitBatches cuts records into slices of at most size elements.
func splitBatches(records []vectorstore.Record, size int) [][]vectorstore.Record {
	if size <= 0 || len(records) == 0 {
		return nil
	}
	var batches [][]vectorstore.Record
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

// filterExpr renders an exact-match filter as a Milvus boolean expression.
// Dedicated schema fields compare directly; everything else goes through
// the JSON metadata field.
func filterExpr(filter vectorstore.Filter) string {
	if len(filter) == 0 {
		return ""
	}
	var parts []string
	for _, k := range sortedKeys(filter) {
		v := quote(filter[k])
		switch k {
		case fieldPaperID, fieldModality, fieldID:
			parts = append(parts, fmt.Sprintf("%s == %s", k, v))
		default:
			parts = append(parts, fmt.Sprintf("%s[%s] == %s", fieldMetadata, quote(k), v))
		}
	}
	return strings.Join(parts, " and ")
}

func sortedKeys(filter vectorstore.Filter) []string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	// Deterministic expressions keep logs and tests stable.
	sort.Strings(keys)
	return keys
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
