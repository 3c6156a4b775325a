package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Define global variables for metrics.
// We use 'promauto' which automatically registers metrics without complex initialization.

var (
	// 1. Papers Processed (Counter)
	// Counts ingestion outcomes, labeled by status (ok, failed, skipped).
	PapersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refrag_papers_processed_total",
			Help: "Total number of papers run through the ingestion pipeline",
		},
		[]string{"status"},
	)

	// 2. Chunks Stored (Counter)
	// Counts indexed records by modality (text, caption, image).
	ChunksStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refrag_chunks_stored_total",
			Help: "Total number of records written to the vector store",
		},
		[]string{"modality"},
	)

	// 3. Extraction Failures (Counter)
	ExtractionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refrag_extraction_failures_total",
			Help: "Total number of PDF extraction failures",
		},
		[]string{"stage"}, // text, images, captions
	)

	// 4. Embedding Duration (Histogram)
	// Batch embedding calls dominate ingestion time.
	EmbedDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refrag_embed_duration_seconds",
			Help:    "Duration of embedding service calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"modality"},
	)

	// 5. Query Duration (Histogram)
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refrag_query_duration_seconds",
			Help:    "Duration of retrieval queries in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)

	// 6. Stored Vectors (Gauge)
	// Tracks collection sizes, refreshed after each ingestion batch.
	TotalVectors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "refrag_vectors_total",
			Help: "Total number of indexed vectors",
		},
		[]string{"collection"},
	)
)
