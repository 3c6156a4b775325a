// Package embeddings contains clients for the embedding services used to
// vectorize paper chunks and figures.
//
// Text embedders speak to Ollama or an OpenAI-compatible endpoint; image
// embedding goes through a CLIP service. All clients take a context so
// callers can bound or cancel in-flight requests.
package embeddings

import "context"

// Embedder converts text into vector representations.
type Embedder interface {
	// EmbedTexts embeds a batch of texts, one vector per input, in order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// Dim is the dimensionality of the vectors this embedder produces.
	Dim() int
}

// ImageEmbedder additionally embeds images into the same vector space as
// its text side, so a text query can retrieve figures.
type ImageEmbedder interface {
	Embedder
	// EmbedImages embeds image files by path, one vector per input, in
	// order. A vector may be all zeros when that single image could not
	// be read or decoded; the batch itself still succeeds.
	EmbedImages(ctx context.Context, paths []string) ([][]float32, error)
}
