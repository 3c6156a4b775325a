package embeddings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// CLIPEmbedder talks to a CLIP embedding service that projects text and
// images into a shared vector space. Text queries against image vectors
// only work when both sides come from the same model.
type CLIPEmbedder struct {
	URL    string
	Client *http.Client

	dim int
}

func NewCLIPEmbedder(url string, dim int, timeout time.Duration) *CLIPEmbedder {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &CLIPEmbedder{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
		dim:    dim,
	}
}

func (e *CLIPEmbedder) Dim() int { return e.dim }

type clipRequest struct {
	Texts  []string `json:"texts,omitempty"`
	Images []string `json:"images,omitempty"`
}

type clipResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *CLIPEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.post(ctx, clipRequest{Texts: texts}, len(texts))
}

// EmbedImages embeds local image files. A file that cannot be read is
// replaced with a zero vector so the rest of the batch is not lost; the
// service is expected to do the same for images it cannot decode.
func (e *CLIPEmbedder) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	encoded := make([]string, 0, len(paths))
	skipped := make(map[int]bool)
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("[CLIP] Unreadable image, using zero vector", "path", p, "error", err)
			skipped[i] = true
			encoded = append(encoded, "")
			continue
		}
		encoded = append(encoded, base64.StdEncoding.EncodeToString(data))
	}

	sent := make([]string, 0, len(encoded))
	for i, s := range encoded {
		if !skipped[i] {
			sent = append(sent, s)
		}
	}

	var vectors [][]float32
	if len(sent) > 0 {
		var err error
		vectors, err = e.post(ctx, clipRequest{Images: sent}, len(sent))
		if err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(paths))
	vi := 0
	for i := range paths {
		if skipped[i] {
			out[i] = make([]float32, e.dim)
			continue
		}
		out[i] = vectors[vi]
		vi++
	}
	return out, nil
}

func (e *CLIPEmbedder) post(ctx context.Context, reqBody clipRequest, want int) ([][]float32, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clip request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clip service returned status: %s", resp.Status)
	}

	var clipResp clipResponse
	if err := json.NewDecoder(resp.Body).Decode(&clipResp); err != nil {
		return nil, fmt.Errorf("failed to decode clip response: %w", err)
	}

	if len(clipResp.Embeddings) != want {
		return nil, fmt.Errorf("clip service returned %d embeddings for %d inputs", len(clipResp.Embeddings), want)
	}
	return clipResp.Embeddings, nil
}
