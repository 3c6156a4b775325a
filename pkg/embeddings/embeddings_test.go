package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOllamaEmbedderBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("unexpected model: %s", req.Model)
		}
		out := make([][]float32, len(req.Input))
		for i := range out {
			out[i] = []float32{float32(i), 1, 0}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": out})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 3, time.Second)
	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Fatalf("unexpected shape: %d x %d", len(vecs), len(vecs[0]))
	}
	if vecs[1][0] != 1 {
		t.Errorf("batch order lost: %v", vecs[1])
	}
}

func TestOllamaEmbedderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "missing", 3, time.Second)
	if _, err := e.EmbedTexts(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestOpenAIEmbedderReorders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("missing auth header, got %q", got)
		}
		// Entries deliberately out of order.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{2, 2}},
				{"index": 0, "embedding": []float32{1, 1}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "text-embedding-3-small", "sk-test", 2, time.Second)
	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedTexts: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("results not restored to input order: %v", vecs)
	}
}

func TestCLIPEmbedderZeroVectorForUnreadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req clipRequest
		json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, len(req.Images))
		for i := range out {
			out[i] = []float32{1, 2, 3, 4}
		}
		json.NewEncoder(w).Encode(clipResponse{Embeddings: out})
	}))
	defer srv.Close()

	dir := t.TempDir()
	good := filepath.Join(dir, "fig.png")
	if err := os.WriteFile(good, []byte("not-a-real-png-but-readable"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "nope.png")

	e := NewCLIPEmbedder(srv.URL, 4, time.Second)
	vecs, err := e.EmbedImages(context.Background(), []string{good, missing})
	if err != nil {
		t.Fatalf("EmbedImages: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 1 {
		t.Errorf("readable image should get a service vector: %v", vecs[0])
	}
	for _, v := range vecs[1] {
		if v != 0 {
			t.Fatalf("unreadable image should get a zero vector: %v", vecs[1])
		}
	}
	if len(vecs[1]) != 4 {
		t.Errorf("zero vector has wrong dim: %d", len(vecs[1]))
	}
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	e := NewOllamaEmbedder("http://unused", "m", 3, time.Second)
	vecs, err := e.EmbedTexts(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("empty input should be a no-op, got %v, %v", vecs, err)
	}
}
