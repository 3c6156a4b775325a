package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/refbase/refrag/pkg/relations"
)

// Item is one paper queued for batch ingestion.
type Item struct {
	PaperID string
	Path    string
	Info    relations.PaperInfo
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Processed int
	Failed    int
	// Errors holds the per-paper failures, keyed by paper id.
	Errors map[string]error
}

// ProcessBatch ingests papers concurrently with a bounded worker pool.
// One paper failing does not stop the batch; cancellation of ctx stops
// scheduling new papers and the result reports what was done.
func (p *Pipeline) ProcessBatch(ctx context.Context, items []Item, workers int) BatchResult {
	if workers <= 0 {
		workers = 2
	}
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan Item)
	var mu sync.Mutex
	res := BatchResult{Errors: make(map[string]error)}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				err := p.ProcessPDF(ctx, item.PaperID, item.Path, item.Info, false)
				mu.Lock()
				if err != nil {
					res.Failed++
					res.Errors[item.PaperID] = err
					slog.Error("[INGEST] Paper failed", "paper", item.PaperID, "error", err)
				} else {
					res.Processed++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case <-ctx.Done():
			slog.Warn("[INGEST] Batch cancelled", "remaining", len(items)-res.Processed-res.Failed)
			break feed
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	slog.Info("[INGEST] Batch finished", "processed", res.Processed, "failed", res.Failed)
	return res
}
