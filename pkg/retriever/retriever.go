// Package retriever implements hybrid search over text and image vectors
// with per-paper score fusion.
//
// A query embeds once per modality, searches each available collection,
// groups hits by paper and fuses the per-modality best scores into one
// combined score per paper. Results come back paper-ranked: the paper's
// best text chunk, plus its best image when the image evidence is at
// least as strong as the text evidence.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/refbase/refrag/pkg/embeddings"
	"github.com/refbase/refrag/pkg/relations"
	"github.com/refbase/refrag/pkg/vectorstore"
)

// Mode selects which modalities a query searches.
type Mode string

const (
	ModeText   Mode = "text"
	ModeImage  Mode = "image"
	ModeHybrid Mode = "hybrid"
)

// Default modality weights for hybrid fusion.
const (
	DefaultTextWeight  = 0.65
	DefaultImageWeight = 0.35
)

// overfetchFactor widens each per-modality search so per-paper grouping
// still has k papers to choose from after deduplication.
const overfetchFactor = 2

// Query is one retrieval request. Either Text or ImagePath must be set;
// an image path queries the image collection through the shared embedding
// space (image-to-image search).
type Query struct {
	Text        string
	ImagePath   string
	Mode        Mode
	K           int
	TextWeight  float64
	ImageWeight float64
	// PaperID restricts the search to one paper when set.
	PaperID string
}

// RelatedItem is a cross-modal record attached to a result for context.
type RelatedItem struct {
	ID       string
	Modality string
	Text     string
}

// Result is one emitted hit.
type Result struct {
	ID            string
	PaperID       string
	Modality      string
	Text          string
	Score         float64
	CombinedScore float64
	Metadata      map[string]string
	Related       []RelatedItem
	Paper         *relations.PaperInfo
}

// Searcher runs hybrid queries against the text and image collections.
// Either collection may be absent; queries over a missing modality return
// empty results instead of failing, so a text-only deployment still
// serves text queries.
type Searcher struct {
	texts    vectorstore.Collection
	images   vectorstore.Collection
	textEmb  embeddings.Embedder
	imageEmb embeddings.Embedder
	rel      *relations.Index
}

// NewSearcher wires a searcher from whatever components are available.
// Missing pieces degrade the corresponding modality rather than erroring.
func NewSearcher(texts, images vectorstore.Collection, textEmb, imageEmb embeddings.Embedder, rel *relations.Index) *Searcher {
	if texts == nil || textEmb == nil {
		slog.Warn("[SEARCH] Text modality unavailable")
	}
	if images == nil || imageEmb == nil {
		slog.Warn("[SEARCH] Image modality unavailable")
	}
	if rel == nil {
		rel = relations.NewIndex("")
	}
	return &Searcher{
		texts:    texts,
		images:   images,
		textEmb:  textEmb,
		imageEmb: imageEmb,
		rel:      rel,
	}
}

// Search runs the query. Hybrid mode returns paper-ranked results with
// fused scores; single-modality modes sort by weighted score directly.
func (s *Searcher) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Text == "" && q.ImagePath == "" {
		return nil, fmt.Errorf("query needs text or an image path")
	}
	if q.K <= 0 {
		q.K = 5
	}
	if q.Mode == "" {
		q.Mode = ModeHybrid
	}
	if q.TextWeight <= 0 && q.ImageWeight <= 0 {
		q.TextWeight = DefaultTextWeight
		q.ImageWeight = DefaultImageWeight
	}

	fetch := q.K * overfetchFactor

	var textHits, imageHits []vectorstore.Match
	var err error
	if (q.Mode == ModeText || q.Mode == ModeHybrid) && q.Text != "" {
		textHits, err = s.searchModality(ctx, s.texts, s.textEmb, q, fetch)
		if err != nil {
			return nil, fmt.Errorf("text search failed: %w", err)
		}
	}
	if q.Mode == ModeImage || q.Mode == ModeHybrid {
		imageHits, err = s.searchModality(ctx, s.images, s.imageEmb, q, fetch)
		if err != nil {
			return nil, fmt.Errorf("image search failed: %w", err)
		}
	}

	var results []Result
	if q.Mode == ModeHybrid {
		papers := groupByPaper(textHits, imageHits)
		fused := fuseScores(papers, q.TextWeight, q.ImageWeight)
		results = s.emit(ctx, fused, q.K)
	} else {
		results = s.emitFlat(ctx, q, textHits, imageHits)
	}

	slog.Debug("[SEARCH] Query served",
		"mode", q.Mode, "text_hits", len(textHits), "image_hits", len(imageHits), "results", len(results))
	return results, nil
}

// searchModality embeds the query for one collection and searches it.
// A missing collection or embedder yields no hits. An image-path query
// against the image collection embeds the image itself; everything else
// goes through the shared text side of the embedding space.
func (s *Searcher) searchModality(ctx context.Context, col vectorstore.Collection, emb embeddings.Embedder, q Query, k int) ([]vectorstore.Match, error) {
	if col == nil || emb == nil {
		return nil, nil
	}

	var vec []float32
	if col == s.images && q.ImagePath != "" {
		ie, ok := emb.(embeddings.ImageEmbedder)
		if !ok {
			return nil, fmt.Errorf("image queries need an image-capable embedder")
		}
		vecs, err := ie.EmbedImages(ctx, []string{q.ImagePath})
		if err != nil {
			return nil, fmt.Errorf("query image embedding failed: %w", err)
		}
		vec = vecs[0]
	} else {
		if q.Text == "" {
			return nil, nil
		}
		vecs, err := emb.EmbedTexts(ctx, []string{q.Text})
		if err != nil {
			return nil, fmt.Errorf("query embedding failed: %w", err)
		}
		vec = vecs[0]
	}

	var filter vectorstore.Filter
	if q.PaperID != "" {
		filter = vectorstore.Filter{"paper_id": q.PaperID}
	}
	return col.Query(ctx, vec, k, filter)
}

// emitFlat renders single-modality results: weighted scores, no per-paper
// grouping.
func (s *Searcher) emitFlat(ctx context.Context, q Query, textHits, imageHits []vectorstore.Match) []Result {
	var results []Result
	for _, m := range textHits {
		results = append(results, s.flatResult(ctx, m, "text", q.TextWeight))
	}
	for _, m := range imageHits {
		results = append(results, s.flatResult(ctx, m, "image", q.ImageWeight))
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > q.K {
		results = results[:q.K]
	}
	return results
}

func (s *Searcher) flatResult(ctx context.Context, m vectorstore.Match, modality string, weight float64) Result {
	paperID := m.Metadata["paper_id"]
	if paperID == "" {
		paperID = m.ID
	}
	r := Result{
		ID:       m.ID,
		PaperID:  paperID,
		Modality: modality,
		Text:     m.Text,
		Score:    m.Score * weight,
		Metadata: m.Metadata,
	}
	r.CombinedScore = r.Score
	if pi, ok := s.rel.Paper(paperID); ok {
		r.Paper = &pi
	}
	r.Related = s.related(ctx, paperID, m.ID, modality)
	return r
}

// paperHits collects one paper's evidence across both modalities.
type paperHits struct {
	paperID   string
	bestText  *vectorstore.Match
	bestImage *vectorstore.Match
	textHits  int
	imageHits int
}

type fusedPaper struct {
	paperHits
	combined float64
}

func groupByPaper(textHits, imageHits []vectorstore.Match) map[string]*paperHits {
	papers := make(map[string]*paperHits)
	get := func(m vectorstore.Match) *paperHits {
		pid := m.Metadata["paper_id"]
		if pid == "" {
			pid = m.ID
		}
		p, ok := papers[pid]
		if !ok {
			p = &paperHits{paperID: pid}
			papers[pid] = p
		}
		return p
	}

	for i := range textHits {
		p := get(textHits[i])
		p.textHits++
		if p.bestText == nil || textHits[i].Score > p.bestText.Score {
			p.bestText = &textHits[i]
		}
	}
	for i := range imageHits {
		p := get(imageHits[i])
		p.imageHits++
		if p.bestImage == nil || imageHits[i].Score > p.bestImage.Score {
			p.bestImage = &imageHits[i]
		}
	}
	return papers
}

// fuseScores combines each paper's per-modality best scores into one
// score: the weighted mean over the modalities the paper actually has.
// A paper with only text evidence is not penalized for lacking images,
// so a strong single-modality hit can outrank a weaker multi-modal one.
func fuseScores(papers map[string]*paperHits, textWeight, imageWeight float64) []fusedPaper {
	fused := make([]fusedPaper, 0, len(papers))
	for _, p := range papers {
		var weighted, weights float64
		if p.bestText != nil {
			weighted += textWeight * p.bestText.Score
			weights += textWeight
		}
		if p.bestImage != nil {
			weighted += imageWeight * p.bestImage.Score
			weights += imageWeight
		}
		if weights == 0 {
			continue
		}
		fused = append(fused, fusedPaper{paperHits: *p, combined: weighted / weights})
	}
	sort.SliceStable(fused, func(a, b int) bool {
		if fused[a].combined != fused[b].combined {
			return fused[a].combined > fused[b].combined
		}
		return fused[a].paperID < fused[b].paperID
	})
	return fused
}

// emit renders up to k papers as results: the best text hit, plus the
// best image hit when image evidence is at least as frequent as text
// evidence or there is no text hit at all.
func (s *Searcher) emit(ctx context.Context, fused []fusedPaper, k int) []Result {
	var results []Result
	for _, p := range fused {
		if len(results) >= k {
			break
		}
		var info *relations.PaperInfo
		if pi, ok := s.rel.Paper(p.paperID); ok {
			info = &pi
		}

		if p.bestText != nil {
			results = append(results, s.buildResult(ctx, p, *p.bestText, "text", info))
		}
		if p.bestImage != nil && (p.bestText == nil || p.imageHits >= p.textHits) {
			results = append(results, s.buildResult(ctx, p, *p.bestImage, "image", info))
		}
	}
	if len(results) > k {
		results = results[:k]
	}
	return results
}

const maxRelated = 3

func (s *Searcher) buildResult(ctx context.Context, p fusedPaper, m vectorstore.Match, modality string, info *relations.PaperInfo) Result {
	r := Result{
		ID:            m.ID,
		PaperID:       p.paperID,
		Modality:      modality,
		Text:          m.Text,
		Score:         m.Score,
		CombinedScore: p.combined,
		Metadata:      m.Metadata,
		Paper:         info,
	}
	r.Related = s.related(ctx, p.paperID, m.ID, modality)
	return r
}

// related looks up cross-modal context for a hit. Enrichment is
// best-effort: a missing collection or record just yields fewer items.
func (s *Searcher) related(ctx context.Context, paperID, id, modality string) []RelatedItem {
	var ids []string
	var other vectorstore.Collection
	var otherModality string
	if modality == "text" {
		ids = s.rel.RelatedImages(paperID, id, maxRelated)
		other, otherModality = s.images, "image"
	} else {
		ids = s.rel.RelatedChunks(paperID, id, maxRelated)
		other, otherModality = s.texts, "text"
	}
	if other == nil {
		return nil
	}

	var items []RelatedItem
	for _, rid := range ids {
		rec, err := other.Get(ctx, rid)
		if err != nil {
			continue
		}
		items = append(items, RelatedItem{ID: rid, Modality: otherModality, Text: rec.Text})
	}
	return items
}
