package extract

import (
	"math"
	"sort"
	"strings"
)

// matchCaptions pairs each image with the caption most likely to describe
// it, scoring page proximity, vertical distance and caption type. A match
// below zero is no match at all.
func matchCaptions(images []Image, captions []Caption) {
	for i := range images {
		best := -1
		bestScore := 0.0
		for j, c := range captions {
			score := matchScore(images[i], c)
			if score > bestScore {
				bestScore = score
				best = j
			}
		}
		if best < 0 {
			continue
		}
		c := captions[best]
		images[i].Caption = c.Text
		images[i].CaptionClean = c.CleanText
		images[i].CaptionType = c.Type
		images[i].CaptionNumber = c.Number
		images[i].CaptionConfidence = math.Min(bestScore/200.0, 1.0)
	}
}

// matchScore rates how well one caption fits one image. Same-page captions
// dominate; adjacent pages cover layouts where the caption lands on the
// following page.
func matchScore(img Image, c Caption) float64 {
	var score float64
	switch {
	case c.Page == img.Page:
		score += 100
	case abs(c.Page-img.Page) == 1:
		score += 50
	default:
		return 0
	}

	if c.Page == img.Page && c.Y > 0 {
		// Without layout positions for the image itself, a caption
		// near the vertical middle of the page is the safer bet.
		switch d := math.Abs(c.Y - 396); {
		case d < 100:
			score += 50
		case d < 200:
			score += 30
		case d < 300:
			score += 10
		}
	}

	if c.Type == CaptionFigure || c.Type == CaptionScheme {
		score += 20
	}
	score += float64(c.Priority) / 10.0
	return score
}

// featuredPhrases is the ordered bonus table for selecting the paper's key
// figure. Earlier entries carry larger bonuses and their label becomes the
// selection reason.
var featuredPhrases = []struct {
	phrases []string
	bonus   float64
	reason  string
}{
	{[]string{"graphical abstract"}, 300, "Graphical Abstract"},
	{[]string{"schema", "scheme", "schematic diagram"}, 250, "Schema/Schematic"},
	{[]string{"fig. 1", "figure 1", "fig 1", "그림 1"}, 100, "Figure 1"},
	{[]string{"overview", "workflow", "schematic", "summary", "framework", "architecture"}, 80, "Overview figure"},
	{[]string{"model", "pipeline", "mechanism", "pathway"}, 60, "Explanatory figure"},
}

const largeAreaThreshold = 500_000

// SelectFeatured picks the single image that best represents the paper:
// early pages, large area and key-figure captions all raise the score.
// Images with a confident caption match are preferred outright when any
// exist. Returns nil when there are no images.
func SelectFeatured(images []Image, captions []Caption) *FeaturedImage {
	if len(images) == 0 {
		return nil
	}

	pool := images
	var confident []Image
	for _, img := range images {
		if img.CaptionConfidence > 0.7 {
			confident = append(confident, img)
		}
	}
	if len(confident) > 0 {
		pool = confident
	}

	type ranked struct {
		img    Image
		score  float64
		reason string
	}
	var rankedPool []ranked
	for _, img := range pool {
		score, reason := featuredScore(img, captions)
		rankedPool = append(rankedPool, ranked{img, score, reason})
	}
	sort.SliceStable(rankedPool, func(a, b int) bool {
		return rankedPool[a].score > rankedPool[b].score
	})

	top := rankedPool[0]
	return &FeaturedImage{
		Image:           top.img,
		Priority:        int(top.score),
		SelectionReason: top.reason,
	}
}

// featuredScore computes the key-figure score for one image and names the
// rule that contributed most.
func featuredScore(img Image, captions []Caption) (float64, string) {
	score := math.Max(0, 100-5*float64(img.Page-1))
	reason := ""
	if img.Page <= 2 {
		reason = "Early key figure"
	}

	area := img.Area()
	switch {
	case area > largeAreaThreshold:
		score += 50
	case area > 200_000:
		score += 30
	case area > 100_000:
		score += 15
	}

	bestBonus := 0.0
	for _, c := range captions {
		if abs(c.Page-img.Page) > 1 {
			continue
		}
		score += float64(c.Priority) / 2.0
		lower := strings.ToLower(c.Text)
		// One bonus per caption: the first matching tier wins, so a
		// caption matching several overlapping phrases cannot stack
		// bonuses past a higher tier.
		for _, pb := range featuredPhrases {
			matched := false
			for _, p := range pb.phrases {
				if strings.Contains(lower, p) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			score += pb.bonus
			if pb.bonus > bestBonus {
				bestBonus = pb.bonus
				reason = pb.reason
			}
			break
		}
	}

	if reason == "" {
		reason = "Best available"
	}
	if area > largeAreaThreshold {
		reason += ", Large size"
	}
	return score, reason
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
