package extract

import (
	"strings"
	"testing"
)

func TestMatchCaptionsSamePageWins(t *testing.T) {
	images := []Image{
		{ID: "i1", Page: 2, Width: 500, Height: 400},
	}
	captions := []Caption{
		{Page: 1, Text: "Figure 1: Setup", Type: CaptionFigure, Priority: 100},
		{Page: 2, Text: "Figure 2: Results", Type: CaptionFigure, Priority: 100},
	}
	matchCaptions(images, captions)

	if images[0].Caption != "Figure 2: Results" {
		t.Errorf("same-page caption should win, got %q", images[0].Caption)
	}
	if images[0].CaptionConfidence <= 0 || images[0].CaptionConfidence > 1 {
		t.Errorf("confidence out of range: %f", images[0].CaptionConfidence)
	}
}

func TestMatchCaptionsAdjacentPage(t *testing.T) {
	images := []Image{{ID: "i1", Page: 3, Width: 500, Height: 400}}
	captions := []Caption{
		{Page: 4, Text: "Figure 3: Spillover", Type: CaptionFigure, Priority: 100},
	}
	matchCaptions(images, captions)
	if images[0].Caption == "" {
		t.Error("adjacent-page caption should still match")
	}
}

func TestMatchCaptionsFarPageIgnored(t *testing.T) {
	images := []Image{{ID: "i1", Page: 1, Width: 500, Height: 400}}
	captions := []Caption{
		{Page: 5, Text: "Figure 9: Unrelated", Type: CaptionFigure, Priority: 100},
	}
	matchCaptions(images, captions)
	if images[0].Caption != "" {
		t.Errorf("caption four pages away should not match, got %q", images[0].Caption)
	}
}

func TestSelectFeaturedEndToEnd(t *testing.T) {
	// A 500x500 figure on page 1 whose caption names it "Figure 1": page
	// bonus 100, area bonus 30, caption priority 50, one phrase bonus 100
	// for the highest matching tier.
	images := []Image{
		{ID: "hero", Page: 1, Width: 500, Height: 500},
		{ID: "late", Page: 7, Width: 300, Height: 300},
	}
	captions := []Caption{
		{Page: 1, Text: "Figure 1: Overview of the pipeline", Type: CaptionFigure, Priority: 100},
	}
	matchCaptions(images, captions)
	f := SelectFeatured(images, captions)
	if f == nil {
		t.Fatal("expected a featured image")
	}
	if f.ID != "hero" {
		t.Errorf("wrong featured image: %s", f.ID)
	}
	if f.Priority != 280 {
		t.Errorf("featured score = %d, want 280", f.Priority)
	}
	if !strings.Contains(f.SelectionReason, "Figure 1") {
		t.Errorf("selection reason should name the fired rule, got %q", f.SelectionReason)
	}
}

func TestSelectFeaturedGraphicalAbstract(t *testing.T) {
	images := []Image{
		{ID: "ga", Page: 1, Width: 600, Height: 400},
	}
	captions := []Caption{
		{Page: 1, Text: "Graphical Abstract", Type: CaptionFigure, Priority: 150},
	}
	f := SelectFeatured(images, captions)
	if f == nil {
		t.Fatal("expected a featured image")
	}
	if !strings.Contains(f.SelectionReason, "Graphical Abstract") {
		t.Errorf("unexpected reason: %q", f.SelectionReason)
	}
}

func TestSelectFeaturedLargeSizeSuffix(t *testing.T) {
	images := []Image{{ID: "big", Page: 1, Width: 1000, Height: 800}}
	f := SelectFeatured(images, nil)
	if f == nil {
		t.Fatal("expected a featured image")
	}
	if !strings.Contains(f.SelectionReason, "Large size") {
		t.Errorf("area above the large threshold should be noted: %q", f.SelectionReason)
	}
}

func TestSelectFeaturedEmpty(t *testing.T) {
	if f := SelectFeatured(nil, nil); f != nil {
		t.Errorf("no images should yield no featured image, got %+v", f)
	}
}

func TestSelectFeaturedPrefersConfidentCaptions(t *testing.T) {
	images := []Image{
		{ID: "confident", Page: 3, Width: 400, Height: 400, CaptionConfidence: 0.9},
		{ID: "big-but-unmatched", Page: 1, Width: 1200, Height: 900},
	}
	f := SelectFeatured(images, nil)
	if f == nil {
		t.Fatal("expected a featured image")
	}
	if f.ID != "confident" {
		t.Errorf("confidently captioned image should be preferred, got %s", f.ID)
	}
}

func TestFeaturedScoreCaptionOrdering(t *testing.T) {
	// Same image, different nearby captions: a graphical abstract outranks
	// Figure 1, which outranks having no caption at all.
	img := Image{ID: "img", Page: 1, Width: 400, Height: 400}

	gaScore, _ := featuredScore(img, []Caption{
		{Page: 1, Text: "Graphical Abstract", Type: CaptionFigure, Priority: 150},
	})
	figScore, _ := featuredScore(img, []Caption{
		{Page: 1, Text: "Figure 1: Workflow", Type: CaptionFigure, Priority: 100},
	})
	plainScore, _ := featuredScore(img, nil)

	if gaScore <= figScore {
		t.Errorf("graphical abstract score %f should beat figure 1 score %f", gaScore, figScore)
	}
	if figScore <= plainScore {
		t.Errorf("figure 1 score %f should beat uncaptioned score %f", figScore, plainScore)
	}
}

func TestFeaturedScoreSingleBonusPerCaption(t *testing.T) {
	// A scheme caption hitting several overlapping phrases must not stack
	// bonuses past a graphical abstract.
	img := Image{ID: "img", Page: 1, Width: 400, Height: 400}

	gaScore, _ := featuredScore(img, []Caption{
		{Page: 1, Text: "Graphical Abstract", Type: CaptionFigure, Priority: 150},
	})
	schemeScore, _ := featuredScore(img, []Caption{
		{Page: 1, Text: "Scheme 1: Schematic diagram of the overall workflow of the model pipeline",
			Type: CaptionScheme, Priority: 95},
	})

	// 100 page + 15 area + 47.5 priority + 250 for the scheme tier only.
	if schemeScore != 412.5 {
		t.Errorf("scheme caption score = %f, want 412.5", schemeScore)
	}
	if gaScore <= schemeScore {
		t.Errorf("graphical abstract score %f should beat scheme score %f", gaScore, schemeScore)
	}
}

func TestFilterImages(t *testing.T) {
	e := New(DefaultOptions())
	candidates := []Image{
		{ID: "icon", Page: 2, Width: 50, Height: 50},
		{ID: "keeper", Page: 2, Width: 400, Height: 600},
		{ID: "masthead", Page: 1, Width: 800, Height: 120},
		{ID: "rule-line", Page: 3, Width: 2000, Height: 20},
		{ID: "dup", Page: 2, Width: 400, Height: 600},
	}
	kept := e.filterImages(candidates)
	if len(kept) != 1 || kept[0].ID != "keeper" {
		ids := make([]string, len(kept))
		for i, img := range kept {
			ids[i] = img.ID
		}
		t.Errorf("expected only the 400x600 image to survive, got %v", ids)
	}
}
