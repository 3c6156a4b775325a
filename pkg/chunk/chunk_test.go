package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFixedChunkerWindows(t *testing.T) {
	c, err := NewFixedChunker(10, 3)
	if err != nil {
		t.Fatalf("NewFixedChunker: %v", err)
	}

	text := strings.Repeat("abcdefg", 10) // 70 runes
	pieces := c.Split(text)
	if len(pieces) == 0 {
		t.Fatal("expected pieces")
	}

	for i, p := range pieces {
		n := utf8.RuneCountInString(p.Text)
		if n > 10 {
			t.Errorf("piece %d too large: %d > 10", i, n)
		}
	}

	// Each window starts size-overlap runes after the previous one, so the
	// last 3 runes of piece i reappear at the start of piece i+1.
	for i := 0; i < len(pieces)-1; i++ {
		tail := string([]rune(pieces[i].Text)[10-3:])
		if !strings.HasPrefix(pieces[i+1].Text, tail) {
			t.Errorf("piece %d does not carry overlap %q", i+1, tail)
		}
	}
}

func TestFixedChunkerDeterministic(t *testing.T) {
	c, _ := NewFixedChunker(100, 20)
	text := strings.Repeat("the quick brown fox. ", 40)

	a := c.Split(text)
	b := c.Split(text)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("piece %d differs between runs", i)
		}
	}
}

func TestFixedChunkerUnicode(t *testing.T) {
	c, _ := NewFixedChunker(5, 1)
	pieces := c.Split("그림과 도표를 포함한 문서")
	for i, p := range pieces {
		if !utf8.ValidString(p.Text) {
			t.Errorf("piece %d split a multi-byte character: %q", i, p.Text)
		}
	}
}

func TestFixedChunkerBadParams(t *testing.T) {
	cases := []struct{ size, overlap int }{
		{0, 0},
		{-5, 0},
		{100, -1},
		{100, 100},
		{100, 150},
	}
	for _, tc := range cases {
		if _, err := NewFixedChunker(tc.size, tc.overlap); err != ErrBadOverlap {
			t.Errorf("size=%d overlap=%d: expected ErrBadOverlap, got %v", tc.size, tc.overlap, err)
		}
	}
}

func TestFixedChunkerEmpty(t *testing.T) {
	c, _ := NewFixedChunker(100, 20)
	if pieces := c.Split(""); len(pieces) != 0 {
		t.Errorf("expected no pieces for empty text, got %d", len(pieces))
	}
}

func TestSectionChunkerLabels(t *testing.T) {
	text := "Title of the paper\n" +
		"Abstract\n" +
		"We study retrieval over papers.\n" +
		"1. Introduction\n" +
		"Vector search is everywhere now.\n" +
		"3. Results\n" +
		"It works well.\n" +
		"References\n" +
		"[1] Someone, somewhere.\n"

	c, err := NewSectionChunker(1000, 200)
	if err != nil {
		t.Fatalf("NewSectionChunker: %v", err)
	}
	pieces := c.Split(text)

	want := map[string]string{
		"":             "Title of the paper",
		"abstract":     "We study retrieval",
		"introduction": "Vector search",
		"results":      "It works well",
		"references":   "Someone",
	}
	for sec, substr := range want {
		found := false
		for _, p := range pieces {
			if p.Section == sec && strings.Contains(p.Text, substr) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no piece in section %q containing %q", sec, substr)
		}
	}
}

func TestSectionChunkerIgnoresLongLines(t *testing.T) {
	text := "this long sentence mentions the methods we used throughout the study\nshort body\n"
	c, _ := NewSectionChunker(1000, 200)
	pieces := c.Split(text)
	if len(pieces) != 1 || pieces[0].Section != "" {
		t.Errorf("prose line was treated as a heading: %+v", pieces)
	}
}

func TestChunkIDsStable(t *testing.T) {
	c, _ := NewFixedChunker(50, 10)
	text := strings.Repeat("stable ids matter for upserts. ", 10)

	a := Assemble("paper42", c.Split(text))
	b := Assemble("paper42", c.Split(text))
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk %d id changed: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}
	if a[0].ID != "paper42_chunk_0" {
		t.Errorf("unexpected id format: %s", a[0].ID)
	}
}

func TestCaptionChunkSkipsShort(t *testing.T) {
	if _, ok := CaptionChunk("p1", 0, 1, "Fig. 3."); ok {
		t.Error("short caption should be skipped")
	}
	ch, ok := CaptionChunk("p1", 0, 2, "Figure 3: Ablation results across all five benchmark datasets.")
	if !ok {
		t.Fatal("caption unexpectedly skipped")
	}
	if ch.Type != TypeCaption || ch.Page != 2 {
		t.Errorf("unexpected caption chunk: %+v", ch)
	}
}

func TestImageChunkFallsBackToFilename(t *testing.T) {
	ch := ImageChunk("p1", 0, 3, "", "page3_img1.png")
	if !strings.Contains(ch.Text, "page3_img1.png") {
		t.Errorf("expected filename in synthetic text, got %q", ch.Text)
	}
	ch = ImageChunk("p1", 1, 3, "Figure 2: Model overview", "x.png")
	if !strings.Contains(ch.Text, "Model overview") {
		t.Errorf("expected caption in synthetic text, got %q", ch.Text)
	}
}
