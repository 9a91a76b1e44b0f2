package splitters

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/schema"
)

func TestSplitThreeWindowsWithOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghi ", 120)
	chunks, err := Split(text, 500, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	wantWords := []int{50, 50, 30}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 500 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		if got := len(strings.Fields(c)); got != wantWords[i] {
			t.Errorf("chunk %d has %d words, want %d", i, got, wantWords[i])
		}
	}
	// 相邻窗口共享 5 个单词（49 个字符 <= overlap）。
	tail := strings.Fields(chunks[0])[45:]
	head := strings.Fields(chunks[1])[:5]
	if !reflect.DeepEqual(tail, head) {
		t.Errorf("overlap mismatch: %v vs %v", tail, head)
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := "第一段。\n\n" + strings.Repeat("lorem ipsum dolor sit amet ", 60) + "\nlast line"
	a, _ := Split(text, 120, 20)
	for i := 0; i < 5; i++ {
		b, _ := Split(text, 120, 20)
		if !reflect.DeepEqual(a, b) {
			t.Fatal("split output differs between runs")
		}
	}
}

func TestSplitCoversAllWordsInOrder(t *testing.T) {
	var words []string
	for i := 0; i < 300; i++ {
		words = append(words, strings.Repeat(string(rune('a'+i%26)), 1+i%7))
	}
	text := strings.Join(words, " ")
	chunks, err := Split(text, 64, 16)
	if err != nil {
		t.Fatal(err)
	}

	total := 0
	for _, c := range chunks {
		total += utf8.RuneCountInString(c)
	}
	if total < utf8.RuneCountInString(strings.ReplaceAll(text, " ", "")) {
		t.Errorf("chunks cover %d runes, fewer than the input", total)
	}

	// 去掉相邻窗口的重叠部分后应还原出原始单词序列。
	var rebuilt []string
	for _, c := range chunks {
		cw := strings.Fields(c)
		k := overlapLen(rebuilt, cw)
		rebuilt = append(rebuilt, cw[k:]...)
	}
	if !reflect.DeepEqual(rebuilt, words) {
		t.Fatalf("rebuilt %d words, want %d", len(rebuilt), len(words))
	}
}

// overlapLen returns the longest k such that the last k items of a equal the first k of b.
func overlapLen(a, b []string) int {
	for k := len(b); k > 0; k-- {
		if k > len(a) {
			continue
		}
		if reflect.DeepEqual(a[len(a)-k:], b[:k]) {
			return k
		}
	}
	return 0
}

func TestLongWordIsNotTruncated(t *testing.T) {
	long := strings.Repeat("x", 80)
	chunks, err := Split("short "+long+" tail", 30, 5)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range chunks {
		if c == long {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected oversized chunk %q in %q", long, chunks)
	}
}

func TestSplitLongWordsCutsIntoWindows(t *testing.T) {
	s, _ := NewRecursiveSplitter(30, 0)
	s.SplitLongWords = true
	chunks := s.SplitText(strings.Repeat("y", 75))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 windows, got %d: %q", len(chunks), chunks)
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 30 {
			t.Errorf("window too long: %d", utf8.RuneCountInString(c))
		}
	}
}

func TestSplitPrefersParagraphs(t *testing.T) {
	text := "alpha beta\n\ngamma delta"
	chunks, _ := Split(text, 12, 0)
	want := []string{"alpha beta", "gamma delta"}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("got %q, want %q", chunks, want)
	}
}

func TestSplitEmptyText(t *testing.T) {
	chunks, err := Split("   \n\n  ", 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %q", chunks)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		size, overlap int
		ok            bool
	}{
		{500, 50, true},
		{10, 0, true},
		{0, 0, false},
		{-1, 0, false},
		{10, 10, false},
		{10, -1, false},
	}
	for _, tt := range tests {
		err := Validate(tt.size, tt.overlap)
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%d, %d) = %v", tt.size, tt.overlap, err)
		}
		if err != nil && !errors.Is(err, errs.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	}
}

func TestSplitDocumentsCopiesMetadata(t *testing.T) {
	s, _ := NewRecursiveSplitter(10, 0)
	src := &schema.Document{Text: "one two three four", Metadata: map[string]interface{}{"source": "a.txt"}}
	chunks, err := s.Split(context.Background(), []*schema.Document{src})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	chunks[0].Metadata["source"] = "mutated"
	if src.Metadata["source"] != "a.txt" {
		t.Error("chunk metadata aliases the source document")
	}
	for _, c := range chunks {
		if c.Metadata[schema.MetadataKeyChunkSize] != utf8.RuneCountInString(c.Text) {
			t.Errorf("chunk_size = %v for %q", c.Metadata[schema.MetadataKeyChunkSize], c.Text)
		}
	}
}
