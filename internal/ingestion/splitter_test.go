package ingestion

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitter_Split(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		overlap int
		text    string
		want    []string
	}{
		{
			name: "short text is one chunk",
			size: 500, overlap: 150,
			text: "  Kawasaki disease  ",
			want: []string{"Kawasaki disease"},
		},
		{
			name: "pieces too large to overlap",
			size: 10, overlap: 3,
			text: "aaaa bbbb cccc dddd",
			want: []string{"aaaa bbbb", "cccc dddd"},
		},
		{
			name: "trailing pieces carried as overlap",
			size: 12, overlap: 6,
			text: "aa bb cc dd ee ff",
			want: []string{"aa bb cc dd", "cc dd ee ff"},
		},
		{
			name: "chinese full stop then runes",
			size: 5, overlap: 0,
			text: "一二三。四五六七八。九",
			want: []string{"一二三", "。四五六七", "八", "。九"},
		},
		{
			name: "paragraphs preferred over lines",
			size: 20, overlap: 0,
			text: "first para\nline two\n\nsecond para",
			want: []string{"first para\nline two", "second para"},
		},
		{
			name: "empty text",
			size: 10, overlap: 2,
			text: "   ",
			want: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := NewSplitter(tc.size, tc.overlap).Split(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Split(%q)\n got: %q\nwant: %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestSplitter_ChunksNeverExceedSize(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("Infants with fever above 38 degrees need evaluation. ", 40) +
		"\n\n" + strings.Repeat("新生儿黄疸是常见的临床表现，多数为生理性。", 30)

	s := NewSplitter(120, 30)
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("want several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := runeLen(c); n > 120 {
			t.Errorf("chunk %d has %d runes, want <= 120", i, n)
		}
		if strings.TrimSpace(c) != c || c == "" {
			t.Errorf("chunk %d is not trimmed or empty: %q", i, c)
		}
	}
}

func TestNewSplitter_Defaults(t *testing.T) {
	t.Parallel()
	s := NewSplitter(0, 0)
	if s.ChunkSize != DefaultChunkSize || s.ChunkOverlap != 0 {
		t.Errorf("unexpected defaults: size=%d overlap=%d", s.ChunkSize, s.ChunkOverlap)
	}
	s = NewSplitter(100, 100)
	if s.ChunkOverlap != 10 {
		t.Errorf("overlap >= size should clamp to size/10, got %d", s.ChunkOverlap)
	}
	s = NewSplitter(100, -5)
	if s.ChunkOverlap != 0 {
		t.Errorf("negative overlap should clamp to 0, got %d", s.ChunkOverlap)
	}
}

func TestSplitKeepSeparator(t *testing.T) {
	t.Parallel()
	got := splitKeepSeparator("a。b。", "。")
	want := []string{"a", "。b", "。"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := splitKeepSeparator("ab", ""); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("empty separator: got %q", got)
	}
}
