package retrieval

import (
	"strings"
	"testing"
)

func TestChunkTextTargetsApproximateSizeWithOverlap(t *testing.T) {
	text := strings.Repeat("word ", 300) // ~1500 chars
	chunks := ChunkText(text, 500, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c.Text)) > 500 {
			t.Fatalf("chunk exceeds target size: %d runes", len([]rune(c.Text)))
		}
		if c.Hash == "" {
			t.Fatalf("expected non-empty hash")
		}
	}
}

func TestChunkTextEmptyInputYieldsNoChunks(t *testing.T) {
	if chunks := ChunkText("   ", 500, 50); chunks != nil {
		t.Fatalf("expected nil chunks for blank input, got %v", chunks)
	}
}

func TestChunkTextShortInputYieldsSingleChunk(t *testing.T) {
	chunks := ChunkText("The secret code is 42.", 500, 50)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "The secret code is 42." {
		t.Fatalf("unexpected chunk text: %q", chunks[0].Text)
	}
}
