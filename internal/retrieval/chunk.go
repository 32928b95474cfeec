package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Chunk is one overlapping slice of ingested text, grounded on the
// teacher's line-based chunker (pkg/simpleruntime/memory/chunking.go)
// adapted from a token*4-char heuristic to the character targets spec.md
// §4.3 names directly ("target ~500 characters, ~50-character overlap").
type Chunk struct {
	Text string
	Hash string
}

const (
	defaultChunkChars   = 500
	defaultOverlapChars = 50
)

// ChunkText splits text into overlapping chunks targeting targetChars with
// overlapChars of repeated trailing context between consecutive chunks.
// A non-positive targetChars falls back to the default chunk size; a negative
// overlapChars, or one not smaller than targetChars, falls back to the default
// overlap. An overlap of zero is kept as given.
func ChunkText(text string, targetChars, overlapChars int) []Chunk {
	if targetChars <= 0 {
		targetChars = defaultChunkChars
	}
	if overlapChars < 0 || overlapChars >= targetChars {
		overlapChars = defaultOverlapChars
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []Chunk
	runes := []rune(text)
	step := targetChars - overlapChars
	if step <= 0 {
		step = targetChars
	}
	for start := 0; start < len(runes); start += step {
		end := start + targetChars
		if end > len(runes) {
			end = len(runes)
		}
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment != "" {
			chunks = append(chunks, Chunk{Text: segment, Hash: hashText(segment)})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
