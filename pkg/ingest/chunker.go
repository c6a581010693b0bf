package ingest

import (
	"strings"
)

const (
	defaultChunkWords   = 200
	defaultOverlapWords = 40
)

// ChunkConfig holds chunking configuration.
type ChunkConfig struct {
	ChunkWords   int // Words per chunk (default: 200)
	OverlapWords int // Words shared between consecutive chunks (default: 40)
}

// DefaultChunkConfig returns the default chunking config.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkWords:   defaultChunkWords,
		OverlapWords: defaultOverlapWords,
	}
}

// SplitText splits document text into overlapping word-window chunks.
// Paragraph boundaries are collapsed; the window slides by
// ChunkWords-OverlapWords so adjacent chunks share context.
func SplitText(text string, cfg ChunkConfig) []string {
	if cfg.ChunkWords <= 0 {
		cfg.ChunkWords = defaultChunkWords
	}
	if cfg.OverlapWords < 0 || cfg.OverlapWords >= cfg.ChunkWords {
		cfg.OverlapWords = cfg.ChunkWords / 5
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := cfg.ChunkWords - cfg.OverlapWords
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + cfg.ChunkWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}

	return chunks
}
