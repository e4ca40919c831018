package chansync

import "unicode/utf8"

const (
	// DefaultMaxChunkSize is the per-message character limit.
	DefaultMaxChunkSize = 2000
	// EmptyPlaceholder replaces empty content so a channel always shows one message.
	EmptyPlaceholder = "Keine Serverdaten verfügbar."
)

// Chunk splits content into consecutive slices of exactly maxSize characters
// (the last one may be shorter). It does not look for word boundaries.
// Empty content yields the single EmptyPlaceholder chunk.
func Chunk(content string, maxSize int) []string {
	if content == "" {
		return []string{EmptyPlaceholder}
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}
	if utf8.RuneCountInString(content) <= maxSize {
		return []string{content}
	}

	var chunks []string
	start, count := 0, 0
	for i := range content {
		if count == maxSize {
			chunks = append(chunks, content[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(chunks, content[start:])
}
