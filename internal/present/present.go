package present

import "strings"

// DefaultChunkSize is used when a mode does not set its own.
const DefaultChunkSize = 1600

// Chunk splits text into chunks of at most size bytes for progressive
// emission. A chunk prefers to end at a newline when one sits in the second
// half of the window, so markdown blocks survive the split. Concatenating the
// returned chunks reproduces the input exactly.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if text == "" {
		return nil
	}

	var chunks []string
	for len(text) > size {
		cut := size
		if idx := strings.LastIndexByte(text[:size], '\n'); idx > size/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
