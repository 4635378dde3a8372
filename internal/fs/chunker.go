package fs

import (
	"strings"
	"unicode/utf8"
)

// WordChunker splits text into overlapping windows of whitespace-separated words.
type WordChunker struct {
	opts ChunkOptions
}

// NewWordChunker creates a new word chunker.
// An overlap that is not smaller than the chunk size is clamped to size-1
// so every window consumes at least one new word.
func NewWordChunker(opts ChunkOptions) *WordChunker {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkOptions().ChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize - 1
	}
	if opts.MinChunkChars <= 0 {
		opts.MinChunkChars = DefaultChunkOptions().MinChunkChars
	}

	return &WordChunker{opts: opts}
}

// Options returns the effective options after clamping.
func (c *WordChunker) Options() ChunkOptions {
	return c.opts
}

// Split returns the chunk texts in order.
func (c *WordChunker) Split(text string) []string {
	chunks := c.Chunk(text)
	if len(chunks) == 0 {
		return nil
	}

	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Content
	}
	return out
}

// Chunk splits text into chunks of ChunkSize words. After each full window
// the buffer restarts from its trailing ChunkOverlap words. Windows shorter
// than MinChunkChars characters (runes, not bytes) are dropped, and the remainder is flushed at the end
// unless it holds only words already emitted as overlap.
func (c *WordChunker) Chunk(text string) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0 // first word of the current buffer
	fresh := false

	emit := func(end int) {
		content := strings.Join(words[start:end], " ")
		if utf8.RuneCountInString(content) < c.opts.MinChunkChars {
			return
		}
		chunks = append(chunks, Chunk{
			Content:   content,
			Index:     len(chunks),
			StartWord: start,
			EndWord:   end,
		})
	}

	for end := 1; end <= len(words); end++ {
		fresh = true
		if end-start < c.opts.ChunkSize {
			continue
		}
		emit(end)
		start = end - c.opts.ChunkOverlap
		fresh = false
	}

	if fresh {
		emit(len(words))
	}

	return chunks
}
