// Package splitter splits long assistant responses into Discord-sized
// chunks. Splits prefer line boundaries and never leave a fenced code block
// unbalanced inside a chunk: an open fence is closed at the chunk boundary
// and reopened (with its language tag) at the start of the next chunk.
package splitter

import "strings"

const (
	// MaxLen is the hard per-message limit imposed by Discord.
	MaxLen = 2000

	// safeMax leaves headroom for the fence lines inserted at boundaries.
	safeMax = MaxLen - 20

	// newlineWindow bounds the backward search for a line break.
	newlineWindow = 200
)

// Split breaks text into chunks of at most MaxLen characters.
// Text that already fits is returned as a single unmodified chunk.
func Split(text string) []string {
	if len(text) <= MaxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for remaining != "" {
		if len(remaining) <= MaxLen {
			chunks = append(chunks, remaining)
			break
		}

		splitAt := findSplitPoint(remaining)
		chunk := remaining[:splitAt]
		remaining = remaining[splitAt:]
		chunk, remaining = fixCodeBlocks(chunk, remaining)
		chunks = append(chunks, chunk)
	}

	return chunks
}

// findSplitPoint returns the index to cut at: just after the last newline
// within the search window, or safeMax when the window has none.
func findSplitPoint(text string) int {
	searchStart := safeMax - newlineWindow
	if searchStart < 0 {
		searchStart = 0
	}
	if idx := strings.LastIndex(text[searchStart:safeMax], "\n"); idx >= 0 {
		at := searchStart + idx
		if at > 0 {
			return at + 1
		}
	}
	return safeMax
}

// fixCodeBlocks rebalances a chunk that cuts through a fenced code block.
// The open fence is closed at the end of the chunk and reopened, keeping the
// language tag, at the head of the remainder.
func fixCodeBlocks(chunk, remaining string) (string, string) {
	if strings.Count(chunk, "```")%2 == 0 {
		return chunk, remaining
	}

	lastFence := strings.LastIndex(chunk, "```")
	afterFence := chunk[lastFence+3:]
	if nl := strings.Index(afterFence, "\n"); nl >= 0 {
		afterFence = afterFence[:nl]
	}
	lang := strings.TrimSpace(afterFence)

	chunk += "\n```"
	remaining = "```" + lang + "\n" + remaining
	return chunk, remaining
}
