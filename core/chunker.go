package core

import "strings"

// MaxBufferChars bounds how large the chunker's remainder may grow before
// it is force-emitted as a sentence. A model that streams long runs of text
// with no terminator would otherwise grow the buffer without limit.
const MaxBufferChars = 2000

// sentenceTerminators are the characters that end a sentence when followed
// by whitespace or end of buffer. '~' covers the Korean "요~" trailing tone
// marker; '다.'/'요.' endings fall out of the plain '.' rule.
const sentenceTerminators = ".!?~"

// Chunker splits a growing, append-only text stream into completed
// sentences as soon as they are available, retaining the trailing
// fragment for the next push. It is not safe for concurrent use; callers
// serialize access (the Turn Processor creates one chunker per LLM
// iteration of a turn).
type Chunker struct {
	buf strings.Builder
}

// NewChunker returns a Chunker with an empty buffer.
func NewChunker() *Chunker {
	return &Chunker{}
}

// Push appends delta to the buffer and returns every completed sentence
// found since the last call, in order. The remainder (incomplete trailing
// text) stays buffered for the next Push or Flush.
func (c *Chunker) Push(delta string) []string {
	c.buf.WriteString(delta)
	text := c.buf.String()

	var completed []string
	lastCut := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(sentenceTerminators, runes[i]) {
			continue
		}
		// Ellipsis: treat "..." as one terminator at its last '.'.
		if runes[i] == '.' && i+1 < len(runes) && runes[i+1] == '.' {
			continue
		}
		end := i + 1
		if end < len(runes) {
			next := runes[end]
			if next != ' ' && next != '\t' && next != '\n' && next != '\r' {
				continue
			}
		}
		sentence := strings.TrimSpace(string(runes[lastCut:end]))
		if sentence != "" {
			completed = append(completed, sentence)
		}
		lastCut = end
	}

	remainder := string(runes[lastCut:])
	remainder = strings.TrimLeft(remainder, " \t\n\r")

	if len([]rune(remainder)) > MaxBufferChars {
		forced := strings.TrimSpace(remainder)
		if forced != "" {
			completed = append(completed, forced)
		}
		remainder = ""
	}

	c.buf.Reset()
	c.buf.WriteString(remainder)

	return completed
}

// Flush emits whatever remains in the buffer as a final sentence (used at
// stream end, when there is no trailing terminator/whitespace to trigger
// completion) and clears the buffer. Returns "" if the remainder is empty
// or whitespace-only.
func (c *Chunker) Flush() string {
	remainder := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	return remainder
}

// Remainder reports the current unflushed trailing text without consuming
// it. Useful for diagnostics.
func (c *Chunker) Remainder() string {
	return c.buf.String()
}
