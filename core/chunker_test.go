package core

import (
	"strings"
	"testing"
)

func TestChunkerEmitsCompletedSentences(t *testing.T) {
	c := NewChunker()

	got := c.Push("Hello there. How are")
	if len(got) != 1 || got[0] != "Hello there." {
		t.Fatalf("expected one completed sentence, got %v", got)
	}

	got = c.Push(" you? I am fine.")
	if len(got) != 2 {
		t.Fatalf("expected two completed sentences, got %v", got)
	}
	if got[0] != "How are you?" || got[1] != "I am fine." {
		t.Fatalf("unexpected sentences: %v", got)
	}
}

func TestChunkerHoldsBackUnterminatedTrailingText(t *testing.T) {
	c := NewChunker()

	got := c.Push("still thinking")
	if len(got) != 0 {
		t.Fatalf("expected no completed sentences, got %v", got)
	}
	if c.Remainder() != "still thinking" {
		t.Fatalf("expected remainder to retain trailing text, got %q", c.Remainder())
	}
}

func TestChunkerTreatsEllipsisAsSingleTerminator(t *testing.T) {
	c := NewChunker()

	got := c.Push("Wait... let me think. Okay.")
	if len(got) != 3 {
		t.Fatalf("expected the ellipsis to terminate once at its last dot, got %v", got)
	}
	if got[0] != "Wait..." || got[1] != "let me think." || got[2] != "Okay." {
		t.Fatalf("unexpected sentences: %v", got)
	}
}

func TestChunkerFlushEmitsRemainder(t *testing.T) {
	c := NewChunker()
	c.Push("no terminator here")

	if got := c.Flush(); got != "no terminator here" {
		t.Fatalf("expected flush to emit the buffered remainder, got %q", got)
	}
	if got := c.Flush(); got != "" {
		t.Fatalf("expected flush on an empty buffer to return empty, got %q", got)
	}
}

func TestChunkerForcesEmitPastMaxBufferChars(t *testing.T) {
	c := NewChunker()
	long := strings.Repeat("a", MaxBufferChars+50)

	got := c.Push(long)
	if len(got) != 1 {
		t.Fatalf("expected the oversized remainder to be force-emitted, got %d sentences", len(got))
	}
	if c.Remainder() != "" {
		t.Fatalf("expected buffer to be cleared after a forced emit, got %q", c.Remainder())
	}
}

func TestChunkerTrailingTildeCountsAsTerminator(t *testing.T) {
	c := NewChunker()

	got := c.Push("good morning~ see you soon")
	if len(got) != 1 || got[0] != "good morning~" {
		t.Fatalf("expected tilde to terminate a sentence, got %v", got)
	}
}
