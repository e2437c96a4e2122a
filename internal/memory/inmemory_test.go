package memory

import (
	"context"
	"strings"
	"testing"

	convctx "github.com/voxloop/conductor/core/context"
)

func TestStorePreLoadReturnsMostRecentMatchesFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.ExtractAndSave(ctx, []convctx.Message{
		convctx.NewUserMessage("the capital of France is Paris"),
		convctx.NewUserMessage("the weather today is sunny"),
		convctx.NewUserMessage("Paris has a famous tower"),
	})

	got, err := s.PreLoad(ctx, "paris")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", len(lines), lines)
	}
	if lines[0] != "Paris has a famous tower" {
		t.Fatalf("expected the most recent match first, got %q", lines[0])
	}
}

func TestStorePreLoadReturnsEmptyOnNoKeywords(t *testing.T) {
	s := NewStore()
	got, err := s.PreLoad(context.Background(), "   ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected no matches for a blank query, got %q", got)
	}
}

func TestStorePreLoadCapsAtFiveMatches(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var messages []convctx.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, convctx.NewUserMessage("apple seen again"))
	}
	_ = s.ExtractAndSave(ctx, messages)

	got, err := s.PreLoad(ctx, "apple")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(strings.Split(got, "\n")) != 5 {
		t.Fatalf("expected at most 5 matches, got %d", len(strings.Split(got, "\n")))
	}
}

func TestStoreExtractAndSaveSkipsBlankMessages(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	_ = s.ExtractAndSave(ctx, []convctx.Message{
		convctx.NewUserMessage("   "),
		convctx.NewUserMessage("banana split"),
	})

	got, _ := s.PreLoad(ctx, "banana")
	if got != "banana split" {
		t.Fatalf("expected only the non-blank message to be recorded, got %q", got)
	}
}
