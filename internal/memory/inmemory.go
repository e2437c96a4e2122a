// Package memory implements the core.Memory collaborator as an
// in-process keyword index over prior turns. No third-party
// retrieval/GraphRAG client appears anywhere in the reference corpus
// for this concern, so it is deliberately built on the standard
// library only (see DESIGN.md).
package memory

import (
	"context"
	"strings"
	"sync"

	convctx "github.com/voxloop/conductor/core/context"
)

// Store is a minimal retrieval-context provider: it keeps every
// finalized turn's text and returns the most recent matches for a
// query's keywords. It exists so the retrieved-context system-prompt
// block (core/context.Store.SetRetrievedContext) has something real to
// show, without depending on an external vector store.
type Store struct {
	mu    sync.RWMutex
	lines []string

	targetTokens int
}

// Option adjusts a Store at construction.
type Option func(*Store)

// WithTargetTokens bounds how much retrieved text PreLoad returns,
// approximated at 4 characters per token. Zero leaves it unbounded.
func WithTargetTokens(n int) Option {
	return func(s *Store) { s.targetTokens = n }
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PreLoad returns up to 5 previously recorded lines containing any
// keyword from query, most recent first.
func (s *Store) PreLoad(ctx context.Context, query string) (string, error) {
	keywords := strings.Fields(strings.ToLower(query))
	if len(keywords) == 0 {
		return "", nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	budget := -1
	if s.targetTokens > 0 {
		budget = s.targetTokens * 4
	}

	var matches []string
	used := 0
	for i := len(s.lines) - 1; i >= 0 && len(matches) < 5; i-- {
		line := s.lines[i]
		lower := strings.ToLower(line)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				if budget >= 0 && used+len(line) > budget {
					return strings.Join(matches, "\n"), nil
				}
				matches = append(matches, line)
				used += len(line)
				break
			}
		}
	}
	return strings.Join(matches, "\n"), nil
}

// ExtractAndSave records the text of every message in the turn for
// future retrieval.
func (s *Store) ExtractAndSave(ctx context.Context, messages []convctx.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		if text := strings.TrimSpace(m.Text()); text != "" {
			s.lines = append(s.lines, text)
		}
	}
	return nil
}
