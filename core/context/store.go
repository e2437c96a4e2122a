package context

import (
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/voxloop/conductor/core/context"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

// DefaultWindowTurns is the default sliding-window size, in turns, handed
// to the LLM on each call.
const DefaultWindowTurns = 20

// DynamicBlockFunc produces the dynamic system-prompt block (wall-clock
// time, zone, …) fresh on every call; it must never be cached.
type DynamicBlockFunc func() string

// Store owns the append-only message log: single writer (the Turn
// Processor), many readers (LLM stream assembly). Readers always receive
// a snapshot, never a live slice, so a concurrent append cannot be
// observed mid-read.
type Store struct {
	mu      sync.RWMutex
	log     []Message
	window  int
	persona string
	dynamic DynamicBlockFunc

	retrievedMu sync.RWMutex
	retrieved   string
}

// NewStore returns a Store with the given persona text and dynamic-block
// generator. windowTurns <= 0 falls back to DefaultWindowTurns.
func NewStore(persona string, dynamic DynamicBlockFunc, windowTurns int) *Store {
	if windowTurns <= 0 {
		windowTurns = DefaultWindowTurns
	}
	if dynamic == nil {
		dynamic = func() string { return "" }
	}
	return &Store{persona: persona, dynamic: dynamic, window: windowTurns}
}

// Append adds msg to the end of the log. Messages never mutate after
// append; callers must not retain a mutable reference to msg.Content.
func (s *Store) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.log = append(s.log, msg)
	s.mu.Unlock()
}

// History returns a full snapshot of the log, in append order.
func (s *Store) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.log))
	if err := copier.Copy(&out, &s.log); err != nil {
		// copier only fails on incompatible shapes, never on a same-type
		// slice copy; fall back to a direct copy defensively.
		copy(out, s.log)
	}
	return out
}

// Window returns the sliding window of the last N turns (N = windowTurns
// at construction), adjusted so that a tool_use message is never split
// from its tool_result: if the naive cut point falls between the two,
// the window is extended backward to include both. Orphaned tool_result
// messages at the window's leading edge (whose tool_use already fell
// outside the window) are omitted instead, so the returned slice never
// contains a dangling tool_result.
func (s *Store) Window() []Message {
	s.mu.RLock()
	log := make([]Message, len(s.log))
	copy(log, s.log)
	s.mu.RUnlock()

	cut := windowCut(log, s.window)
	windowed := log[cut:]

	return dropOrphanedToolResults(windowed)
}

// windowCut computes the start index of the last turns-worth of messages,
// extending backward over any tool_use/tool_result pair straddling the
// boundary. A "turn" boundary is a user message; we count back over
// `turns` user messages, then adjust.
func windowCut(log []Message, turns int) int {
	if turns <= 0 || len(log) == 0 {
		return 0
	}
	cut := len(log)
	seen := 0
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == RoleUser {
			seen++
			if seen > turns {
				cut = i + 1
				break
			}
		}
		cut = i
	}
	// Extend backward while the message immediately before the cut is a
	// tool_use whose tool_result fell inside the window (straddling pair).
	for cut > 0 {
		before := log[cut-1]
		if before.HasToolUse() && windowHasOrphanResultFor(log[cut:], before) {
			cut--
			continue
		}
		break
	}
	return cut
}

// windowHasOrphanResultFor reports whether windowed contains a
// tool_result whose corresponding tool_use is candidate.
func windowHasOrphanResultFor(windowed []Message, candidate Message) bool {
	ids := map[string]bool{}
	for _, tc := range candidate.ToolUses() {
		ids[tc.ID] = true
	}
	for _, m := range windowed {
		if !m.HasToolResult() {
			continue
		}
		for _, b := range m.Content {
			if b.ToolResult != nil && ids[b.ToolResult.ID] {
				return true
			}
		}
	}
	return false
}

// dropOrphanedToolResults removes any leading tool_result messages whose
// tool_use already fell outside the window, so the result is always a
// well-formed conversation.
func dropOrphanedToolResults(windowed []Message) []Message {
	knownUses := map[string]bool{}
	for _, m := range windowed {
		for _, tc := range m.ToolUses() {
			knownUses[tc.ID] = true
		}
	}
	out := make([]Message, 0, len(windowed))
	for _, m := range windowed {
		if m.HasToolResult() {
			allKnown := true
			for _, b := range m.Content {
				if b.ToolResult != nil && !knownUses[b.ToolResult.ID] {
					allKnown = false
				}
			}
			if !allKnown {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// SetRetrievedContext atomically replaces the retrieved-context block
// text. No concurrent reader ever observes a torn value: the swap is a
// single mutex-protected write of a whole string.
func (s *Store) SetRetrievedContext(text string) {
	s.retrievedMu.Lock()
	s.retrieved = text
	s.retrievedMu.Unlock()
}

// SystemPrompt assembles the ordered 3-block system prompt: persona,
// retrieved context, dynamic — in that order, always. Dynamic is
// regenerated on every call and is never cache-eligible; persona and
// retrieved-context are cache-eligible and are not mutated by this call.
func (s *Store) SystemPrompt() []SystemBlock {
	s.retrievedMu.RLock()
	retrieved := s.retrieved
	s.retrievedMu.RUnlock()

	blocks := []SystemBlock{
		{Kind: BlockPersona, Text: s.persona, CacheEligible: true},
	}
	if retrieved != "" {
		blocks = append(blocks, SystemBlock{Kind: BlockRetrievedContext, Text: retrieved, CacheEligible: true})
	}
	blocks = append(blocks, SystemBlock{Kind: BlockDynamic, Text: s.dynamic(), CacheEligible: false})
	return blocks
}
