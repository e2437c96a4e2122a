package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	convctx "github.com/voxloop/conductor/core/context"
)

// --- mock collaborators, in the teacher's mutex-guarded-counter style ---

type mockLLM struct {
	mu        sync.Mutex
	sequences [][]StreamEvent
	calls     int
	cancels   int32
}

func (m *mockLLM) Stream(ctx context.Context, blocks []convctx.SystemBlock, tools []convctx.Tool, messages []convctx.Message) (<-chan StreamEvent, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	var events []StreamEvent
	if idx < len(m.sequences) {
		events = m.sequences[idx]
	}
	m.mu.Unlock()

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (m *mockLLM) Cancel() { atomic.AddInt32(&m.cancels, 1) }

func (m *mockLLM) cancelCalls() int32 { return atomic.LoadInt32(&m.cancels) }

// blockingLLM streams one delta, then blocks on ctx cancellation instead of
// ever completing, so a test can force a barge-in mid-stream.
type blockingLLM struct {
	delta   string
	cancels int32
}

func (m *blockingLLM) Stream(ctx context.Context, blocks []convctx.SystemBlock, tools []convctx.Tool, messages []convctx.Message) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		select {
		case ch <- StreamEvent{Kind: StreamTextDelta, TextDelta: m.delta}:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func (m *blockingLLM) Cancel() { atomic.AddInt32(&m.cancels, 1) }

type mockTTS struct {
	mu         sync.Mutex
	streamed   []string
	flushCalls int
}

func (m *mockTTS) Stream(ctx context.Context, text string) (<-chan AudioFrame, error) {
	m.mu.Lock()
	m.streamed = append(m.streamed, text)
	m.mu.Unlock()

	ch := make(chan AudioFrame, 1)
	ch <- AudioFrame{PCM: []byte("pcm:" + text)}
	close(ch)
	return ch, nil
}

func (m *mockTTS) Flush() {
	m.mu.Lock()
	m.flushCalls++
	m.mu.Unlock()
}

type mockPlayer struct {
	mu        sync.Mutex
	played    int
	killCalls int
}

func (m *mockPlayer) Start(ctx context.Context) error { return nil }

func (m *mockPlayer) Play(ctx context.Context, frame AudioFrame) error {
	m.mu.Lock()
	m.played++
	m.mu.Unlock()
	return nil
}

func (m *mockPlayer) Finish(ctx context.Context) error { return nil }

func (m *mockPlayer) Kill() {
	m.mu.Lock()
	m.killCalls++
	m.mu.Unlock()
}

type mockMemory struct {
	mu        sync.Mutex
	extracted [][]convctx.Message
}

func (m *mockMemory) PreLoad(ctx context.Context, query string) (string, error) { return "", nil }

func (m *mockMemory) ExtractAndSave(ctx context.Context, messages []convctx.Message) error {
	m.mu.Lock()
	m.extracted = append(m.extracted, messages)
	m.mu.Unlock()
	return nil
}

type mockPersister struct {
	mu      sync.Mutex
	records []string
}

func (m *mockPersister) AppendTurn(sessionID, role, content string) error {
	m.mu.Lock()
	m.records = append(m.records, role+":"+content)
	m.mu.Unlock()
	return nil
}

// --- helpers ---

func driveToProcessing(t *testing.T, machine *Machine) {
	t.Helper()
	if _, err := machine.Fire(EventSpeechDetected); err != nil {
		t.Fatalf("drive to LISTENING: %v", err)
	}
	if _, err := machine.Fire(EventUtteranceComplete); err != nil {
		t.Fatalf("drive to PROCESSING: %v", err)
	}
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if m.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, stuck at %s", want, m.State())
		case <-time.After(time.Millisecond):
		}
	}
}

// S1: a clean single turn runs end to end: LLM streams one sentence, it is
// spoken, played, committed to history, and persisted, landing on ACTIVE.
func TestTurnProcessorCleanSingleTurn(t *testing.T) {
	machine := NewMachine()
	store := convctx.NewStore("persona", nil, 10)
	registry := NewRegistry()
	llm := &mockLLM{sequences: [][]StreamEvent{{{Kind: StreamTextDelta, TextDelta: "Hello world."}}}}
	tts := &mockTTS{}
	player := &mockPlayer{}
	memory := &mockMemory{}
	persist := &mockPersister{}

	p := NewTurnProcessor(machine, store, registry, llm, tts, player, memory, nil)
	p.Apply(WithPersistence(persist, "session-1"))

	driveToProcessing(t, machine)

	if err := p.Run(context.Background(), "hi there"); err != nil {
		t.Fatalf("unexpected turn error: %v", err)
	}

	if machine.State() != StateActive {
		t.Fatalf("expected state ACTIVE after a clean turn, got %s", machine.State())
	}
	if len(tts.streamed) != 1 || tts.streamed[0] != "Hello world." {
		t.Fatalf("expected the sentence to be spoken once, got %v", tts.streamed)
	}
	if player.played == 0 {
		t.Fatalf("expected at least one frame played")
	}

	history := store.History()
	if len(history) != 2 {
		t.Fatalf("expected user + assistant messages in history, got %d", len(history))
	}
	if history[1].Role != convctx.RoleAssistant || history[1].Text() != "Hello world." {
		t.Fatalf("unexpected assistant message: %+v", history[1])
	}

	deadline := time.After(time.Second)
	for {
		memory.mu.Lock()
		extracted := len(memory.extracted)
		memory.mu.Unlock()
		if extracted == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for memory extraction to finish")
		case <-time.After(time.Millisecond):
		}
	}

	persist.mu.Lock()
	records := append([]string(nil), persist.records...)
	persist.mu.Unlock()
	if len(records) != 2 || records[0] != "user:hi there" || records[1] != "assistant:Hello world." {
		t.Fatalf("unexpected persisted records: %v", records)
	}
}

// S2: barge-in mid-sentence cancels the in-flight turn, runs the steps in
// order, and discards the partial assistant response.
func TestTurnProcessorBargeInMidSentence(t *testing.T) {
	machine := NewMachine()
	store := convctx.NewStore("persona", nil, 10)
	registry := NewRegistry()
	llm := &blockingLLM{delta: "Hello there. "}
	tts := &mockTTS{}
	player := &mockPlayer{}

	p := NewTurnProcessor(machine, store, registry, llm, tts, player, nil, nil)

	driveToProcessing(t, machine)

	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(context.Background(), "hi there") }()

	waitForState(t, machine, StateSpeaking)

	if err := p.Interrupt(context.Background()); err != nil {
		t.Fatalf("unexpected interrupt error: %v", err)
	}

	select {
	case err := <-runErr:
		if ClassOf(err) != ClassCancelled {
			t.Fatalf("expected a cancelled turn error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the interrupted turn to return")
	}

	if machine.State() != StateListening {
		t.Fatalf("expected state LISTENING after interrupt handling, got %s", machine.State())
	}
	if tts.flushCalls != 1 {
		t.Fatalf("expected TTS.Flush to be called once, got %d", tts.flushCalls)
	}
	if player.killCalls != 1 {
		t.Fatalf("expected Player.Kill to be called once, got %d", player.killCalls)
	}
	if llm.cancels != 1 {
		t.Fatalf("expected LLM.Cancel to be called once, got %d", llm.cancels)
	}

	history := store.History()
	if len(history) != 1 {
		t.Fatalf("expected only the user message to survive an interrupted turn, got %d messages", len(history))
	}
}

// S4: cancelling the context a turn was started with (process shutdown)
// unwinds the in-flight producer/consumer pair the same way a barge-in
// does, without requiring Interrupt to be called at all.
func TestTurnProcessorShutdownMidStreamCancelsCleanly(t *testing.T) {
	machine := NewMachine()
	store := convctx.NewStore("persona", nil, 10)
	registry := NewRegistry()
	llm := &blockingLLM{delta: "Hello there. "}
	tts := &mockTTS{}
	player := &mockPlayer{}

	p := NewTurnProcessor(machine, store, registry, llm, tts, player, nil, nil)

	driveToProcessing(t, machine)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- p.Run(ctx, "hi there") }()

	waitForState(t, machine, StateSpeaking)
	cancel()

	select {
	case err := <-runErr:
		if ClassOf(err) != ClassCancelled {
			t.Fatalf("expected a cancelled turn error on shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the turn to unwind after context cancellation")
	}

	if llm.cancels != 0 {
		t.Fatalf("expected shutdown to unwind via context, not an explicit LLM.Cancel, got %d", llm.cancels)
	}

	history := store.History()
	if len(history) != 1 {
		t.Fatalf("expected only the user message to survive a shutdown-cancelled turn, got %d messages", len(history))
	}
}

// S3: the LLM requests a tool before answering; the tool runs, its result
// is appended, and the next iteration's final text is what gets spoken.
func TestTurnProcessorToolLoopThenFinalAnswer(t *testing.T) {
	machine := NewMachine()
	store := convctx.NewStore("persona", nil, 10)
	registry := NewRegistry()

	llm := &mockLLM{sequences: [][]StreamEvent{
		{{Kind: StreamToolUse, ToolUse: &convctx.ToolCall{ID: "tc-1", Name: "lookup"}}},
		{{Kind: StreamTextDelta, TextDelta: "The answer is 42."}},
	}}
	tts := &mockTTS{}
	player := &mockPlayer{}

	toolCalls := 0
	tools := []convctx.Tool{{
		Name: "lookup",
		Call: func(input any) (any, error) {
			toolCalls++
			return "42", nil
		},
	}}

	p := NewTurnProcessor(machine, store, registry, llm, tts, player, nil, tools)

	driveToProcessing(t, machine)

	if err := p.Run(context.Background(), "what is the answer"); err != nil {
		t.Fatalf("unexpected turn error: %v", err)
	}

	if toolCalls != 1 {
		t.Fatalf("expected the tool to run exactly once, got %d", toolCalls)
	}
	if len(tts.streamed) != 1 || tts.streamed[0] != "The answer is 42." {
		t.Fatalf("expected only the final answer to be spoken, got %v", tts.streamed)
	}

	history := store.History()
	if len(history) != 4 {
		t.Fatalf("expected [user, tool_use, tool_result, assistant], got %d messages", len(history))
	}
	if history[0].Role != convctx.RoleUser {
		t.Fatalf("expected a user message first, got %+v", history[0])
	}
	if history[1].Role != convctx.RoleAssistant || !history[1].HasToolUse() {
		t.Fatalf("expected the tool_use assistant message second, got %+v", history[1])
	}
	if history[2].Role != convctx.RoleToolResult {
		t.Fatalf("expected the tool_result third, got %+v", history[2])
	}
	if history[3].Role != convctx.RoleAssistant || history[3].Text() != "The answer is 42." {
		t.Fatalf("expected the final assistant answer last, got %+v", history[3])
	}
	if machine.State() != StateActive {
		t.Fatalf("expected state ACTIVE once the tool loop finishes, got %s", machine.State())
	}
}

// Reaching the tool-iteration cap with no final answer still finalizes the
// turn rather than looping forever or hanging (see DESIGN.md Open Question 2).
func TestTurnProcessorToolIterationCapFinalizes(t *testing.T) {
	machine := NewMachine()
	store := convctx.NewStore("persona", nil, 10)
	registry := NewRegistry()

	alwaysToolUse := []StreamEvent{{Kind: StreamToolUse, ToolUse: &convctx.ToolCall{ID: "tc-1", Name: "noop"}}}
	llm := &mockLLM{sequences: [][]StreamEvent{alwaysToolUse, alwaysToolUse}}
	tts := &mockTTS{}
	player := &mockPlayer{}
	tools := []convctx.Tool{{Name: "noop", Call: func(input any) (any, error) { return nil, nil }}}

	p := NewTurnProcessor(machine, store, registry, llm, tts, player, nil, tools)
	p.Apply(WithMaxToolIterations(2))

	driveToProcessing(t, machine)

	if err := p.Run(context.Background(), "keep calling tools"); err != nil {
		t.Fatalf("unexpected turn error: %v", err)
	}
	if machine.State() != StateActive {
		t.Fatalf("expected a capped tool loop to still land on ACTIVE, got %s", machine.State())
	}
}

// S6: the conversation self-transitions ACTIVE -> IDLE once the active
// timeout elapses with no further speech.
func TestTurnProcessorActiveTimeoutReturnsToIdle(t *testing.T) {
	machine := NewMachine()
	store := convctx.NewStore("persona", nil, 10)
	registry := NewRegistry()
	llm := &mockLLM{sequences: [][]StreamEvent{{{Kind: StreamTextDelta, TextDelta: "Done."}}}}
	tts := &mockTTS{}
	player := &mockPlayer{}

	p := NewTurnProcessor(machine, store, registry, llm, tts, player, nil, nil)
	p.Apply(WithActiveTimeout(20 * time.Millisecond))

	driveToProcessing(t, machine)

	if err := p.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected turn error: %v", err)
	}
	if machine.State() != StateActive {
		t.Fatalf("expected state ACTIVE immediately after the turn, got %s", machine.State())
	}

	waitForState(t, machine, StateIdle)
}
