package core

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	convctx "github.com/voxloop/conductor/core/context"
)

// DefaultMaxToolIterations is the hard cap on tool-use loops per turn.
// Reaching it without a final non-tool answer treats the last non-tool
// output as the final answer (see DESIGN.md, Open Question 2).
const DefaultMaxToolIterations = 3

// DefaultActiveTimeout is how long the conversation waits in ACTIVE
// before self-transitioning to IDLE.
const DefaultActiveTimeout = 30 * time.Second

// ApologyText is played via TTS when a turn aborts on a collaborator
// failure mid-stream.
const ApologyText = "Sorry, I ran into a problem there. Could you say that again?"

// TurnStage is internal bookkeeping, not one of the six Conversation
// States. It is purely descriptive (logging/diagnostics).
type TurnStage string

const (
	TurnPreparing  TurnStage = "preparing"
	TurnGenerating TurnStage = "generating"
	TurnSpeaking   TurnStage = "speaking"
	TurnFinalized  TurnStage = "finalized"
)

// turn tracks the mutable, per-user-utterance state the barge-in handler
// needs: its own cancellable context and the assistant content
// accumulated so far, which is discarded rather than committed if the
// turn is interrupted.
type turn struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	stageMu sync.Mutex
	stage   TurnStage

	interrupted atomic.Bool

	contentMu sync.Mutex
	content   []convctx.ContentBlock

	audioStageMu sync.Mutex
	audioStage   *AudioStage
}

func (t *turn) setAudioStage(s *AudioStage) {
	t.audioStageMu.Lock()
	t.audioStage = s
	t.audioStageMu.Unlock()
}

func (t *turn) drainAudioStage() {
	t.audioStageMu.Lock()
	s := t.audioStage
	t.audioStageMu.Unlock()
	if s != nil {
		s.Drain()
	}
}

func newTurn(parent context.Context) *turn {
	ctx, cancel := context.WithCancel(parent)
	return &turn{id: uuid.NewString(), ctx: ctx, cancel: cancel, stage: TurnPreparing}
}

func (t *turn) setStage(s TurnStage) {
	t.stageMu.Lock()
	t.stage = s
	t.stageMu.Unlock()
}

func (t *turn) Stage() TurnStage {
	t.stageMu.Lock()
	defer t.stageMu.Unlock()
	return t.stage
}

func (t *turn) appendContent(blocks ...convctx.ContentBlock) {
	t.contentMu.Lock()
	t.content = append(t.content, blocks...)
	t.contentMu.Unlock()
}

func (t *turn) snapshotContent() []convctx.ContentBlock {
	t.contentMu.Lock()
	defer t.contentMu.Unlock()
	out := make([]convctx.ContentBlock, len(t.content))
	copy(out, t.content)
	return out
}

// TurnProcessor drives one user turn end-to-end: LLM stream, sentence
// chunking, TTS, and playback, including the tool-use loop and the
// barge-in protocol.
type TurnProcessor struct {
	Machine  *Machine
	Store    *convctx.Store
	Registry *Registry

	LLM       LLM
	TTS       TTS
	Player    Player
	Memory    Memory
	Persist   Persister
	SessionID string

	Tools []convctx.Tool

	MaxToolIterations int
	ActiveTimeout     time.Duration

	mu            sync.Mutex
	active        *turn
	timeoutCancel func()

	muted atomic.Bool
}

// SetMuted enables/disables TTS output. While muted, speak() skips the
// TTS call entirely but the assistant text is still accumulated and
// appended to the context, so muting does not change the conversation
// log, only whether the player receives audio. Backs the built-in
// speaking_control tool (core/tools.go).
func (p *TurnProcessor) SetMuted(muted bool) { p.muted.Store(muted) }

// Muted reports the current mute state.
func (p *TurnProcessor) Muted() bool { return p.muted.Load() }

// NewTurnProcessor wires the collaborators a turn needs. Zero-value
// MaxToolIterations/ActiveTimeout fall back to the package defaults.
// Memory may be nil; the memory-extraction task is then skipped.
func NewTurnProcessor(machine *Machine, store *convctx.Store, registry *Registry, llm LLM, tts TTS, player Player, memory Memory, tools []convctx.Tool) *TurnProcessor {
	return &TurnProcessor{
		Machine:           machine,
		Store:             store,
		Registry:          registry,
		LLM:               llm,
		TTS:               tts,
		Player:            player,
		Memory:            memory,
		Tools:             tools,
		MaxToolIterations: DefaultMaxToolIterations,
		ActiveTimeout:     DefaultActiveTimeout,
	}
}

func (p *TurnProcessor) maxIterations() int {
	if p.MaxToolIterations <= 0 {
		return DefaultMaxToolIterations
	}
	return p.MaxToolIterations
}

// Run drives one turn for the committed user transcript. It blocks until
// the turn reaches ACTIVE (normal completion), is interrupted (barge-in,
// returns ErrCancelled-classed error), or aborts on collaborator failure.
func (p *TurnProcessor) Run(ctx context.Context, transcript string) error {
	ctx, span := tracer.Start(ctx, "turn")
	defer span.End()

	t := newTurn(ctx)
	p.setActive(t)
	defer p.setActive(nil)

	p.Store.Append(convctx.NewUserMessage(transcript))
	p.persist("user", transcript)

	speakingOnce := sync.Once{}
	transitionToSpeaking := func() {
		speakingOnce.Do(func() {
			if _, err := p.Machine.Fire(EventTTSStarted); err != nil {
				logger.Warn("turn: speaking transition rejected", "error", err)
			}
			t.setStage(TurnSpeaking)
		})
	}

	for iteration := 0; iteration < p.maxIterations(); iteration++ {
		t.setStage(TurnGenerating)

		blocks := p.Store.SystemPrompt()
		messages := p.Store.Window()

		stream, err := p.LLM.Stream(t.ctx, blocks, p.Tools, messages)
		if err != nil {
			return p.abortOnFailure(t, err)
		}

		toolUses, assistantText, streamErr := p.runProducerConsumer(t, stream, transitionToSpeaking)
		if streamErr != nil {
			if ClassOf(streamErr) == ClassCancelled {
				return p.handleInterrupt(t)
			}
			return p.abortOnFailure(t, streamErr)
		}

		if len(toolUses) == 0 {
			t.appendContent(convctx.ContentBlock{Text: assistantText})
			return p.finalizeTurn(t)
		}

		// Commit this iteration's assistant message (text plus its tool_use
		// blocks) before any result, so the log always reads
		// [... assistant(tool_use), tool_result ...] and the sliding window
		// never sees a result ahead of its call.
		toolBlocks := make([]convctx.ContentBlock, 0, len(toolUses)+1)
		if assistantText != "" {
			toolBlocks = append(toolBlocks, convctx.ContentBlock{Text: assistantText})
		}
		for i := range toolUses {
			toolBlocks = append(toolBlocks, convctx.ContentBlock{ToolUse: &toolUses[i]})
		}
		msg := convctx.NewAssistantMessage(toolBlocks)
		p.Store.Append(msg)
		p.persist("assistant", msg.Text())

		for _, tc := range toolUses {
			result := p.callTool(t.ctx, tc)
			p.Store.Append(convctx.NewToolResultMessage(result))
		}

		if t.Stage() == TurnSpeaking {
			// Already reached SPEAKING this iteration (audio played before the
			// tool_use arrived). Only the internal stage goes back to
			// generating: the state table has no SPEAKING -> PROCESSING
			// transition, so the tool_iteration event below is rejected and
			// the conversation state stays SPEAKING.
			t.setStage(TurnGenerating)
		}
		if _, err := p.Machine.Fire(EventToolIteration); err != nil {
			logger.Debug("turn: tool_iteration self-loop rejected", "error", err)
		}
	}

	// Tool-iteration cap reached with a pending tool_use: treat the last
	// non-tool output as the final answer (see DESIGN.md Open Question 2).
	return p.finalizeTurn(t)
}

// runProducerConsumer spawns the producer (LLM stream -> chunker -> TTS ->
// AudioStage) and consumer (AudioStage -> Player) tasks for one LLM
// iteration and awaits both. It returns every tool_use block observed and
// the full assistant text emitted this iteration.
func (p *TurnProcessor) runProducerConsumer(t *turn, stream <-chan StreamEvent, onFirstFrame func()) ([]convctx.ToolCall, string, error) {
	stage := NewAudioStage()
	t.setAudioStage(stage)
	defer t.setAudioStage(nil)
	chunker := NewChunker()

	var (
		toolUses []convctx.ToolCall
		textBuf  strings.Builder
		mu       sync.Mutex
	)

	var wg sync.WaitGroup
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = p.produce(t, stream, chunker, stage, &mu, &textBuf, &toolUses, onFirstFrame)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = p.consume(t, stage)
	}()

	wg.Wait()

	mu.Lock()
	text := textBuf.String()
	uses := append([]convctx.ToolCall(nil), toolUses...)
	mu.Unlock()

	return uses, text, JoinTurnErrors(errs...)
}

// produce drains the LLM stream, hands completed sentences to TTS, and
// pushes PCM frames into stage, respecting cancellation between
// sentences and after each frame as required by the concurrency model.
func (p *TurnProcessor) produce(t *turn, stream <-chan StreamEvent, chunker *Chunker, stage *AudioStage, mu *sync.Mutex, textBuf *strings.Builder, toolUses *[]convctx.ToolCall, onFirstFrame func()) error {
	defer close1(t.ctx, stage)

	speak := func(sentence string) error {
		if p.Muted() {
			return nil
		}
		ttsCh, err := p.TTS.Stream(t.ctx, sentence)
		if err != nil {
			logger.Warn("turn: tts error, skipping sentence", "error", err)
			return nil // TTS transport error mid-sentence: skip, continue (§4.6 failure semantics)
		}
		for frame := range ttsCh {
			select {
			case <-t.ctx.Done():
				return ErrCancelled("producer cancelled: %w", t.ctx.Err())
			default:
			}
			if frame.EndOfUtterance {
				// A TTS end-of-stream marker ends one sentence only; the
				// stage's own sentinel is sent by close1 when the producer ends.
				continue
			}
			if err := stage.Send(t.ctx, frame); err != nil {
				return err
			}
			onFirstFrame()
		}
		return nil
	}

	for {
		select {
		case <-t.ctx.Done():
			return ErrCancelled("producer cancelled: %w", t.ctx.Err())
		case ev, ok := <-stream:
			if !ok {
				if remainder := chunker.Flush(); remainder != "" {
					mu.Lock()
					textBuf.WriteString(remainder)
					mu.Unlock()
					if err := speak(remainder); err != nil {
						return err
					}
				}
				return nil
			}
			switch ev.Kind {
			case StreamTextDelta:
				mu.Lock()
				textBuf.WriteString(ev.TextDelta)
				mu.Unlock()
				for _, sentence := range chunker.Push(ev.TextDelta) {
					if err := speak(sentence); err != nil {
						return err
					}
				}
			case StreamToolUse:
				if ev.ToolUse != nil {
					mu.Lock()
					*toolUses = append(*toolUses, *ev.ToolUse)
					mu.Unlock()
				}
			case StreamStop:
				if remainder := chunker.Flush(); remainder != "" {
					mu.Lock()
					textBuf.WriteString(remainder)
					mu.Unlock()
					if err := speak(remainder); err != nil {
						return err
					}
				}
				return nil
			}
		}
	}
}

// close1 sends the end-of-utterance sentinel so the consumer can exit
// its drain loop once the stage is empty. Best-effort: if the stage is
// full and nobody is draining it any more (consumer already exited on
// cancellation), it does not block the producer goroutine forever.
func close1(ctx context.Context, stage *AudioStage) {
	select {
	case stage.frames <- EndOfUtteranceFrame:
	case <-ctx.Done():
	}
}

// consume drains stage into the Player until the end-of-utterance
// sentinel, respecting cancellation after each frame.
func (p *TurnProcessor) consume(t *turn, stage *AudioStage) error {
	for {
		select {
		case <-t.ctx.Done():
			return ErrCancelled("consumer cancelled: %w", t.ctx.Err())
		default:
		}
		frame, ok, err := stage.Receive(t.ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if frame.EndOfUtterance {
			return nil
		}
		if err := p.Player.Play(t.ctx, frame); err != nil {
			logger.Warn("turn: player error", "error", err)
		}
	}
}

// callTool executes one tool call, returning the error object as the
// tool result rather than failing the turn (§4.6 failure semantics).
func (p *TurnProcessor) callTool(ctx context.Context, call convctx.ToolCall) convctx.ToolResult {
	for _, tool := range p.Tools {
		if tool.Name != call.Name {
			continue
		}
		out, err := tool.Call(call.Input)
		return convctx.ToolResult{ID: call.ID, Output: out, Err: err}
	}
	return convctx.ToolResult{ID: call.ID, Err: ErrProtocolViolation("unknown tool %q", call.Name)}
}

// finalizeTurn appends the accumulated assistant message, transitions to
// ACTIVE, arms the active-timeout timer, and spawns the memory-extraction
// background task.
func (p *TurnProcessor) finalizeTurn(t *turn) error {
	content := t.snapshotContent()
	if len(content) > 0 {
		msg := convctx.NewAssistantMessage(content)
		p.Store.Append(msg)
		p.persist("assistant", msg.Text())
	}
	t.setStage(TurnFinalized)

	// A turn that never spoke (e.g. capped at the tool-iteration limit with
	// no final TTS) is still driven through SPEAKING to ACTIVE, mirroring
	// abortOnFailure's fallback, so the active-timeout rule always applies
	// once a turn finishes.
	switch p.Machine.State() {
	case StateSpeaking:
		_, _ = p.Machine.Fire(EventTTSComplete)
	case StateProcessing:
		if _, err := p.Machine.Fire(EventTTSStarted); err == nil {
			_, _ = p.Machine.Fire(EventTTSComplete)
		}
	}

	p.armActiveTimeout()

	if p.Registry != nil && p.Memory != nil {
		log := p.Store.History()
		p.Registry.Spawn(context.Background(), "memory extraction", func(ctx context.Context) error {
			return p.Memory.ExtractAndSave(ctx, log)
		})
	}
	return nil
}

// persist appends one conversation line to the durable log. Failures are
// logged and dropped, never surfaced to the user, matching the
// background-task error policy.
func (p *TurnProcessor) persist(role, content string) {
	if p.Persist == nil || content == "" {
		return
	}
	if err := p.Persist.AppendTurn(p.SessionID, role, content); err != nil {
		logger.Warn("failed to persist conversation turn", "error", err)
	}
}

// armActiveTimeout spawns the ACTIVE -> IDLE timer as a registry task (a
// cancellable sleep), so shutdown cancels it along with every other
// background task. Re-arming cancels the previous timer first.
func (p *TurnProcessor) armActiveTimeout() {
	timeout := p.ActiveTimeout
	if timeout <= 0 {
		timeout = DefaultActiveTimeout
	}

	p.mu.Lock()
	if p.timeoutCancel != nil {
		p.timeoutCancel()
	}
	handle := p.Registry.Spawn(context.Background(), "active timeout", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(timeout):
		}
		if p.Machine.State() == StateActive {
			if _, err := p.Machine.Fire(EventActiveTimeout); err != nil {
				logger.Debug("active timeout transition rejected", "error", err)
			}
		}
		return nil
	})
	p.timeoutCancel = handle.Cancel
	p.mu.Unlock()
}

// abortOnFailure implements the "LLM transport error mid-stream" failure
// path: abort the turn, transition to ACTIVE, and play a short apology.
func (p *TurnProcessor) abortOnFailure(t *turn, cause error) error {
	logger.Error("turn aborted on collaborator failure", "error", cause)
	if ch, err := p.TTS.Stream(context.Background(), ApologyText); err == nil {
		for frame := range ch {
			if p.Player != nil {
				_ = p.Player.Play(context.Background(), frame)
			}
		}
	}
	if p.Machine.State() == StateSpeaking {
		_, _ = p.Machine.Fire(EventTTSComplete)
	} else if p.Machine.State() == StateProcessing {
		// Force through SPEAKING so the state lands on ACTIVE either way.
		if _, err := p.Machine.Fire(EventTTSStarted); err == nil {
			_, _ = p.Machine.Fire(EventTTSComplete)
		}
	}
	p.armActiveTimeout()
	return ErrTransientNetwork("turn aborted: %w", cause)
}

// Interrupt implements the barge-in protocol: it is invoked by the
// Orchestrator when VAD reports speech while SPEAKING. The steps run in
// the exact order the design mandates.
func (p *TurnProcessor) Interrupt(ctx context.Context) error {
	p.mu.Lock()
	t := p.active
	p.mu.Unlock()
	if t == nil {
		return nil
	}
	if !t.interrupted.CompareAndSwap(false, true) {
		return nil // already interrupting
	}

	if _, err := p.Machine.Fire(EventSpeechDetected); err != nil {
		return err
	}

	p.LLM.Cancel()
	p.TTS.Flush()
	p.Player.Kill()

	t.drainAudioStage()

	// Cancel in-flight producer/consumer tasks: t.cancel closes t.ctx,
	// which both runProducerConsumer goroutines watch. Interrupt does not
	// wait for them to exit; Run() is blocked in runProducerConsumer's
	// wg.Wait() and returns once both goroutines observe the cancellation,
	// which may be after Interrupt has returned.
	t.cancel()

	// The partial assistant response is discarded: snapshotContent is
	// simply never appended to the Store (finalizeTurn is never called on
	// this path).

	_, err := p.Machine.Fire(EventInterruptHandled)
	return err
}

func (p *TurnProcessor) handleInterrupt(t *turn) error {
	return ErrCancelled("turn interrupted")
}

func (p *TurnProcessor) setActive(t *turn) {
	p.mu.Lock()
	p.active = t
	p.mu.Unlock()
}

// ActiveTurnID reports the ID of the turn currently in flight, or "" if
// none.
func (p *TurnProcessor) ActiveTurnID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return ""
	}
	return p.active.id
}

// AudioQueueOccupancy reports the current in-flight turn's audio stage
// depth, or 0 if no turn is speaking.
func (p *TurnProcessor) AudioQueueOccupancy() int {
	p.mu.Lock()
	t := p.active
	p.mu.Unlock()
	if t == nil {
		return 0
	}
	t.audioStageMu.Lock()
	stage := t.audioStage
	t.audioStageMu.Unlock()
	if stage == nil {
		return 0
	}
	return stage.Occupancy()
}
