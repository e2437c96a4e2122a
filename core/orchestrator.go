package core

import (
	"context"
	"sync"
	"sync/atomic"

	convctx "github.com/voxloop/conductor/core/context"
)

// STTPolicy controls what happens to the STT connection on ACTIVE -> IDLE.
// The source oscillated on this; the specification leaves it configurable
// (see DESIGN.md Open Question 1).
type STTPolicy int

const (
	STTKeepWarm STTPolicy = iota
	STTDisconnectOnIdle
)

// Orchestrator owns the microphone reader, the VAD, the STT connection,
// the State Machine, the Background Task Registry, and the Turn
// Processor. It is the single long-running coordinator per process.
type Orchestrator struct {
	Machine  *Machine
	Store    *convctx.Store
	Registry *Registry
	Turn     *TurnProcessor
	VAD      VAD
	STT      STT
	Memory   Memory

	STTPolicy STTPolicy

	mu            sync.Mutex
	committedText string
	partialText   string
	sttConnected  bool

	loop   chan func()
	cancel context.CancelFunc
	wg     sync.WaitGroup

	alwaysCapture atomic.Bool
}

// SetAlwaysCapture enables/disables always-on microphone forwarding to
// STT regardless of conversation state. Backs the built-in
// recording_control tool (core/tools.go).
func (o *Orchestrator) SetAlwaysCapture(on bool) { o.alwaysCapture.Store(on) }

// AlwaysCapture reports the current always-on capture setting.
func (o *Orchestrator) AlwaysCapture() bool { return o.alwaysCapture.Load() }

// NewOrchestrator wires the collaborators and starts the single-threaded
// event loop that all microphone/STT callbacks post work into.
func NewOrchestrator(machine *Machine, store *convctx.Store, registry *Registry, turn *TurnProcessor, vad VAD, stt STT, memory Memory) *Orchestrator {
	o := &Orchestrator{
		Machine:   machine,
		Store:     store,
		Registry:  registry,
		Turn:      turn,
		VAD:       vad,
		STT:       stt,
		Memory:    memory,
		STTPolicy: STTKeepWarm,
		loop:      make(chan func(), 256),
	}
	o.Machine.AddListener(o.onTransition)
	return o
}

// Startup brings up collaborators in dependency order: Memory is assumed
// already constructed by the caller (it has no connection step here);
// the event loop starts; the STT connection warms; the caller is then
// expected to enable the microphone (start feeding OnAudioFrame).
func (o *Orchestrator) Startup(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orchestrator startup")
	defer span.End()

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go o.runLoop(loopCtx)

	if o.STT != nil {
		o.STT.OnTranscript(o.deliverTranscript)
		o.STT.OnUtteranceEnd(func() { o.post(o.onUtteranceEnd) })
		if err := o.STT.Connect(ctx); err != nil {
			return ErrTransientNetwork("stt connect: %w", err)
		}
		o.mu.Lock()
		o.sttConnected = true
		o.mu.Unlock()
	}

	return nil
}

// Shutdown reverses Startup: disable microphone (caller's responsibility,
// done before calling Shutdown) -> cancel all background tasks (await) ->
// close STT -> kill Player -> stop the event loop. Cancelling background
// tasks before closing any pool is required so no task observes
// torn-down resources.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orchestrator shutdown")
	defer span.End()

	if o.Registry != nil {
		o.Registry.ShutdownAll()
	}

	var err error
	if o.STT != nil {
		if e := o.STT.Disconnect(ctx); e != nil {
			err = e
		}
	}
	if o.Turn != nil && o.Turn.Player != nil {
		o.Turn.Player.Kill()
	}
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	return err
}

func (o *Orchestrator) runLoop(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-o.loop:
			fn()
		}
	}
}

// post is the thread-safe enqueue primitive: any goroutine (notably the
// microphone callback) may call it; fn always executes on the single
// event-loop goroutine.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.loop <- fn:
	default:
		logger.Warn("orchestrator event loop saturated, dropping event")
	}
}

// OnAudioFrame is called on the microphone thread for every captured
// frame. It must not block: VAD evaluation and the enqueue are both
// cheap, and forwarding to STT happens asynchronously via the same
// thread-safe primitive, relayed onto the STT connection from the loop
// goroutine so state reads (current conversation State) stay consistent.
func (o *Orchestrator) OnAudioFrame(ctx context.Context, frame []byte) {
	state := o.Machine.State()
	threshold := VADThreshold(state)

	speech := o.VAD != nil && o.VAD.IsSpeech(frame, threshold)
	if speech {
		o.post(func() { o.onSpeechDetected(ctx) })
	}

	if state == StateListening || state == StateInterrupted || o.AlwaysCapture() {
		o.post(func() {
			if o.STT != nil {
				if err := o.STT.Send(ctx, frame); err != nil {
					logger.Warn("stt send failed, reconnecting", "error", err)
					_ = o.STT.Connect(ctx)
				}
			}
		})
	}
}

func (o *Orchestrator) onSpeechDetected(ctx context.Context) {
	switch o.Machine.State() {
	case StateIdle, StateActive:
		if _, err := o.Machine.Fire(EventSpeechDetected); err != nil {
			logger.Debug("speech_detected rejected", "error", err)
		}
	case StateSpeaking:
		if err := o.Turn.Interrupt(ctx); err != nil {
			logger.Warn("barge-in interrupt failed", "error", err)
		}
	}
}

func (o *Orchestrator) deliverTranscript(ev TranscriptEvent) {
	switch ev.Kind {
	case TranscriptPartial:
		o.post(func() { o.onPartialTranscript(ev.Text) })
	case TranscriptFinal:
		o.post(func() { o.onFinalTranscript(ev.Text) })
	}
}

// onPartialTranscript buffers the latest partial; it may be superseded
// by a later partial or the eventual final transcript.
func (o *Orchestrator) onPartialTranscript(text string) {
	o.mu.Lock()
	o.partialText = text
	o.mu.Unlock()
}

// onFinalTranscript commits the transcript for the utterance currently
// in progress.
func (o *Orchestrator) onFinalTranscript(text string) {
	o.mu.Lock()
	o.committedText = text
	o.partialText = ""
	o.mu.Unlock()
}

// onUtteranceEnd fires when STT judges the utterance complete. If there
// is a committed transcript, transitions LISTENING -> PROCESSING and
// invokes the Turn Processor.
func (o *Orchestrator) onUtteranceEnd() {
	o.mu.Lock()
	text := o.committedText
	o.committedText = ""
	o.mu.Unlock()

	if text == "" {
		return
	}
	if _, err := o.Machine.Fire(EventUtteranceComplete); err != nil {
		logger.Debug("utterance_complete rejected", "error", err)
		return
	}

	// The turn runs under the registry so Shutdown's ShutdownAll cancels
	// an in-flight stream before any collaborator is torn down.
	o.Registry.Spawn(context.Background(), "turn", func(ctx context.Context) error {
		if err := o.Turn.Run(ctx, text); err != nil && ClassOf(err) != ClassCancelled {
			return err
		}
		return nil
	})
}

// onTransition applies orchestrator-level side effects of a state change,
// in particular the ACTIVE -> IDLE STT policy.
func (o *Orchestrator) onTransition(from State, event Event, to State) {
	logger.Debug("state transition", "from", from, "event", event, "to", to)
	if from == StateActive && to == StateIdle && o.STTPolicy == STTDisconnectOnIdle && o.STT != nil {
		o.mu.Lock()
		connected := o.sttConnected
		o.mu.Unlock()
		if connected {
			go func() {
				if err := o.STT.Disconnect(context.Background()); err != nil {
					logger.Warn("stt disconnect on idle failed", "error", err)
					return
				}
				o.mu.Lock()
				o.sttConnected = false
				o.mu.Unlock()
			}()
		}
	}
}

// State returns the current conversation state.
func (o *Orchestrator) State() State { return o.Machine.State() }
