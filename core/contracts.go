package core

import (
	"context"

	convctx "github.com/voxloop/conductor/core/context"
)

// VAD gates microphone frames. Implementations are stateful: is_speech
// must only flip to true after a sustained supra-threshold period, and
// only back to false after a sustained sub-threshold period (hysteresis),
// so a single noisy frame cannot toggle detection.
type VAD interface {
	IsSpeech(frame []byte, threshold Sensitivity) bool
	Reset()
}

// TranscriptKind distinguishes a superseded interim result from a
// committed one.
type TranscriptKind int

const (
	TranscriptPartial TranscriptKind = iota
	TranscriptFinal
)

// TranscriptEvent is delivered by STT via callback.
type TranscriptEvent struct {
	Kind TranscriptKind
	Text string
}

// STT is a persistent streaming speech-to-text connection. The connection
// survives across utterances; a send failure triggers a reconnect rather
// than a hard error.
type STT interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame []byte) error
	Disconnect(ctx context.Context) error

	// OnTranscript registers the callback invoked for every partial/final
	// transcript. OnUtteranceEnd registers the callback invoked when the
	// collaborator judges the utterance complete.
	OnTranscript(func(TranscriptEvent))
	OnUtteranceEnd(func())
}

// StreamEventKind distinguishes the three shapes an LLM stream element
// may take.
type StreamEventKind int

const (
	StreamTextDelta StreamEventKind = iota
	StreamToolUse
	StreamStop
)

// StreamEvent is one element of an LLM stream.
type StreamEvent struct {
	Kind      StreamEventKind
	TextDelta string
	ToolUse   *convctx.ToolCall
}

// LLM streams a single response at a time; stream is restartable across
// turns. Cancel causes the in-flight stream to terminate at its next
// await point.
type LLM interface {
	Stream(ctx context.Context, blocks []convctx.SystemBlock, tools []convctx.Tool, messages []convctx.Message) (<-chan StreamEvent, error)
	Cancel()
}

// TTS streams PCM for one sentence at a time; each call is independent.
// Flush cancels whatever stream is currently active.
type TTS interface {
	Stream(ctx context.Context, text string) (<-chan AudioFrame, error)
	Flush()
}

// Player is the terminal sink for PCM frames.
type Player interface {
	Start(ctx context.Context) error
	Play(ctx context.Context, frame AudioFrame) error
	Finish(ctx context.Context) error
	Kill()
}

// Memory is the persistent memory/GraphRAG collaborator. Both operations
// may fail; failures are non-fatal to the turn.
type Memory interface {
	PreLoad(ctx context.Context, query string) (string, error)
	ExtractAndSave(ctx context.Context, messages []convctx.Message) error
}

// Persister appends one conversation turn to the durable conversation
// log. Failures are logged and dropped, matching the background-task
// error policy: persistence never blocks or fails a turn.
type Persister interface {
	AppendTurn(sessionID, role, content string) error
}
