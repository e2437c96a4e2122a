package core

import (
	"github.com/voxloop/conductor/core/llms"

	convctx "github.com/voxloop/conductor/core/context"
)

// RecordingControlInput is the typed input for the recording_control
// tool.
type RecordingControlInput struct {
	Enabled bool `json:"enabled" jsonschema_description:"true to keep the microphone always forwarding to speech-to-text, false to only forward during LISTENING/INTERRUPTED"`
}

// SpeakingControlInput is the typed input for the speaking_control tool.
type SpeakingControlInput struct {
	Muted bool `json:"muted" jsonschema_description:"true to suppress text-to-speech output for subsequent sentences"`
}

// OrchestrationTools returns the two built-in tools every Orchestrator
// exposes to the LLM: recording_control (always-on mic capture) and
// speaking_control (mute/unmute TTS). Callers append their own
// domain tools to this slice.
func OrchestrationTools(o *Orchestrator, turn *TurnProcessor) []convctx.Tool {
	return []convctx.Tool{
		llms.NewTool("recording_control", "Enable or disable always-on microphone capture.",
			func(in RecordingControlInput) (any, error) {
				o.SetAlwaysCapture(in.Enabled)
				return map[string]any{"enabled": in.Enabled}, nil
			}),
		llms.NewTool("speaking_control", "Mute or unmute assistant speech output.",
			func(in SpeakingControlInput) (any, error) {
				turn.SetMuted(in.Muted)
				return map[string]any{"muted": in.Muted}, nil
			}),
	}
}
