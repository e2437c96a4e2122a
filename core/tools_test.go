package core

import (
	"testing"

	convctx "github.com/voxloop/conductor/core/context"
)

func TestOrchestrationToolsRecordingControlTogglesAlwaysCapture(t *testing.T) {
	machine := NewMachine()
	store := convctx.NewStore("persona", nil, 10)
	registry := NewRegistry()
	turn := NewTurnProcessor(machine, store, registry, nil, nil, nil, nil, nil)
	orch := NewOrchestrator(machine, store, registry, turn, nil, nil, nil)

	tools := OrchestrationTools(orch, turn)
	if len(tools) != 2 {
		t.Fatalf("expected exactly two built-in tools, got %d", len(tools))
	}

	var recording, speaking convctx.Tool
	for _, tool := range tools {
		switch tool.Name {
		case "recording_control":
			recording = tool
		case "speaking_control":
			speaking = tool
		}
	}
	if recording.Call == nil || speaking.Call == nil {
		t.Fatalf("expected both recording_control and speaking_control tools, got %+v", tools)
	}

	if _, err := recording.Call(map[string]any{"enabled": true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !orch.AlwaysCapture() {
		t.Fatalf("expected recording_control to enable always-on capture")
	}

	if _, err := speaking.Call(map[string]any{"muted": true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !turn.Muted() {
		t.Fatalf("expected speaking_control to mute TTS output")
	}
}
