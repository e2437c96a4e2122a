package llms

import "testing"

type recordingControlInput struct {
	Enabled bool `json:"enabled"`
}

func TestNewToolReflectsSchemaFromInputType(t *testing.T) {
	tool := NewTool("recording_control", "toggle capture", func(in recordingControlInput) (any, error) {
		return in.Enabled, nil
	})

	if tool.Name != "recording_control" || tool.Description != "toggle capture" {
		t.Fatalf("unexpected tool metadata: %+v", tool)
	}
	if tool.Schema == nil {
		t.Fatalf("expected a reflected JSON schema, got nil")
	}
}

func TestNewToolCallDecodesMapInput(t *testing.T) {
	tool := NewTool("recording_control", "toggle capture", func(in recordingControlInput) (any, error) {
		return in.Enabled, nil
	})

	out, err := tool.Call(map[string]any{"enabled": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != true {
		t.Fatalf("expected decoded enabled=true, got %v", out)
	}
}

func TestNewToolCallAcceptsAlreadyTypedInput(t *testing.T) {
	tool := NewTool("recording_control", "toggle capture", func(in recordingControlInput) (any, error) {
		return in.Enabled, nil
	})

	out, err := tool.Call(recordingControlInput{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != false {
		t.Fatalf("expected decoded enabled=false, got %v", out)
	}
}

func TestNewToolCallHandlesNilInput(t *testing.T) {
	tool := NewTool("noop", "no args", func(in struct{}) (any, error) {
		return "ok", nil
	})

	out, err := tool.Call(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Fatalf("expected the handler to run with a zero-value input, got %v", out)
	}
}
