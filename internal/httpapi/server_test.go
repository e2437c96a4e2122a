package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxloop/conductor/core"
)

type fakeSource struct {
	state core.State
	diag  core.Diagnostics
}

func (f *fakeSource) State() core.State             { return f.state }
func (f *fakeSource) Diagnostics() core.Diagnostics { return f.diag }

func TestHandleHealthReportsOK(t *testing.T) {
	s := NewServer(":0", &fakeSource{state: core.StateIdle}, false)

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
}

func TestHandleStateReflectsSource(t *testing.T) {
	s := NewServer(":0", &fakeSource{state: core.StateSpeaking}, false)

	rec := httptest.NewRecorder()
	s.handleState(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if body["state"] != string(core.StateSpeaking) {
		t.Fatalf("expected speaking state, got %v", body["state"])
	}
}

func TestHandleDiagnosticsReturnsSnapshot(t *testing.T) {
	diag := core.Diagnostics{State: core.StateActive, BackgroundTaskCount: 2, AudioQueueOccupancy: 5}
	s := NewServer(":0", &fakeSource{diag: diag}, false)

	rec := httptest.NewRecorder()
	s.handleDiagnostics(rec, httptest.NewRequest(http.MethodGet, "/diagnostics", nil))

	var got core.Diagnostics
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if got != diag {
		t.Fatalf("expected %+v, got %+v", diag, got)
	}
}

func TestHandleMemoryForbiddenWhenDisabled(t *testing.T) {
	s := NewServer(":0", &fakeSource{}, false)

	rec := httptest.NewRecorder()
	s.handleMemory(rec, httptest.NewRequest(http.MethodGet, "/memory", nil))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when memory endpoint disabled, got %d", rec.Code)
	}
}

func TestHandleMemoryReturnsSnapshotWhenEnabled(t *testing.T) {
	s := NewServer(":0", &fakeSource{}, true)

	rec := httptest.NewRecorder()
	s.handleMemory(rec, httptest.NewRequest(http.MethodGet, "/memory", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when memory endpoint enabled, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if _, ok := body["alloc_bytes"]; !ok {
		t.Fatalf("expected alloc_bytes in memory snapshot, got %v", body)
	}
}

func TestBroadcastDropsFramesForFullSubscribers(t *testing.T) {
	s := NewServer(":0", &fakeSource{}, false)

	ch := make(chan []byte, 1)
	s.hubMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.hubMu.Unlock()

	s.Broadcast([]byte{1})
	s.Broadcast([]byte{2}) // subscriber buffer is full, must not block

	select {
	case got := <-ch:
		if got[0] != 1 {
			t.Fatalf("expected the first frame to have been delivered, got %v", got)
		}
	default:
		t.Fatalf("expected the first broadcast frame to be queued")
	}
}
