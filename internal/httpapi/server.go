// Package httpapi exposes the orchestrator's minimal HTTP control surface
// and a best-effort WebSocket broadcast of outbound speech audio.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/voxloop/conductor/core"
)

const scopeName = "github.com/voxloop/conductor/internal/httpapi"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

// Source supplies live state for the HTTP surface. Implemented by
// *core.Orchestrator in production, a fake in tests.
type Source interface {
	State() core.State
	Diagnostics() core.Diagnostics
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // LAN-only by design, no auth
}

// Server is the gorilla/mux-backed control surface plus the audio
// broadcast hub.
type Server struct {
	source Source
	http   *http.Server

	hubMu       sync.Mutex
	subscribers map[chan []byte]struct{}

	memoryEnabled bool
}

// NewServer wires the routes in spec.md's HTTP control surface table.
// memoryEnabled gates GET /memory, which is opt-in.
func NewServer(addr string, source Source, memoryEnabled bool) *Server {
	s := &Server{
		source:        source,
		subscribers:   make(map[chan []byte]struct{}),
		memoryEnabled: memoryEnabled,
	}

	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	router.HandleFunc("/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
	router.HandleFunc("/memory", s.handleMemory).Methods(http.MethodGet)
	router.HandleFunc("/ws/audio", s.handleAudioWS)

	s.http = &http.Server{
		Addr:    addr,
		Handler: otelhttp.NewHandler(router, "httpapi"),
	}
	return s
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "state": s.source.State()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"state": s.source.State()})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "diagnostics")
	defer span.End()
	writeJSON(w, s.source.Diagnostics())
}

func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	if !s.memoryEnabled {
		http.Error(w, "memory snapshot disabled", http.StatusForbidden)
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	writeJSON(w, map[string]any{
		"alloc_bytes":  m.Alloc,
		"heap_objects": m.HeapObjects,
		"goroutines":   runtime.NumGoroutine(),
		"gc_cycles":    m.NumGC,
	})
}

// handleAudioWS upgrades the connection and registers it as a broadcast
// subscriber until the client disconnects. No auth, per spec: LAN only.
func (s *Server) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan []byte, 32)
	s.hubMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.hubMu.Unlock()
	defer func() {
		s.hubMu.Lock()
		delete(s.subscribers, ch)
		s.hubMu.Unlock()
	}()

	for pcm := range ch {
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
			return
		}
	}
}

// Broadcast fans out one PCM frame to every connected /ws/audio client,
// dropping it for any subscriber whose buffer is full rather than
// blocking the speech pipeline.
func (s *Server) Broadcast(pcm []byte) {
	s.hubMu.Lock()
	defer s.hubMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- pcm:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}
