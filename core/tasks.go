package core

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TaskFunc is the body of a background task. It must respect ctx
// cancellation at its next suspension point.
type TaskFunc func(ctx context.Context) error

// TaskHandle is the cancellable, self-deregistering unit returned by
// Registry.Spawn.
type TaskHandle struct {
	ID     string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel requests cancellation; it does not block on completion.
func (h *TaskHandle) Cancel() { h.cancel() }

// Wait blocks until the task has finished and returns its error.
func (h *TaskHandle) Wait() error {
	<-h.done
	return h.err
}

// Registry tracks fire-and-forget tasks spawned through Spawn, removing
// each one automatically on completion, error, or cancellation. All
// background work — in-flight turns, memory extraction, timers — must be
// spawned through a Registry so that ShutdownAll can guarantee a clean,
// empty set with no task left observing torn-down resources.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*TaskHandle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*TaskHandle)}
}

// Spawn starts fn in its own goroutine under a context derived from
// parent, registers the handle, and arranges for it to deregister itself
// when fn returns.
func (r *Registry) Spawn(parent context.Context, name string, fn TaskFunc) *TaskHandle {
	ctx, cancel := context.WithCancel(parent)
	h := &TaskHandle{ID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.handles[h.ID] = h
	r.mu.Unlock()

	go func() {
		defer close(h.done)
		defer r.remove(h.ID)
		defer cancel()

		ctx, span := tracer.Start(ctx, "background task: "+name)
		defer span.End()

		err := func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = ErrCancelled("background task %q panicked: %v", name, rec)
					logger.Error("background task panic", "task", name, "panic", rec)
				}
			}()
			return fn(ctx)
		}()

		if err != nil {
			span.RecordError(err)
			logger.Error("background task failed", "task", name, "error", err)
		}
		h.err = err
	}()

	return h
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
}

// Len reports the number of tasks currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// ShutdownAll cancels every tracked handle and awaits all of them, with
// errors suppressed (logged, not returned). After it returns, the
// registry is guaranteed empty. Callers must close any pools/clients
// background tasks might use only AFTER ShutdownAll returns.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	handles := make([]*TaskHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	for _, h := range handles {
		if err := h.Wait(); err != nil {
			logger.Debug("background task ended during shutdown", "task", h.ID, "error", err)
		}
	}
}
