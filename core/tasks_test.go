package core

import (
	"context"
	"testing"
	"time"
)

func TestRegistrySpawnDeregistersOnCompletion(t *testing.T) {
	r := NewRegistry()

	done := make(chan struct{})
	h := r.Spawn(context.Background(), "test task", func(ctx context.Context) error {
		<-done
		return nil
	})

	if got := r.Len(); got != 1 {
		t.Fatalf("expected one tracked task, got %d", got)
	}

	close(done)
	if err := h.Wait(); err != nil {
		t.Fatalf("unexpected task error: %v", err)
	}

	deadline := time.After(time.Second)
	for r.Len() != 0 {
		select {
		case <-deadline:
			t.Fatalf("expected registry to deregister the completed task")
		default:
		}
	}
}

func TestRegistryShutdownAllCancelsAndAwaitsEveryTask(t *testing.T) {
	r := NewRegistry()

	const n = 3
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		r.Spawn(context.Background(), "long task", func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return ErrCancelled("stopped: %w", ctx.Err())
		})
	}

	for i := 0; i < n; i++ {
		<-started
	}

	r.ShutdownAll()

	if got := r.Len(); got != 0 {
		t.Fatalf("expected an empty registry after ShutdownAll, got %d tasks", got)
	}
}

func TestRegistrySpawnSuppressesPanics(t *testing.T) {
	r := NewRegistry()

	h := r.Spawn(context.Background(), "panicking task", func(ctx context.Context) error {
		panic("boom")
	})

	err := h.Wait()
	if ClassOf(err) != ClassCancelled {
		t.Fatalf("expected a recovered panic to classify as cancelled, got %v", err)
	}
}
