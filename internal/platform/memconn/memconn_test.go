package memconn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"flowsync/internal/platform/memconn"
)

func TestPipeDeliversInOrder(t *testing.T) {
	t.Parallel()
	a, b := memconn.Pipe()
	ctx := context.Background()
	for _, frame := range []string{"one", "two", "three"} {
		if err := a.WriteMessage(ctx, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got, err := b.ReadMessage(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(got) != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}
}

func TestCloseDrainsThenFails(t *testing.T) {
	t.Parallel()
	a, b := memconn.Pipe()
	ctx := context.Background()
	_ = a.WriteMessage(ctx, []byte("last"))
	_ = a.Close()

	if got, err := b.ReadMessage(ctx); err != nil || string(got) != "last" {
		t.Fatalf("queued frame should survive close, got %q %v", got, err)
	}
	if _, err := b.ReadMessage(ctx); !errors.Is(err, memconn.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := b.WriteMessage(ctx, []byte("x")); !errors.Is(err, memconn.ErrClosed) {
		t.Fatalf("write after close: %v", err)
	}
	if !a.Closed() || !b.Closed() {
		t.Fatalf("both ends should report closed")
	}
}

func TestReadHonoursContext(t *testing.T) {
	t.Parallel()
	_, b := memconn.Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.ReadMessage(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
