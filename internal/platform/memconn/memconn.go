// Package memconn provides an in-process, message-oriented connection pair. It lets a
// client session talk to an in-process relay without a network listener.
package memconn

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("memconn: connection closed")

// queue is an unbounded FIFO so that two peers writing to each other at the same time
// never block on one another.
type queue struct {
	mu     sync.Mutex
	frames [][]byte
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(frame []byte) {
	q.mu.Lock()
	q.frames = append(q.frames, append([]byte(nil), frame...))
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) pop(ctx context.Context, done <-chan struct{}) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			frame := q.frames[0]
			q.frames = q.frames[1:]
			q.mu.Unlock()
			return frame, nil
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Conn is one end of a Pipe.
type Conn struct {
	rx   *queue
	tx   *queue
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected ends. Closing either end closes both; frames already
// queued remain readable.
func Pipe() (*Conn, *Conn) {
	ab, ba := newQueue(), newQueue()
	done := make(chan struct{})
	once := &sync.Once{}
	return &Conn{rx: ba, tx: ab, done: done, once: once},
		&Conn{rx: ab, tx: ba, done: done, once: once}
}

func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	return c.rx.pop(ctx, c.done)
}

func (c *Conn) WriteMessage(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.tx.push(frame)
	return nil
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Closed reports whether either end has been closed.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
