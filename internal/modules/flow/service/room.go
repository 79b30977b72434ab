package service

import (
	"context"
	"sync"

	docdomain "flowsync/internal/modules/document/domain"
	transportdomain "flowsync/internal/modules/transport/domain"
	transportin "flowsync/internal/modules/transport/port/in"
	apperrors "flowsync/internal/platform/errors"
)

// Room is one consumer's hold on a shared room session. Every Room opened must be
// closed; closing the last Room of a name tears the session down.
type Room struct {
	name     string
	sessions transportin.Sessions
	session  transportin.Session

	mu         sync.Mutex
	closed     bool
	stopStatus func()
	listeners  []connectivityListener
	nextID     int
}

type connectivityListener struct {
	id int
	fn func(bool)
}

// OpenRoom acquires the session for name and starts following its connectivity.
// Switching rooms is Close on the old handle and OpenRoom for the new name.
func OpenRoom(sessions transportin.Sessions, name string) *Room {
	r := &Room{name: name, sessions: sessions, session: sessions.Acquire(name)}
	r.stopStatus = r.session.OnStatus(func(status transportdomain.Status) {
		r.notify(status == transportdomain.StatusConnected)
	})
	return r
}

func (r *Room) Name() string { return r.name }

// Doc returns the room document, or nil once the handle is closed.
func (r *Room) Doc() *docdomain.Doc {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.session.Doc()
}

func (r *Room) Awareness() *docdomain.Awareness {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.session.Awareness()
}

func (r *Room) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.session.Connected()
}

func (r *Room) Status() transportdomain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return transportdomain.StatusClosed
	}
	return r.session.Status()
}

// WaitSynced blocks until the room finished its first handshake.
func (r *Room) WaitSynced(ctx context.Context) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return apperrors.ErrClosed
	}
	return r.session.WaitSynced(ctx)
}

// OnConnectivity reports every status change as connected or not.
func (r *Room) OnConnectivity(fn func(connected bool)) (cancel func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, connectivityListener{id: id, fn: fn})
	r.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, l := range r.listeners {
				if l.id == id {
					r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (r *Room) notify(connected bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	listeners := append([]connectivityListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.fn(connected)
	}
}

// Close unsubscribes, then releases the session. Further calls do nothing.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	stop := r.stopStatus
	r.listeners = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
	r.sessions.Release(r.name)
}
