package service

import (
	"sort"
	"sync"
	"time"

	transportin "flowsync/internal/modules/transport/port/in"
	transportout "flowsync/internal/modules/transport/port/out"
	"flowsync/internal/platform/logging"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultMinBackoff       = 500 * time.Millisecond
	defaultMaxBackoff       = 30 * time.Second
)

type Settings struct {
	// RawUpdates sends local deltas on the bare update channel instead of as sync
	// update messages.
	RawUpdates       bool
	HandshakeTimeout time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	Now              func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = defaultHandshakeTimeout
	}
	if s.MinBackoff <= 0 {
		s.MinBackoff = defaultMinBackoff
	}
	if s.MaxBackoff < s.MinBackoff {
		s.MaxBackoff = defaultMaxBackoff
		if s.MaxBackoff < s.MinBackoff {
			s.MaxBackoff = s.MinBackoff
		}
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Registry owns at most one Session per room and shares it by reference count.
type Registry struct {
	dialer   transportout.Dialer
	store    transportout.SnapshotStore
	settings Settings
	logger   logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	// closing holds rooms whose last session is still saving; it closes when done.
	closing map[string]chan struct{}
}

var _ transportin.Sessions = (*Registry)(nil)

// NewRegistry builds a registry. store may be nil to keep documents in memory only.
func NewRegistry(dialer transportout.Dialer, store transportout.SnapshotStore, settings Settings, logger logging.Logger) *Registry {
	return &Registry{
		dialer:   dialer,
		store:    store,
		settings: settings.withDefaults(),
		logger:   logging.OrNoOp(logger),
		sessions: map[string]*Session{},
		closing:  map[string]chan struct{}{},
	}
}

// Acquire returns the room's session, opening it on first use. It never fails: an
// unreachable peer only leaves the session disconnected while local edits proceed.
func (r *Registry) Acquire(room string) transportin.Session {
	return r.acquire(room)
}

// acquire never holds r.mu across store I/O. Callers sharing a session that is still
// loading wait for it, and a room that is being closed is reopened only once its
// snapshot has been saved, so the new session loads the latest state.
func (r *Registry) acquire(room string) *Session {
	for {
		r.mu.Lock()
		if s, ok := r.sessions[room]; ok {
			s.refs++
			r.mu.Unlock()
			<-s.ready
			return s
		}
		if done, ok := r.closing[room]; ok {
			r.mu.Unlock()
			<-done
			continue
		}
		s := newSession(room, r.dialer, r.store, r.settings, r.logger)
		s.refs = 1
		r.sessions[room] = s
		r.mu.Unlock()

		s.start()
		r.logger.Info("opened room %q", room)
		return s
	}
}

// Release drops one reference. The last release closes the connection, destroys the
// document and forgets the room. Releasing a room nobody holds is logged and ignored.
func (r *Registry) Release(room string) {
	r.mu.Lock()
	s, ok := r.sessions[room]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("release of room %q without a matching acquire", room)
		return
	}
	s.refs--
	if s.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, room)
	done := make(chan struct{})
	r.closing[room] = done
	r.mu.Unlock()

	r.shutdown(room, s, done)
	r.logger.Info("closed room %q", room)
}

func (r *Registry) shutdown(room string, s *Session, done chan struct{}) {
	s.close()
	r.mu.Lock()
	delete(r.closing, room)
	r.mu.Unlock()
	close(done)
}

func (r *Registry) RefCount(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[room]; ok {
		return s.refs
	}
	return 0
}

func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for room := range r.sessions {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Close tears down every session regardless of outstanding references.
func (r *Registry) Close() {
	r.mu.Lock()
	type closing struct {
		room string
		s    *Session
		done chan struct{}
	}
	all := make([]closing, 0, len(r.sessions))
	for room, s := range r.sessions {
		done := make(chan struct{})
		r.closing[room] = done
		all = append(all, closing{room: room, s: s, done: done})
		delete(r.sessions, room)
	}
	r.mu.Unlock()
	for _, c := range all {
		r.shutdown(c.room, c.s, c.done)
	}
}
