package service_test

import (
	"context"
	"sync"

	docdomain "flowsync/internal/modules/document/domain"
	transportdomain "flowsync/internal/modules/transport/domain"
	transportin "flowsync/internal/modules/transport/port/in"
)

type fakeSession struct {
	room      string
	doc       *docdomain.Doc
	awareness *docdomain.Awareness

	mu        sync.Mutex
	status    transportdomain.Status
	listeners map[int]func(transportdomain.Status)
	nextID    int
}

func (s *fakeSession) Room() string                     { return s.room }
func (s *fakeSession) Doc() *docdomain.Doc              { return s.doc }
func (s *fakeSession) Awareness() *docdomain.Awareness  { return s.awareness }
func (s *fakeSession) Connected() bool                  { return s.Status() == transportdomain.StatusConnected }
func (s *fakeSession) WaitSynced(context.Context) error { return nil }

func (s *fakeSession) Status() transportdomain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSession) OnStatus(fn func(transportdomain.Status)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *fakeSession) setStatus(status transportdomain.Status) {
	s.mu.Lock()
	s.status = status
	listeners := make([]func(transportdomain.Status), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(status)
	}
}

func (s *fakeSession) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// fakeSessions is a registry without a network: every room is one local document.
type fakeSessions struct {
	mu       sync.Mutex
	refs     map[string]int
	sessions map[string]*fakeSession
	released []string
	nextDoc  docdomain.ClientID
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refs: map[string]int{}, sessions: map[string]*fakeSession{}, nextDoc: 100}
}

func (f *fakeSessions) Acquire(room string) transportin.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[room]++
	if s, ok := f.sessions[room]; ok {
		return s
	}
	f.nextDoc++
	doc := docdomain.New(docdomain.WithClientID(f.nextDoc))
	s := &fakeSession{
		room:      room,
		doc:       doc,
		awareness: docdomain.NewAwareness(doc.ClientID(), nil),
		status:    transportdomain.StatusConnecting,
		listeners: map[int]func(transportdomain.Status){},
	}
	f.sessions[room] = s
	return s
}

func (f *fakeSessions) Release(room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, room)
	if f.refs[room] == 0 {
		return
	}
	f.refs[room]--
	if f.refs[room] == 0 {
		f.sessions[room].doc.Destroy()
		delete(f.sessions, room)
	}
}

func (f *fakeSessions) refCount(room string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[room]
}

func (f *fakeSessions) session(room string) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[room]
}

// exchange brings two documents to the same state.
func exchange(a, b *docdomain.Doc) error {
	toB := a.EncodeStateAsUpdate(b.StateVector())
	toA := b.EncodeStateAsUpdate(a.StateVector())
	if err := b.ApplyUpdate(toB, "peer"); err != nil {
		return err
	}
	return a.ApplyUpdate(toA, "peer")
}
