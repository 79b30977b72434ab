package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	docdomain "flowsync/internal/modules/document/domain"
	"flowsync/internal/modules/transport/domain"
	transportin "flowsync/internal/modules/transport/port/in"
	transportout "flowsync/internal/modules/transport/port/out"
	"flowsync/internal/modules/transport/service"
	apperrors "flowsync/internal/platform/errors"
	"flowsync/internal/platform/memconn"
)

// fakePeer is an in-process sync endpoint holding its own replica.
type fakePeer struct {
	replica domain.Replica

	mu       sync.Mutex
	dials    int
	fail     error
	deny     string
	preamble [][]byte
	received []domain.Message
}

func newFakePeer() *fakePeer {
	doc := docdomain.New(docdomain.WithClientID(999))
	return &fakePeer{replica: domain.Replica{Doc: doc, Awareness: docdomain.NewAwareness(999, nil)}}
}

func (p *fakePeer) Dial(ctx context.Context, _ string) (transportout.Conn, error) {
	p.mu.Lock()
	p.dials++
	fail, deny, preamble := p.fail, p.deny, p.preamble
	p.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	client, server := memconn.Pipe()
	for _, frame := range preamble {
		_ = server.WriteMessage(ctx, frame)
	}
	if deny != "" {
		_ = server.WriteMessage(ctx, domain.EncodePermissionDenied(deny))
		return client, nil
	}
	go p.serve(server)
	return client, nil
}

func (p *fakePeer) serve(conn *memconn.Conn) {
	ctx := context.Background()
	stop := p.replica.Doc.OnUpdate(func(update []byte, origin any) {
		if origin == conn {
			return
		}
		_ = conn.WriteMessage(ctx, domain.EncodeSyncUpdate(update))
	})
	defer stop()
	_ = conn.WriteMessage(ctx, domain.EncodeSyncStep1(p.replica.Doc.EncodeStateVector()))
	for {
		frame, err := conn.ReadMessage(ctx)
		if err != nil {
			return
		}
		msg, replies, err := p.replica.Handle(frame, conn)
		p.mu.Lock()
		p.received = append(p.received, msg)
		p.mu.Unlock()
		if err != nil {
			continue
		}
		for _, reply := range replies {
			_ = conn.WriteMessage(ctx, reply)
		}
	}
}

func (p *fakePeer) setFail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *fakePeer) dialCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials
}

func (p *fakePeer) receivedUpdates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, msg := range p.received {
		if (msg.Type == domain.MessageSync && msg.Step == domain.SyncUpdate) || msg.Type == domain.MessageUpdate {
			n++
		}
	}
	return n
}

type memoryStore struct {
	mu    sync.Mutex
	rooms map[string][]byte
}

func (m *memoryStore) Load(_ context.Context, room string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[room], nil
}

func (m *memoryStore) Save(_ context.Context, room string, update []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms == nil {
		m.rooms = map[string][]byte{}
	}
	m.rooms[room] = update
	return nil
}

func fastSettings() service.Settings {
	return service.Settings{MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond, HandshakeTimeout: time.Second}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitSynced(t *testing.T, s interface{ WaitSynced(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitSynced(ctx); err != nil {
		t.Fatalf("wait synced: %v", err)
	}
}

func TestRegistrySharesSessionByReference(t *testing.T) {
	t.Parallel()
	reg := service.NewRegistry(newFakePeer(), nil, fastSettings(), nil)
	defer reg.Close()

	first := reg.Acquire("flow")
	second := reg.Acquire("flow")
	if first != second {
		t.Fatalf("acquire of the same room must share one session")
	}
	if reg.RefCount("flow") != 2 {
		t.Fatalf("expected two references, got %d", reg.RefCount("flow"))
	}

	reg.Release("flow")
	if reg.RefCount("flow") != 1 || first.Doc().Destroyed() {
		t.Fatalf("session must stay open while referenced")
	}

	reg.Release("flow")
	if reg.RefCount("flow") != 0 || len(reg.Rooms()) != 0 {
		t.Fatalf("last release must forget the room, rooms=%v", reg.Rooms())
	}
	if !first.Doc().Destroyed() || first.Status() != domain.StatusClosed {
		t.Fatalf("last release must destroy the document, status=%s", first.Status())
	}

	reg.Release("flow")
	reg.Release("never-opened")

	third := reg.Acquire("flow")
	defer reg.Release("flow")
	if third == first {
		t.Fatalf("a released room must reopen with a fresh session")
	}
}

func TestSessionHandshakeExchangesState(t *testing.T) {
	t.Parallel()
	peer := newFakePeer()
	_ = peer.replica.Doc.Map("nodes").Set("remote", 1)

	reg := service.NewRegistry(peer, nil, fastSettings(), nil)
	defer reg.Close()
	s := reg.Acquire("flow")
	defer reg.Release("flow")
	_ = s.Doc().Map("nodes").Set("local", 2)

	waitSynced(t, s)
	if !s.Connected() || !s.Doc().Map("nodes").Has("remote") {
		t.Fatalf("handshake should pull the peer state, keys=%v", s.Doc().Map("nodes").Keys())
	}
	eventually(t, "peer to receive the local write", func() bool {
		return peer.replica.Doc.Map("nodes").Has("local")
	})
}

func TestSessionForwardsLocalWritesButNotRemoteOnes(t *testing.T) {
	t.Parallel()
	peer := newFakePeer()
	reg := service.NewRegistry(peer, nil, fastSettings(), nil)
	defer reg.Close()
	s := reg.Acquire("flow")
	defer reg.Release("flow")
	waitSynced(t, s)

	_ = peer.replica.Doc.Map("nodes").Set("from-peer", true)
	eventually(t, "remote write", func() bool { return s.Doc().Map("nodes").Has("from-peer") })
	time.Sleep(20 * time.Millisecond)
	if n := peer.receivedUpdates(); n != 0 {
		t.Fatalf("remote update was echoed back %d times", n)
	}

	_ = s.Doc().Map("nodes").Set("from-client", true)
	eventually(t, "local write at peer", func() bool { return peer.replica.Doc.Map("nodes").Has("from-client") })
	if n := peer.receivedUpdates(); n != 1 {
		t.Fatalf("expected exactly one forwarded update, got %d", n)
	}
}

func TestSessionRawUpdateChannel(t *testing.T) {
	t.Parallel()
	peer := newFakePeer()
	settings := fastSettings()
	settings.RawUpdates = true
	reg := service.NewRegistry(peer, nil, settings, nil)
	defer reg.Close()
	s := reg.Acquire("flow")
	defer reg.Release("flow")
	waitSynced(t, s)

	_ = s.Doc().Map("edges").Set("e1", "a->b")
	eventually(t, "raw update at peer", func() bool { return peer.replica.Doc.Map("edges").Has("e1") })
	peer.mu.Lock()
	defer peer.mu.Unlock()
	last := peer.received[len(peer.received)-1]
	if last.Type != domain.MessageUpdate {
		t.Fatalf("expected a raw update frame, got %s", last.Type)
	}
}

func TestSessionIgnoresUnknownFrames(t *testing.T) {
	t.Parallel()
	peer := newFakePeer()
	peer.preamble = [][]byte{{42, 1, 2}, {0, 9}}
	_ = peer.replica.Doc.Map("nodes").Set("n", 1)
	reg := service.NewRegistry(peer, nil, fastSettings(), nil)
	defer reg.Close()
	s := reg.Acquire("flow")
	defer reg.Release("flow")

	waitSynced(t, s)
	if !s.Doc().Map("nodes").Has("n") {
		t.Fatalf("sync should proceed past unknown frames")
	}
}

func TestSessionOfflineEditsReachPeerAfterReconnect(t *testing.T) {
	t.Parallel()
	peer := newFakePeer()
	peer.setFail(errors.New("relay down"))
	reg := service.NewRegistry(peer, nil, fastSettings(), nil)
	defer reg.Close()
	s := reg.Acquire("flow")
	defer reg.Release("flow")

	_ = s.Doc().Map("nodes").Set("offline", true)
	eventually(t, "a failed dial", func() bool { return peer.dialCount() >= 1 && !s.Connected() })
	if !s.Doc().Map("nodes").Has("offline") {
		t.Fatalf("local edits must apply while disconnected")
	}

	peer.setFail(nil)
	eventually(t, "offline edit at peer", func() bool { return peer.replica.Doc.Map("nodes").Has("offline") })
}

func TestSessionDeniedIsTerminal(t *testing.T) {
	t.Parallel()
	peer := newFakePeer()
	peer.deny = "no access"
	reg := service.NewRegistry(peer, nil, fastSettings(), nil)
	defer reg.Close()
	s := reg.Acquire("flow")
	defer reg.Release("flow")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitSynced(ctx); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if s.Status() != domain.StatusDenied || peer.dialCount() != 1 {
		t.Fatalf("denied session must not reconnect: status=%s dials=%d", s.Status(), peer.dialCount())
	}
}

func TestSessionDialerUnauthorizedIsTerminal(t *testing.T) {
	t.Parallel()
	peer := newFakePeer()
	peer.setFail(apperrors.ErrUnauthorized)
	reg := service.NewRegistry(peer, nil, fastSettings(), nil)
	defer reg.Close()
	s := reg.Acquire("flow")
	defer reg.Release("flow")

	eventually(t, "denied status", func() bool { return s.Status() == domain.StatusDenied })
}

func TestSessionReportsStatusTransitions(t *testing.T) {
	t.Parallel()
	peer := newFakePeer()
	reg := service.NewRegistry(peer, nil, fastSettings(), nil)
	s := reg.Acquire("flow")

	var mu sync.Mutex
	var seen []domain.Status
	s.OnStatus(func(status domain.Status) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, status)
	})
	waitSynced(t, s)
	reg.Release("flow")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 || seen[len(seen)-1] != domain.StatusClosed {
		t.Fatalf("expected closed as the final status, got %v", seen)
	}
}

func TestSessionSharesAwareness(t *testing.T) {
	t.Parallel()
	peer := newFakePeer()
	reg := service.NewRegistry(peer, nil, fastSettings(), nil)
	s := reg.Acquire("flow")
	waitSynced(t, s)

	if err := s.Awareness().SetLocalState(map[string]string{"name": "ana"}); err != nil {
		t.Fatalf("set awareness: %v", err)
	}
	id := s.Awareness().ClientID()
	eventually(t, "peer presence", func() bool {
		_, ok := peer.replica.Awareness.States()[id]
		return ok
	})

	reg.Release("flow")
	eventually(t, "presence removal on close", func() bool {
		_, ok := peer.replica.Awareness.States()[id]
		return !ok
	})
}

func TestSessionSnapshotSurvivesReopen(t *testing.T) {
	t.Parallel()
	store := &memoryStore{}
	offline := &fakePeer{replica: newFakePeer().replica, fail: errors.New("offline")}
	reg := service.NewRegistry(offline, store, fastSettings(), nil)
	defer reg.Close()

	s := reg.Acquire("flow")
	_ = s.Doc().Map("nodes").Set("kept", "yes")
	reg.Release("flow")

	reopened := reg.Acquire("flow")
	defer reg.Release("flow")
	if v, ok := reopened.Doc().Map("nodes").Get("kept"); !ok || string(v) != `"yes"` {
		t.Fatalf("snapshot should restore the document, got %s %t", v, ok)
	}
}

// gatedStore blocks Load and Save for one room until the matching gate is closed.
type gatedStore struct {
	memoryStore
	room      string
	loadGate  chan struct{}
	saveGate  chan struct{}
	loading   chan struct{}
	saving    chan struct{}
	startOnce sync.Once
	saveOnce  sync.Once
}

func newGatedStore(room string) *gatedStore {
	return &gatedStore{
		room:     room,
		loadGate: make(chan struct{}),
		saveGate: make(chan struct{}),
		loading:  make(chan struct{}),
		saving:   make(chan struct{}),
	}
}

func (g *gatedStore) Load(ctx context.Context, room string) ([]byte, error) {
	if room == g.room {
		g.startOnce.Do(func() { close(g.loading) })
		<-g.loadGate
	}
	return g.memoryStore.Load(ctx, room)
}

func (g *gatedStore) Save(ctx context.Context, room string, update []byte) error {
	if room == g.room {
		g.saveOnce.Do(func() { close(g.saving) })
		<-g.saveGate
	}
	return g.memoryStore.Save(ctx, room, update)
}

func TestReacquireWaitsForClosingSnapshot(t *testing.T) {
	t.Parallel()
	store := newGatedStore("flow")
	close(store.loadGate)
	offline := &fakePeer{replica: newFakePeer().replica, fail: errors.New("offline")}
	reg := service.NewRegistry(offline, store, fastSettings(), nil)
	defer reg.Close()

	s := reg.Acquire("flow")
	_ = s.Doc().Map("nodes").Set("offline-edit", "yes")
	released := make(chan struct{})
	go func() {
		reg.Release("flow")
		close(released)
	}()
	<-store.saving

	reacquired := make(chan transportin.Session, 1)
	go func() { reacquired <- reg.Acquire("flow") }()
	select {
	case <-reacquired:
		t.Fatalf("acquire returned while the previous session was still saving")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.saveGate)
	<-released
	var again transportin.Session
	select {
	case again = <-reacquired:
	case <-time.After(2 * time.Second):
		t.Fatalf("acquire never returned after the save finished")
	}
	defer reg.Release("flow")
	if v, ok := again.Doc().Map("nodes").Get("offline-edit"); !ok || string(v) != `"yes"` {
		t.Fatalf("reopened room lost the offline edit, got %s %t", v, ok)
	}
}

func TestSlowSnapshotLoadDoesNotBlockOtherRooms(t *testing.T) {
	t.Parallel()
	store := newGatedStore("slow")
	close(store.saveGate)
	offline := &fakePeer{replica: newFakePeer().replica, fail: errors.New("offline")}
	reg := service.NewRegistry(offline, store, fastSettings(), nil)
	defer reg.Close()

	slow := make(chan transportin.Session, 1)
	go func() { slow <- reg.Acquire("slow") }()
	<-store.loading

	opened := make(chan struct{})
	go func() {
		reg.Acquire("fast")
		_ = reg.Rooms()
		close(opened)
	}()
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatalf("opening another room waited on a slow snapshot load")
	}

	second := make(chan transportin.Session, 1)
	go func() { second <- reg.Acquire("slow") }()
	select {
	case <-second:
		t.Fatalf("a shared session was handed out before its snapshot loaded")
	case <-time.After(50 * time.Millisecond):
	}
	close(store.loadGate)
	first, other := <-slow, <-second
	if first != other || reg.RefCount("slow") != 2 {
		t.Fatalf("both callers should share one session, refs=%d", reg.RefCount("slow"))
	}
	reg.Release("slow")
	reg.Release("slow")
	reg.Release("fast")
}
