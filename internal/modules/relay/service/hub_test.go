package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	docdomain "flowsync/internal/modules/document/domain"
	relayout "flowsync/internal/modules/relay/port/out"
	"flowsync/internal/modules/relay/service"
	transportout "flowsync/internal/modules/transport/adapter/out"
	transportdomain "flowsync/internal/modules/transport/domain"
	transportport "flowsync/internal/modules/transport/port/out"
	transportservice "flowsync/internal/modules/transport/service"
	apperrors "flowsync/internal/platform/errors"
	"flowsync/internal/platform/memconn"
)

type memoryStore struct {
	mu    sync.Mutex
	rooms map[string][]byte
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rooms: map[string][]byte{}}
}

func (m *memoryStore) Load(_ context.Context, room string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[room], nil
}

func (m *memoryStore) Save(_ context.Context, room string, update []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room] = update
	m.saves++
	return nil
}

func (m *memoryStore) has(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[room]) > 0
}

// memoryBroker delivers every publish to every subscriber of the room, the publisher
// included.
type memoryBroker struct {
	mu     sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{subs: map[string]map[int]func([]byte){}}
}

func (b *memoryBroker) Publish(_ context.Context, room string, payload []byte) error {
	b.mu.Lock()
	fns := make([]func([]byte), 0, len(b.subs[room]))
	for _, fn := range b.subs[room] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
	return nil
}

func (b *memoryBroker) Subscribe(_ context.Context, room string, fn func([]byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[room] == nil {
		b.subs[room] = map[int]func([]byte){}
	}
	b.nextID++
	id := b.nextID
	b.subs[room][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[room], id)
	}, nil
}

func newTestHub(t *testing.T, store *memoryStore, broker *memoryBroker) *service.Hub {
	t.Helper()
	// typed nils must not reach the hub as non-nil interfaces
	var snapshots relayout.SnapshotStore
	if store != nil {
		snapshots = store
	}
	var fanout relayout.Broker
	if broker != nil {
		fanout = broker
	}
	hub := service.NewHub(snapshots, fanout, service.Settings{PersistEvery: 10 * time.Millisecond}, nil)
	t.Cleanup(hub.Close)
	return hub
}

// connect returns a client registry whose sessions dial straight into hub.
func connect(t *testing.T, hub *service.Hub) *transportservice.Registry {
	t.Helper()
	dialer := transportout.FuncDialer(func(_ context.Context, room string) (transportport.Conn, error) {
		client, server := memconn.Pipe()
		go func() { _ = hub.Serve(context.Background(), room, server) }()
		return client, nil
	})
	settings := transportservice.Settings{MinBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	registry := transportservice.NewRegistry(dialer, nil, settings, nil)
	t.Cleanup(registry.Close)
	return registry
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
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

func TestClientsConvergeThroughHub(t *testing.T) {
	t.Parallel()
	hub := newTestHub(t, newMemoryStore(), nil)
	a := connect(t, hub).Acquire("flow")
	b := connect(t, hub).Acquire("flow")
	waitSynced(t, a)
	waitSynced(t, b)

	if err := a.Doc().Map("nodes").Set("n1", map[string]string{"id": "n1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := b.Doc().Map("edges").Set("e1", map[string]string{"id": "e1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	eventually(t, "b to see a's node", func() bool { return b.Doc().Map("nodes").Has("n1") })
	eventually(t, "a to see b's edge", func() bool { return a.Doc().Map("edges").Has("e1") })

	rooms := hub.Rooms()
	if len(rooms) != 1 || rooms[0].Name != "flow" || rooms[0].Clients != 2 {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
}

func TestLateJoinerReceivesState(t *testing.T) {
	t.Parallel()
	hub := newTestHub(t, newMemoryStore(), nil)
	a := connect(t, hub).Acquire("flow")
	waitSynced(t, a)
	_ = a.Doc().Map("nodes").Set("early", 1)
	eventually(t, "hub to hold the write", func() bool {
		snapshot, ok := hub.Snapshot("flow")
		if !ok {
			return false
		}
		doc := docdomain.New()
		return doc.ApplyUpdate(snapshot, nil) == nil && doc.Map("nodes").Has("early")
	})

	b := connect(t, hub).Acquire("flow")
	waitSynced(t, b)
	if !b.Doc().Map("nodes").Has("early") {
		t.Fatalf("late joiner should be synced with existing state")
	}
}

func TestLastLeavePersistsAndReloads(t *testing.T) {
	t.Parallel()
	store := newMemoryStore()
	hub := newTestHub(t, store, nil)
	reg := connect(t, hub)
	a := reg.Acquire("flow")
	waitSynced(t, a)
	_ = a.Doc().Map("nodes").Set("kept", true)
	eventually(t, "hub to apply the write", func() bool {
		_, ok := hub.Snapshot("flow")
		return ok
	})
	reg.Release("flow")
	eventually(t, "room eviction", func() bool { return len(hub.Rooms()) == 0 })
	eventually(t, "last leave to persist the room", func() bool { return store.has("flow") })

	b := connect(t, hub).Acquire("flow")
	waitSynced(t, b)
	if !b.Doc().Map("nodes").Has("kept") {
		t.Fatalf("reopened room lost its state")
	}
}

func TestPresenceIsRelayedAndWithdrawn(t *testing.T) {
	t.Parallel()
	hub := newTestHub(t, nil, nil)
	regA := connect(t, hub)
	a := regA.Acquire("flow")
	b := connect(t, hub).Acquire("flow")
	waitSynced(t, a)
	waitSynced(t, b)

	if err := a.Awareness().SetLocalState(map[string]string{"name": "ana"}); err != nil {
		t.Fatalf("set local: %v", err)
	}
	self := a.Awareness().ClientID()
	eventually(t, "b to see a's presence", func() bool {
		_, ok := b.Awareness().States()[self]
		return ok
	})

	regA.Release("flow")
	eventually(t, "a's presence to be withdrawn", func() bool {
		_, ok := b.Awareness().States()[self]
		return !ok
	})
}

func TestHubsShareRoomsThroughBroker(t *testing.T) {
	t.Parallel()
	broker := newMemoryBroker()
	east := newTestHub(t, nil, broker)
	west := newTestHub(t, nil, broker)
	a := connect(t, east).Acquire("flow")
	b := connect(t, west).Acquire("flow")
	waitSynced(t, a)
	waitSynced(t, b)

	_ = a.Doc().Map("nodes").Set("from-east", 1)
	eventually(t, "west client to receive east's write", func() bool { return b.Doc().Map("nodes").Has("from-east") })
	_ = b.Doc().Map("nodes").Set("from-west", 1)
	eventually(t, "east client to receive west's write", func() bool { return a.Doc().Map("nodes").Has("from-west") })
	if east.Instance() == west.Instance() {
		t.Fatalf("hubs must have distinct instance ids")
	}
}

func TestServeIgnoresMalformedFrames(t *testing.T) {
	t.Parallel()
	hub := newTestHub(t, nil, nil)
	client, server := memconn.Pipe()
	go func() { _ = hub.Serve(context.Background(), "flow", server) }()
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	first, err := client.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if msg, err := transportdomain.Decode(first); err != nil || msg.Type != transportdomain.MessageSync || msg.Step != transportdomain.SyncStep1 {
		t.Fatalf("expected sync step 1 greeting, got %+v (%v)", msg, err)
	}

	for _, frame := range [][]byte{{0, 9}, {42, 1}, {0, 2, 200}} {
		if err := client.WriteMessage(ctx, frame); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := client.WriteMessage(ctx, transportdomain.EncodeSyncStep1(docdomain.StateVector{}.Encode())); err != nil {
		t.Fatalf("write step1: %v", err)
	}
	reply, err := client.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if msg, err := transportdomain.Decode(reply); err != nil || msg.Step != transportdomain.SyncStep2 {
		t.Fatalf("expected sync step 2, got %+v (%v)", msg, err)
	}
}

func TestServeRejectsEmptyRoom(t *testing.T) {
	t.Parallel()
	hub := newTestHub(t, nil, nil)
	_, server := memconn.Pipe()
	if err := hub.Serve(context.Background(), " ", server); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !server.Closed() {
		t.Fatalf("rejected connection should be closed")
	}
}

func TestCloseRefusesNewClients(t *testing.T) {
	t.Parallel()
	hub := service.NewHub(nil, nil, service.Settings{}, nil)
	hub.Close()
	_, server := memconn.Pipe()
	if err := hub.Serve(context.Background(), "flow", server); !errors.Is(err, apperrors.ErrClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
}
