package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	docdomain "flowsync/internal/modules/document/domain"
	"flowsync/internal/modules/relay/domain"
	relayin "flowsync/internal/modules/relay/port/in"
	relayout "flowsync/internal/modules/relay/port/out"
	transportdomain "flowsync/internal/modules/transport/domain"
	apperrors "flowsync/internal/platform/errors"
	"flowsync/internal/platform/id"
	"flowsync/internal/platform/logging"
)

const (
	defaultPersistEvery = 2 * time.Second
	defaultSendBuffer   = 256
	persistTimeout      = 5 * time.Second
	publishTimeout      = 2 * time.Second
	awarenessCheckEvery = docdomain.OutdatedTimeout / 10
)

type Settings struct {
	PersistEvery time.Duration
	SendBuffer   int
	// Instance identifies this relay on the broker; frames it published itself are
	// skipped when they come back.
	Instance string
	Now      func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.PersistEvery <= 0 {
		s.PersistEvery = defaultPersistEvery
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = defaultSendBuffer
	}
	if s.Instance == "" {
		s.Instance = id.UUID{}.New()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// brokerOrigin tags changes received from another relay instance.
type brokerOrigin struct{}

type room struct {
	name      string
	doc       *docdomain.Doc
	awareness *docdomain.Awareness
	// clients is guarded by the hub mutex.
	clients     map[*client]struct{}
	dirty       atomic.Bool
	stop        []func()
	unsubscribe func()
}

// Hub keeps one server-side replica per active room and relays protocol frames between
// the clients of that room.
type Hub struct {
	store    relayout.SnapshotStore
	broker   relayout.Broker
	settings Settings
	logger   logging.Logger
	ids      id.Generator

	mu      sync.Mutex
	rooms   map[string]*room
	pending map[string]chan struct{}
	closed  bool
	active  sync.WaitGroup
}

// NewHub builds a hub. store and broker may be nil.
func NewHub(store relayout.SnapshotStore, broker relayout.Broker, settings Settings, logger logging.Logger) *Hub {
	return &Hub{
		store:    store,
		broker:   broker,
		settings: settings.withDefaults(),
		logger:   logging.OrNoOp(logger),
		ids:      id.UUID{},
		rooms:    map[string]*room{},
		pending:  map[string]chan struct{}{},
	}
}

func (h *Hub) Instance() string {
	return h.settings.Instance
}

// Serve runs one client connection in name until it disconnects or ctx is done.
func (h *Hub) Serve(ctx context.Context, name string, conn relayin.Conn) error {
	if strings.TrimSpace(name) == "" {
		_ = conn.Close()
		return fmt.Errorf("room is required: %w", apperrors.ErrInvalidInput)
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return apperrors.ErrClosed
	}
	h.active.Add(1)
	h.mu.Unlock()
	defer h.active.Done()

	c := newClient(h.ids.New(), conn, h.settings.SendBuffer)
	r, err := h.join(ctx, name, c)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer h.leave(r, c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writeLoop(ctx)

	c.enqueue(transportdomain.EncodeSyncStep1(r.doc.EncodeStateVector()))
	if clients := r.awareness.Clients(); len(clients) > 0 {
		c.enqueue(transportdomain.EncodeAwareness(r.awareness.Encode(clients)))
	}

	replica := transportdomain.Replica{Doc: r.doc, Awareness: r.awareness}
	for {
		frame, err := conn.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && !c.closed() {
				h.logger.Debug("client %s in room %q disconnected: %v", c.id, name, err)
			}
			return nil
		}
		msg, replies, err := replica.Handle(frame, c)
		if err != nil {
			h.logger.Debug("client %s in room %q sent a bad %s frame: %v", c.id, name, msg.Type, err)
			continue
		}
		for _, reply := range replies {
			c.enqueue(reply)
		}
	}
}

func (h *Hub) join(ctx context.Context, name string, c *client) (*room, error) {
	for {
		h.mu.Lock()
		if r, ok := h.rooms[name]; ok {
			r.clients[c] = struct{}{}
			count := len(r.clients)
			h.mu.Unlock()
			h.logger.Info("client %s joined room %q (%d connected)", c.id, name, count)
			return r, nil
		}
		if wait, ok := h.pending[name]; ok {
			h.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ready := make(chan struct{})
		h.pending[name] = ready
		h.mu.Unlock()

		r := h.openRoom(ctx, name)

		h.mu.Lock()
		delete(h.pending, name)
		h.rooms[name] = r
		r.clients[c] = struct{}{}
		h.mu.Unlock()
		close(ready)
		h.logger.Info("client %s opened room %q", c.id, name)
		return r, nil
	}
}

func (h *Hub) openRoom(ctx context.Context, name string) *room {
	doc := docdomain.New()
	r := &room{
		name:      name,
		doc:       doc,
		awareness: docdomain.NewAwareness(doc.ClientID(), h.settings.Now),
		clients:   map[*client]struct{}{},
	}
	if h.store != nil {
		loadCtx, cancel := context.WithTimeout(ctx, persistTimeout)
		snapshot, err := h.store.Load(loadCtx, name)
		cancel()
		switch {
		case err != nil:
			h.logger.Warn("load snapshot for room %q: %v", name, err)
		case len(snapshot) > 0:
			if err := doc.ApplyUpdate(snapshot, nil); err != nil {
				h.logger.Warn("replay snapshot for room %q: %v", name, err)
			}
		}
	}
	r.stop = append(r.stop,
		doc.OnUpdate(func(update []byte, origin any) {
			r.dirty.Store(true)
			frame := transportdomain.EncodeSyncUpdate(update)
			h.broadcast(r, frame, origin)
			if _, ok := origin.(*client); ok {
				h.publish(r.name, frame)
			}
		}),
		r.awareness.OnUpdate(func(change docdomain.AwarenessChange, origin any) {
			c, fromClient := origin.(*client)
			if fromClient {
				c.track(change)
			}
			frame := transportdomain.EncodeAwareness(r.awareness.Encode(change.All()))
			h.broadcast(r, frame, origin)
			if fromClient {
				h.publish(r.name, frame)
			}
		}),
	)
	if h.broker != nil {
		cancel, err := h.broker.Subscribe(context.Background(), name, func(payload []byte) {
			h.fromBroker(r, payload)
		})
		if err != nil {
			h.logger.Warn("subscribe room %q on broker: %v", name, err)
		} else {
			r.unsubscribe = cancel
		}
	}
	return r
}

// leave withdraws the client's presence and, for the last client, persists and evicts
// the room. A join racing with the eviction waits for the snapshot to be written.
func (h *Hub) leave(r *room, c *client) {
	c.shutdown()
	if owned := c.ownedIDs(); len(owned) > 0 {
		r.awareness.RemoveStates(owned, c)
	}
	h.mu.Lock()
	delete(r.clients, c)
	remaining := len(r.clients)
	if remaining > 0 || h.rooms[r.name] != r {
		h.mu.Unlock()
		h.logger.Info("client %s left room %q (%d connected)", c.id, r.name, remaining)
		return
	}
	delete(h.rooms, r.name)
	done := make(chan struct{})
	h.pending[r.name] = done
	h.mu.Unlock()

	h.closeRoom(r)

	h.mu.Lock()
	delete(h.pending, r.name)
	h.mu.Unlock()
	close(done)
	h.logger.Info("client %s left room %q; room closed", c.id, r.name)
}

func (h *Hub) closeRoom(r *room) {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	for _, stop := range r.stop {
		stop()
	}
	if r.dirty.Swap(false) {
		h.persist(r)
	}
	r.awareness.Destroy()
	r.doc.Destroy()
}

func (h *Hub) persist(r *room) {
	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := h.store.Save(ctx, r.name, r.doc.EncodeStateAsUpdate(nil)); err != nil {
		r.dirty.Store(true)
		h.logger.Warn("save snapshot for room %q: %v", r.name, err)
	}
}

func (h *Hub) broadcast(r *room, frame []byte, origin any) {
	h.mu.Lock()
	targets := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		if c != origin {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		if !c.enqueue(frame) {
			h.logger.Debug("dropped frame for client %s in room %q", c.id, r.name)
		}
	}
}

func (h *Hub) publish(room string, frame []byte) {
	if h.broker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	payload := domain.Envelope{Instance: h.settings.Instance, Frame: frame}.Encode()
	if err := h.broker.Publish(ctx, room, payload); err != nil {
		h.logger.Warn("publish room %q: %v", room, err)
	}
}

func (h *Hub) fromBroker(r *room, payload []byte) {
	env, err := domain.DecodeEnvelope(payload)
	if err != nil {
		h.logger.Debug("room %q broker payload: %v", r.name, err)
		return
	}
	if env.Instance == h.settings.Instance {
		return
	}
	replica := transportdomain.Replica{Doc: r.doc, Awareness: r.awareness}
	if msg, _, err := replica.Handle(env.Frame, brokerOrigin{}); err != nil {
		h.logger.Debug("room %q broker %s frame: %v", r.name, msg.Type, err)
	}
}

// Run persists dirty rooms and expires silent presence entries until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	persist := time.NewTicker(h.settings.PersistEvery)
	defer persist.Stop()
	check := time.NewTicker(awarenessCheckEvery)
	defer check.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-persist.C:
			for _, r := range h.liveRooms() {
				if r.dirty.Swap(false) {
					h.persist(r)
				}
			}
		case <-check.C:
			for _, r := range h.liveRooms() {
				r.awareness.Check()
			}
		}
	}
}

// Flush persists every dirty room now.
func (h *Hub) Flush() {
	for _, r := range h.liveRooms() {
		if r.dirty.Swap(false) {
			h.persist(r)
		}
	}
}

func (h *Hub) liveRooms() []*room {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	return out
}

func (h *Hub) Rooms() []domain.RoomInfo {
	h.mu.Lock()
	out := make([]domain.RoomInfo, 0, len(h.rooms))
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, domain.RoomInfo{Name: r.name, Clients: len(r.clients)})
		rooms = append(rooms, r)
	}
	h.mu.Unlock()
	for i, r := range rooms {
		out[i].Peers = len(r.awareness.Clients())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot encodes the live document of name, if the room is active.
func (h *Hub) Snapshot(name string) ([]byte, bool) {
	h.mu.Lock()
	r, ok := h.rooms[name]
	h.mu.Unlock()
	if !ok {
		return nil, false
	}
	return r.doc.EncodeStateAsUpdate(nil), true
}

// Close disconnects every client and waits for their rooms to be persisted.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var clients []*client
	for _, r := range h.rooms {
		for c := range r.clients {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.shutdown()
	}
	h.active.Wait()
}
