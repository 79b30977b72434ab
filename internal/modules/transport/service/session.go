package service

import (
	"context"
	"errors"
	"sync"
	"time"

	docdomain "flowsync/internal/modules/document/domain"
	"flowsync/internal/modules/transport/domain"
	transportout "flowsync/internal/modules/transport/port/out"
	apperrors "flowsync/internal/platform/errors"
	"flowsync/internal/platform/logging"
)

const (
	awarenessCheckInterval = docdomain.OutdatedTimeout / 10
	persistTimeout         = 5 * time.Second
)

// snapshotOrigin tags writes replayed from the local snapshot store.
type snapshotOrigin struct{}

type Session struct {
	room      string
	doc       *docdomain.Doc
	awareness *docdomain.Awareness
	dialer    transportout.Dialer
	store     transportout.SnapshotStore
	settings  Settings
	logger    logging.Logger

	// refs is guarded by the owning Registry's mutex.
	refs int
	// ready closes once start has replayed the snapshot and launched the loops.
	ready chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	conn      transportout.Conn
	status    domain.Status
	synced    bool
	syncedCh  chan struct{}
	listeners []statusListener
	nextID    int

	stopDoc       func()
	stopAwareness func()
}

type statusListener struct {
	id int
	fn func(domain.Status)
}

func newSession(room string, dialer transportout.Dialer, store transportout.SnapshotStore, settings Settings, logger logging.Logger) *Session {
	doc := docdomain.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		room:      room,
		doc:       doc,
		awareness: docdomain.NewAwareness(doc.ClientID(), settings.Now),
		dialer:    dialer,
		store:     store,
		settings:  settings,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		status:    domain.StatusConnecting,
		syncedCh:  make(chan struct{}),
		ready:     make(chan struct{}),
	}
}

func (s *Session) Room() string                    { return s.room }
func (s *Session) Doc() *docdomain.Doc             { return s.doc }
func (s *Session) Awareness() *docdomain.Awareness { return s.awareness }
func (s *Session) Connected() bool                 { return s.Status() == domain.StatusConnected }
func (s *Session) replica() domain.Replica         { return domain.Replica{Doc: s.doc, Awareness: s.awareness} }

func (s *Session) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) OnStatus(fn func(domain.Status)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, statusListener{id: id, fn: fn})
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Session) WaitSynced(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.synced {
			s.mu.Unlock()
			return nil
		}
		if s.status.Terminal() {
			status := s.status
			s.mu.Unlock()
			if status == domain.StatusDenied {
				return apperrors.ErrUnauthorized
			}
			return apperrors.ErrClosed
		}
		ch := s.syncedCh
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// start replays the stored snapshot, wires echo-suppressed forwarding and launches the
// connection loop.
func (s *Session) start() {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(s.ctx, persistTimeout)
		snapshot, err := s.store.Load(ctx, s.room)
		cancel()
		switch {
		case err != nil:
			s.logger.Warn("load snapshot for room %q: %v", s.room, err)
		case len(snapshot) > 0:
			if err := s.doc.ApplyUpdate(snapshot, snapshotOrigin{}); err != nil {
				s.logger.Warn("replay snapshot for room %q: %v", s.room, err)
			}
		}
	}
	s.stopDoc = s.doc.OnUpdate(func(update []byte, origin any) {
		if origin == s {
			return
		}
		s.send(s.encodeUpdate(update))
	})
	s.stopAwareness = s.awareness.OnUpdate(func(change docdomain.AwarenessChange, origin any) {
		if origin == s {
			return
		}
		s.send(domain.EncodeAwareness(s.awareness.Encode(change.All())))
	})
	s.wg.Add(2)
	go s.run()
	go s.checkAwareness()
	close(s.ready)
}

func (s *Session) encodeUpdate(update []byte) []byte {
	if s.settings.RawUpdates {
		return domain.EncodeRawUpdate(update)
	}
	return domain.EncodeSyncUpdate(update)
}

func (s *Session) run() {
	defer s.wg.Done()
	backoff := s.settings.MinBackoff
	for {
		if s.ctx.Err() != nil {
			return
		}
		s.setStatus(domain.StatusConnecting)
		dialCtx, cancel := context.WithTimeout(s.ctx, s.settings.HandshakeTimeout)
		conn, err := s.dialer.Dial(dialCtx, s.room)
		cancel()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if errors.Is(err, apperrors.ErrUnauthorized) {
				s.logger.Warn("room %q refused: %v", s.room, err)
				s.setStatus(domain.StatusDenied)
				return
			}
			s.logger.Debug("dial room %q: %v", s.room, err)
			s.setStatus(domain.StatusDisconnected)
			if !s.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.settings.MaxBackoff)
			continue
		}
		backoff = s.settings.MinBackoff
		denied := s.serve(conn)
		if denied {
			s.setStatus(domain.StatusDenied)
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		s.setStatus(domain.StatusDisconnected)
		if !s.sleep(backoff) {
			return
		}
	}
}

// serve runs one connection until it fails. It reports whether the peer denied access.
func (s *Session) serve(conn transportout.Conn) bool {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		if s.synced {
			s.synced = false
			s.syncedCh = make(chan struct{})
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.setStatus(domain.StatusConnected)
	s.send(domain.EncodeSyncStep1(s.doc.EncodeStateVector()))
	s.send(domain.EncodeQueryAwareness())
	if _, ok := s.awareness.LocalState(); ok {
		s.send(domain.EncodeAwareness(s.awareness.Encode([]docdomain.ClientID{s.awareness.ClientID()})))
	}

	for {
		frame, err := conn.ReadMessage(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Debug("room %q connection lost: %v", s.room, err)
			}
			return false
		}
		msg, replies, err := s.replica().Handle(frame, s)
		if err != nil {
			s.logger.Debug("room %q ignoring %s frame: %v", s.room, msg.Type, err)
			continue
		}
		for _, reply := range replies {
			s.send(reply)
		}
		switch {
		case msg.Type == domain.MessageAuth && msg.Denied:
			s.logger.Warn("room %q permission denied: %s", s.room, msg.Reason)
			return true
		case msg.Type == domain.MessageSync && msg.Step == domain.SyncStep2:
			s.markSynced()
		}
	}
}

func (s *Session) markSynced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.synced {
		return
	}
	s.synced = true
	close(s.syncedCh)
}

// send writes a frame if a connection is up. While offline the frame is dropped; the
// sync handshake on the next connection carries whatever the peer is missing.
func (s *Session) send(frame []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(s.ctx, frame); err != nil {
		s.logger.Debug("room %q write: %v", s.room, err)
	}
}

func (s *Session) checkAwareness() {
	defer s.wg.Done()
	ticker := time.NewTicker(awarenessCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.awareness.Check()
		}
	}
}

func (s *Session) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) setStatus(status domain.Status) {
	s.mu.Lock()
	if s.status == status || s.status == domain.StatusClosed {
		s.mu.Unlock()
		return
	}
	s.status = status
	listeners := append([]statusListener(nil), s.listeners...)
	if status.Terminal() && !s.synced {
		close(s.syncedCh)
		s.syncedCh = make(chan struct{})
	}
	s.mu.Unlock()
	s.logger.Debug("room %q status %s", s.room, status)
	for _, l := range listeners {
		l.fn(status)
	}
}

// close tears the session down: presence removal is sent while the connection is still
// up, then the connection closes, the snapshot is saved and the document destroyed.
func (s *Session) close() {
	<-s.ready
	s.awareness.Destroy()
	s.cancel()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
	if s.stopDoc != nil {
		s.stopDoc()
	}
	if s.stopAwareness != nil {
		s.stopAwareness()
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.store.Save(ctx, s.room, s.doc.EncodeStateAsUpdate(nil)); err != nil {
			s.logger.Warn("save snapshot for room %q: %v", s.room, err)
		}
		cancel()
	}
	s.doc.Destroy()
	s.setStatus(domain.StatusClosed)
	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
