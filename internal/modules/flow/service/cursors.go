package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	docdomain "flowsync/internal/modules/document/domain"
	"flowsync/internal/modules/flow/domain"
	flowout "flowsync/internal/modules/flow/port/out"
	"flowsync/internal/platform/clock"
	"flowsync/internal/platform/logging"
)

// CursorTracker publishes this peer's pointer into the shared cursor map and exposes
// everyone else's. Every peer sweeps stale records; deletes are idempotent so
// concurrent sweeps are harmless.
type CursorTracker struct {
	cursors  *Collection[domain.Cursor]
	viewport flowout.Viewport
	clock    clock.Clock
	maxIdle  time.Duration

	mu    sync.Mutex
	self  string
	color string
}

func NewCursorTracker(viewport flowout.Viewport, clk clock.Clock, maxIdle time.Duration, logger logging.Logger) *CursorTracker {
	if viewport == nil {
		viewport = domain.Viewport{}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if maxIdle <= 0 {
		maxIdle = domain.MaxIdle
	}
	return &CursorTracker{
		cursors:  NewCollection[domain.Cursor](domain.MapCursors, logger),
		viewport: viewport,
		clock:    clk,
		maxIdle:  maxIdle,
	}
}

// Bind attaches to doc and sweeps once so a joining peer does not render leftovers.
func (t *CursorTracker) Bind(doc *docdomain.Doc) {
	t.mu.Lock()
	if doc != nil {
		t.self = domain.CursorID(uint64(doc.ClientID()))
		t.color = domain.ColorFor(t.self)
	} else {
		t.self, t.color = "", ""
	}
	t.mu.Unlock()
	t.cursors.Bind(doc)
	t.Flush()
}

func (t *CursorTracker) Unbind() { t.cursors.Unbind() }

// Self returns the id this peer's cursor is stored under.
func (t *CursorTracker) Self() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self
}

// PointerMove overwrites this peer's record with the flow position of screen.
func (t *CursorTracker) PointerMove(screen domain.XYPosition) error {
	doc := t.cursors.Doc()
	t.mu.Lock()
	self, color := t.self, t.color
	t.mu.Unlock()
	if doc == nil || self == "" {
		return nil
	}
	pos := t.viewport.ScreenToFlow(screen)
	cursor := domain.Cursor{ID: self, Color: color, X: pos.X, Y: pos.Y, Timestamp: t.clock.Now().UnixMilli()}
	var err error
	doc.Transact(t.cursors, func(tx *docdomain.Transaction) {
		err = tx.Map(domain.MapCursors).Set(self, cursor)
	})
	return err
}

// Flush deletes every record idle for longer than the threshold, in one transaction.
// Records that do not parse are left alone.
func (t *CursorTracker) Flush() {
	doc := t.cursors.Doc()
	if doc == nil {
		return
	}
	now := t.clock.Now()
	doc.Transact(t.cursors, func(tx *docdomain.Transaction) {
		m := tx.Map(domain.MapCursors)
		for _, entry := range m.Entries() {
			var c domain.Cursor
			if err := json.Unmarshal(entry.Value, &c); err != nil {
				continue
			}
			if c.Stale(now, t.maxIdle) {
				m.Delete(entry.Key)
			}
		}
	})
}

// Run sweeps every idle threshold until ctx is done.
func (t *CursorTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.maxIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Flush()
		}
	}
}

// Remote lists every cursor except this peer's own.
func (t *CursorTracker) Remote() []domain.Cursor {
	return t.withoutSelf(t.cursors.Snapshot())
}

func (t *CursorTracker) Local() (domain.Cursor, bool) {
	self := t.Self()
	for _, c := range t.cursors.Snapshot() {
		if c.ID == self {
			return c, true
		}
	}
	return domain.Cursor{}, false
}

// Subscribe delivers the remote cursor list on every change.
func (t *CursorTracker) Subscribe(fn func([]domain.Cursor)) (cancel func()) {
	return t.cursors.Subscribe(func(all []domain.Cursor) { fn(t.withoutSelf(all)) })
}

func (t *CursorTracker) withoutSelf(all []domain.Cursor) []domain.Cursor {
	self := t.Self()
	out := make([]domain.Cursor, 0, len(all))
	for _, c := range all {
		if c.ID != self {
			out = append(out, c)
		}
	}
	return out
}
