package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/automerge/automerge-go"
)

// Doc is a replicated document made of named maps, backed by one automerge document.
//
// Every map lives in the automerge root under "<map>:<key>" with its JSON value kept as
// a string, so replicas that open the same map concurrently never race on creating a
// nested object.
//
// All state sits behind one mutex. Transactions hold it for their whole body, so a
// reader never sees a half-applied transaction. Observer and update callbacks run after
// the mutex is released, in commit order; callbacks may read the document or open new
// transactions, whose events are delivered once the current delivery returns.
type Doc struct {
	mu       sync.Mutex
	clientID ClientID
	am       *automerge.Doc
	maps     map[string]*mapView
	// changes applied while their dependencies were missing
	pending map[automerge.ChangeHash]bool

	updateHandlers  handlerSet[func(update []byte, origin any)]
	destroyHandlers handlerSet[func()]
	destroyed       bool

	emitMu   sync.Mutex
	queue    []func()
	emitting bool
}

type Option func(*Doc)

func WithClientID(id ClientID) Option {
	return func(d *Doc) {
		d.clientID = id
	}
}

func New(opts ...Option) *Doc {
	d := &Doc{
		clientID: NewClientID(),
		am:       automerge.New(),
		maps:     map[string]*mapView{},
		pending:  map[automerge.ChangeHash]bool{},
	}
	for _, opt := range opts {
		opt(d)
	}
	_ = d.am.SetActorID(d.clientID.actor())
	return d
}

func (d *Doc) ClientID() ClientID {
	return d.clientID
}

// Map returns a handle to the named shared map, creating it on first use.
func (d *Doc) Map(name string) *Map {
	d.mu.Lock()
	d.view(name)
	d.mu.Unlock()
	return &Map{doc: d, name: name}
}

// Transact runs fn as one atomic unit tagged with origin. fn must not call Transact
// or the convenience writers on Map for the same Doc; compose through tx instead.
func (d *Doc) Transact(origin any, fn func(tx *Transaction)) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	heads := d.am.Heads()
	tx := &Transaction{doc: d, origin: origin}
	fn(tx)
	var delta []byte
	if tx.writes > 0 {
		if _, err := d.am.Commit(""); err == nil {
			delta = d.changesSince(heads)
		}
	}
	d.publish(d.refresh(), origin, true, delta)
	d.mu.Unlock()
	d.drain()
}

// ApplyUpdate integrates a remote update. Changes already known are skipped, and
// changes whose dependencies are missing wait until the gap is filled.
func (d *Doc) ApplyUpdate(update []byte, origin any) error {
	changes, err := decodeChanges(update)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	heads := d.am.Heads()
	if err := d.am.Apply(changes...); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: apply: %v", ErrMalformedUpdate, err)
	}
	for _, ch := range changes {
		d.pending[ch.Hash()] = true
	}
	for h := range d.pending {
		if d.known(h) {
			delete(d.pending, h)
		}
	}
	d.publish(d.refresh(), origin, false, d.changesSince(heads))
	d.mu.Unlock()
	d.drain()
	return nil
}

// StateVector returns the current heads.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(StateVector(nil), d.am.Heads()...)
}

func (d *Doc) EncodeStateVector() []byte {
	return d.StateVector().Encode()
}

// EncodeStateAsUpdate returns every change the holder of sv has not integrated. Heads
// this replica has never seen are ignored, so the answer errs towards resending. A nil
// sv yields the whole document.
func (d *Doc) EncodeStateAsUpdate(sv StateVector) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	known := make([]automerge.ChangeHash, 0, len(sv))
	for _, h := range sv {
		if d.known(h) {
			known = append(known, h)
		}
	}
	return d.changesSince(known)
}

// HasPending reports whether changes are buffered waiting for missing dependencies.
func (d *Doc) HasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0
}

func (d *Doc) OnUpdate(fn func(update []byte, origin any)) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateHandlers.add(&d.mu, fn)
}

func (d *Doc) OnDestroy(fn func()) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyHandlers.add(&d.mu, fn)
}

// Destroy fires destroy handlers once and turns every later write into a no-op.
func (d *Doc) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	handlers := d.destroyHandlers.snapshot()
	d.updateHandlers.clear()
	d.destroyHandlers.clear()
	for _, m := range d.maps {
		m.observers.clear()
	}
	d.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (d *Doc) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Doc) view(name string) *mapView {
	v, ok := d.maps[name]
	if !ok {
		v = &mapView{values: map[string]json.RawMessage{}}
		d.maps[name] = v
	}
	return v
}

func (d *Doc) known(h automerge.ChangeHash) bool {
	ch, err := d.am.Change(h)
	return err == nil && ch != nil
}

func (d *Doc) changesSince(heads []automerge.ChangeHash) []byte {
	changes, err := d.am.Changes(heads...)
	if err != nil {
		return nil
	}
	return encodeChanges(changes)
}

func rootKey(name, key string) string {
	return name + ":" + key
}

func rawValue(v *automerge.Value) (json.RawMessage, bool) {
	if v == nil || v.Kind() != automerge.KindStr {
		return nil, false
	}
	return json.RawMessage(v.Str()), true
}

func (d *Doc) get(name, key string) (json.RawMessage, bool) {
	v, err := d.am.RootMap().Get(rootKey(name, key))
	if err != nil {
		return nil, false
	}
	return rawValue(v)
}

// read returns the live contents of every map, including uncommitted writes.
func (d *Doc) read() (map[string]map[string]json.RawMessage, error) {
	values, err := d.am.RootMap().Values()
	if err != nil {
		return nil, err
	}
	out := map[string]map[string]json.RawMessage{}
	for full, v := range values {
		name, key, ok := strings.Cut(full, ":")
		if !ok {
			continue
		}
		raw, ok := rawValue(v)
		if !ok {
			continue
		}
		m, ok := out[name]
		if !ok {
			m = map[string]json.RawMessage{}
			out[name] = m
		}
		m[key] = raw
	}
	return out, nil
}

// refresh moves every view to the document's current contents and returns, per map,
// the keys whose visible value changed. A write that lost to a concurrent one changes
// nothing and is not reported.
func (d *Doc) refresh() map[string]map[string]KeyAction {
	next, err := d.read()
	if err != nil {
		return nil
	}
	for name := range next {
		d.view(name)
	}
	changed := map[string]map[string]KeyAction{}
	for name, v := range d.maps {
		if keys := v.replace(next[name]); len(keys) > 0 {
			changed[name] = keys
		}
	}
	return changed
}

// publish queues observer and update callbacks. Called with d.mu held.
func (d *Doc) publish(changed map[string]map[string]KeyAction, origin any, local bool, delta []byte) {
	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		event := MapEvent{Map: name, Keys: changed[name], Origin: origin, Local: local}
		for _, fn := range d.maps[name].observers.snapshot() {
			fn := fn
			d.enqueue(func() { fn(event) })
		}
	}
	if len(delta) == 0 {
		return
	}
	for _, fn := range d.updateHandlers.snapshot() {
		fn := fn
		d.enqueue(func() { fn(delta, origin) })
	}
}

func (d *Doc) enqueue(fn func()) {
	d.emitMu.Lock()
	d.queue = append(d.queue, fn)
	d.emitMu.Unlock()
}

func (d *Doc) drain() {
	d.emitMu.Lock()
	if d.emitting {
		d.emitMu.Unlock()
		return
	}
	d.emitting = true
	for len(d.queue) > 0 {
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.emitMu.Unlock()
		fn()
		d.emitMu.Lock()
	}
	d.emitting = false
	d.emitMu.Unlock()
}

// handlerSet keeps registration order so callbacks fire deterministically.
type handlerSet[F any] struct {
	next    int
	entries []handlerEntry[F]
}

type handlerEntry[F any] struct {
	id int
	fn F
}

func (h *handlerSet[F]) add(mu *sync.Mutex, fn F) func() {
	h.next++
	id := h.next
	h.entries = append(h.entries, handlerEntry[F]{id: id, fn: fn})
	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			for i, e := range h.entries {
				if e.id == id {
					h.entries = append(h.entries[:i:i], h.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (h *handlerSet[F]) snapshot() []F {
	out := make([]F, 0, len(h.entries))
	for _, e := range h.entries {
		out = append(out, e.fn)
	}
	return out
}

func (h *handlerSet[F]) clear() {
	h.entries = nil
}
