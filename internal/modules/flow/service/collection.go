package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	docdomain "flowsync/internal/modules/document/domain"
	"flowsync/internal/platform/logging"
)

// Entity is anything stored in a shared map under its own id.
type Entity interface {
	Key() string
}

// Collection mirrors one shared map as an ordered slice and funnels local edits into
// the map, one transaction per call. The transaction origin is the collection itself.
//
// Until a document is bound every mutation is a no-op and Snapshot keeps whatever it
// held last.
type Collection[T Entity] struct {
	name   string
	logger logging.Logger

	mu        sync.Mutex
	doc       *docdomain.Doc
	unobserve func()
	snapshot  []T
	subs      []subscriber[T]
	nextID    int
}

type subscriber[T any] struct {
	id int
	fn func([]T)
}

func NewCollection[T Entity](name string, logger logging.Logger) *Collection[T] {
	return &Collection[T]{name: name, logger: logging.OrNoOp(logger), snapshot: []T{}}
}

func (c *Collection[T]) Name() string { return c.name }

func (c *Collection[T]) Doc() *docdomain.Doc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc
}

// Bind attaches the collection to doc, replacing any previous binding, and publishes
// the map's current contents. A nil doc only unbinds.
func (c *Collection[T]) Bind(doc *docdomain.Doc) {
	c.Unbind()
	if doc == nil {
		return
	}
	m := doc.Map(c.name)
	stop := m.Observe(func(docdomain.MapEvent) { c.refresh(m) })
	c.mu.Lock()
	c.doc = doc
	c.unobserve = stop
	c.mu.Unlock()
	c.refresh(m)
}

func (c *Collection[T]) Unbind() {
	c.mu.Lock()
	stop := c.unobserve
	c.unobserve = nil
	c.doc = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Snapshot returns the last published collection, in map iteration order.
func (c *Collection[T]) Snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.snapshot...)
}

// Subscribe calls fn with every new snapshot until cancelled.
func (c *Collection[T]) Subscribe(fn func([]T)) (cancel func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber[T]{id: id, fn: fn})
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *Collection[T]) refresh(m *docdomain.Map) {
	next := c.decode(m.Entries())
	c.mu.Lock()
	if c.doc != m.Doc() {
		c.mu.Unlock()
		return
	}
	c.snapshot = next
	subs := append([]subscriber[T](nil), c.subs...)
	c.mu.Unlock()
	for _, s := range subs {
		s.fn(append([]T(nil), next...))
	}
}

// decode skips entries that do not parse as T; a peer running a different schema must
// not take the whole collection down.
func (c *Collection[T]) decode(entries []docdomain.Entry) []T {
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			c.logger.Warn("skipping %s/%s: %v", c.name, e.Key, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// SetSynced makes the shared map hold exactly next: every item is upserted and every
// other key is deleted, including entries this replica cannot decode, in one
// transaction.
func (c *Collection[T]) SetSynced(next []T) error {
	doc := c.Doc()
	if doc == nil {
		return nil
	}
	var err error
	doc.Transact(c, func(tx *docdomain.Transaction) {
		m := tx.Map(c.name)
		err = writeKeys(m, m.Keys(), next)
	})
	return err
}

// UpdateSynced upserts the collection fn computes from the map's current contents and
// deletes what fn dropped. Entries that did not decode never reach fn and are left as
// they are. fn runs inside the transaction and must not touch the document.
func (c *Collection[T]) UpdateSynced(fn func(current []T) []T) error {
	doc := c.Doc()
	if doc == nil {
		return nil
	}
	var err error
	doc.Transact(c, func(tx *docdomain.Transaction) {
		m := tx.Map(c.name)
		current := c.decode(m.Entries())
		err = writeAll(m, current, fn(current))
	})
	return err
}

// writeAll upserts next and deletes the keys of current that next no longer holds.
func writeAll[T Entity](m *docdomain.MapTxn, current, next []T) error {
	keys := make([]string, 0, len(current))
	for _, item := range current {
		keys = append(keys, item.Key())
	}
	return writeKeys(m, keys, next)
}

// writeKeys encodes everything before the first write so a bad item leaves the
// transaction empty. Unchanged values are not rewritten; every key of candidates
// missing from next is deleted.
func writeKeys[T Entity](m *docdomain.MapTxn, candidates []string, next []T) error {
	encoded := make([]json.RawMessage, len(next))
	for i, item := range next {
		raw, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode %s: %w", item.Key(), err)
		}
		encoded[i] = raw
	}
	keep := make(map[string]struct{}, len(next))
	for i, item := range next {
		key := item.Key()
		keep[key] = struct{}{}
		if cur, ok := m.Get(key); ok && bytes.Equal(cur, encoded[i]) {
			continue
		}
		if err := m.Set(key, encoded[i]); err != nil {
			return err
		}
	}
	for _, key := range candidates {
		if _, ok := keep[key]; !ok {
			m.Delete(key)
		}
	}
	return nil
}
