package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type KeyAction string

const (
	KeyAdded   KeyAction = "add"
	KeyUpdated KeyAction = "update"
	KeyDeleted KeyAction = "delete"
)

// MapEvent describes the net effect of one transaction on one shared map.
type MapEvent struct {
	Map    string
	Keys   map[string]KeyAction
	Origin any
	Local  bool
}

type Entry struct {
	Key   string
	Value json.RawMessage
}

// mapView caches the committed contents of one map. order is the order in which keys
// became visible on this replica.
type mapView struct {
	values    map[string]json.RawMessage
	order     []string
	observers handlerSet[func(MapEvent)]
}

func (v *mapView) replace(next map[string]json.RawMessage) map[string]KeyAction {
	if next == nil {
		next = map[string]json.RawMessage{}
	}
	keys := map[string]KeyAction{}
	for key, old := range v.values {
		cur, ok := next[key]
		switch {
		case !ok:
			keys[key] = KeyDeleted
		case !bytes.Equal(old, cur):
			keys[key] = KeyUpdated
		}
	}
	var added []string
	for key := range next {
		if _, ok := v.values[key]; !ok {
			keys[key] = KeyAdded
			added = append(added, key)
		}
	}
	sort.Strings(added)
	order := make([]string, 0, len(next))
	for _, key := range v.order {
		if _, ok := next[key]; ok {
			order = append(order, key)
		}
	}
	v.order = append(order, added...)
	v.values = next
	return keys
}

// list orders values by first visibility; keys the view has not seen yet follow, sorted.
func (v *mapView) list(values map[string]json.RawMessage) []Entry {
	out := make([]Entry, 0, len(values))
	for _, key := range v.order {
		if value, ok := values[key]; ok {
			out = append(out, Entry{Key: key, Value: value})
		}
	}
	var fresh []string
	for key := range values {
		if _, ok := v.values[key]; !ok {
			fresh = append(fresh, key)
		}
	}
	sort.Strings(fresh)
	for _, key := range fresh {
		out = append(out, Entry{Key: key, Value: values[key]})
	}
	return out
}

// Map is a read handle on a shared map. Set and Delete each run in their own
// transaction with a nil origin.
type Map struct {
	doc  *Doc
	name string
}

func (m *Map) Name() string {
	return m.name
}

func (m *Map) Doc() *Doc {
	return m.doc
}

func (m *Map) Get(key string) (json.RawMessage, bool) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	value, ok := m.doc.view(m.name).values[key]
	return value, ok
}

func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *Map) Len() int {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	return len(m.doc.view(m.name).values)
}

// Entries lists visible keys in the order they first became visible.
func (m *Map) Entries() []Entry {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	v := m.doc.view(m.name)
	return v.list(v.values)
}

func (m *Map) Keys() []string {
	return entryKeys(m.Entries())
}

func (m *Map) Observe(fn func(MapEvent)) (cancel func()) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	return m.doc.view(m.name).observers.add(&m.doc.mu, fn)
}

func (m *Map) Set(key string, value any) error {
	var err error
	m.doc.Transact(nil, func(tx *Transaction) {
		err = tx.Map(m.name).Set(key, value)
	})
	return err
}

func (m *Map) Delete(key string) {
	m.doc.Transact(nil, func(tx *Transaction) {
		tx.Map(m.name).Delete(key)
	})
}

// Transaction collects the writes of one Transact call.
type Transaction struct {
	doc    *Doc
	origin any
	writes int
}

func (tx *Transaction) Origin() any {
	return tx.origin
}

func (tx *Transaction) Map(name string) *MapTxn {
	tx.doc.view(name)
	return &MapTxn{tx: tx, name: name}
}

// MapTxn reads and writes one shared map inside a transaction. Reads observe the
// transaction's own earlier writes.
type MapTxn struct {
	tx   *Transaction
	name string
}

func (t *MapTxn) Get(key string) (json.RawMessage, bool) {
	return t.tx.doc.get(t.name, key)
}

func (t *MapTxn) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

func (t *MapTxn) Entries() []Entry {
	d := t.tx.doc
	all, err := d.read()
	if err != nil {
		return nil
	}
	return d.view(t.name).list(all[t.name])
}

func (t *MapTxn) Keys() []string {
	return entryKeys(t.Entries())
}

func (t *MapTxn) Len() int {
	return len(t.Entries())
}

// Set stores value under key. Values are kept as JSON; a json.RawMessage is stored as is.
func (t *MapTxn) Set(key string, value any) error {
	raw, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", t.name, key, err)
	}
	if err := t.tx.doc.am.RootMap().Set(rootKey(t.name, key), string(raw)); err != nil {
		return fmt.Errorf("write %s/%s: %w", t.name, key, err)
	}
	t.tx.writes++
	return nil
}

// Delete removes key if present. Deleting an absent key writes nothing.
func (t *MapTxn) Delete(key string) {
	if !t.Has(key) {
		return
	}
	if err := t.tx.doc.am.RootMap().Delete(rootKey(t.name, key)); err == nil {
		t.tx.writes++
	}
}

func entryKeys(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}

func marshalValue(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("invalid raw JSON")
		}
		return append(json.RawMessage(nil), raw...), nil
	}
	return json.Marshal(value)
}

// Decode unmarshals every value of entries into T, in order.
func Decode[T any](entries []Entry) ([]T, error) {
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}
