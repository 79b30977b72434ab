package service

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"

	docdomain "flowsync/internal/modules/document/domain"
)

const (
	DefaultHistoryDebounce = 500 * time.Millisecond
	DefaultHistoryDepth    = 100
)

// HistoryEvent names the edit that asked for a history entry.
type HistoryEvent string

const (
	HistoryNodeAdd    HistoryEvent = "node-add"
	HistoryNodeDelete HistoryEvent = "node-delete"
	HistoryNodeMove   HistoryEvent = "node-move"
	HistoryEdgeAdd    HistoryEvent = "edge-add"
	HistoryEdgeDelete HistoryEvent = "edge-delete"
	HistoryPaste      HistoryEvent = "paste"
)

// keyChange is one key's value around a local edit; nil means absent.
type keyChange struct {
	before json.RawMessage
	after  json.RawMessage
}

type historyStep struct {
	event HistoryEvent
	maps  map[string]map[string]keyChange
}

// History keeps undo and redo stacks of local edits. Only keys this replica changed are
// recorded, so undoing never reverts what a peer wrote elsewhere in the room.
// Recording is debounced: a burst of Record calls yields one entry taken when the burst
// settles.
type History struct {
	nodes    *Nodes
	edges    *Edges
	debounce time.Duration
	depth    int

	mu sync.Mutex
	// last seen value of every key, per map
	known map[string]map[string]json.RawMessage
	// value each locally edited key had before the edit, since the last entry
	open    map[string]map[string]json.RawMessage
	past    []historyStep
	future  []historyStep
	pending *time.Timer
	event   HistoryEvent
	onUndo  []func()
	onRedo  []func()
	stops   []func()
}

func NewHistory(nodes *Nodes, edges *Edges, debounce time.Duration, depth int) *History {
	if debounce <= 0 {
		debounce = DefaultHistoryDebounce
	}
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	h := &History{
		nodes:    nodes,
		edges:    edges,
		debounce: debounce,
		depth:    depth,
		known:    map[string]map[string]json.RawMessage{},
		open:     map[string]map[string]json.RawMessage{},
	}
	doc := nodes.Doc()
	if doc == nil {
		return h
	}
	for _, name := range []string{nodes.Name(), edges.Name()} {
		m := doc.Map(name)
		values := map[string]json.RawMessage{}
		for _, e := range m.Entries() {
			values[e.Key] = e.Value
		}
		h.known[name] = values
		h.stops = append(h.stops, m.Observe(func(ev docdomain.MapEvent) { h.observe(m, ev) }))
	}
	return h
}

// observe tracks every change; local ones that did not come from undo or redo open
// the next entry.
func (h *History) observe(m *docdomain.Map, ev docdomain.MapEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	known := h.known[ev.Map]
	for key := range ev.Keys {
		if ev.Local && ev.Origin != h {
			open, ok := h.open[ev.Map]
			if !ok {
				open = map[string]json.RawMessage{}
				h.open[ev.Map] = open
			}
			if _, seen := open[key]; !seen {
				open[key] = known[key]
			}
		}
		if value, ok := m.Get(key); ok {
			known[key] = value
		} else {
			delete(known, key)
		}
	}
}

// Record schedules a history entry for event.
func (h *History) Record(event HistoryEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.event = event
	if h.pending != nil {
		h.pending.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(h.debounce, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.pending == timer {
			h.commitLocked()
		}
	})
	h.pending = timer
}

// Commit takes a pending entry now instead of waiting for the debounce.
func (h *History) Commit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commitLocked()
}

func (h *History) commitLocked() {
	if h.pending == nil {
		return
	}
	h.pending.Stop()
	h.pending = nil
	step := historyStep{event: h.event, maps: map[string]map[string]keyChange{}}
	for name, open := range h.open {
		for key, before := range open {
			after := h.known[name][key]
			if bytes.Equal(before, after) {
				continue
			}
			if step.maps[name] == nil {
				step.maps[name] = map[string]keyChange{}
			}
			step.maps[name][key] = keyChange{before: before, after: after}
		}
	}
	h.open = map[string]map[string]json.RawMessage{}
	if len(step.maps) == 0 {
		return
	}
	h.past = append(h.past, step)
	if len(h.past) > h.depth {
		h.past = h.past[len(h.past)-h.depth:]
	}
	h.future = nil
}

func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past) > 0 || h.pending != nil
}

func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.future) > 0
}

// Undo puts back the values the latest entry's keys had before it. It reports false
// when there is nothing to undo.
func (h *History) Undo() (bool, error) {
	h.mu.Lock()
	h.commitLocked()
	if len(h.past) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	step := h.past[len(h.past)-1]
	h.past = h.past[:len(h.past)-1]
	h.future = append(h.future, step)
	callbacks := append([]func(){}, h.onUndo...)
	h.mu.Unlock()

	if err := h.apply(step, true); err != nil {
		return false, err
	}
	for _, fn := range callbacks {
		fn()
	}
	return true, nil
}

func (h *History) Redo() (bool, error) {
	h.mu.Lock()
	h.commitLocked()
	if len(h.future) == 0 {
		h.mu.Unlock()
		return false, nil
	}
	step := h.future[len(h.future)-1]
	h.future = h.future[:len(h.future)-1]
	h.past = append(h.past, step)
	callbacks := append([]func(){}, h.onRedo...)
	h.mu.Unlock()

	if err := h.apply(step, false); err != nil {
		return false, err
	}
	for _, fn := range callbacks {
		fn()
	}
	return true, nil
}

func (h *History) OnUndo(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUndo = append(h.onUndo, fn)
}

func (h *History) OnRedo(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRedo = append(h.onRedo, fn)
}

// Stop drops a pending entry.
func (h *History) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pending != nil {
		h.pending.Stop()
		h.pending = nil
	}
}

// Close stops a pending entry and detaches from the document.
func (h *History) Close() {
	h.Stop()
	h.mu.Lock()
	stops := h.stops
	h.stops = nil
	h.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}

// apply writes one side of step in a single transaction so peers never see the nodes
// of one state with the edges of another.
func (h *History) apply(step historyStep, undo bool) error {
	doc := h.nodes.Doc()
	if doc == nil {
		return nil
	}
	var err error
	doc.Transact(h, func(tx *docdomain.Transaction) {
		names := make([]string, 0, len(step.maps))
		for name := range step.maps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m := tx.Map(name)
			keys := make([]string, 0, len(step.maps[name]))
			for key := range step.maps[name] {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				change := step.maps[name][key]
				value := change.after
				if undo {
					value = change.before
				}
				if value == nil {
					m.Delete(key)
					continue
				}
				if err = m.Set(key, value); err != nil {
					return
				}
			}
		}
	})
	return err
}
