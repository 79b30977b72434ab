package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"flowsync/internal/platform/wire"
)

// OutdatedTimeout is how long a remote presence entry survives without a renewal.
const OutdatedTimeout = 30 * time.Second

var nullState = json.RawMessage("null")

type AwarenessChange struct {
	Added   []ClientID
	Updated []ClientID
	Removed []ClientID
}

func (c AwarenessChange) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// All lists every client touched by the change.
func (c AwarenessChange) All() []ClientID {
	out := make([]ClientID, 0, len(c.Added)+len(c.Updated)+len(c.Removed))
	out = append(out, c.Added...)
	out = append(out, c.Updated...)
	return append(out, c.Removed...)
}

type awarenessMeta struct {
	clock       uint32
	lastUpdated time.Time
}

// Awareness holds ephemeral per-client presence state. It is never persisted and is
// merged by per-client clocks rather than through the document.
type Awareness struct {
	mu       sync.Mutex
	clientID ClientID
	now      func() time.Time
	states   map[ClientID]json.RawMessage
	meta     map[ClientID]awarenessMeta
	handlers handlerSet[func(AwarenessChange, any)]
}

func NewAwareness(clientID ClientID, now func() time.Time) *Awareness {
	if now == nil {
		now = time.Now
	}
	return &Awareness{
		clientID: clientID,
		now:      now,
		states:   map[ClientID]json.RawMessage{},
		meta:     map[ClientID]awarenessMeta{},
	}
}

func (a *Awareness) ClientID() ClientID {
	return a.clientID
}

// SetLocalState publishes this client's state; nil marks the client as gone.
func (a *Awareness) SetLocalState(state any) error {
	raw := nullState
	if state != nil {
		encoded, err := marshalValue(state)
		if err != nil {
			return fmt.Errorf("encode awareness state: %w", err)
		}
		raw = encoded
	}
	a.mu.Lock()
	_, had := a.states[a.clientID]
	clk := a.meta[a.clientID].clock + 1
	a.meta[a.clientID] = awarenessMeta{clock: clk, lastUpdated: a.now()}
	change := AwarenessChange{}
	switch {
	case isNull(raw):
		delete(a.states, a.clientID)
		if had {
			change.Removed = []ClientID{a.clientID}
		}
	case !had:
		a.states[a.clientID] = raw
		change.Added = []ClientID{a.clientID}
	default:
		a.states[a.clientID] = raw
		change.Updated = []ClientID{a.clientID}
	}
	handlers := a.handlers.snapshot()
	a.mu.Unlock()
	a.emit(handlers, change, nil)
	return nil
}

func (a *Awareness) LocalState() (json.RawMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[a.clientID]
	return s, ok
}

func (a *Awareness) States() map[ClientID]json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[ClientID]json.RawMessage, len(a.states))
	for k, v := range a.states {
		out[k] = v
	}
	return out
}

// Clients lists clients with a live state, ascending.
func (a *Awareness) Clients() []ClientID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ClientID, 0, len(a.states))
	for k := range a.states {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OnUpdate registers fn for every accepted entry, including renewals that leave the
// state unchanged.
func (a *Awareness) OnUpdate(fn func(change AwarenessChange, origin any)) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handlers.add(&a.mu, fn)
}

// Encode serialises the entries of clients. Clients without a state are written as
// removals so peers drop them.
func (a *Awareness) Encode(clients []ClientID) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	enc := wire.NewEncoder()
	enc.WriteUvarint(uint64(len(clients)))
	for _, client := range clients {
		state, ok := a.states[client]
		if !ok {
			state = nullState
		}
		enc.WriteUvarint(uint64(client))
		enc.WriteUvarint(uint64(a.meta[client].clock))
		enc.WriteString(string(state))
	}
	return enc.Bytes()
}

// EncodeAll serialises every known state.
func (a *Awareness) EncodeAll() []byte {
	return a.Encode(a.Clients())
}

// Apply merges a remote awareness payload. An entry is accepted when its clock is newer,
// or equal with a null state removing a known client. A remote removal of this client
// is overridden by bumping the local clock while a local state is set.
func (a *Awareness) Apply(update []byte, origin any) error {
	dec := wire.NewDecoder(update)
	n, err := dec.ReadUvarint()
	if err != nil {
		return fmt.Errorf("%w: awareness length: %v", ErrMalformedUpdate, err)
	}
	now := a.now()
	change := AwarenessChange{}
	a.mu.Lock()
	for i := uint64(0); i < n; i++ {
		client, err := dec.ReadUvarint()
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("%w: awareness client: %v", ErrMalformedUpdate, err)
		}
		clk, err := dec.ReadUvarint()
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("%w: awareness clock: %v", ErrMalformedUpdate, err)
		}
		rawState, err := dec.ReadString()
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("%w: awareness state: %v", ErrMalformedUpdate, err)
		}
		state := json.RawMessage(rawState)
		if !json.Valid(state) {
			a.mu.Unlock()
			return fmt.Errorf("%w: awareness state is not JSON", ErrMalformedUpdate)
		}
		a.merge(ClientID(client), uint32(clk), state, now, &change)
	}
	handlers := a.handlers.snapshot()
	a.mu.Unlock()
	a.emit(handlers, change, origin)
	return nil
}

func (a *Awareness) merge(client ClientID, clk uint32, state json.RawMessage, now time.Time, change *AwarenessChange) {
	prevMeta, known := a.meta[client]
	_, had := a.states[client]
	null := isNull(state)
	if !(prevMeta.clock < clk || (prevMeta.clock == clk && null && had)) {
		return
	}
	if null {
		if client == a.clientID && had {
			clk++
		} else {
			delete(a.states, client)
		}
	} else {
		a.states[client] = state
	}
	a.meta[client] = awarenessMeta{clock: clk, lastUpdated: now}
	switch {
	case !known && !null:
		change.Added = append(change.Added, client)
	case null && had && client != a.clientID:
		change.Removed = append(change.Removed, client)
	case !null && !had:
		change.Added = append(change.Added, client)
	case !null:
		change.Updated = append(change.Updated, client)
	}
}

// RemoveStates drops the entries of clients, attributing the removal to origin.
func (a *Awareness) RemoveStates(clients []ClientID, origin any) {
	a.mu.Lock()
	change := AwarenessChange{}
	for _, client := range clients {
		if _, ok := a.states[client]; !ok {
			continue
		}
		delete(a.states, client)
		if client == a.clientID {
			m := a.meta[client]
			a.meta[client] = awarenessMeta{clock: m.clock + 1, lastUpdated: a.now()}
		}
		change.Removed = append(change.Removed, client)
	}
	handlers := a.handlers.snapshot()
	a.mu.Unlock()
	a.emit(handlers, change, origin)
}

// Check renews the local entry when it is half-way to expiring and drops remote
// entries nobody renewed within OutdatedTimeout.
func (a *Awareness) Check() {
	now := a.now()
	a.mu.Lock()
	renewed := AwarenessChange{}
	if state, ok := a.states[a.clientID]; ok && now.Sub(a.meta[a.clientID].lastUpdated) >= OutdatedTimeout/2 {
		m := a.meta[a.clientID]
		a.meta[a.clientID] = awarenessMeta{clock: m.clock + 1, lastUpdated: now}
		a.states[a.clientID] = state
		renewed.Updated = []ClientID{a.clientID}
	}
	outdated := []ClientID{}
	for client, m := range a.meta {
		if client == a.clientID {
			continue
		}
		if _, ok := a.states[client]; ok && now.Sub(m.lastUpdated) >= OutdatedTimeout {
			outdated = append(outdated, client)
		}
	}
	handlers := a.handlers.snapshot()
	a.mu.Unlock()
	a.emit(handlers, renewed, nil)
	if len(outdated) > 0 {
		sort.Slice(outdated, func(i, j int) bool { return outdated[i] < outdated[j] })
		a.RemoveStates(outdated, "timeout")
	}
}

// Destroy clears the local state so peers are told this client left.
func (a *Awareness) Destroy() {
	a.RemoveStates([]ClientID{a.clientID}, nil)
	a.mu.Lock()
	a.handlers.clear()
	a.mu.Unlock()
}

func (a *Awareness) emit(handlers []func(AwarenessChange, any), change AwarenessChange, origin any) {
	if change.Empty() {
		return
	}
	for _, fn := range handlers {
		fn(change, origin)
	}
}

func isNull(state json.RawMessage) bool {
	return len(bytes.TrimSpace(state)) == 0 || bytes.Equal(bytes.TrimSpace(state), nullState)
}
