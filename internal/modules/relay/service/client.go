package service

import (
	"context"
	"sync"

	docdomain "flowsync/internal/modules/document/domain"
	relayin "flowsync/internal/modules/relay/port/in"
)

type client struct {
	id   string
	conn relayin.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	owned map[docdomain.ClientID]struct{}
}

func newClient(id string, conn relayin.Conn, buffer int) *client {
	return &client{
		id:    id,
		conn:  conn,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
		owned: map[docdomain.ClientID]struct{}{},
	}
}

// enqueue hands a frame to the writer. A client whose queue is full is too slow to keep
// up with the room and gets disconnected.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.shutdown()
		return false
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case frame := <-c.send:
			if err := c.conn.WriteMessage(ctx, frame); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// track records which awareness clients this connection speaks for, so their presence
// can be withdrawn when it leaves.
func (c *client) track(change docdomain.AwarenessChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range change.Added {
		c.owned[id] = struct{}{}
	}
	for _, id := range change.Updated {
		c.owned[id] = struct{}{}
	}
	for _, id := range change.Removed {
		delete(c.owned, id)
	}
}

func (c *client) ownedIDs() []docdomain.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]docdomain.ClientID, 0, len(c.owned))
	for id := range c.owned {
		out = append(out, id)
	}
	return out
}
