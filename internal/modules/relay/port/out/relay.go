package out

import (
	"context"
	"time"

	"flowsync/internal/modules/relay/domain"
)

// SnapshotStore persists a room's document as a single encoded update. Load returns
// nil and no error for a room that was never saved.
type SnapshotStore interface {
	Load(ctx context.Context, room string) ([]byte, error)
	Save(ctx context.Context, room string, update []byte) error
}

// Broker fans frames out to the other relay instances serving the same room.
type Broker interface {
	Publish(ctx context.Context, room string, payload []byte) error
	Subscribe(ctx context.Context, room string, fn func(payload []byte)) (cancel func(), err error)
}

type TokenAuthority interface {
	Mint(room, subject string, ttl time.Duration) (string, time.Time, error)
	Verify(token, room string) error
}

// Announcer advertises relays on the local network and finds the ones already there.
type Announcer interface {
	Announce(name string, port int) (stop func(), err error)
	Discover(ctx context.Context) ([]domain.Endpoint, error)
}
