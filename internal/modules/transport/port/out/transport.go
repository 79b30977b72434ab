package out

import "context"

// Conn is one live, message-oriented connection to a sync peer. WriteMessage may be
// called from several goroutines; ReadMessage from one.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, frame []byte) error
	Close() error
}

// Dialer opens a connection scoped to a room.
type Dialer interface {
	Dial(ctx context.Context, room string) (Conn, error)
}

// SnapshotStore persists a room's document as a single encoded update. Load returns
// nil and no error for a room that was never saved.
type SnapshotStore interface {
	Load(ctx context.Context, room string) ([]byte, error)
	Save(ctx context.Context, room string, update []byte) error
}
