package in

import (
	"context"
	"time"

	"flowsync/internal/modules/relay/dto"
)

// Conn is an accepted client connection.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, frame []byte) error
	Close() error
}

type TokenInput struct {
	Room    string
	Subject string
	TTL     time.Duration
}

type Usecase interface {
	// Authorize checks a client token before the connection is upgraded.
	Authorize(room, token string) error
	// Serve runs one client in room until the connection ends or ctx is done.
	Serve(ctx context.Context, room string, conn Conn) error
	Rooms(ctx context.Context) ([]dto.RoomOutput, error)
	// Room dumps the live document, falling back to the stored snapshot.
	Room(ctx context.Context, room string) (dto.RoomStateOutput, error)
	// Snapshot dumps the stored snapshot only.
	Snapshot(ctx context.Context, room string) (dto.RoomStateOutput, error)
	Token(input TokenInput) (dto.TokenOutput, error)
	// Discover lists relays advertised on the local network.
	Discover(ctx context.Context) ([]dto.EndpointOutput, error)
	Health(ctx context.Context) dto.HealthOutput
}
