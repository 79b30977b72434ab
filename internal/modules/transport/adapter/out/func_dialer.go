package out

import (
	"context"
	"errors"

	transportout "flowsync/internal/modules/transport/port/out"
)

// ErrOffline is returned by OfflineDialer; sessions keep retrying with backoff and
// edits stay local.
var ErrOffline = errors.New("no relay configured")

// FuncDialer adapts a plain function, typically one handing a memconn end to an
// in-process relay.
type FuncDialer func(ctx context.Context, room string) (transportout.Conn, error)

func (f FuncDialer) Dial(ctx context.Context, room string) (transportout.Conn, error) {
	return f(ctx, room)
}

// OfflineDialer never connects.
type OfflineDialer struct{}

func (OfflineDialer) Dial(context.Context, string) (transportout.Conn, error) {
	return nil, ErrOffline
}
