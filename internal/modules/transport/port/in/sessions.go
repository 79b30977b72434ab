package in

import (
	"context"

	docdomain "flowsync/internal/modules/document/domain"
	"flowsync/internal/modules/transport/domain"
)

// Session pairs one room connection with its replicated document.
type Session interface {
	Room() string
	Doc() *docdomain.Doc
	Awareness() *docdomain.Awareness
	Status() domain.Status
	Connected() bool
	OnStatus(fn func(domain.Status)) (cancel func())
	// WaitSynced blocks until the first sync step 2 of the current connection arrived.
	WaitSynced(ctx context.Context) error
}

// Sessions hands out one shared Session per room. Every Acquire must be paired with
// exactly one Release.
type Sessions interface {
	Acquire(room string) Session
	Release(room string)
}
