package in

import (
	"context"

	"flowsync/internal/modules/flow/dto"
)

type AddNodeInput struct {
	Room  string
	ID    string
	Type  string
	Label string
	X     float64
	Y     float64
}

type MoveNodeInput struct {
	Room string
	ID   string
	X    float64
	Y    float64
}

type ConnectInput struct {
	Room         string
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
}

type PointInput struct {
	Room string
	X    float64
	Y    float64
}

// Usecase edits rooms. Undo, Redo, Copy, Cut, Paste and PointerMove act on the canvas a
// running Watch holds for the room, since history, clipboard and cursor belong to one
// view; without a watch they fail with apperrors.ErrNotFound. Every other edit uses the
// watched canvas when there is one and a short-lived canvas otherwise.
type Usecase interface {
	Dump(ctx context.Context, room string) (dto.GraphOutput, error)
	AddNode(ctx context.Context, input AddNodeInput) (dto.NodeOutput, error)
	MoveNode(ctx context.Context, input MoveNodeInput) (dto.NodeOutput, error)
	RemoveNode(ctx context.Context, room, id string) (dto.RemoveNodeOutput, error)
	Connect(ctx context.Context, input ConnectInput) (dto.EdgeOutput, error)
	Select(ctx context.Context, room string, ids []string) (int, error)
	RemoveBridged(ctx context.Context, room string, ids []string) (dto.BridgeOutput, error)
	Undo(ctx context.Context, room string) (dto.HistoryOutput, error)
	Redo(ctx context.Context, room string) (dto.HistoryOutput, error)
	Copy(ctx context.Context, room string) (dto.ClipboardOutput, error)
	Cut(ctx context.Context, room string) (dto.ClipboardOutput, error)
	Paste(ctx context.Context, input PointInput) (dto.ClipboardOutput, error)
	PointerMove(ctx context.Context, input PointInput) (dto.CursorOutput, error)
	// Watch calls fn with the full room state on every change until ctx is done.
	Watch(ctx context.Context, room string, fn func(dto.GraphOutput)) error
}
