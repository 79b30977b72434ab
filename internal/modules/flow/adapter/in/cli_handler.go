package in

import (
	"context"

	"flowsync/internal/modules/flow/dto"
	flowin "flowsync/internal/modules/flow/port/in"
)

type CLIHandler struct {
	usecase flowin.Usecase
}

func NewCLIHandler(usecase flowin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Dump(ctx context.Context, room string) (dto.GraphOutput, error) {
	return h.usecase.Dump(ctx, room)
}

func (h CLIHandler) AddNode(ctx context.Context, room, id, nodeType, label string, x, y float64) (dto.NodeOutput, error) {
	return h.usecase.AddNode(ctx, flowin.AddNodeInput{Room: room, ID: id, Type: nodeType, Label: label, X: x, Y: y})
}

func (h CLIHandler) MoveNode(ctx context.Context, room, id string, x, y float64) (dto.NodeOutput, error) {
	return h.usecase.MoveNode(ctx, flowin.MoveNodeInput{Room: room, ID: id, X: x, Y: y})
}

func (h CLIHandler) RemoveNode(ctx context.Context, room, id string) (dto.RemoveNodeOutput, error) {
	return h.usecase.RemoveNode(ctx, room, id)
}

func (h CLIHandler) Connect(ctx context.Context, room, source, target string) (dto.EdgeOutput, error) {
	return h.usecase.Connect(ctx, flowin.ConnectInput{Room: room, Source: source, Target: target})
}

func (h CLIHandler) Watch(ctx context.Context, room string, fn func(dto.GraphOutput)) error {
	return h.usecase.Watch(ctx, room, fn)
}

func (h CLIHandler) Select(ctx context.Context, room string, ids []string) (int, error) {
	return h.usecase.Select(ctx, room, ids)
}

func (h CLIHandler) RemoveBridged(ctx context.Context, room string, ids []string) (dto.BridgeOutput, error) {
	return h.usecase.RemoveBridged(ctx, room, ids)
}

func (h CLIHandler) Undo(ctx context.Context, room string) (dto.HistoryOutput, error) {
	return h.usecase.Undo(ctx, room)
}

func (h CLIHandler) Redo(ctx context.Context, room string) (dto.HistoryOutput, error) {
	return h.usecase.Redo(ctx, room)
}

func (h CLIHandler) Copy(ctx context.Context, room string) (dto.ClipboardOutput, error) {
	return h.usecase.Copy(ctx, room)
}

func (h CLIHandler) Cut(ctx context.Context, room string) (dto.ClipboardOutput, error) {
	return h.usecase.Cut(ctx, room)
}

func (h CLIHandler) Paste(ctx context.Context, room string, x, y float64) (dto.ClipboardOutput, error) {
	return h.usecase.Paste(ctx, flowin.PointInput{Room: room, X: x, Y: y})
}

func (h CLIHandler) PointerMove(ctx context.Context, room string, x, y float64) (dto.CursorOutput, error) {
	return h.usecase.PointerMove(ctx, flowin.PointInput{Room: room, X: x, Y: y})
}
