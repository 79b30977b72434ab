package in

import (
	"context"
	"time"

	"flowsync/internal/modules/relay/dto"
	relayin "flowsync/internal/modules/relay/port/in"
)

type CLIHandler struct {
	usecase relayin.Usecase
}

func NewCLIHandler(usecase relayin.Usecase) CLIHandler {
	return CLIHandler{usecase: usecase}
}

func (h CLIHandler) Token(room, subject string, ttl time.Duration) (dto.TokenOutput, error) {
	return h.usecase.Token(relayin.TokenInput{Room: room, Subject: subject, TTL: ttl})
}

func (h CLIHandler) Snapshot(ctx context.Context, room string) (dto.RoomStateOutput, error) {
	return h.usecase.Snapshot(ctx, room)
}

func (h CLIHandler) Discover(ctx context.Context) ([]dto.EndpointOutput, error) {
	return h.usecase.Discover(ctx)
}
