package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	docdomain "flowsync/internal/modules/document/domain"
	flowdomain "flowsync/internal/modules/flow/domain"
	"flowsync/internal/modules/relay/domain"
	"flowsync/internal/modules/relay/dto"
	relayin "flowsync/internal/modules/relay/port/in"
	relayout "flowsync/internal/modules/relay/port/out"
	"flowsync/internal/modules/relay/service"
	apperrors "flowsync/internal/platform/errors"
)

const defaultTokenTTL = 24 * time.Hour

type Interactor struct {
	hub       *service.Hub
	store     relayout.SnapshotStore
	authority relayout.TokenAuthority
	announcer relayout.Announcer
}

// NewInteractor wires the relay operations. store, authority and announcer may be nil;
// without an authority every room is open.
func NewInteractor(hub *service.Hub, store relayout.SnapshotStore, authority relayout.TokenAuthority, announcer relayout.Announcer) relayin.Usecase {
	return &Interactor{hub: hub, store: store, authority: authority, announcer: announcer}
}

func (i *Interactor) Authorize(room, token string) error {
	if strings.TrimSpace(room) == "" {
		return fmt.Errorf("room is required: %w", apperrors.ErrInvalidInput)
	}
	if i.authority == nil {
		return nil
	}
	return i.authority.Verify(token, room)
}

func (i *Interactor) Serve(ctx context.Context, room string, conn relayin.Conn) error {
	return i.hub.Serve(ctx, room, conn)
}

func (i *Interactor) Rooms(context.Context) ([]dto.RoomOutput, error) {
	rooms := i.hub.Rooms()
	out := make([]dto.RoomOutput, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, dto.RoomOutput{Name: r.Name, Clients: r.Clients, Peers: r.Peers})
	}
	return out, nil
}

func (i *Interactor) Room(ctx context.Context, room string) (dto.RoomStateOutput, error) {
	if snapshot, ok := i.hub.Snapshot(room); ok {
		return decodeRoom(room, snapshot, true)
	}
	return i.Snapshot(ctx, room)
}

func (i *Interactor) Snapshot(ctx context.Context, room string) (dto.RoomStateOutput, error) {
	if strings.TrimSpace(room) == "" {
		return dto.RoomStateOutput{}, fmt.Errorf("room is required: %w", apperrors.ErrInvalidInput)
	}
	if i.store == nil {
		return dto.RoomStateOutput{}, fmt.Errorf("room %q: %w", room, apperrors.ErrNotFound)
	}
	snapshot, err := i.store.Load(ctx, room)
	if err != nil {
		return dto.RoomStateOutput{}, fmt.Errorf("load room %q: %w", room, err)
	}
	if len(snapshot) == 0 {
		return dto.RoomStateOutput{}, fmt.Errorf("room %q: %w", room, apperrors.ErrNotFound)
	}
	return decodeRoom(room, snapshot, false)
}

func (i *Interactor) Token(input relayin.TokenInput) (dto.TokenOutput, error) {
	if i.authority == nil {
		return dto.TokenOutput{}, domain.ErrNoSecret
	}
	if strings.TrimSpace(input.Room) == "" {
		return dto.TokenOutput{}, fmt.Errorf("room is required: %w", apperrors.ErrInvalidInput)
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	token, expires, err := i.authority.Mint(input.Room, input.Subject, ttl)
	if err != nil {
		return dto.TokenOutput{}, err
	}
	return dto.TokenOutput{Token: token, Room: input.Room, ExpiresAt: expires}, nil
}

func (i *Interactor) Discover(ctx context.Context) ([]dto.EndpointOutput, error) {
	if i.announcer == nil {
		return nil, fmt.Errorf("discovery: %w", apperrors.ErrNotFound)
	}
	endpoints, err := i.announcer.Discover(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dto.EndpointOutput, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, dto.EndpointOutput{Instance: ep.Instance, URL: ep.URL()})
	}
	return out, nil
}

func (i *Interactor) Health(context.Context) dto.HealthOutput {
	out := dto.HealthOutput{Status: "ok", Instance: i.hub.Instance()}
	for _, r := range i.hub.Rooms() {
		out.Rooms++
		out.Clients += r.Clients
	}
	return out
}

// decodeRoom replays a snapshot into a scratch document and reads the flow collections.
func decodeRoom(room string, snapshot []byte, live bool) (dto.RoomStateOutput, error) {
	doc := docdomain.New()
	defer doc.Destroy()
	if err := doc.ApplyUpdate(snapshot, nil); err != nil {
		return dto.RoomStateOutput{}, fmt.Errorf("decode room %q: %w", room, err)
	}
	out := dto.RoomStateOutput{
		Room:  room,
		Live:  live,
		Bytes: len(snapshot),
		Nodes: []dto.NodeOutput{},
		Edges: []dto.EdgeOutput{},
	}
	for _, entry := range doc.Map(flowdomain.MapNodes).Entries() {
		var n flowdomain.Node
		if err := json.Unmarshal(entry.Value, &n); err != nil {
			continue
		}
		out.Nodes = append(out.Nodes, dto.NodeOutput{
			ID:    n.ID,
			Type:  n.Type,
			Label: n.Data.Label(),
			X:     n.Position.X,
			Y:     n.Position.Y,
		})
	}
	for _, entry := range doc.Map(flowdomain.MapEdges).Entries() {
		var e flowdomain.Edge
		if err := json.Unmarshal(entry.Value, &e); err != nil {
			continue
		}
		out.Edges = append(out.Edges, dto.EdgeOutput{ID: e.ID, Source: e.Source, Target: e.Target})
	}
	return out, nil
}
