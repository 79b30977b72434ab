package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	docdomain "flowsync/internal/modules/document/domain"
	flowdomain "flowsync/internal/modules/flow/domain"
	"flowsync/internal/modules/relay/domain"
	relayin "flowsync/internal/modules/relay/port/in"
	"flowsync/internal/modules/relay/service"
	"flowsync/internal/modules/relay/usecase"
	apperrors "flowsync/internal/platform/errors"
)

type memoryStore struct {
	mu    sync.Mutex
	rooms map[string][]byte
}

func (m *memoryStore) Load(_ context.Context, room string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[room], nil
}

func (m *memoryStore) Save(_ context.Context, room string, update []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room] = update
	return nil
}

type fakeAnnouncer struct{ endpoints []domain.Endpoint }

func (f fakeAnnouncer) Announce(string, int) (func(), error) { return func() {}, nil }

func (f fakeAnnouncer) Discover(context.Context) ([]domain.Endpoint, error) {
	return f.endpoints, nil
}

type fakeAuthority struct {
	minted []string
}

func (f *fakeAuthority) Mint(room, subject string, ttl time.Duration) (string, time.Time, error) {
	f.minted = append(f.minted, room)
	return "token-for-" + room, time.Unix(0, 0).Add(ttl), nil
}

func (f *fakeAuthority) Verify(token, room string) error {
	if token != "token-for-"+room {
		return apperrors.ErrUnauthorized
	}
	return nil
}

func storedRoom(t *testing.T) []byte {
	t.Helper()
	doc := docdomain.New()
	nodes := doc.Map(flowdomain.MapNodes)
	node := flowdomain.Node{ID: "a", Position: flowdomain.XYPosition{X: 1, Y: 2}}
	if err := node.Data.Set("label", "Start"); err != nil {
		t.Fatalf("label: %v", err)
	}
	if err := nodes.Set("a", node); err != nil {
		t.Fatalf("set node: %v", err)
	}
	_ = nodes.Set("junk", "not a node")
	if err := doc.Map(flowdomain.MapEdges).Set("e", flowdomain.Edge{ID: "e", Source: "a", Target: "b"}); err != nil {
		t.Fatalf("set edge: %v", err)
	}
	return doc.EncodeStateAsUpdate(nil)
}

func TestSnapshotDecodesFlowCollections(t *testing.T) {
	t.Parallel()
	store := &memoryStore{rooms: map[string][]byte{"demo": storedRoom(t)}}
	hub := service.NewHub(store, nil, service.Settings{}, nil)
	t.Cleanup(hub.Close)
	uc := usecase.NewInteractor(hub, store, nil, nil)

	out, err := uc.Room(context.Background(), "demo")
	if err != nil {
		t.Fatalf("room: %v", err)
	}
	if out.Live || len(out.Nodes) != 1 || len(out.Edges) != 1 {
		t.Fatalf("unexpected room dump: %+v", out)
	}
	if n := out.Nodes[0]; n.ID != "a" || n.Label != "Start" || n.X != 1 || n.Y != 2 {
		t.Fatalf("unexpected node: %+v", n)
	}

	if _, err := uc.Snapshot(context.Background(), "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAuthorizeWithoutAuthorityIsOpen(t *testing.T) {
	t.Parallel()
	hub := service.NewHub(nil, nil, service.Settings{}, nil)
	t.Cleanup(hub.Close)
	uc := usecase.NewInteractor(hub, nil, nil, nil)
	if err := uc.Authorize("demo", ""); err != nil {
		t.Fatalf("open relay refused: %v", err)
	}
	if err := uc.Authorize("", ""); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := uc.Token(relayin.TokenInput{Room: "demo"}); !errors.Is(err, domain.ErrNoSecret) {
		t.Fatalf("expected missing secret, got %v", err)
	}
}

func TestTokenAndAuthorize(t *testing.T) {
	t.Parallel()
	hub := service.NewHub(nil, nil, service.Settings{}, nil)
	t.Cleanup(hub.Close)
	auth := &fakeAuthority{}
	uc := usecase.NewInteractor(hub, nil, auth, nil)

	tok, err := uc.Token(relayin.TokenInput{Room: "demo", Subject: "ana"})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.Room != "demo" || !tok.ExpiresAt.Equal(time.Unix(0, 0).Add(24*time.Hour)) {
		t.Fatalf("unexpected token output: %+v", tok)
	}
	if err := uc.Authorize("demo", tok.Token); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := uc.Authorize("other", tok.Token); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestHealthCountsRooms(t *testing.T) {
	t.Parallel()
	hub := service.NewHub(nil, nil, service.Settings{Instance: "relay-1"}, nil)
	t.Cleanup(hub.Close)
	uc := usecase.NewInteractor(hub, nil, nil, nil)
	h := uc.Health(context.Background())
	if h.Status != "ok" || h.Instance != "relay-1" || h.Rooms != 0 {
		t.Fatalf("unexpected health: %+v", h)
	}
	if _, err := uc.Discover(context.Background()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("discovery without an announcer should fail, got %v", err)
	}
	rooms, err := uc.Rooms(context.Background())
	if err != nil || len(rooms) != 0 {
		t.Fatalf("unexpected rooms: %v %v", rooms, err)
	}
}

func TestDiscoverListsRelayURLs(t *testing.T) {
	t.Parallel()
	hub := service.NewHub(nil, nil, service.Settings{}, nil)
	t.Cleanup(hub.Close)
	announcer := fakeAnnouncer{endpoints: []domain.Endpoint{{Instance: "studio", Host: "192.168.1.20", Port: 4455}}}
	uc := usecase.NewInteractor(hub, nil, nil, announcer)
	out, err := uc.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(out) != 1 || out[0].URL != "ws://192.168.1.20:4455/ws" || out[0].Instance != "studio" {
		t.Fatalf("unexpected endpoints: %+v", out)
	}
}
