package in_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayhttp "flowsync/internal/modules/relay/adapter/in"
	relayadapter "flowsync/internal/modules/relay/adapter/out"
	"flowsync/internal/modules/relay/dto"
	relayout "flowsync/internal/modules/relay/port/out"
	"flowsync/internal/modules/relay/service"
	"flowsync/internal/modules/relay/usecase"
	transportout "flowsync/internal/modules/transport/adapter/out"
	transportdomain "flowsync/internal/modules/transport/domain"
	transportservice "flowsync/internal/modules/transport/service"
	"flowsync/internal/platform/wsconn"
)

type relay struct {
	server *httptest.Server
	hub    *service.Hub
	auth   *relayadapter.JWTAuthority
}

func (r relay) wsURL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http") + "/ws"
}

func startRelay(t *testing.T, secret string) relay {
	t.Helper()
	hub := service.NewHub(nil, nil, service.Settings{}, nil)
	var authority relayout.TokenAuthority
	var jwtAuth *relayadapter.JWTAuthority
	if secret != "" {
		a, err := relayadapter.NewJWTAuthority(secret, nil)
		require.NoError(t, err)
		authority, jwtAuth = a, a
	}
	uc := usecase.NewInteractor(hub, nil, authority, nil)
	server := httptest.NewServer(relayhttp.NewHTTPHandler(uc, wsconn.DefaultSettings(), nil).Router())
	t.Cleanup(server.Close)
	t.Cleanup(hub.Close)
	return relay{server: server, hub: hub, auth: jwtAuth}
}

func clientRegistry(t *testing.T, url, token string) *transportservice.Registry {
	t.Helper()
	dialer := transportout.NewWebsocketDialer(url, token, wsconn.DefaultSettings())
	settings := transportservice.Settings{MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
	registry := transportservice.NewRegistry(dialer, nil, settings, nil)
	t.Cleanup(registry.Close)
	return registry
}

func waitSynced(t *testing.T, s interface{ WaitSynced(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitSynced(ctx))
}

func TestSessionsConvergeOverWebsocket(t *testing.T) {
	t.Parallel()
	r := startRelay(t, "")
	a := clientRegistry(t, r.wsURL(), "").Acquire("board")
	b := clientRegistry(t, r.wsURL(), "").Acquire("board")
	waitSynced(t, a)
	waitSynced(t, b)

	require.NoError(t, a.Doc().Map("nodes").Set("n1", map[string]string{"id": "n1"}))
	require.NoError(t, b.Doc().Map("nodes").Set("n2", map[string]string{"id": "n2"}))

	assert.Eventually(t, func() bool {
		return a.Doc().Map("nodes").Has("n2") && b.Doc().Map("nodes").Has("n1")
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, a.Connected())
}

func TestTokenGatesUpgrade(t *testing.T) {
	t.Parallel()
	r := startRelay(t, "s3cret")

	resp, err := http.Get(r.server.URL + "/ws?room=board")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	denied := clientRegistry(t, r.wsURL(), "").Acquire("board")
	assert.Eventually(t, func() bool { return denied.Status() == transportdomain.StatusDenied }, 5*time.Second, 10*time.Millisecond)

	token, _, err := r.auth.Mint("board", "ana", time.Hour)
	require.NoError(t, err)
	allowed := clientRegistry(t, r.wsURL(), token).Acquire("board")
	waitSynced(t, allowed)

	wrongRoom := clientRegistry(t, r.wsURL(), token).Acquire("elsewhere")
	assert.Eventually(t, func() bool { return wrongRoom.Status() == transportdomain.StatusDenied }, 5*time.Second, 10*time.Millisecond)
}

func TestPathRouteServesRoom(t *testing.T) {
	t.Parallel()
	r := startRelay(t, "")
	url := "ws" + strings.TrimPrefix(r.server.URL, "http") + "/rooms/board/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	msg, err := transportdomain.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, transportdomain.MessageSync, msg.Type)
	assert.Equal(t, transportdomain.SyncStep1, msg.Step)

	assert.Eventually(t, func() bool {
		rooms := r.hub.Rooms()
		return len(rooms) == 1 && rooms[0].Name == "board"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestJSONEndpoints(t *testing.T) {
	t.Parallel()
	r := startRelay(t, "")
	a := clientRegistry(t, r.wsURL(), "").Acquire("board")
	waitSynced(t, a)
	require.NoError(t, a.Doc().Map("nodes").Set("n1", map[string]any{"id": "n1", "position": map[string]float64{"x": 3, "y": 4}}))

	var health dto.HealthOutput
	getJSON(t, r.server.URL+"/healthz", http.StatusOK, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, r.hub.Instance(), health.Instance)

	var rooms []dto.RoomOutput
	getJSON(t, r.server.URL+"/rooms", http.StatusOK, &rooms)
	require.Len(t, rooms, 1)
	assert.Equal(t, dto.RoomOutput{Name: "board", Clients: 1}, rooms[0])

	assert.Eventually(t, func() bool {
		resp, err := http.Get(r.server.URL + "/rooms/board")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var state dto.RoomStateOutput
		if json.NewDecoder(resp.Body).Decode(&state) != nil {
			return false
		}
		return state.Live && len(state.Nodes) == 1 && state.Nodes[0].X == 3
	}, 5*time.Second, 10*time.Millisecond)

	var failure map[string]string
	getJSON(t, r.server.URL+"/rooms/nowhere", http.StatusNotFound, &failure)
	assert.Contains(t, failure["error"], "not found")
}

func getJSON(t *testing.T, url string, status int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, status, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}
