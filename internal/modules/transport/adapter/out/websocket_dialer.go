package out

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	transportout "flowsync/internal/modules/transport/port/out"
	apperrors "flowsync/internal/platform/errors"
	"flowsync/internal/platform/wsconn"
)

// WebsocketDialer connects to a relay endpoint, passing the room (and an optional
// access token) as query parameters.
type WebsocketDialer struct {
	endpoint string
	token    string
	settings wsconn.Settings
	dialer   *websocket.Dialer
}

func NewWebsocketDialer(endpoint, token string, settings wsconn.Settings) *WebsocketDialer {
	return &WebsocketDialer{
		endpoint: endpoint,
		token:    token,
		settings: settings,
		dialer:   websocket.DefaultDialer,
	}
}

var _ transportout.Dialer = (*WebsocketDialer)(nil)

func (d *WebsocketDialer) Dial(ctx context.Context, room string) (transportout.Conn, error) {
	target, err := d.roomURL(room)
	if err != nil {
		return nil, err
	}
	ws, resp, err := d.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: %w", room, apperrors.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", room, err)
	}
	return wsconn.New(ws, d.settings), nil
}

func (d *WebsocketDialer) roomURL(room string) (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("relay url %q: %w", d.endpoint, apperrors.ErrInvalidInput)
	}
	q := u.Query()
	q.Set("room", room)
	if d.token != "" {
		q.Set("token", d.token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
