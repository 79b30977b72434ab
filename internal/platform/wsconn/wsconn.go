// Package wsconn adapts a gorilla websocket to the message-oriented connection used
// by both the sync client and the relay.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrUnexpectedMessage = errors.New("unexpected websocket message type")

type Settings struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	MaxMessage   int64
}

func DefaultSettings() Settings {
	return Settings{
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  45 * time.Second,
		PingInterval: 15 * time.Second,
		MaxMessage:   16 << 20,
	}
}

// Conn serialises writes and keeps the read deadline alive through ping/pong.
type Conn struct {
	ws       *websocket.Conn
	settings Settings
	writeMu  sync.Mutex
	done     chan struct{}
	once     sync.Once
}

func New(ws *websocket.Conn, settings Settings) *Conn {
	c := &Conn{ws: ws, settings: settings, done: make(chan struct{})}
	if settings.MaxMessage > 0 {
		ws.SetReadLimit(settings.MaxMessage)
	}
	_ = ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
	})
	if settings.PingInterval > 0 {
		go c.ping()
	}
	return c
}

func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		switch messageType {
		case websocket.BinaryMessage:
			return message, nil
		case websocket.TextMessage:
			// keepalive probes from some clients arrive as empty text frames
			if len(message) == 0 {
				continue
			}
			return nil, fmt.Errorf("%w: text frame", ErrUnexpectedMessage)
		}
	}
}

func (c *Conn) WriteMessage(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) ping() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.settings.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
