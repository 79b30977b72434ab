package domain

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"flowsync/internal/platform/wire"
)

var (
	ErrTokenRequired = errors.New("access token required")
	ErrRoomMismatch  = errors.New("token is not valid for this room")
	ErrNoSecret      = errors.New("relay has no signing secret configured")
)

// RoomInfo describes a room that currently has clients.
type RoomInfo struct {
	Name    string
	Clients int
	Peers   int
}

// Endpoint is a relay found on the local network.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
}

// URL is the websocket address of the endpoint.
func (e Endpoint) URL() string {
	return fmt.Sprintf("ws://%s/ws", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
}

// Envelope carries one protocol frame between relay instances.
type Envelope struct {
	Instance string
	Frame    []byte
}

func (e Envelope) Encode() []byte {
	enc := wire.NewEncoder()
	enc.WriteString(e.Instance)
	enc.WriteBytes(e.Frame)
	return enc.Bytes()
}

func DecodeEnvelope(payload []byte) (Envelope, error) {
	dec := wire.NewDecoder(payload)
	instance, err := dec.ReadString()
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope instance: %w", err)
	}
	frame, err := dec.ReadBytes()
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope frame: %w", err)
	}
	return Envelope{Instance: instance, Frame: frame}, nil
}
