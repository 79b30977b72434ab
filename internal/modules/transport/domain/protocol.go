package domain

import (
	"errors"
	"fmt"

	docdomain "flowsync/internal/modules/document/domain"
	apperrors "flowsync/internal/platform/errors"
	"flowsync/internal/platform/wire"
)

type MessageType uint64

const (
	MessageSync           MessageType = 0
	MessageAwareness      MessageType = 1
	MessageAuth           MessageType = 2
	MessageQueryAwareness MessageType = 3
	// MessageUpdate carries a bare document delta outside the sync sub-protocol.
	MessageUpdate MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageSync:
		return "sync"
	case MessageAwareness:
		return "awareness"
	case MessageAuth:
		return "auth"
	case MessageQueryAwareness:
		return "query-awareness"
	case MessageUpdate:
		return "update"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(t))
	}
}

type SyncStep uint64

const (
	SyncStep1  SyncStep = 0
	SyncStep2  SyncStep = 1
	SyncUpdate SyncStep = 2
)

const authPermissionDenied = 0

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrMalformedFrame = fmt.Errorf("frame: %w", apperrors.ErrMalformed)
)

// Message is a decoded wire frame.
type Message struct {
	Type    MessageType
	Step    SyncStep
	Payload []byte
	Denied  bool
	Reason  string
}

func EncodeSyncStep1(stateVector []byte) []byte {
	return encodeSync(SyncStep1, stateVector)
}

func EncodeSyncStep2(update []byte) []byte {
	return encodeSync(SyncStep2, update)
}

func EncodeSyncUpdate(update []byte) []byte {
	return encodeSync(SyncUpdate, update)
}

func encodeSync(step SyncStep, payload []byte) []byte {
	enc := wire.NewEncoder()
	enc.WriteUvarint(uint64(MessageSync))
	enc.WriteUvarint(uint64(step))
	enc.WriteBytes(payload)
	return enc.Bytes()
}

func EncodeAwareness(update []byte) []byte {
	enc := wire.NewEncoder()
	enc.WriteUvarint(uint64(MessageAwareness))
	enc.WriteBytes(update)
	return enc.Bytes()
}

func EncodeQueryAwareness() []byte {
	enc := wire.NewEncoder()
	enc.WriteUvarint(uint64(MessageQueryAwareness))
	return enc.Bytes()
}

func EncodeRawUpdate(update []byte) []byte {
	enc := wire.NewEncoder()
	enc.WriteUvarint(uint64(MessageUpdate))
	enc.WriteBytes(update)
	return enc.Bytes()
}

func EncodePermissionDenied(reason string) []byte {
	enc := wire.NewEncoder()
	enc.WriteUvarint(uint64(MessageAuth))
	enc.WriteUvarint(authPermissionDenied)
	enc.WriteString(reason)
	return enc.Bytes()
}

// Decode parses one frame. Unknown message types and sync sub-types return
// ErrUnknownMessage together with the tag that was read.
func Decode(frame []byte) (Message, error) {
	dec := wire.NewDecoder(frame)
	tag, err := dec.ReadUvarint()
	if err != nil {
		return Message{}, fmt.Errorf("%w: message type: %v", ErrMalformedFrame, err)
	}
	msg := Message{Type: MessageType(tag)}
	switch msg.Type {
	case MessageSync:
		step, err := dec.ReadUvarint()
		if err != nil {
			return msg, fmt.Errorf("%w: sync step: %v", ErrMalformedFrame, err)
		}
		msg.Step = SyncStep(step)
		if msg.Step > SyncUpdate {
			return msg, fmt.Errorf("%w: sync step %d", ErrUnknownMessage, step)
		}
		if msg.Payload, err = dec.ReadBytes(); err != nil {
			return msg, fmt.Errorf("%w: sync payload: %v", ErrMalformedFrame, err)
		}
	case MessageAwareness, MessageUpdate:
		if msg.Payload, err = dec.ReadBytes(); err != nil {
			return msg, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, msg.Type, err)
		}
	case MessageAuth:
		permission, err := dec.ReadUvarint()
		if err != nil {
			return msg, fmt.Errorf("%w: auth permission: %v", ErrMalformedFrame, err)
		}
		msg.Denied = permission == authPermissionDenied
		if msg.Reason, err = dec.ReadString(); err != nil {
			return msg, fmt.Errorf("%w: auth reason: %v", ErrMalformedFrame, err)
		}
	case MessageQueryAwareness:
	default:
		return msg, ErrUnknownMessage
	}
	return msg, nil
}

// Replica is the document state one protocol endpoint keeps in sync.
type Replica struct {
	Doc       *docdomain.Doc
	Awareness *docdomain.Awareness
}

// Handle applies an inbound frame to the replica, attributing every change to origin,
// and returns the frames that must be sent back to the same peer.
func (r Replica) Handle(frame []byte, origin any) (Message, [][]byte, error) {
	msg, err := Decode(frame)
	if err != nil {
		return msg, nil, err
	}
	switch msg.Type {
	case MessageSync:
		if msg.Step == SyncStep1 {
			sv, err := docdomain.DecodeStateVector(msg.Payload)
			if err != nil {
				return msg, nil, err
			}
			return msg, [][]byte{EncodeSyncStep2(r.Doc.EncodeStateAsUpdate(sv))}, nil
		}
		return msg, nil, r.Doc.ApplyUpdate(msg.Payload, origin)
	case MessageUpdate:
		return msg, nil, r.Doc.ApplyUpdate(msg.Payload, origin)
	case MessageAwareness:
		if r.Awareness == nil {
			return msg, nil, nil
		}
		return msg, nil, r.Awareness.Apply(msg.Payload, origin)
	case MessageQueryAwareness:
		if r.Awareness == nil {
			return msg, nil, nil
		}
		return msg, [][]byte{EncodeAwareness(r.Awareness.EncodeAll())}, nil
	}
	return msg, nil, nil
}
