package domain

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/automerge/automerge-go"

	apperrors "flowsync/internal/platform/errors"
	"flowsync/internal/platform/wire"
)

var ErrMalformedUpdate = fmt.Errorf("document update: %w", apperrors.ErrMalformed)

// ClientID identifies one replica of a document. It doubles as the automerge actor,
// so concurrent writes to one key settle on the higher client.
type ClientID uint64

func NewClientID() ClientID {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return ClientID(binary.BigEndian.Uint32(buf[:]))
}

func (c ClientID) actor() string {
	return fmt.Sprintf("%016x", uint64(c))
}

// StateVector is the set of change heads a replica has integrated. A peer answers it
// with every change that is not an ancestor of those heads.
type StateVector []automerge.ChangeHash

// Equal reports whether both vectors name the same heads, in any order.
func (sv StateVector) Equal(other StateVector) bool {
	if len(sv) != len(other) {
		return false
	}
	a, b := sv.sorted(), other.sorted()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (sv StateVector) sorted() StateVector {
	out := append(StateVector(nil), sv...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (sv StateVector) Encode() []byte {
	enc := wire.NewEncoder()
	heads := sv.sorted()
	enc.WriteUvarint(uint64(len(heads)))
	for _, h := range heads {
		enc.WriteBytes(h[:])
	}
	return enc.Bytes()
}

func DecodeStateVector(raw []byte) (StateVector, error) {
	sv := StateVector{}
	if len(raw) == 0 {
		return sv, nil
	}
	dec := wire.NewDecoder(raw)
	n, err := dec.ReadUvarint()
	if err != nil {
		return nil, fmt.Errorf("%w: state vector length: %v", ErrMalformedUpdate, err)
	}
	if n > uint64(dec.Remaining()) {
		return nil, fmt.Errorf("%w: state vector length %d exceeds payload", ErrMalformedUpdate, n)
	}
	for i := uint64(0); i < n; i++ {
		p, err := dec.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: state vector head: %v", ErrMalformedUpdate, err)
		}
		var h automerge.ChangeHash
		if len(p) != len(h) {
			return nil, fmt.Errorf("%w: head of %d bytes", ErrMalformedUpdate, len(p))
		}
		copy(h[:], p)
		sv = append(sv, h)
	}
	return sv, nil
}
