// Package wire holds the variable-length integer framing shared by document updates,
// state vectors, awareness payloads and protocol messages. Unsigned varints are
// LEB128, byte-compatible with lib0's writeVarUint.
package wire

import (
	"encoding/binary"
	"errors"
)

var (
	ErrUnexpectedEOF = errors.New("wire: unexpected end of buffer")
	ErrOverflow      = errors.New("wire: varint overflows uint64")
)

type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

func (e *Encoder) WriteUvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *Encoder) WriteUint8(v byte) {
	e.buf = append(e.buf, v)
}

// WriteBytes writes a length-prefixed byte slice.
func (e *Encoder) WriteBytes(p []byte) {
	e.WriteUvarint(uint64(len(p)))
	e.buf = append(e.buf, p...)
}

func (e *Encoder) WriteString(s string) {
	e.WriteUvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(p []byte) *Decoder {
	return &Decoder{buf: p}
}

func (d *Decoder) ReadUvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	switch {
	case n == 0:
		return 0, ErrUnexpectedEOF
	case n < 0:
		return 0, ErrOverflow
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) ReadUint8() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrUnexpectedEOF
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

// ReadBytes returns a length-prefixed slice. The result aliases the decoder's buffer.
func (d *Decoder) ReadBytes() ([]byte, error) {
	n, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(d.buf)-d.pos) {
		return nil, ErrUnexpectedEOF
	}
	out := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return out, nil
}

func (d *Decoder) ReadString() (string, error) {
	p, err := d.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}
