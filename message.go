package netframe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tag is the constraint for application message identifiers. Protocols
// declare a named integer type with a closed set of constants and bind the
// framework to it; on the wire the id is always widened to a uint32.
type Tag interface {
	~uint8 | ~uint16 | ~uint32
}

// Control marks framework-internal traffic. Application messages always
// carry ControlNone; the challenge/response values are set only by the
// validation handshake and never reach application dispatch.
type Control uint8

const (
	ControlNone Control = iota
	ControlChallenge
	ControlResponse
)

const (
	// HeaderSize is the fixed wire size of a message header:
	// id uint32 | size uint32 | control uint8, big-endian.
	HeaderSize = 9

	// MaxBody is the largest body the header size field can describe.
	MaxBody = math.MaxUint32

	// stringLenSize is the width of the trailing length field written
	// after string bytes.
	stringLenSize = 8
)

// ErrOverflow indicates a push would grow the body past the header size
// field's maximum (or the message's configured limit).
var ErrOverflow = errors.New("message body limit exceeded")

// ErrUnderflow indicates an extract asked for more bytes than the body holds.
var ErrUnderflow = errors.New("not enough data to extract")

// ErrNotFixedSize indicates a value without a fixed binary layout was
// passed to Push or Extract.
var ErrNotFixedSize = errors.New("value has no fixed binary size")

// Header is the fixed-layout message header.
type Header[ID Tag] struct {
	ID      ID
	Size    uint32
	Control Control
}

func (h Header[ID]) append(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(h.ID))
	dst = binary.BigEndian.AppendUint32(dst, h.Size)

	return append(dst, byte(h.Control))
}

func decodeHeader[ID Tag](src []byte) Header[ID] {
	return Header[ID]{
		ID:      ID(binary.BigEndian.Uint32(src[0:4])),
		Size:    binary.BigEndian.Uint32(src[4:8]),
		Control: Control(src[8]),
	}
}

// Message is a typed, length-framed unit of exchange. The body is written
// and read as a stack: each Push appends at the tail, each Extract removes
// from the tail, so extraction order must mirror push order exactly.
type Message[ID Tag] struct {
	Header Header[ID]

	body  []byte
	limit uint32 // 0 means MaxBody.
}

// NewMessage returns an empty message carrying the given id.
func NewMessage[ID Tag](id ID) Message[ID] {
	return Message[ID]{Header: Header[ID]{ID: id}}
}

// SetBodyLimit caps the body below MaxBody. Zero restores the default.
func (m *Message[ID]) SetBodyLimit(n uint32) {
	m.limit = n
}

func (m *Message[ID]) bodyLimit() uint64 {
	if m.limit != 0 {
		return uint64(m.limit)
	}

	return MaxBody
}

// PushBytes appends raw bytes to the tail of the body.
func (m *Message[ID]) PushBytes(p []byte) error {
	if uint64(len(m.body))+uint64(len(p)) > m.bodyLimit() {
		return ErrOverflow
	}

	m.body = append(m.body, p...)
	m.Header.Size = uint32(len(m.body))

	return nil
}

// Push appends the big-endian encoding of a fixed-layout value (integers,
// floats, arrays and structs thereof). On failure the body is unchanged.
func (m *Message[ID]) Push(v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("%w: %T", ErrNotFixedSize, v)
	}

	if uint64(len(m.body))+uint64(size) > m.bodyLimit() {
		return ErrOverflow
	}

	buf := bytes.Buffer{}
	if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
		return err
	}

	return m.PushBytes(buf.Bytes())
}

// PushString appends the string's bytes followed by an 8-byte length
// field, so the paired ExtractString can recover the length first.
func (m *Message[ID]) PushString(s string) error {
	if uint64(len(m.body))+uint64(len(s))+stringLenSize > m.bodyLimit() {
		return ErrOverflow
	}

	m.body = append(m.body, s...)
	m.body = binary.BigEndian.AppendUint64(m.body, uint64(len(s)))
	m.Header.Size = uint32(len(m.body))

	return nil
}

// ExtractBytes removes exactly n bytes from the tail of the body.
func (m *Message[ID]) ExtractBytes(n int) ([]byte, error) {
	if n > len(m.body) {
		return nil, ErrUnderflow
	}

	cut := len(m.body) - n
	out := make([]byte, n)
	copy(out, m.body[cut:])

	m.body = m.body[:cut]
	m.Header.Size = uint32(len(m.body))

	return out, nil
}

// Extract removes the trailing bytes of a fixed-layout value into v, which
// must be a pointer. On failure the body is unchanged.
func (m *Message[ID]) Extract(v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("%w: %T", ErrNotFixedSize, v)
	}

	if size > len(m.body) {
		return ErrUnderflow
	}

	tail := m.body[len(m.body)-size:]
	if err := binary.Read(bytes.NewReader(tail), binary.BigEndian, v); err != nil {
		return err
	}

	m.body = m.body[:len(m.body)-size]
	m.Header.Size = uint32(len(m.body))

	return nil
}

// ExtractString removes a string pushed with PushString: the trailing
// 8-byte length first, then that many bytes. On failure the body is
// unchanged, including when the length field itself is intact but the
// string bytes are not.
func (m *Message[ID]) ExtractString() (string, error) {
	if len(m.body) < stringLenSize {
		return "", ErrUnderflow
	}

	strLen := binary.BigEndian.Uint64(m.body[len(m.body)-stringLenSize:])
	if strLen > uint64(len(m.body)-stringLenSize) {
		return "", ErrUnderflow
	}

	cut := len(m.body) - stringLenSize - int(strLen)
	out := string(m.body[cut : cut+int(strLen)])

	m.body = m.body[:cut]
	m.Header.Size = uint32(len(m.body))

	return out, nil
}

// Clear empties the body and resets the size field.
func (m *Message[ID]) Clear() {
	m.body = m.body[:0]
	m.Header.Size = 0
}

// Empty reports whether the body holds no bytes.
func (m *Message[ID]) Empty() bool {
	return len(m.body) == 0
}

// BodyLen returns the current body length in bytes.
func (m *Message[ID]) BodyLen() int {
	return len(m.body)
}

// Equal reports structural equality: header fields and every body byte.
func (m *Message[ID]) Equal(other *Message[ID]) bool {
	return m.Header == other.Header && bytes.Equal(m.body, other.body)
}

func (m *Message[ID]) String() string {
	return fmt.Sprintf("id: %d size: %d", uint32(m.Header.ID), m.Header.Size)
}
