package netframe

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

type testID uint32

const (
	idPing testID = iota + 1
	idPong
)

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	msg := NewMessage(idPing)

	require.NoError(t, msg.Push(uint32(42)))
	require.NoError(t, msg.PushString("hello world"))
	require.NoError(t, msg.Push(int64(-7)))
	require.NoError(t, msg.Push(float64(3.5)))
	require.NoError(t, msg.PushString(""))

	// Extraction order mirrors push order exactly.
	empty, err := msg.ExtractString()
	require.NoError(t, err)
	require.Equal(t, "", empty)

	var f float64
	require.NoError(t, msg.Extract(&f))
	require.Equal(t, 3.5, f)

	var i int64
	require.NoError(t, msg.Extract(&i))
	require.Equal(t, int64(-7), i)

	s, err := msg.ExtractString()
	require.NoError(t, err)
	require.Equal(t, "hello world", s)

	var u uint32
	require.NoError(t, msg.Extract(&u))
	require.Equal(t, uint32(42), u)

	require.True(t, msg.Empty())
	require.Equal(t, uint32(0), msg.Header.Size)
}

func TestMessageSizeInvariant(t *testing.T) {
	t.Parallel()

	msg := NewMessage(idPing)

	require.NoError(t, msg.Push(uint16(1)))
	require.Equal(t, uint32(2), msg.Header.Size)
	require.Equal(t, 2, msg.BodyLen())

	require.NoError(t, msg.PushString("abc"))
	require.Equal(t, uint32(2+3+8), msg.Header.Size)

	_, err := msg.ExtractString()
	require.NoError(t, err)
	require.Equal(t, uint32(2), msg.Header.Size)

	var v uint16
	require.NoError(t, msg.Extract(&v))
	require.Equal(t, uint32(0), msg.Header.Size)
}

func TestMessageOverflow(t *testing.T) {
	t.Parallel()

	msg := NewMessage(idPing)
	msg.SetBodyLimit(10)

	require.NoError(t, msg.Push(uint64(1)))

	// A further 8-byte push would exceed the limit; body must be untouched.
	err := msg.Push(uint64(2))
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, uint32(8), msg.Header.Size)

	err = msg.PushString("xx")
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, uint32(8), msg.Header.Size)

	var v uint64
	require.NoError(t, msg.Extract(&v))
	require.Equal(t, uint64(1), v)
}

func TestMessageUnderflow(t *testing.T) {
	t.Parallel()

	msg := NewMessage(idPing)
	require.NoError(t, msg.Push(uint16(7)))

	var big uint64
	err := msg.Extract(&big)
	require.ErrorIs(t, err, ErrUnderflow)
	require.Equal(t, uint32(2), msg.Header.Size)

	_, err = msg.ExtractString()
	require.ErrorIs(t, err, ErrUnderflow)
	require.Equal(t, uint32(2), msg.Header.Size)

	var v uint16
	require.NoError(t, msg.Extract(&v))
	require.Equal(t, uint16(7), v)

	_, err = msg.ExtractBytes(1)
	require.ErrorIs(t, err, ErrUnderflow)
}

func TestMessageStringUnderflowLeavesBodyIntact(t *testing.T) {
	t.Parallel()

	// A length field that claims more bytes than the body holds must not
	// consume the length field either.
	msg := NewMessage(idPing)
	require.NoError(t, msg.Push(uint64(1000)))

	_, err := msg.ExtractString()
	require.ErrorIs(t, err, ErrUnderflow)
	require.Equal(t, uint32(8), msg.Header.Size)
}

func TestMessageStringHostileLengthField(t *testing.T) {
	t.Parallel()

	// Body bytes arrive straight off the wire. A trailing length field near
	// MaxUint64 must fail as an underflow, not wrap around the bounds check.
	for _, strLen := range []uint64{
		math.MaxUint64,
		math.MaxUint64 - 7,
		math.MaxUint64 - 8,
		uint64(math.MaxInt64) + 1,
	} {
		body := make([]byte, 8)
		body = binary.BigEndian.AppendUint64(body, strLen)

		msg := NewMessage(idPing)
		require.NoError(t, msg.PushBytes(body))

		_, err := msg.ExtractString()
		require.ErrorIs(t, err, ErrUnderflow)
		require.Equal(t, uint32(16), msg.Header.Size)
	}
}

func TestMessageEquality(t *testing.T) {
	t.Parallel()

	a := NewMessage(idPing)
	require.NoError(t, a.PushString("payload"))

	b := NewMessage(idPing)
	require.NoError(t, b.PushString("payload"))

	require.True(t, a.Equal(&b))
	require.True(t, b.Equal(&a))

	// Differing id.
	c := NewMessage(idPong)
	require.NoError(t, c.PushString("payload"))
	require.False(t, a.Equal(&c))

	// Differing payload byte.
	d := NewMessage(idPing)
	require.NoError(t, d.PushString("payloae"))
	require.False(t, a.Equal(&d))

	// Differing control tag.
	e := NewMessage(idPing)
	require.NoError(t, e.PushString("payload"))
	e.Header.Control = ControlChallenge
	require.False(t, a.Equal(&e))

	// Differing size.
	f := NewMessage(idPing)
	require.False(t, a.Equal(&f))
}

func TestMessageClear(t *testing.T) {
	t.Parallel()

	msg := NewMessage(idPing)
	require.NoError(t, msg.PushString("data"))
	require.False(t, msg.Empty())

	msg.Clear()
	require.True(t, msg.Empty())
	require.Equal(t, uint32(0), msg.Header.Size)
	require.Equal(t, idPing, msg.Header.ID)
}

func TestMessagePushRejectsVariableSize(t *testing.T) {
	t.Parallel()

	msg := NewMessage(idPing)

	var bad struct{ S string }
	require.ErrorIs(t, msg.Push(bad), ErrNotFixedSize)
	require.True(t, msg.Empty())
}

func TestHeaderCodec(t *testing.T) {
	t.Parallel()

	h := Header[testID]{ID: idPong, Size: 512, Control: ControlResponse}
	wire := h.append(nil)
	require.Len(t, wire, HeaderSize)

	decoded := decodeHeader[testID](wire)
	require.Equal(t, h, decoded)
}
