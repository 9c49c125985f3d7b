package netframe

import (
	"errors"
	"fmt"
	"io"
	"math/bits"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConnected indicates an operation on a connection that is not in
// the connected state.
var ErrNotConnected = errors.New("connection is not connected")

// ErrValidationFailed indicates the validation handshake was refused,
// answered incorrectly, or timed out.
var ErrValidationFailed = errors.New("validation handshake failed")

// ErrControlViolation indicates a framework-reserved control message
// arrived outside the validation phase.
var ErrControlViolation = errors.New("unexpected control message")

// ErrBodyTooLarge indicates an inbound header announced a body above the
// connection's configured limit.
var ErrBodyTooLarge = errors.New("inbound body exceeds limit")

// State is a connection's lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateValidating
	StateConnected
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateValidating:
		return "validating"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Scramble derives the expected validation response from a challenge.
// Both peers must agree on the function for the handshake to pass.
type Scramble func(uint64) uint64

// DefaultScramble is the derivation used when none is configured.
func DefaultScramble(v uint64) uint64 {
	v ^= 0x5DEECE66DB1DCA57
	v = bits.RotateLeft64(v, 23)

	return v * 0x9E3779B97F4A7C15
}

// OwnedMessage binds a message to the connection it arrived from, so a
// handler can reply to the correct peer.
type OwnedMessage[ID Tag] struct {
	Conn *Connection[ID]
	Msg  Message[ID]
}

// ConnID returns the endpoint-assigned id of the originating connection.
func (o OwnedMessage[ID]) ConnID() uint32 {
	return o.Conn.ID()
}

// ConnOptions configures a connection at creation.
type ConnOptions[ID Tag] struct {
	// ID is the endpoint-assigned identifier; zero on the client side.
	ID uint32

	// Inbound is the shared queue framed messages are delivered to.
	Inbound *Deque[OwnedMessage[ID]]

	// OnMessage, when set, is invoked on the network goroutine instead of
	// pushing to Inbound.
	OnMessage func(OwnedMessage[ID])

	// OnDisconnect runs exactly once when the connection dies. The cause
	// is nil for a local close.
	OnDisconnect func(*Connection[ID], error)

	// MaxBody rejects inbound bodies above this size; zero means MaxBody.
	MaxBody uint32

	Logger *zerolog.Logger // optional; nil disables logging.
}

// Connection owns one socket and the read/write loops that turn its byte
// stream into discrete messages. It is created by a role on a successful
// dial or accept and is safe to reference after the owning role has
// dropped it from its table.
type Connection[ID Tag] struct {
	id      uint32
	conn    net.Conn
	out     *Deque[Message[ID]]
	inbound *Deque[OwnedMessage[ID]]

	onMessage    func(OwnedMessage[ID])
	onDisconnect func(*Connection[ID], error)

	state     atomic.Int32
	closeOnce sync.Once
	maxBody   uint32
	logger    zerolog.Logger
}

// NewConnection wraps an established socket. The connection starts in the
// connecting state; call Start (optionally after a Validate* call) to
// begin message exchange.
func NewConnection[ID Tag](conn net.Conn, opts ConnOptions[ID]) *Connection[ID] {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Connection[ID]{
		id:           opts.ID,
		conn:         conn,
		out:          NewDeque[Message[ID]](),
		inbound:      opts.Inbound,
		onMessage:    opts.OnMessage,
		onDisconnect: opts.OnDisconnect,
		maxBody:      opts.MaxBody,
		logger:       logger,
	}
	c.state.Store(int32(StateConnecting))

	return c
}

// ID returns the endpoint-assigned id, zero on the client side.
func (c *Connection[ID]) ID() uint32 {
	return c.id
}

// State returns the current lifecycle phase.
func (c *Connection[ID]) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether message exchange is permitted.
func (c *Connection[ID]) IsConnected() bool {
	return c.State() == StateConnected
}

// RemoteAddr returns the peer's address.
func (c *Connection[ID]) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send enqueues a message for delivery. Messages are written to the wire
// in exact Send order.
func (c *Connection[ID]) Send(msg Message[ID]) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.out.PushBack(msg)

	return nil
}

// Start transitions to connected and launches the read and write loops on
// the runtime.
func (c *Connection[ID]) Start(rt *Runtime[ID]) {
	c.state.Store(int32(StateConnected))
	rt.Go(c.readLoop)
	rt.Go(c.writeLoop)
}

// Disconnect closes the connection. Idempotent; safe from any goroutine.
func (c *Connection[ID]) Disconnect() {
	c.disconnect(nil)
}

func (c *Connection[ID]) disconnect(cause error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnecting))

		_ = c.conn.Close()
		c.out.Close()

		c.state.Store(int32(StateDisconnected))

		if isExpectedClose(cause) {
			c.logger.Info().Uint32("conn", c.id).Msg("connection closed")
		} else {
			c.logger.Error().Uint32("conn", c.id).Err(cause).Msg("connection failed")
		}

		if c.onDisconnect != nil {
			c.onDisconnect(c, cause)
		}
	})
}

// isExpectedClose reports whether the cause is a local close or an
// orderly remote shutdown rather than a transport fault.
func isExpectedClose(err error) bool {
	return err == nil ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// readLoop runs the perpetual header -> body -> deliver cycle. Any error
// at either step tears the connection down without touching its siblings.
func (c *Connection[ID]) readLoop() {
	hdr := make([]byte, HeaderSize)

	for {
		if _, err := io.ReadFull(c.conn, hdr); err != nil {
			c.disconnect(err)

			return
		}

		h := decodeHeader[ID](hdr)

		if h.Control != ControlNone {
			c.disconnect(fmt.Errorf("%w: control %d", ErrControlViolation, h.Control))

			return
		}

		if c.maxBody != 0 && h.Size > c.maxBody {
			c.disconnect(fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.Size))

			return
		}

		var body []byte
		if h.Size > 0 {
			body = make([]byte, h.Size)
			if _, err := io.ReadFull(c.conn, body); err != nil {
				c.disconnect(err)

				return
			}
		}

		owned := OwnedMessage[ID]{Conn: c, Msg: Message[ID]{Header: h, body: body}}

		if c.onMessage != nil {
			c.onMessage(owned)
		} else {
			c.inbound.PushBack(owned)
		}
	}
}

// writeLoop drains the outbound queue, writing header then body per
// message. It exits when the queue closes on disconnect.
func (c *Connection[ID]) writeLoop() {
	for {
		msg, ok := c.out.PopFrontWait()
		if !ok {
			return
		}

		if err := c.writeMessage(&msg); err != nil {
			c.disconnect(err)

			return
		}
	}
}

func (c *Connection[ID]) writeMessage(msg *Message[ID]) error {
	msg.Header.Size = uint32(len(msg.body))

	if _, err := c.conn.Write(msg.Header.append(make([]byte, 0, HeaderSize))); err != nil {
		return err
	}

	if len(msg.body) > 0 {
		if _, err := c.conn.Write(msg.body); err != nil {
			return err
		}
	}

	return nil
}

// readMessage performs one synchronous header+body read. Used only during
// validation, before the read loop owns the socket.
func (c *Connection[ID]) readMessage() (Message[ID], error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(c.conn, hdr); err != nil {
		return Message[ID]{}, err
	}

	h := decodeHeader[ID](hdr)

	if c.maxBody != 0 && h.Size > c.maxBody {
		return Message[ID]{}, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.Size)
	}

	var body []byte
	if h.Size > 0 {
		body = make([]byte, h.Size)
		if _, err := io.ReadFull(c.conn, body); err != nil {
			return Message[ID]{}, err
		}
	}

	return Message[ID]{Header: h, body: body}, nil
}

// ValidateAccept runs the accepting side of the handshake: send a
// control-tagged challenge, require the scrambled answer within the
// timeout. On failure the socket is closed and the error returned.
func (c *Connection[ID]) ValidateAccept(challenge uint64, scramble Scramble, timeout time.Duration) error {
	if scramble == nil {
		scramble = DefaultScramble
	}

	c.state.Store(int32(StateValidating))

	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		c.disconnect(err)

		return err
	}

	var req Message[ID]
	req.Header.Control = ControlChallenge
	if err := req.Push(challenge); err != nil {
		c.disconnect(err)

		return err
	}

	if err := c.writeMessage(&req); err != nil {
		c.disconnect(err)

		return err
	}

	resp, err := c.readMessage()
	if err != nil {
		c.disconnect(err)

		return err
	}

	var answer uint64
	if resp.Header.Control != ControlResponse || resp.Extract(&answer) != nil ||
		answer != scramble(challenge) {
		err := fmt.Errorf("%w: bad response from %v", ErrValidationFailed, c.conn.RemoteAddr())
		c.disconnect(err)

		return err
	}

	return c.conn.SetDeadline(time.Time{})
}

// ValidateConnect runs the connecting side: read the challenge, answer
// with the scrambled value.
func (c *Connection[ID]) ValidateConnect(scramble Scramble, timeout time.Duration) error {
	if scramble == nil {
		scramble = DefaultScramble
	}

	c.state.Store(int32(StateValidating))

	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		c.disconnect(err)

		return err
	}

	req, err := c.readMessage()
	if err != nil {
		c.disconnect(err)

		return err
	}

	var challenge uint64
	if req.Header.Control != ControlChallenge || req.Extract(&challenge) != nil {
		err := fmt.Errorf("%w: expected challenge", ErrValidationFailed)
		c.disconnect(err)

		return err
	}

	var resp Message[ID]
	resp.Header.Control = ControlResponse
	if err := resp.Push(scramble(challenge)); err != nil {
		c.disconnect(err)

		return err
	}

	if err := c.writeMessage(&resp); err != nil {
		c.disconnect(err)

		return err
	}

	return c.conn.SetDeadline(time.Time{})
}
