package netframe

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyConnected indicates Connect was called on a live client.
var ErrAlreadyConnected = errors.New("client is already connected")

// Severity grades a notification delivered to the application.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}

	return "info"
}

// NotifyFunc receives lifecycle notifications on an unspecified goroutine.
type NotifyFunc func(severity Severity, note string)

const (
	DefaultDialTimeout       = 5 * time.Second  // default connect timeout.
	DefaultValidationTimeout = 10 * time.Second // default handshake window.
)

// ClientConfig configures a client. The zero value is usable.
type ClientConfig struct {
	DialTimeout time.Duration // maximum duration for the TCP connect.
	MaxBody     uint32        // inbound body limit; zero means no limit.

	// Validation enables the challenge/response handshake after connect.
	Validation        bool
	Scramble          Scramble      // derivation function; nil uses DefaultScramble.
	ValidationTimeout time.Duration // handshake deadline.

	Logger   *zerolog.Logger // optional; nil disables logging.
	OnNotify NotifyFunc      // optional lifecycle notifications.
}

func (c *ClientConfig) applyDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}

	if c.ValidationTimeout == 0 {
		c.ValidationTimeout = DefaultValidationTimeout
	}

	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// Client composes one runtime and one connection to a server. Send and
// Dispatch are called from the application goroutine; the connection's
// loops run on the runtime.
type Client[ID Tag] struct {
	config *ClientConfig
	rt     *Runtime[ID]
	conn   *Connection[ID]
}

// NewClient creates a disconnected client. A nil config uses defaults.
func NewClient[ID Tag](config *ClientConfig) *Client[ID] {
	if config == nil {
		config = &ClientConfig{}
	}
	config.applyDefaults()

	return &Client[ID]{
		config: config,
		rt:     NewRuntime[ID](*config.Logger),
	}
}

// Connect dials the server, runs the handshake if configured, and starts
// the read and write loops. There is no automatic reconnect: after a
// disconnect the application decides whether to call Connect again.
func (c *Client[ID]) Connect(addr string) error {
	if c.IsConnected() {
		return ErrAlreadyConnected
	}

	// A previous connection may have died remotely with the runtime still
	// up; reset it so the dial gets a fresh inbound queue.
	if c.conn != nil {
		c.rt.Stop()
		c.conn = nil
	}

	if err := c.rt.Start(); err != nil {
		return err
	}

	sock, err := c.rt.Dial(addr, c.config.DialTimeout)
	if err != nil {
		c.rt.Stop()

		return fmt.Errorf("connect %s: %w", addr, err)
	}

	conn := NewConnection(sock, ConnOptions[ID]{
		Inbound: c.rt.Inbound(),
		MaxBody: c.config.MaxBody,
		Logger:  c.config.Logger,
		OnDisconnect: func(_ *Connection[ID], cause error) {
			// Wake any DispatchWait once the backlog drains.
			c.rt.Inbound().Close()
			c.notifyDisconnect(cause)
		},
	})

	if c.config.Validation {
		if err := conn.ValidateConnect(c.config.Scramble, c.config.ValidationTimeout); err != nil {
			c.rt.Stop()

			return err
		}
	}

	c.conn = conn
	conn.Start(c.rt)

	c.config.Logger.Info().Str("addr", addr).Msg("connected")
	c.notify(SeverityInfo, "connected to "+addr)

	return nil
}

// Disconnect closes the connection and stops the runtime. Idempotent.
func (c *Client[ID]) Disconnect() {
	if c.conn != nil {
		c.conn.Disconnect()
	}

	c.rt.Stop()
}

// IsConnected reflects the connection's current state.
func (c *Client[ID]) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Send enqueues a message on the connection's outbound queue.
func (c *Client[ID]) Send(msg Message[ID]) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	return c.conn.Send(msg)
}

// Dispatch drains the inbound queue on the caller's goroutine, invoking
// the handler once per message. It returns the number dispatched.
func (c *Client[ID]) Dispatch(handler func(Message[ID])) int {
	n := 0

	for {
		owned, ok := c.rt.Inbound().PopFront()
		if !ok {
			return n
		}

		handler(owned.Msg)
		n++
	}
}

// DispatchWait blocks until at least one message arrives, dispatches the
// backlog, and returns the count. It returns zero once the client has
// disconnected and the queue has drained.
func (c *Client[ID]) DispatchWait(handler func(Message[ID])) int {
	owned, ok := c.rt.Inbound().PopFrontWait()
	if !ok {
		return 0
	}

	handler(owned.Msg)

	return 1 + c.Dispatch(handler)
}

func (c *Client[ID]) notifyDisconnect(cause error) {
	if isExpectedClose(cause) {
		c.notify(SeverityInfo, "disconnected from server")
	} else {
		c.notify(SeverityError, "connection lost: "+cause.Error())
	}
}

func (c *Client[ID]) notify(severity Severity, note string) {
	if c.config.OnNotify != nil {
		c.config.OnNotify(severity, note)
	}
}
