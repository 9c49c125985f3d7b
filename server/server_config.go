package server

import (
	"time"

	"github.com/mikapo/netframe"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxConns          = 0                // default max connections means no limit.
	DefaultShutdownTimeout   = 5 * time.Second  // grace period for shutdown wait.
	DefaultValidationTimeout = 10 * time.Second // default handshake window.
)

// Config holds server options. A nil Config selects every default.
type Config[ID netframe.Tag] struct {
	MaxConns        int           // maximum concurrent connections allowed.
	MaxBody         uint32        // inbound body limit per message; zero means no limit.
	ShutdownTimeout time.Duration // grace period for Stop to drain connection loops.

	// Validation enables the challenge/response handshake on accept.
	Validation        bool
	Scramble          netframe.Scramble // derivation function; nil uses the default.
	ValidationTimeout time.Duration     // handshake deadline per connection.

	Logger  *zerolog.Logger // optional; nil disables logging.
	Metrics *Metrics        // optional instrumentation.

	// OnMessage, when set, is invoked on the network goroutine as soon as
	// a message finishes framing, bypassing the inbound queue. Handlers
	// must be quick; they stall the originating connection's read loop.
	OnMessage func(netframe.OwnedMessage[ID])

	// OnConnect runs after a connection passes validation and joins the
	// live set.
	OnConnect func(conn *netframe.Connection[ID])

	// OnDisconnect runs once per connection that leaves the live set. The
	// cause is nil for a local close.
	OnDisconnect func(id uint32, cause error)
}

func (c *Config[ID]) applyDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.ValidationTimeout == 0 {
		c.ValidationTimeout = DefaultValidationTimeout
	}

	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}
