package server

import (
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mikapo/netframe"
)

// ErrUnknownConnection indicates a targeted send to an id that is no
// longer in the live set. Expect it during normal churn.
var ErrUnknownConnection = errors.New("unknown connection id")

// Server accepts framed-message TCP connections, assigns each a numeric
// id, and keeps them in a live set. Received messages are either pushed
// to the shared inbound queue for Dispatch or handed to the direct
// OnMessage callback.
type Server[ID netframe.Tag] struct {
	addr     string
	config   *Config[ID]
	rt       *netframe.Runtime[ID]
	listener net.Listener

	mu     sync.RWMutex
	conns  map[uint32]*netframe.Connection[ID]
	nextID atomic.Uint32

	running atomic.Bool
}

// New creates a stopped server that will listen on addr.
func New[ID netframe.Tag](addr string, config *Config[ID]) *Server[ID] {
	if config == nil {
		config = &Config[ID]{}
	}
	config.applyDefaults()

	return &Server[ID]{
		addr:   addr,
		config: config,
		rt:     netframe.NewRuntime[ID](*config.Logger),
		conns:  make(map[uint32]*netframe.Connection[ID]),
	}
}

// Start begins listening and launches the accept loop. Starting a running
// server is a usage bug and returns ErrAlreadyRunning.
func (s *Server[ID]) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return netframe.ErrAlreadyRunning
	}

	if err := s.rt.Start(); err != nil {
		s.running.Store(false)

		return err
	}

	ln, err := s.rt.Listen(s.addr)
	if err != nil {
		s.rt.Stop()
		s.running.Store(false)

		return err
	}
	s.listener = ln

	s.rt.Go(s.acceptLoop)

	s.config.Logger.Info().Str("addr", ln.Addr().String()).Msg("server started")

	return nil
}

// Stop closes the listener and every live connection, then waits for the
// runtime's goroutines within ShutdownTimeout. Idempotent.
func (s *Server[ID]) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	_ = s.listener.Close()

	s.mu.RLock()
	conns := make([]*netframe.Connection[ID], 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.Disconnect()
	}

	done := make(chan struct{})
	go func() {
		s.rt.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.config.ShutdownTimeout):
		s.config.Logger.Warn().Msg("timeout waiting for connection loops to stop")
	}

	s.config.Logger.Info().Msg("server stopped")
}

// IsRunning reports whether the server is accepting connections.
func (s *Server[ID]) IsRunning() bool {
	return s.running.Load()
}

// Runtime exposes the server's network runtime. A direct OnMessage
// callback uses it to requeue traffic it does not handle itself.
func (s *Server[ID]) Runtime() *netframe.Runtime[ID] {
	return s.rt
}

// Addr returns the bound listen address, useful when listening on ":0".
// It is nil before a successful Start.
func (s *Server[ID]) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Count returns the number of live connections.
func (s *Server[ID]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conns)
}

// Send enqueues a message on one connection's outbound queue.
func (s *Server[ID]) Send(connID uint32, msg netframe.Message[ID]) error {
	s.mu.RLock()
	conn, ok := s.conns[connID]
	s.mu.RUnlock()

	if !ok {
		return ErrUnknownConnection
	}

	if err := conn.Send(msg); err != nil {
		return err
	}

	if s.config.Metrics != nil {
		s.config.Metrics.MessagesSent.Inc()
	}

	return nil
}

// Broadcast enqueues the message on every live connection except the one
// with the excluded id. Zero excludes no one.
func (s *Server[ID]) Broadcast(msg netframe.Message[ID], exceptID uint32) {
	s.mu.RLock()
	conns := make([]*netframe.Connection[ID], 0, len(s.conns))
	for id, c := range s.conns {
		if id != exceptID {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			continue // connection is going down; it leaves the set on its own.
		}

		if s.config.Metrics != nil {
			s.config.Metrics.MessagesSent.Inc()
		}
	}
}

// Dispatch drains the inbound queue on the caller's goroutine, invoking
// the handler once per message with its originating connection id. It
// returns the number dispatched.
func (s *Server[ID]) Dispatch(handler Handler[ID]) int {
	n := 0

	for {
		owned, ok := s.rt.Inbound().PopFront()
		if !ok {
			return n
		}

		s.dispatchOne(handler, owned)
		n++
	}
}

// DispatchWait blocks until at least one message arrives, dispatches the
// backlog, and returns the count. Zero means the server has stopped.
func (s *Server[ID]) DispatchWait(handler Handler[ID]) int {
	owned, ok := s.rt.Inbound().PopFrontWait()
	if !ok {
		return 0
	}

	s.dispatchOne(handler, owned)

	return 1 + s.Dispatch(handler)
}

func (s *Server[ID]) dispatchOne(handler Handler[ID], owned netframe.OwnedMessage[ID]) {
	if s.config.Metrics != nil {
		s.config.Metrics.MessagesDispatched.Inc()
	}

	handler.HandleMessage(owned.ConnID(), owned.Msg)
}

func (s *Server[ID]) acceptLoop() {
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)

				continue
			}
			s.config.Logger.Error().Err(err).Msg("accept error")

			return
		}

		if s.config.MaxConns > 0 && s.Count() >= s.config.MaxConns {
			s.config.Logger.Warn().
				Str("remote", sock.RemoteAddr().String()).
				Msg("connection limit reached, refusing")
			_ = sock.Close()

			continue
		}

		id := s.nextID.Add(1)
		s.rt.Go(func() { s.admit(sock, id) })
	}
}

// admit runs the handshake if configured, inserts the connection into the
// live set, and starts its loops.
func (s *Server[ID]) admit(sock net.Conn, id uint32) {
	conn := netframe.NewConnection(sock, netframe.ConnOptions[ID]{
		ID:           id,
		Inbound:      s.rt.Inbound(),
		OnMessage:    s.config.OnMessage,
		OnDisconnect: s.removeConnection,
		MaxBody:      s.config.MaxBody,
		Logger:       s.config.Logger,
	})

	if s.config.Validation {
		err := conn.ValidateAccept(rand.Uint64(), s.config.Scramble, s.config.ValidationTimeout)
		if err != nil {
			if s.config.Metrics != nil {
				s.config.Metrics.ValidationFailures.Inc()
			}
			s.config.Logger.Warn().
				Uint32("conn", id).
				Err(err).
				Msg("validation failed")

			return
		}
	}

	// Joining the live set races Stop's disconnect pass: a connection
	// admitted after the snapshot would outlive it. Checking under the
	// same lock the snapshot takes closes the window.
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		conn.Disconnect()

		return
	}
	s.conns[id] = conn
	s.mu.Unlock()

	if s.config.Metrics != nil {
		s.config.Metrics.ConnsAccepted.Inc()
		s.config.Metrics.ConnsActive.Inc()
	}

	s.config.Logger.Info().
		Uint32("conn", id).
		Str("remote", sock.RemoteAddr().String()).
		Msg("connection accepted")

	if s.config.OnConnect != nil {
		s.config.OnConnect(conn)
	}

	conn.Start(s.rt)
}

// removeConnection drops a dead connection from the live set. An id that
// is no longer present is a normal outcome, not an error: validation
// failures die before insertion.
func (s *Server[ID]) removeConnection(conn *netframe.Connection[ID], cause error) {
	s.mu.Lock()
	_, present := s.conns[conn.ID()]
	delete(s.conns, conn.ID())
	s.mu.Unlock()

	if !present {
		return
	}

	if s.config.Metrics != nil {
		s.config.Metrics.ConnsActive.Dec()
	}

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(conn.ID(), cause)
	}
}
