package netframe

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyRunning indicates Start was called on a running runtime.
// This is a usage bug, never silently ignored.
var ErrAlreadyRunning = errors.New("runtime is already running")

// ErrNotRunning indicates work was scheduled on a stopped runtime.
var ErrNotRunning = errors.New("runtime is not running")

// Runtime owns the network-side execution context of one endpoint: a
// single worker goroutine for scheduled jobs, the goroutines of every
// connection loop it spawns, and the shared inbound queue all of the
// endpoint's connections deliver to.
type Runtime[ID Tag] struct {
	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    chan func()
	wg      sync.WaitGroup

	inbound *Deque[OwnedMessage[ID]]
	dialer  net.Dialer
	logger  zerolog.Logger
}

// NewRuntime creates a stopped runtime.
func NewRuntime[ID Tag](logger zerolog.Logger) *Runtime[ID] {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // not running until Start.

	return &Runtime[ID]{
		ctx:     ctx,
		cancel:  cancel,
		inbound: NewDeque[OwnedMessage[ID]](),
		dialer:  net.Dialer{KeepAlive: 30 * time.Second},
		logger:  logger,
	}
}

// Inbound returns the shared queue of received messages.
func (r *Runtime[ID]) Inbound() *Deque[OwnedMessage[ID]] {
	return r.inbound
}

// IsRunning reports whether the runtime has been started and not stopped.
func (r *Runtime[ID]) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.running
}

// Start launches the worker goroutine. Calling Start on a running runtime
// returns ErrAlreadyRunning. A stopped runtime can be started again; the
// inbound queue is reset so stale deliveries from the previous run are
// dropped.
func (r *Runtime[ID]) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrAlreadyRunning
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.jobs = make(chan func(), 128)
	r.inbound = NewDeque[OwnedMessage[ID]]()
	r.running = true

	r.wg.Add(1)
	go r.worker(r.ctx, r.jobs)

	r.logger.Info().Msg("runtime started")

	return nil
}

// Stop cancels the context, closes the inbound queue, and joins every
// goroutine the runtime spawned. Idempotent. Callers must close their
// connections first or Stop will wait on their loops.
func (r *Runtime[ID]) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()

		return
	}

	r.running = false
	r.cancel()
	r.inbound.Close()
	r.mu.Unlock()

	r.wg.Wait()

	r.logger.Info().Msg("runtime stopped")
}

// Schedule posts a job onto the worker goroutine. It fails with
// ErrNotRunning once the runtime has stopped.
func (r *Runtime[ID]) Schedule(job func()) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()

		return ErrNotRunning
	}
	ctx, jobs := r.ctx, r.jobs
	r.mu.Unlock()

	select {
	case jobs <- job:
		return nil
	case <-ctx.Done():
		return ErrNotRunning
	}
}

// Go runs fn on a goroutine tracked by Stop.
func (r *Runtime[ID]) Go(fn func()) {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Context is canceled when the runtime stops.
func (r *Runtime[ID]) Context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.ctx
}

// Dial opens a TCP connection bound to the runtime's dialer settings.
func (r *Runtime[ID]) Dial(addr string, timeout time.Duration) (net.Conn, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return r.dialer.DialContext(ctx, "tcp", addr)
}

// Listen opens a TCP listener.
func (r *Runtime[ID]) Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: r.dialer.KeepAlive}

	return lc.Listen(context.Background(), "tcp", addr)
}

func (r *Runtime[ID]) worker(ctx context.Context, jobs chan func()) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			job()
		}
	}
}
