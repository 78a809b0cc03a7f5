package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sweeney/nut-monitor/internal/nut"
)

// State is the connection controller state.
type State int

// Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected,
// plus Connecting -> Disconnected when an attempt fails.
const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

var (
	// ErrAlreadyConnected is returned by Connect while a session is live.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrSuperseded is the result of an attempt overtaken by a newer
	// Connect or by Disconnect. Its client has already been closed.
	ErrSuperseded = errors.New("connect attempt superseded")
)

// DialFunc opens and authenticates a upsd session.
type DialFunc func(ctx context.Context, p nut.Params) (nut.Poller, error)

// NutDialer returns a DialFunc backed by nut.Connect.
func NutDialer(opts nut.Options) DialFunc {
	return func(ctx context.Context, p nut.Params) (nut.Poller, error) {
		c, err := nut.Connect(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// ConnectResult is the outcome of one Connect call.
type ConnectResult struct {
	Session *Session
	Err     error
}

// Controller coordinates connect, poll and disconnect. Only one Session is
// retained at a time.
type Controller struct {
	dial     DialFunc
	interval time.Duration

	mu      sync.Mutex
	state   State
	attempt uint64
	cancel  context.CancelFunc // aborts the in-flight attempt
	session *Session
	closing *Session // being torn down while Disconnecting
	lastErr error
}

// NewController returns a disconnected controller.
func NewController(dial DialFunc, interval time.Duration) *Controller {
	return &Controller{dial: dial, interval: interval}
}

// Connect starts an asynchronous connect attempt. The returned channel
// receives exactly one result. A newer Connect supersedes an attempt that
// is still in flight.
func (c *Controller) Connect(ctx context.Context, p nut.Params) <-chan ConnectResult {
	out := make(chan ConnectResult, 1)

	c.mu.Lock()
	if c.state == Connected || c.state == Disconnecting {
		c.mu.Unlock()
		out <- ConnectResult{Err: ErrAlreadyConnected}
		return out
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.attempt++
	id := c.attempt
	actx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = Connecting
	c.lastErr = nil
	c.mu.Unlock()

	go func() {
		defer cancel()
		poller, err := c.dial(actx, p)
		out <- c.finish(ctx, id, poller, err)
	}()
	return out
}

// finish applies an attempt's outcome if it is still the current one.
func (c *Controller) finish(ctx context.Context, id uint64, p nut.Poller, err error) ConnectResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id != c.attempt || c.state != Connecting {
		if p != nil {
			_ = p.Close()
		}
		return ConnectResult{Err: ErrSuperseded}
	}
	c.cancel = nil
	if err != nil {
		c.lastErr = err
		c.state = Disconnected
		return ConnectResult{Err: err}
	}
	// The session outlives the attempt, so it is not bound to its context.
	c.session = Start(context.WithoutCancel(ctx), p, c.interval)
	c.state = Connected
	return ConnectResult{Session: c.session}
}

// Disconnect cancels the live session or abandons the in-flight attempt.
// When it returns, the previous client has been released.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	switch c.state {
	case Connecting:
		c.attempt++
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.state = Disconnected
		c.mu.Unlock()
		return
	case Connected:
		s := c.session
		c.session = nil
		c.closing = s
		c.state = Disconnecting
		c.mu.Unlock()

		s.Cancel()

		c.mu.Lock()
		c.closing = nil
		c.state = Disconnected
		c.mu.Unlock()
		return
	case Disconnecting:
		// Another Disconnect is tearing the session down.
		s := c.closing
		c.mu.Unlock()
		<-s.Done()
		return
	default:
		c.mu.Unlock()
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the live session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// LastError returns the error of the most recent failed attempt, cleared
// by the next Connect.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
