// Package monitor drives an authenticated upsd session: it lists devices
// once, then emits a complete snapshot of every device on a fixed interval
// until cancelled or the first error.
package monitor

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sweeney/nut-monitor/internal/nut"
)

// DefaultInterval is the tick between two snapshots.
const DefaultInterval = 2 * time.Second

// logoutTimeout bounds writing the best-effort LOGOUT on a clean stop. The
// reply is never awaited.
const logoutTimeout = 100 * time.Millisecond

// EventKind tags an Event.
type EventKind int

const (
	// EventDevices carries the device list captured at session start.
	EventDevices EventKind = iota
	// EventSnapshot carries one complete poll.
	EventSnapshot
	// EventError is the terminal failure; nothing follows it.
	EventError
)

// Event is one item of a Session's ordered stream.
type Event struct {
	Kind     EventKind
	Devices  []nut.Device
	Snapshot Snapshot
	Err      error
}

// Snapshot is every device's summary at one tick. It is never modified
// after emission, and each snapshot owns its Devices slice.
type Snapshot struct {
	Time      time.Time
	Devices   []nut.Device
	Summaries map[string]nut.Summary
}

// Session is a running polling loop. Cancel is the one-shot cancellation
// handle shared with the loop.
type Session struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Start takes ownership of p and polls it every interval on a new
// goroutine. p is closed when the session ends.
func Start(ctx context.Context, p nut.Poller, interval time.Duration) *Session {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(ctx, p, interval)
	return s
}

// Events returns the ordered event stream. It is closed when the loop
// exits.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed once the loop has exited and released its poller.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error, or nil while running and after a clean
// cancellation.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel stops the loop and returns once the poller has been released.
// It is safe to call more than once and from any goroutine.
func (s *Session) Cancel() {
	s.cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context, p nut.Poller, interval time.Duration) {
	defer close(s.done)
	defer close(s.events)

	err := s.poll(ctx, p, interval)
	switch {
	case ctx.Err() != nil:
		// Cancelled. The client is only reusable for LOGOUT if the stop
		// landed between requests.
		if err == nil {
			lctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
			_ = p.Logout(lctx)
			cancel()
		}
	case err != nil:
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.emit(ctx, Event{Kind: EventError, Err: err})
	}
	_ = p.Close()
}

// poll returns nil when it stops on a cancellation checkpoint and the
// first request error otherwise.
func (s *Session) poll(ctx context.Context, p nut.Poller, interval time.Duration) error {
	devices, err := p.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	if !s.emit(ctx, Event{Kind: EventDevices, Devices: slices.Clone(devices)}) {
		return nil
	}

	for {
		snap := Snapshot{
			Devices:   slices.Clone(devices),
			Summaries: make(map[string]nut.Summary, len(devices)),
		}
		for _, d := range devices {
			if ctx.Err() != nil {
				return nil
			}
			sum, err := p.Summary(ctx, d.Name)
			if err != nil {
				return fmt.Errorf("polling %s: %w", d.Name, err)
			}
			snap.Summaries[d.Name] = sum
		}
		snap.Time = time.Now()

		if !s.emit(ctx, Event{Kind: EventSnapshot, Snapshot: snap}) {
			return nil
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// emit delivers ev unless the session is cancelled first.
func (s *Session) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
