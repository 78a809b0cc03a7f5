package nut

import (
	"context"
	"sync"
)

// FakePoller is a test double for Poller. It is safe for use by the polling
// goroutine and the test goroutine at the same time.
//
// Single-snapshot mode: pre-seed Vars; every Summary call for a device
// returns Vars[device]. Sequence mode: pre-seed Sequence; the n-th Summary
// call for a device returns Sequence[n][device], repeating the last element
// once the sequence is exhausted. Set Err to inject a failure, on every
// call or only on call number FailOnCall (1-based, counted across devices).
// Set Block to make Summary wait until the channel is closed or ctx is done.
type FakePoller struct {
	Devices  []Device
	ListErr  error
	Vars     map[string]map[string]string
	Sequence []map[string]map[string]string

	Err        error
	FailOnCall int
	Block      chan struct{}

	mu           sync.Mutex
	listCalls    int
	summaryCalls int
	perDevice    map[string]int
	logoutCalls  int
	closed       bool
}

// ListDevices returns a copy of Devices, or ListErr if set.
func (f *FakePoller) ListDevices(ctx context.Context) ([]Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]Device, len(f.Devices))
	copy(out, f.Devices)
	return out, nil
}

// Summary returns the pre-seeded variables of ups for the current call.
func (f *FakePoller) Summary(ctx context.Context, ups string) (Summary, error) {
	f.mu.Lock()
	f.summaryCalls++
	call := f.summaryCalls
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil && (f.FailOnCall == 0 || f.FailOnCall == call) {
		return Summary{}, f.Err
	}
	if f.perDevice == nil {
		f.perDevice = make(map[string]int)
	}
	f.perDevice[ups]++

	src := f.Vars
	if len(f.Sequence) > 0 {
		idx := f.perDevice[ups] - 1
		if idx >= len(f.Sequence) {
			idx = len(f.Sequence) - 1 // repeat last element
		}
		src = f.Sequence[idx]
	}
	return Summarize(ups, src[ups]), nil
}

// Logout records the call.
func (f *FakePoller) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls++
	return nil
}

// Close records that the poller was closed.
func (f *FakePoller) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// ListCalls returns how many times ListDevices ran.
func (f *FakePoller) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// SummaryCalls returns how many times Summary ran, failed calls included.
func (f *FakePoller) SummaryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaryCalls
}

// LogoutCalls returns how many times Logout ran.
func (f *FakePoller) LogoutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutCalls
}

// IsClosed reports whether Close was called.
func (f *FakePoller) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears all state so the fake can be reused between sub-tests.
func (f *FakePoller) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Devices = nil
	f.ListErr = nil
	f.Vars = nil
	f.Sequence = nil
	f.Err = nil
	f.FailOnCall = 0
	f.Block = nil
	f.listCalls = 0
	f.summaryCalls = 0
	f.perDevice = nil
	f.logoutCalls = 0
	f.closed = false
}

var _ Poller = (*FakePoller)(nil)
