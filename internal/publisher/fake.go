package publisher

import (
	"strings"
	"sync"
)

// FakePublisher records every published Message so tests can inspect them.
// It is safe for concurrent use; read Messages only after publishing stops.
type FakePublisher struct {
	mu           sync.Mutex
	Messages     []Message
	PublishError error
	// FailAfter, when positive, lets that many publishes succeed before
	// PublishError is returned.
	FailAfter int
	Closed    bool
}

// Publish appends the message to the recorded list, or returns PublishError
// if set.
func (f *FakePublisher) Publish(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil && len(f.Messages) >= f.FailAfter {
		return f.PublishError
	}
	f.Messages = append(f.Messages, msg)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Find returns the last Message whose Topic matches, plus a found bool.
func (f *FakePublisher) Find(topic string) (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Messages) - 1; i >= 0; i-- {
		if f.Messages[i].Topic == topic {
			return f.Messages[i], true
		}
	}
	return Message{}, false
}

// WithPrefix returns every recorded message whose topic starts with prefix,
// in publish order.
func (f *FakePublisher) WithPrefix(prefix string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.Messages {
		if strings.HasPrefix(m.Topic, prefix) {
			out = append(out, m)
		}
	}
	return out
}

// Reset clears all recorded state so the fake can be reused between sub-tests.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.PublishError = nil
	f.FailAfter = 0
	f.Closed = false
}
