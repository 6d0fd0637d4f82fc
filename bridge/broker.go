package bridge

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat"
)

// DefaultSubscriberBuffer is the per-subscriber event queue length.
const DefaultSubscriberBuffer = 64

// Broker fans node events out to event stream subscribers. Emit never blocks:
// a subscriber whose queue is full misses the event.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan peerchat.Event]struct{}
	buffer int
	closed bool
}

// NewBroker creates a broker with the given per-subscriber buffer. A buffer of
// zero or less selects DefaultSubscriberBuffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		subs:   make(map[chan peerchat.Event]struct{}),
		buffer: buffer,
	}
}

// Emit implements peerchat.EventSink.
func (b *Broker) Emit(event peerchat.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Broker.Emit",
				"type":     event.Type,
				"peer":     event.Peer,
			}).Warn("Event subscriber is full, dropping event")
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function removes it
// and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe() (<-chan peerchat.Event, func()) {
	ch := make(chan peerchat.Event, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Later Emits are discarded.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.closed = true
}
