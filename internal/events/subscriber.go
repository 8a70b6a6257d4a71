package events

import "sync"

// DefaultBufferSize bounds the per-subscription queue.
const DefaultBufferSize = 64

// Subscriber receives messages from the broker.
type Subscriber interface {
	// Subscribe delivers messages for destination on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(destination string) (<-chan Message, func(), error)
	Close() error
}

// subscription is the bounded queue between a transport callback and the
// reader of the channel. deliver blocks while the queue is full, so a slow
// reader pushes back on the transport instead of losing messages.
type subscription struct {
	ch     chan Message
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func newSubscription(size int) *subscription {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &subscription{
		ch:   make(chan Message, size),
		done: make(chan struct{}),
	}
}

// deliver queues m and reports whether it was accepted.
func (s *subscription) deliver(m Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- m:
		return true
	case <-s.done:
		return false
	}
}

// cancel unblocks pending deliveries, runs unsubscribe, then drains and
// closes the channel. Safe to call repeatedly.
func (s *subscription) cancel(unsubscribe func()) {
	s.once.Do(func() {
		close(s.done)
		if unsubscribe != nil {
			unsubscribe()
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		for {
			select {
			case <-s.ch:
			default:
				close(s.ch)
				return
			}
		}
	})
}
