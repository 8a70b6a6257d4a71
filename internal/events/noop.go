package events

import "context"

// NoopPublisher is a Publisher that does nothing (used when no broker is configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, destination string, message []byte, headers map[string]string) error {
	return nil
}

func (n *NoopPublisher) Close() error {
	return nil
}

// NoopSubscriber hands out channels that never receive.
type NoopSubscriber struct{}

func (n *NoopSubscriber) Subscribe(destination string) (<-chan Message, func(), error) {
	s := newSubscription(1)
	return s.ch, func() { s.cancel(nil) }, nil
}

func (n *NoopSubscriber) Close() error {
	return nil
}
