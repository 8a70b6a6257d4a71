package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/crates/internal/model"
)

const natsFlushTimeout = 5 * time.Second

// NATSPublisher publishes messages to NATS subjects. The destination is used
// verbatim as the subject and headers travel as NATS headers.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends the message and flushes so the server has it before the
// caller marks the outbox row processed.
func (p *NATSPublisher) Publish(ctx context.Context, destination string, message []byte, headers map[string]string) error {
	msg := nats.NewMsg(destination)
	msg.Data = message
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return &model.TransientBrokerError{Destination: destination, Err: err}
	}
	if err := p.conn.FlushTimeout(natsFlushTimeout); err != nil {
		return &model.TransientBrokerError{Destination: destination, Err: err}
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber subscribes to messages on NATS subjects.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe returns a channel that receives messages for the given subject
// (NATS wildcards such as "/topic/catalog.>" are allowed). Call the returned
// cancel function to unsubscribe and close the channel.
func (s *NATSSubscriber) Subscribe(destination string) (<-chan Message, func(), error) {
	q := newSubscription(DefaultBufferSize)

	sub, err := s.conn.Subscribe(destination, func(msg *nats.Msg) {
		headers := make(map[string]string, len(msg.Header))
		for k := range msg.Header {
			headers[k] = msg.Header.Get(k)
		}
		q.deliver(Message{Destination: msg.Subject, Body: msg.Data, Headers: headers})
	})
	if err != nil {
		q.cancel(nil)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", destination, err)
	}
	// Flush ensures the subscription is registered on the server before
	// returning, so that messages published on other connections are routed.
	if err := s.conn.Flush(); err != nil {
		q.cancel(func() { _ = sub.Unsubscribe() })
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	return q.ch, func() { q.cancel(func() { _ = sub.Unsubscribe() }) }, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
