// Package events is the broker abstraction: one publish/subscribe contract
// over interchangeable STOMP, MQTT and NATS transports.
package events

import (
	"context"
	"fmt"
)

// Broker kinds accepted by Open.
const (
	KindSTOMP = "stomp"
	KindMQTT  = "mqtt"
	KindNATS  = "nats"
	KindNoop  = "noop"
)

// Message is one delivery from the broker.
type Message struct {
	Destination string
	Body        []byte
	Headers     map[string]string
}

// Publisher delivers a message to a destination. Failures are returned as
// *model.TransientBrokerError.
type Publisher interface {
	Publish(ctx context.Context, destination string, message []byte, headers map[string]string) error
	Close() error
}

// Options selects and configures a transport.
type Options struct {
	Kind string
	// URL is the broker address: host:port for STOMP, tcp://host:port for
	// MQTT, nats://host:port for NATS.
	URL      string
	Login    string
	Passcode string
	// ClientID identifies the MQTT session.
	ClientID string
	// TopicPrefix is prepended to destinations on the MQTT transport.
	TopicPrefix string
}

// Open connects the transport named by opts.Kind. An empty kind yields the
// no-op pair.
func Open(opts Options) (Publisher, Subscriber, error) {
	switch opts.Kind {
	case KindSTOMP:
		c, err := DialSTOMP(opts.URL, opts.Login, opts.Passcode)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case KindMQTT:
		c, err := DialMQTT(opts.URL, opts.ClientID, opts.TopicPrefix, opts.Login, opts.Passcode)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case KindNATS:
		pub, err := NewNATSPublisher(opts.URL)
		if err != nil {
			return nil, nil, err
		}
		sub, err := NewNATSSubscriber(opts.URL)
		if err != nil {
			pub.Close()
			return nil, nil, err
		}
		return pub, sub, nil
	case KindNoop, "":
		return &NoopPublisher{}, &NoopSubscriber{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker kind %q", opts.Kind)
	}
}
