package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"

	"github.com/alfredjeanlab/crates/internal/model"
)

// stompReserved are frame headers owned by the protocol; user headers with
// these names are not forwarded.
var stompReserved = map[string]bool{
	frame.Destination:   true,
	frame.ContentType:   true,
	frame.ContentLength: true,
	frame.Receipt:       true,
	frame.MessageId:     true,
	frame.Subscription:  true,
	frame.Ack:           true,
}

// STOMPClient is a topic-based transport over STOMP. Destinations such as
// "/topic/catalog.album.created" are used verbatim.
type STOMPClient struct {
	conn *stomp.Conn
}

// DialSTOMP connects to the STOMP broker at addr (host:port). login may be
// empty for brokers without authentication.
func DialSTOMP(addr, login, passcode string) (*STOMPClient, error) {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(30*time.Second, 30*time.Second),
	}
	if login != "" {
		opts = append(opts, stomp.ConnOpt.Login(login, passcode))
	}
	conn, err := stomp.Dial("tcp", addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to STOMP at %s: %w", addr, err)
	}
	return &STOMPClient{conn: conn}, nil
}

// Publish sends a SEND frame and waits for the broker's receipt.
func (c *STOMPClient) Publish(ctx context.Context, destination string, message []byte, headers map[string]string) error {
	contentType := headers[model.HeaderContentType]
	if contentType == "" {
		contentType = "application/json"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		if !stompReserved[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	opts := make([]func(*frame.Frame) error, 0, len(keys)+1)
	opts = append(opts, stomp.SendOpt.Receipt)
	for _, k := range keys {
		opts = append(opts, stomp.SendOpt.Header(k, headers[k]))
	}

	if err := c.conn.Send(destination, contentType, message, opts...); err != nil {
		return &model.TransientBrokerError{Destination: destination, Err: err}
	}
	return nil
}

// Subscribe opens an auto-ack subscription on destination.
func (c *STOMPClient) Subscribe(destination string) (<-chan Message, func(), error) {
	sub, err := c.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", destination, err)
	}

	q := newSubscription(DefaultBufferSize)
	unsubscribe := func() { _ = sub.Unsubscribe() }

	go func() {
		for m := range sub.C {
			if m.Err != nil {
				// The connection is gone; no further messages will arrive.
				break
			}
			if !q.deliver(Message{Destination: m.Destination, Body: m.Body, Headers: stompHeaders(m.Header)}) {
				return
			}
		}
		q.cancel(nil)
	}()

	return q.ch, func() { q.cancel(unsubscribe) }, nil
}

func (c *STOMPClient) Close() error {
	return c.conn.Disconnect()
}

func stompHeaders(h *frame.Header) map[string]string {
	out := make(map[string]string)
	if h == nil {
		return out
	}
	for i := 0; i < h.Len(); i++ {
		k, v := h.GetAt(i)
		if k == frame.ContentType {
			out[model.HeaderContentType] = v
			continue
		}
		if stompReserved[k] {
			continue
		}
		if _, seen := out[k]; !seen {
			out[k] = v
		}
	}
	return out
}
