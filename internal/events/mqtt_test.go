package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/alfredjeanlab/crates/internal/model"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return mqttQoS }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeMQTT is a loop-back broker: published messages are handed to any
// handler subscribed to the exact topic.
type fakeMQTT struct {
	mqtt.Client

	mu         sync.Mutex
	topics     []string
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	if f.publishErr != nil {
		f.mu.Unlock()
		return &fakeToken{err: f.publishErr}
	}
	f.topics = append(f.topics, topic)
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(f, &fakeMessage{topic: topic, payload: payload.([]byte)})
	}
	return &fakeToken{}
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = callback
	return &fakeToken{}
}

func (f *fakeMQTT) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.handlers, t)
	}
	return &fakeToken{}
}

func (f *fakeMQTT) Disconnect(quiesce uint) {}

func TestTopicMapping_RoundTrip(t *testing.T) {
	destinations := []string{
		model.DestinationAlbumCreated,
		model.DestinationActivity,
		"/topic/x",
		"catalog/album.created",
		"",
		"/",
		"crates",
		"crates/topic/already-prefixed",
		"/queue/ünïcode",
	}
	prefixes := []string{"", "crates", "crates/", "/", "vinyl/prod", "/topic"}

	for _, p := range prefixes {
		for _, d := range destinations {
			topic := OutboundTopic(d, p)
			if got := InboundDestination(topic, p); got != d {
				t.Errorf("InboundDestination(OutboundTopic(%q, %q)) = %q, want %q", d, p, got, d)
			}
		}
	}
}

func TestTopicMapping_Generated(t *testing.T) {
	alphabet := "/.ab-_#+ "
	for i := 0; i < 2000; i++ {
		var d, p strings.Builder
		for n := i; n > 0; n /= len(alphabet) {
			d.WriteByte(alphabet[n%len(alphabet)])
		}
		for n := i / 7; n > 0; n /= len(alphabet) {
			p.WriteByte(alphabet[(n*3)%len(alphabet)])
		}
		if got := InboundDestination(OutboundTopic(d.String(), p.String()), p.String()); got != d.String() {
			t.Fatalf("round trip of %q with prefix %q gave %q", d.String(), p.String(), got)
		}
	}
}

func TestOutboundTopic(t *testing.T) {
	if got := OutboundTopic("/topic/activity", "crates"); got != "crates/topic/activity" {
		t.Errorf("OutboundTopic = %q", got)
	}
	if got := InboundDestination("other/topic/activity", "crates"); got != "other/topic/activity" {
		t.Errorf("foreign topic rewritten to %q", got)
	}
}

func TestMQTTClient_PublishSubscribe(t *testing.T) {
	fake := newFakeMQTT()
	c := NewMQTTClient(fake, "crates")

	ch, cancel, err := c.Subscribe(model.DestinationActivity)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	headers := map[string]string{model.HeaderEventID: "e1"}
	if err := c.Publish(context.Background(), model.DestinationActivity, []byte(`{"verb":"imported"}`), headers); err != nil {
		t.Fatalf("publishing: %v", err)
	}
	if err := c.Publish(context.Background(), model.DestinationActivity, []byte("not json"), nil); err != nil {
		t.Fatalf("publishing: %v", err)
	}

	if len(fake.topics) != 2 || fake.topics[0] != "crates/topic/activity" {
		t.Fatalf("topics = %v", fake.topics)
	}

	first := <-ch
	if first.Destination != model.DestinationActivity {
		t.Errorf("destination = %q", first.Destination)
	}
	if string(first.Body) != `{"verb":"imported"}` || first.Headers[model.HeaderEventID] != "e1" {
		t.Errorf("first = %+v", first)
	}
	second := <-ch
	if string(second.Body) != "not json" {
		t.Errorf("second body = %q", second.Body)
	}
}

func TestMQTTClient_FullQueueHoldsBackWithoutLoss(t *testing.T) {
	fake := newFakeMQTT()
	c := NewMQTTClient(fake, "crates")

	ch, cancel, err := c.Subscribe(model.DestinationActivity)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	total := DefaultBufferSize + 5
	published := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			if err := c.Publish(context.Background(), model.DestinationActivity, []byte(`{}`), nil); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	// The publisher stalls on the full queue until the reader catches up.
	select {
	case err := <-published:
		t.Fatalf("all publishes returned before the queue drained: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	for i := 0; i < total; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("received %d of %d messages", i, total)
		}
	}
	if err := <-published; err != nil {
		t.Fatalf("publishing: %v", err)
	}
}

func TestMQTTOptions(t *testing.T) {
	opts := mqttOptions("tcp://localhost:1883", "crates-1", "user", "secret")
	if opts.Order {
		t.Error("callbacks are ordered; a full queue would block the inbound router")
	}
	if !opts.AutoReconnect {
		t.Error("auto reconnect disabled")
	}
	if opts.ClientID != "crates-1" || opts.Username != "user" || opts.Password != "secret" {
		t.Errorf("opts = client %q user %q", opts.ClientID, opts.Username)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}

	if anon := mqttOptions("tcp://localhost:1883", "crates-1", "", "ignored"); anon.Username != "" || anon.Password != "" {
		t.Errorf("anonymous opts carry credentials: %q", anon.Username)
	}
}

func TestMQTTClient_RejectsWildcards(t *testing.T) {
	c := NewMQTTClient(newFakeMQTT(), "crates")
	for _, d := range []string{"", "/topic/#", "/topic/+/x"} {
		err := c.Publish(context.Background(), d, []byte(`{}`), nil)
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("Publish(%q) error = %v, want validation error", d, err)
		}
	}
}

func TestMQTTClient_PublishFailureIsTransient(t *testing.T) {
	fake := newFakeMQTT()
	fake.publishErr = errors.New("not connected")
	c := NewMQTTClient(fake, "crates")

	err := c.Publish(context.Background(), model.DestinationActivity, []byte(`{}`), nil)
	var tbe *model.TransientBrokerError
	if !errors.As(err, &tbe) || tbe.Destination != model.DestinationActivity {
		t.Fatalf("expected transient broker error, got %v", err)
	}
}

func TestMQTTClient_ForeignPayload(t *testing.T) {
	fake := newFakeMQTT()
	c := NewMQTTClient(fake, "crates/")

	ch, cancel, err := c.Subscribe(model.DestinationActivity)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	fake.handlers["crates//topic/activity"](fake, &fakeMessage{topic: "crates//topic/activity", payload: []byte("raw")})

	msg := <-ch
	if string(msg.Body) != "raw" || msg.Destination != model.DestinationActivity {
		t.Errorf("msg = %+v", msg)
	}
}
