package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/alfredjeanlab/crates/internal/model"
)

const (
	mqttQoS     byte = 1
	mqttTimeout      = 10 * time.Second
)

// OutboundTopic maps a destination to the MQTT topic it is published on.
// InboundDestination(OutboundTopic(d, p), p) == d for every d and p.
func OutboundTopic(destination, prefix string) string {
	return prefix + destination
}

// InboundDestination maps an MQTT topic back to the destination it was
// published for. Topics without the prefix are returned unchanged.
func InboundDestination(topic, prefix string) string {
	return strings.TrimPrefix(topic, prefix)
}

// validateMQTTDestination rejects destinations that would become wildcard or
// otherwise invalid MQTT topic names.
func validateMQTTDestination(destination string) error {
	var msg string
	switch {
	case destination == "":
		msg = "is required"
	case strings.ContainsAny(destination, "+#"):
		msg = "must not contain MQTT wildcards"
	case strings.ContainsRune(destination, 0):
		msg = "must not contain NUL"
	default:
		return nil
	}
	return &model.ValidationError{Errors: []model.FieldError{{Field: "destination", Message: msg}}}
}

// mqttEnvelope carries headers alongside the body, since MQTT 3.1.1 has no
// user properties. JSON bodies are embedded as-is; anything else is base64.
type mqttEnvelope struct {
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
	BodyBase64 []byte            `json:"body_base64,omitempty"`
}

func encodeEnvelope(message []byte, headers map[string]string) ([]byte, error) {
	env := mqttEnvelope{Headers: headers}
	if json.Valid(message) {
		env.Body = message
	} else {
		env.BodyBase64 = message
	}
	return json.Marshal(env)
}

func decodeEnvelope(payload []byte) ([]byte, map[string]string, error) {
	var env mqttEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, nil, fmt.Errorf("decoding MQTT envelope: %w", err)
	}
	if env.Headers == nil {
		env.Headers = map[string]string{}
	}
	if env.BodyBase64 != nil {
		return env.BodyBase64, env.Headers, nil
	}
	return []byte(env.Body), env.Headers, nil
}

// MQTTClient is the MQTT transport. Destinations are remapped with
// OutboundTopic on the way out and InboundDestination on the way in.
type MQTTClient struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
}

// NewMQTTClient wraps an already connected paho client.
func NewMQTTClient(client mqtt.Client, prefix string) *MQTTClient {
	return &MQTTClient{client: client, prefix: prefix, timeout: mqttTimeout}
}

// mqttOptions builds the paho options for DialMQTT. Callbacks run
// unordered so a subscriber blocked on a full queue never holds up paho's
// inbound router, which also carries keepalive traffic.
func mqttOptions(brokerURL, clientID, username, password string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(mqttTimeout)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	return opts
}

// DialMQTT connects to brokerURL (e.g. tcp://localhost:1883).
func DialMQTT(brokerURL, clientID, prefix, username, password string) (*MQTTClient, error) {
	c := mqtt.NewClient(mqttOptions(brokerURL, clientID, username, password))
	if err := wait(c.Connect(), mqttTimeout); err != nil {
		return nil, fmt.Errorf("connecting to MQTT at %s: %w", brokerURL, err)
	}
	return NewMQTTClient(c, prefix), nil
}

// Publish sends message at QoS 1 and waits for the broker's PUBACK.
func (c *MQTTClient) Publish(ctx context.Context, destination string, message []byte, headers map[string]string) error {
	if err := validateMQTTDestination(destination); err != nil {
		return err
	}
	payload, err := encodeEnvelope(message, headers)
	if err != nil {
		return err
	}
	tok := c.client.Publish(OutboundTopic(destination, c.prefix), mqttQoS, false, payload)
	if err := wait(tok, c.timeout); err != nil {
		return &model.TransientBrokerError{Destination: destination, Err: err}
	}
	return nil
}

// Subscribe subscribes to the topic for destination. The paho callback
// blocks on the bounded queue, which holds back the PUBACK until the message
// is queued. Delivery is at least once and, with unordered callbacks, not
// strictly in broker order; handlers must tolerate both.
func (c *MQTTClient) Subscribe(destination string) (<-chan Message, func(), error) {
	if err := validateMQTTDestination(destination); err != nil {
		return nil, nil, err
	}
	topic := OutboundTopic(destination, c.prefix)
	q := newSubscription(DefaultBufferSize)

	tok := c.client.Subscribe(topic, mqttQoS, func(_ mqtt.Client, m mqtt.Message) {
		body, headers, err := decodeEnvelope(m.Payload())
		if err != nil {
			// Foreign publishers may not use the envelope.
			body, headers = m.Payload(), map[string]string{}
		}
		q.deliver(Message{
			Destination: InboundDestination(m.Topic(), c.prefix),
			Body:        body,
			Headers:     headers,
		})
	})
	if err := wait(tok, c.timeout); err != nil {
		q.cancel(nil)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	unsubscribe := func() { _ = wait(c.client.Unsubscribe(topic), c.timeout) }
	return q.ch, func() { q.cancel(unsubscribe) }, nil
}

func (c *MQTTClient) Close() error {
	c.client.Disconnect(250)
	return nil
}

var errMQTTTimeout = errors.New("timed out waiting for MQTT broker")

func wait(tok mqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return errMQTTTimeout
	}
	return tok.Error()
}
