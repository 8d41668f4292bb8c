package mqtt

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Transport adapts a paho MQTT client to the dispatcher's transport.
type Transport struct {
	client pahomqtt.Client
	qos    byte
}

// NewTransport connects to the broker and returns a transport over it.
func NewTransport(brokerURL, clientID string) (*Transport, error) {
	if brokerURL == "" {
		return nil, errors.New("mqtt: broker url is required")
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	client := pahomqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", brokerURL, token.Error())
	}
	return &Transport{client: client, qos: 1}, nil
}

// Publish sends one payload to a topic and waits for broker acceptance.
func (t *Transport) Publish(topic string, payload []byte) error {
	token := t.client.Publish(topic, t.qos, false, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers a handler for a topic.
func (t *Transport) Subscribe(topic string, handler func(payload []byte)) error {
	token := t.client.Subscribe(topic, t.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (t *Transport) Close() {
	t.client.Disconnect(250)
}
