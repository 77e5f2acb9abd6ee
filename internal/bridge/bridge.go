// Package bridge forwards messages received over MQTT-SN to an MQTT broker.
package bridge

import (
	"strings"
	"time"

	"github.com/RoanBrand/mqttsn"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // ms

	// unknownTopic replaces the unknown topic marker, which is not valid
	// at the end of an MQTT topic path.
	unknownTopic = "unknown"
)

var ErrPublishTimeout = errors.New("bridge: publish timed out")

// Publisher is the part of an MQTT client the bridge needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Bridge struct {
	pub    Publisher
	prefix string
	client mqtt.Client // nil if pub was supplied
}

// New returns a Bridge publishing through pub with prefix prepended to topics.
func New(pub Publisher, prefix string) *Bridge {
	return &Bridge{pub: pub, prefix: prefix}
}

// Connect connects to broker, e.g. "tcp://localhost:1883".
func Connect(broker, clientID, prefix string) (*Bridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).WithField("broker", broker).Warn("Bridge connection lost")
	})

	c := mqtt.NewClient(opts)
	t := c.Connect()
	if !t.WaitTimeout(connectTimeout) {
		return nil, errors.Errorf("bridge: connect to %s timed out", broker)
	}
	if err := t.Error(); err != nil {
		return nil, errors.Wrapf(err, "bridge: connect to %s", broker)
	}

	log.WithFields(log.Fields{
		"broker":   broker,
		"clientID": clientID,
	}).Info("Bridge connected")

	b := New(c, prefix)
	b.client = c
	return b, nil
}

// Topic maps an MQTT-SN topic name to the topic used on the broker.
func (b *Bridge) Topic(name string) string {
	if name == mqttsn.UnknownTopic {
		name = unknownTopic
	}
	return b.prefix + strings.TrimPrefix(name, "/")
}

// Forward publishes a received message to the broker at QoS 0.
func (b *Bridge) Forward(topic, payload string) error {
	t := b.pub.Publish(b.Topic(topic), 0, false, payload)
	if !t.WaitTimeout(publishTimeout) {
		return errors.Wrap(ErrPublishTimeout, topic)
	}
	return errors.Wrap(t.Error(), "bridge: publish "+topic)
}

// Close disconnects from the broker if Connect created the client.
func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Disconnect(disconnectQuiesce)
	}
}
