package mqttsn

import (
	"context"
	"time"

	"github.com/RoanBrand/mqttsn/internal/model"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrSend           = errors.New("mqttsn: send failed")
	ErrRejected       = errors.New("mqttsn: rejected by gateway")
	ErrMsgIDMismatch  = errors.New("mqttsn: reply message ID mismatch")
	ErrTopicTable     = errors.New("mqttsn: topic table rejected topic")
	ErrTopicTooLong   = errors.New("mqttsn: topic name too long")
	ErrPayloadTooLong = errors.New("mqttsn: publish data too long")
	ErrTopicNotFound  = errors.New("mqttsn: registered topic not found")
	ErrTimeout        = errors.New("mqttsn: timed out waiting for reply")
)

const defaultPollInterval = time.Millisecond

// Client is an MQTT-SN client talking to one gateway over a Transport.
//
// All operations are synchronous and a Client must only be used from one
// goroutine at a time. Connect, Disconnect, Register and Subscribe block until
// the gateway replies, the context is done or ReplyTimeout expires. Publish
// does not wait for anything since only QoS 0 is supported.
type Client struct {
	// ReplyTimeout bounds each wait for a gateway reply.
	// Zero waits for as long as the context allows.
	ReplyTimeout time.Duration

	// PollInterval is how long a waiting operation sleeps when the
	// transport has nothing available. Defaults to 1ms.
	PollInterval time.Duration

	trp      Transport
	gateway  NodeID
	clientID ClientID
	msgID    uint16
	topics   topicTable
	callback Callback
	log      *log.Entry
}

// NewClient returns a Client for the gateway at node gateway.
// cb may be nil, in which case inbound publishes are dropped.
func NewClient(t Transport, gateway NodeID, clientID string, cb Callback) *Client {
	c := Client{
		trp:      t,
		gateway:  gateway,
		clientID: NewClientID(clientID),
		callback: cb,
	}
	c.log = log.WithFields(log.Fields{
		"client": c.clientID.String(),
	})

	if c.clientID.Truncated() {
		c.log.WithField("original", clientID).Warn("Client ID truncated")
	}
	return &c
}

// ClientID returns the ID sent in CONNECT.
func (c *Client) ClientID() ClientID {
	return c.clientID
}

// Topics returns a copy of the registered topics.
func (c *Client) Topics() []Topic {
	return append([]Topic(nil), c.topics.topics[:c.topics.Len()]...)
}

// Connect starts a clean session with the gateway.
func (c *Client) Connect(ctx context.Context) error {
	err := c.send(model.Connect{
		Flags:      model.Flags{CleanSession: true},
		ProtocolID: model.ProtocolID,
		Duration:   model.DurationUnset,
		ClientID:   c.clientID.String(),
	})
	if err != nil {
		return err
	}

	m, err := c.waitFor(ctx, model.CONNACK)
	if err != nil {
		return err
	}

	if rc := m.(model.Connack).ReturnCode; rc != model.Accepted {
		c.log.WithField("code", rc).Error("Connect failed")
		return errors.Wrap(ErrRejected, "CONNECT: "+rc.String())
	}

	c.log.Info("Connected")
	return nil
}

// Disconnect ends the session. The gateway echoes DISCONNECT without a
// return code so it succeeds as soon as the echo arrives.
func (c *Client) Disconnect(ctx context.Context) error {
	if err := c.send(model.Disconnect{}); err != nil {
		return err
	}

	if _, err := c.waitFor(ctx, model.DISCONNECT); err != nil {
		return err
	}

	c.log.Info("Disconnected")
	return nil
}

// Register obtains a topic ID for name from the gateway and stores it.
func (c *Client) Register(ctx context.Context, name string) error {
	if len(name) > MaxTopicNameLen {
		c.log.WithField("topic", name).Warn("Topic name too long")
		return errors.Wrapf(ErrTopicTooLong, "%d bytes", len(name))
	}

	msgID := c.nextMsgID()
	if err := c.send(model.Register{MsgID: msgID, TopicName: name}); err != nil {
		return err
	}

	m, err := c.waitFor(ctx, model.REGACK)
	if err != nil {
		return err
	}

	ack := m.(model.Regack)
	if err = c.checkAck(model.REGACK, msgID, ack.MsgID, ack.ReturnCode); err != nil {
		return err
	}

	if !c.topics.Add(ack.TopicID, name) {
		c.log.WithFields(log.Fields{
			"topic":   name,
			"topicID": ack.TopicID,
		}).Error("Failed adding topic")
		return errors.Wrapf(ErrTopicTable, "topic ID %d", ack.TopicID)
	}

	c.log.WithFields(log.Fields{
		"topic":   name,
		"topicID": ack.TopicID,
	}).Info("Topic registered")
	return nil
}

// Publish sends data to topic name at QoS 0. An unknown topic is registered
// first, once. Success only means the packet was handed to the transport.
func (c *Client) Publish(ctx context.Context, name string, data []byte, retain bool) error {
	if len(data) > MaxDataLen {
		c.log.WithField("size", len(data)).Warn("Publish data too long")
		return errors.Wrapf(ErrPayloadTooLong, "%d bytes", len(data))
	}

	t, ok := c.topics.FindName(name)
	if !ok {
		if err := c.Register(ctx, name); err != nil {
			return err
		}
		if t, ok = c.topics.FindName(name); !ok {
			c.log.WithField("topic", name).Error("Could not find registered topic")
			return errors.Wrap(ErrTopicNotFound, name)
		}
	}

	return c.send(model.Publish{
		Flags:   model.Flags{Retain: retain},
		TopicID: t.ID,
		Data:    data,
	})
}

// PublishString is Publish for text messages.
func (c *Client) PublishString(ctx context.Context, name, msg string, retain bool) error {
	return c.Publish(ctx, name, []byte(msg), retain)
}

// Subscribe subscribes to topic name. If the gateway assigns a topic ID it is
// stored so inbound publishes resolve to name. Wildcard subscriptions get
// topic ID 0 and are not stored.
func (c *Client) Subscribe(ctx context.Context, name string) error {
	if len(name) > MaxTopicNameLen {
		c.log.WithField("topic", name).Warn("Topic name too long")
		return errors.Wrapf(ErrTopicTooLong, "%d bytes", len(name))
	}

	msgID := c.nextMsgID()
	err := c.send(model.Subscribe{
		Flags:     model.Flags{TopicIDType: model.TopicIDTypeName},
		MsgID:     msgID,
		TopicName: name,
	})
	if err != nil {
		return err
	}

	m, err := c.waitFor(ctx, model.SUBACK)
	if err != nil {
		return err
	}

	ack := m.(model.Suback)
	if err = c.checkAck(model.SUBACK, msgID, ack.MsgID, ack.ReturnCode); err != nil {
		return err
	}

	if ack.TopicID != 0 && !c.topics.Add(ack.TopicID, name) {
		c.log.WithFields(log.Fields{
			"topic":   name,
			"topicID": ack.TopicID,
		}).Error("Failed adding topic")
		return errors.Wrapf(ErrTopicTable, "topic ID %d", ack.TopicID)
	}

	c.log.WithFields(log.Fields{
		"topic":   name,
		"topicID": ack.TopicID,
	}).Info("Topic subscribed")
	return nil
}

// checkAck validates the message ID and return code of a REGACK or SUBACK.
// A reply to an older request is not skipped, it fails the current one.
func (c *Client) checkAck(t model.MsgType, sent, got uint16, rc model.ReturnCode) error {
	if got != sent {
		c.log.WithFields(log.Fields{
			"type":  t,
			"msgID": got,
			"want":  sent,
		}).Error("Message ID mismatch")
		return errors.Wrapf(ErrMsgIDMismatch, "%s %d, sent %d", t, got, sent)
	}

	if rc != model.Accepted {
		c.log.WithFields(log.Fields{
			"type": t,
			"code": rc,
		}).Error("Request rejected")
		return errors.Wrapf(ErrRejected, "%s: %s", t, rc)
	}

	return nil
}

// nextMsgID returns the counter and advances it, wrapping at 16 bits.
func (c *Client) nextMsgID() uint16 {
	id := c.msgID
	c.msgID++
	return id
}

func (c *Client) send(m model.Message) error {
	buf := make([]byte, model.PayloadCapacity+1)
	n, err := model.Put(buf, m)
	if err != nil {
		return err
	}

	if err = c.trp.Send(buf[:n], c.gateway); err != nil {
		c.log.WithError(err).WithField("type", m.Type()).Error("Send failed")
		return errors.Wrapf(ErrSend, "%s: %v", m.Type(), err)
	}
	return nil
}
