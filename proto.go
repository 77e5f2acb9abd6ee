package mqttsn

import (
	"context"
	"time"

	"github.com/RoanBrand/mqttsn/internal/model"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Loop polls the transport once without blocking and delivers an inbound
// PUBLISH to the callback. Anything else read here is dropped, including
// gateway REGISTER requests, which are only answered while an operation waits.
// Call it repeatedly from an idle loop.
func (c *Client) Loop() {
	if !c.trp.Available() {
		return
	}

	buf := make([]byte, model.PayloadCapacity+1)
	h, n, ok := c.receive(buf)
	if !ok || h.Type != model.PUBLISH {
		return
	}
	c.handlePublish(buf[:n])
}

// waitFor polls until a message of type t from the gateway arrives.
// Other messages received meanwhile are dispatched as unsolicited.
func (c *Client) waitFor(ctx context.Context, t model.MsgType) (model.Message, error) {
	if c.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.ReplyTimeout)
		defer cancel()
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	var tick *time.Ticker

	buf := make([]byte, model.PayloadCapacity+1)
	for {
		if err := ctx.Err(); err != nil {
			c.log.WithField("type", t).Warn("Gave up waiting for reply")
			if err == context.DeadlineExceeded {
				return nil, errors.Wrap(ErrTimeout, t.String())
			}
			return nil, errors.Wrap(err, "waiting for "+t.String())
		}

		if !c.trp.Available() {
			if tick == nil {
				tick = time.NewTicker(interval)
				defer tick.Stop()
			}
			select {
			case <-ctx.Done():
			case <-tick.C:
			}
			continue
		}

		if m, ok := c.handleLoop(buf, t); ok {
			return m, nil
		}
	}
}

// handleLoop reads one packet. It returns the decoded message if it is of
// type t, otherwise the packet is handed to handleInternal.
func (c *Client) handleLoop(buf []byte, t model.MsgType) (model.Message, bool) {
	h, n, ok := c.receive(buf)
	if !ok {
		return nil, false
	}

	if h.Type != t {
		c.handleInternal(h, buf[:n])
		return nil, false
	}

	m, err := model.Decode(buf[:n])
	if err != nil {
		c.log.WithError(err).Debug("Dropping malformed reply")
		return nil, false
	}
	return m, true
}

// receive reads one packet into buf and checks that it is from the gateway
// and that its size matches the declared length.
func (c *Client) receive(buf []byte) (model.Header, int, bool) {
	n, src, err := c.trp.Receive(buf[:model.PayloadCapacity])
	if err != nil {
		c.log.WithError(err).Debug("Receive failed")
		return model.Header{}, 0, false
	}

	if src != c.gateway {
		c.log.WithField("node", src).Debug("Dropping packet not from gateway")
		return model.Header{}, 0, false
	}

	h, err := model.ParseHeader(buf[:n])
	if err != nil {
		c.log.WithField("size", n).Debug("Invalid packet size")
		return model.Header{}, 0, false
	}

	if int(h.Length) != n {
		c.log.WithFields(log.Fields{
			"size":   n,
			"length": h.Length,
		}).Debug("Packet size and length mismatch")
		return model.Header{}, 0, false
	}

	return h, n, true
}

// handleInternal deals with messages the gateway sent on its own accord.
func (c *Client) handleInternal(h model.Header, pkt []byte) {
	switch h.Type {
	case model.PUBLISH:
		c.handlePublish(pkt)
	case model.REGISTER:
		c.handleRegister(pkt)
	default:
		c.log.WithField("type", h.Type).Debug("Ignoring unsolicited message")
	}
}

func (c *Client) handlePublish(pkt []byte) {
	if c.callback == nil {
		c.log.Debug("No callback set, dropping PUBLISH")
		return
	}

	m, err := model.Decode(pkt)
	if err != nil {
		c.log.WithError(err).Debug("Dropping malformed PUBLISH")
		return
	}
	p := m.(model.Publish)

	t, ok := c.topics.FindID(p.TopicID)
	if !ok {
		c.log.WithField("topicID", p.TopicID).Warn("Topic ID not found")
		c.callback(UnknownTopic, string(p.Data))
		return
	}

	c.callback(t.Name, string(p.Data))
}

// handleRegister stores a topic the gateway registered for us, usually ahead
// of a PUBLISH to a wildcard subscription, and acknowledges it.
func (c *Client) handleRegister(pkt []byte) {
	m, err := model.Decode(pkt)
	if err != nil {
		c.log.WithError(err).Debug("Dropping malformed REGISTER")
		return
	}
	r := m.(model.Register)

	lf := log.Fields{
		"topic":   r.TopicName,
		"topicID": r.TopicID,
	}
	c.log.WithFields(lf).Debug("Gateway registering topic")

	rc := model.Accepted
	if !c.topics.Add(r.TopicID, r.TopicName) {
		c.log.WithFields(lf).Error("Failed adding topic")
		rc = model.RejectedNotSupported
	}

	if err := c.send(model.Regack{TopicID: r.TopicID, MsgID: r.MsgID, ReturnCode: rc}); err != nil {
		c.log.WithFields(lf).Error("REGACK not sent")
	}
}
