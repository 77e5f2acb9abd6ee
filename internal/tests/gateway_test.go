package tests_test

import (
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/RoanBrand/mqttsn/internal/model"
	"github.com/RoanBrand/mqttsn/internal/websocket"
	log "github.com/sirupsen/logrus"
)

const gwNode model.NodeID = 1

type subscription struct {
	conn   *gwConn
	filter string
}

type retained struct {
	topic string
	data  []byte
}

// gateway is a minimal QoS 0 MQTT-SN gateway on the websocket radio bridge.
type gateway struct {
	srv *httptest.Server

	sync.Mutex
	topicIDs map[string]uint16
	names    map[uint16]string
	subs     []subscription
	retained map[uint16]retained
	conns    []*gwConn
}

type gwConn struct {
	s     *websocket.Socket
	node  model.NodeID
	known map[uint16]bool
	wLock sync.Mutex
	msgID uint16
}

func newGateway() *gateway {
	g := gateway{
		topicIDs: make(map[string]uint16),
		names:    make(map[uint16]string),
		retained: make(map[uint16]retained),
	}
	g.srv = httptest.NewServer(websocket.Handler(gwNode, false, g.serve))
	return &g
}

func (g *gateway) URL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *gateway) Close() {
	g.Lock()
	for _, c := range g.conns {
		c.s.Close()
	}
	g.Unlock()
	g.srv.Close()
}

func (g *gateway) serve(s *websocket.Socket) {
	c := gwConn{s: s, known: make(map[uint16]bool)}
	g.Lock()
	g.conns = append(g.conns, &c)
	g.Unlock()

	buf := make([]byte, model.PayloadCapacity)
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		if !s.Available() {
			select {
			case <-s.Done():
				return
			case <-tick.C:
			}
			continue
		}

		n, src, err := s.Receive(buf)
		if err != nil {
			continue
		}
		if c.node != src {
			c.wLock.Lock()
			c.node = src
			c.wLock.Unlock()
		}

		m, err := model.Decode(buf[:n])
		if err != nil {
			log.WithError(err).Error("gateway: bad packet")
			continue
		}
		g.handle(&c, m)
	}
}

func (g *gateway) handle(c *gwConn, m model.Message) {
	switch m := m.(type) {
	case model.Connect:
		if m.ClientID == "mute" {
			return
		}
		rc := model.Accepted
		if m.ClientID == "reject-me" {
			rc = model.RejectedNotSupported
		}
		c.send(model.Connack{ReturnCode: rc})
	case model.Register:
		id := g.topicID(m.TopicName)
		c.learn(id)
		c.send(model.Regack{TopicID: id, MsgID: m.MsgID, ReturnCode: model.Accepted})
	case model.Subscribe:
		g.subscribe(c, m)
	case model.Publish:
		g.publish(m)
	case model.Disconnect:
		c.send(model.Disconnect{})
	}
}

func (g *gateway) topicID(name string) uint16 {
	g.Lock()
	defer g.Unlock()
	id, ok := g.topicIDs[name]
	if !ok {
		id = uint16(len(g.topicIDs) + 1)
		g.topicIDs[name] = id
		g.names[id] = name
	}
	return id
}

func (g *gateway) subscribe(c *gwConn, m model.Subscribe) {
	wildcard := strings.ContainsAny(m.TopicName, "+#")
	var id uint16
	if !wildcard {
		id = g.topicID(m.TopicName)
		c.learn(id)
	}

	g.Lock()
	g.subs = append(g.subs, subscription{c, m.TopicName})
	var ret []retained
	for _, r := range g.retained {
		if match(m.TopicName, r.topic) {
			ret = append(ret, r)
		}
	}
	g.Unlock()

	// Retained messages go out before SUBACK.
	for _, r := range ret {
		c.deliver(g.topicID(r.topic), r.topic, r.data)
	}

	c.send(model.Suback{TopicID: id, MsgID: m.MsgID, ReturnCode: model.Accepted})
}

func (g *gateway) publish(m model.Publish) {
	g.Lock()
	name, ok := g.names[m.TopicID]
	if !ok {
		g.Unlock()
		return
	}
	if m.Flags.Retain {
		g.retained[m.TopicID] = retained{name, m.Data}
	}
	var to []*gwConn
	for _, s := range g.subs {
		if match(s.filter, name) {
			to = append(to, s.conn)
		}
	}
	g.Unlock()

	for _, c := range to {
		c.deliver(m.TopicID, name, m.Data)
	}
}

// learn records that the client knows topic ID id.
func (c *gwConn) learn(id uint16) bool {
	c.wLock.Lock()
	defer c.wLock.Unlock()
	known := c.known[id]
	c.known[id] = true
	return known
}

func (c *gwConn) deliver(id uint16, name string, data []byte) {
	if !c.learn(id) {
		c.wLock.Lock()
		msgID := c.msgID
		c.msgID++
		c.wLock.Unlock()
		c.send(model.Register{TopicID: id, MsgID: msgID, TopicName: name})
	}
	c.send(model.Publish{TopicID: id, Data: data})
}

func (c *gwConn) send(m model.Message) {
	b, err := model.Encode(m)
	if err != nil {
		log.WithError(err).Error("gateway: encode")
		return
	}
	c.wLock.Lock()
	defer c.wLock.Unlock()
	if err = c.s.Send(b, c.node); err != nil {
		log.WithError(err).Debug("gateway: send")
	}
}

// match reports whether topic matches an MQTT topic filter.
func match(filter, topic string) bool {
	fs, ts := strings.Split(filter, "/"), strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) || (f != "+" && f != ts[i]) {
			return false
		}
	}
	return len(fs) == len(ts)
}
