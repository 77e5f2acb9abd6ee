package mqttsn

import (
	"unicode/utf8"

	"github.com/RoanBrand/mqttsn/internal/model"
)

// NodeID addresses a station on the radio network.
type NodeID = model.NodeID

// Transport is a packet socket with a fixed maximum payload, such as an
// nRF24L01+ radio, or the websocket bridge in internal/websocket.
// Each packet carries the node it was sent from.
type Transport interface {
	// Send transmits one packet to node dst.
	Send(p []byte, dst NodeID) error
	// Available reports whether Receive has a packet ready without blocking.
	Available() bool
	// Receive copies one packet into p and returns its size and sender.
	Receive(p []byte) (n int, src NodeID, err error)
}

// Callback receives inbound publishes. Payload is the raw message data.
type Callback func(topic, payload string)

// UnknownTopic is passed to the Callback for publishes to unregistered topic IDs.
const UnknownTopic = "?"

// Build time limits of the client.
const (
	// Longest client ID sent in CONNECT. Longer IDs are truncated.
	MaxClientIDLen = 23
	// Longest topic name that fits a REGISTER packet.
	MaxTopicNameLen = model.PayloadCapacity - model.RegisterLen
	// Longest payload that fits a PUBLISH packet.
	MaxDataLen = model.PayloadCapacity - model.PublishLen
	// Number of topics the client can hold.
	MaxTopics = 10
)

// ClientID is a client identifier bounded to MaxClientIDLen bytes.
type ClientID struct {
	id        string
	truncated bool
}

// NewClientID keeps the first MaxClientIDLen bytes of id, backing off to
// a rune boundary so a multi-byte character is never cut in half.
func NewClientID(id string) ClientID {
	if len(id) <= MaxClientIDLen {
		return ClientID{id: id}
	}

	cut := MaxClientIDLen
	for cut > 0 && !utf8.RuneStart(id[cut]) {
		cut--
	}
	return ClientID{id: id[:cut], truncated: true}
}

func (c ClientID) String() string {
	return c.id
}

// Truncated reports whether the original ID was shortened.
func (c ClientID) Truncated() bool {
	return c.truncated
}
