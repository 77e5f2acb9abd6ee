package model

import "strconv"

// MsgType is the second byte of every MQTT-SN message.
type MsgType uint8

// Message types used by the client (MQTT-SN 1.2, 5.2.2).
const (
	CONNECT    MsgType = 0x04
	CONNACK    MsgType = 0x05
	REGISTER   MsgType = 0x0A
	REGACK     MsgType = 0x0B
	PUBLISH    MsgType = 0x0C
	SUBSCRIBE  MsgType = 0x12
	SUBACK     MsgType = 0x13
	DISCONNECT MsgType = 0x18
)

func (t MsgType) String() string {
	switch t {
	case CONNECT:
		return "CONNECT"
	case CONNACK:
		return "CONNACK"
	case REGISTER:
		return "REGISTER"
	case REGACK:
		return "REGACK"
	case PUBLISH:
		return "PUBLISH"
	case SUBSCRIBE:
		return "SUBSCRIBE"
	case SUBACK:
		return "SUBACK"
	case DISCONNECT:
		return "DISCONNECT"
	}
	return "0x" + strconv.FormatUint(uint64(t), 16)
}

// ReturnCode is carried by CONNACK, REGACK and SUBACK.
type ReturnCode uint8

const (
	Accepted ReturnCode = iota
	RejectedCongestion
	RejectedInvalidTopicID
	RejectedNotSupported
)

func (rc ReturnCode) String() string {
	switch rc {
	case Accepted:
		return "accepted"
	case RejectedCongestion:
		return "rejected: congestion"
	case RejectedInvalidTopicID:
		return "rejected: invalid topic ID"
	case RejectedNotSupported:
		return "rejected: not supported"
	}
	return "unknown return code " + strconv.Itoa(int(rc))
}

// NodeID addresses a station on the packet radio network.
type NodeID uint8

const (
	// HeaderLen is the size of the length and type bytes.
	HeaderLen = 2

	// PayloadCapacity is the largest packet the radio link carries (nRF24L01+).
	PayloadCapacity = 32

	// ProtocolID identifies MQTT-SN 1.2 in CONNECT.
	ProtocolID = 0x01

	// DurationUnset is sent in CONNECT since keep alive is not negotiated.
	DurationUnset = 0xFFFF
)

// Encoded size of each message without its variable part.
const (
	ConnectLen    = HeaderLen + 4
	ConnackLen    = HeaderLen + 1
	RegisterLen   = HeaderLen + 4
	RegackLen     = HeaderLen + 5
	PublishLen    = HeaderLen + 5
	SubscribeLen  = HeaderLen + 3
	SubackLen     = HeaderLen + 6
	DisconnectLen = HeaderLen
)

// Topic ID types (flags bits 1-0).
const (
	TopicIDTypeName       = 0x00
	TopicIDTypePredefined = 0x01
	TopicIDTypeShort      = 0x02
)

// Flags is the bit-packed flags byte of CONNECT, PUBLISH, SUBSCRIBE and SUBACK.
type Flags struct {
	DUP          bool
	QoS          uint8
	Retain       bool
	Will         bool
	CleanSession bool
	TopicIDType  uint8
}

// Byte packs the flags. Out of range QoS and TopicIDType bits are dropped.
func (f Flags) Byte() byte {
	return b2u8(f.DUP)<<7 | (f.QoS&0x03)<<5 | b2u8(f.Retain)<<4 |
		b2u8(f.Will)<<3 | b2u8(f.CleanSession)<<2 | f.TopicIDType&0x03
}

// ParseFlags unpacks a flags byte. Reserved combinations are not validated.
func ParseFlags(b byte) Flags {
	return Flags{
		DUP:          b&0x80 > 0,
		QoS:          (b >> 5) & 0x03,
		Retain:       b&0x10 > 0,
		Will:         b&0x08 > 0,
		CleanSession: b&0x04 > 0,
		TopicIDType:  b & 0x03,
	}
}

// Header is common to all messages.
type Header struct {
	Length uint8
	Type   MsgType
}

// ParseHeader reads the header. It does not check Length against len(b).
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortPacket
	}
	return Header{Length: b[0], Type: MsgType(b[1])}, nil
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
