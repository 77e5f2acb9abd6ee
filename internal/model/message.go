package model

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var (
	ErrShortPacket     = errors.New("packet shorter than header")
	ErrLengthMismatch  = errors.New("declared length does not match packet")
	ErrMalformed       = errors.New("malformed message")
	ErrUnknownType     = errors.New("unknown message type")
	ErrMessageTooLarge = errors.New("message does not fit buffer")
)

// Message is one of the MQTT-SN message variants below.
type Message interface {
	Type() MsgType
	// Len is the total encoded size including the header.
	Len() int
	// put writes the body after the header. b has length Len().
	put(b []byte)
}

// Put encodes m into dst and returns the number of bytes written.
// The first byte is always the total length and the second the message type.
func Put(dst []byte, m Message) (int, error) {
	l := m.Len()
	if l > 0xFF {
		return 0, errors.Wrapf(ErrMessageTooLarge, "%s of %d bytes", m.Type(), l)
	}
	if l > len(dst) {
		return 0, errors.Wrapf(ErrMessageTooLarge, "%s of %d bytes into %d", m.Type(), l, len(dst))
	}

	b := dst[:l]
	b[0], b[1] = byte(l), byte(m.Type())
	m.put(b)
	return l, nil
}

// Encode returns m as a new byte slice.
func Encode(m Message) ([]byte, error) {
	b := make([]byte, m.Len())
	if _, err := Put(b, m); err != nil {
		return nil, err
	}
	return b, nil
}

// Decode parses the message in b. Only the first Length bytes declared by the
// header are read, and the body is parsed only if that length is consistent.
// Strings and payloads are copied out of b.
func Decode(b []byte) (Message, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if int(h.Length) < HeaderLen || int(h.Length) > len(b) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%s declares %d bytes, have %d", h.Type, h.Length, len(b))
	}
	b = b[:h.Length]

	need := 0
	switch h.Type {
	case CONNECT:
		need = ConnectLen
	case CONNACK:
		need = ConnackLen
	case REGISTER:
		need = RegisterLen
	case REGACK:
		need = RegackLen
	case PUBLISH:
		need = PublishLen
	case SUBSCRIBE:
		need = SubscribeLen
	case SUBACK:
		need = SubackLen
	case DISCONNECT:
		need = DisconnectLen
	default:
		return nil, errors.Wrap(ErrUnknownType, h.Type.String())
	}
	if len(b) < need {
		return nil, errors.Wrapf(ErrMalformed, "%s of %d bytes, need %d", h.Type, len(b), need)
	}

	switch h.Type {
	case CONNECT:
		return Connect{
			Flags:      ParseFlags(b[2]),
			ProtocolID: b[3],
			Duration:   binary.BigEndian.Uint16(b[4:]),
			ClientID:   string(b[6:]),
		}, nil
	case CONNACK:
		return Connack{ReturnCode: ReturnCode(b[2])}, nil
	case REGISTER:
		return Register{
			TopicID:   binary.BigEndian.Uint16(b[2:]),
			MsgID:     binary.BigEndian.Uint16(b[4:]),
			TopicName: string(b[6:]),
		}, nil
	case REGACK:
		return Regack{
			TopicID:    binary.BigEndian.Uint16(b[2:]),
			MsgID:      binary.BigEndian.Uint16(b[4:]),
			ReturnCode: ReturnCode(b[6]),
		}, nil
	case PUBLISH:
		p := Publish{
			Flags:   ParseFlags(b[2]),
			TopicID: binary.BigEndian.Uint16(b[3:]),
			MsgID:   binary.BigEndian.Uint16(b[5:]),
		}
		if len(b) > PublishLen {
			p.Data = append([]byte(nil), b[7:]...)
		}
		return p, nil
	case SUBSCRIBE:
		return Subscribe{
			Flags:     ParseFlags(b[2]),
			MsgID:     binary.BigEndian.Uint16(b[3:]),
			TopicName: string(b[5:]),
		}, nil
	case SUBACK:
		return Suback{
			Flags:      ParseFlags(b[2]),
			TopicID:    binary.BigEndian.Uint16(b[3:]),
			MsgID:      binary.BigEndian.Uint16(b[5:]),
			ReturnCode: ReturnCode(b[7]),
		}, nil
	default: // DISCONNECT
		var d Disconnect
		if len(b) >= DisconnectLen+2 {
			d.Duration = binary.BigEndian.Uint16(b[2:])
		}
		return d, nil
	}
}

// Connect requests a session with the gateway.
type Connect struct {
	Flags      Flags
	ProtocolID uint8
	Duration   uint16
	ClientID   string
}

func (Connect) Type() MsgType { return CONNECT }
func (m Connect) Len() int { return ConnectLen + len(m.ClientID) }
func (m Connect) put(b []byte) {
	b[2], b[3] = m.Flags.Byte(), m.ProtocolID
	binary.BigEndian.PutUint16(b[4:], m.Duration)
	copy(b[6:], m.ClientID)
}

// Connack answers Connect.
type Connack struct {
	ReturnCode ReturnCode
}

func (Connack) Type() MsgType { return CONNACK }
func (Connack) Len() int { return ConnackLen }
func (m Connack) put(b []byte) { b[2] = byte(m.ReturnCode) }

// Register maps a topic name to an ID. TopicID is 0 when sent by the client.
type Register struct {
	TopicID   uint16
	MsgID     uint16
	TopicName string
}

func (Register) Type() MsgType { return REGISTER }
func (m Register) Len() int { return RegisterLen + len(m.TopicName) }
func (m Register) put(b []byte) {
	binary.BigEndian.PutUint16(b[2:], m.TopicID)
	binary.BigEndian.PutUint16(b[4:], m.MsgID)
	copy(b[6:], m.TopicName)
}

// Regack answers Register.
type Regack struct {
	TopicID    uint16
	MsgID      uint16
	ReturnCode ReturnCode
}

func (Regack) Type() MsgType { return REGACK }
func (Regack) Len() int { return RegackLen }
func (m Regack) put(b []byte) {
	binary.BigEndian.PutUint16(b[2:], m.TopicID)
	binary.BigEndian.PutUint16(b[4:], m.MsgID)
	b[6] = byte(m.ReturnCode)
}

// Publish carries application data for a registered topic ID.
type Publish struct {
	Flags   Flags
	TopicID uint16
	MsgID   uint16
	Data    []byte
}

func (Publish) Type() MsgType { return PUBLISH }
func (m Publish) Len() int { return PublishLen + len(m.Data) }
func (m Publish) put(b []byte) {
	b[2] = m.Flags.Byte()
	binary.BigEndian.PutUint16(b[3:], m.TopicID)
	binary.BigEndian.PutUint16(b[5:], m.MsgID)
	copy(b[7:], m.Data)
}

// Subscribe requests publishes for a topic name.
type Subscribe struct {
	Flags     Flags
	MsgID     uint16
	TopicName string
}

func (Subscribe) Type() MsgType { return SUBSCRIBE }
func (m Subscribe) Len() int { return SubscribeLen + len(m.TopicName) }
func (m Subscribe) put(b []byte) {
	b[2] = m.Flags.Byte()
	binary.BigEndian.PutUint16(b[3:], m.MsgID)
	copy(b[5:], m.TopicName)
}

// Suback answers Subscribe. TopicID is 0 for wildcard subscriptions.
type Suback struct {
	Flags      Flags
	TopicID    uint16
	MsgID      uint16
	ReturnCode ReturnCode
}

func (Suback) Type() MsgType { return SUBACK }
func (Suback) Len() int { return SubackLen }
func (m Suback) put(b []byte) {
	b[2] = m.Flags.Byte()
	binary.BigEndian.PutUint16(b[3:], m.TopicID)
	binary.BigEndian.PutUint16(b[5:], m.MsgID)
	b[7] = byte(m.ReturnCode)
}

// Disconnect ends the session. Duration is only encoded when nonzero.
type Disconnect struct {
	Duration uint16
}

func (Disconnect) Type() MsgType { return DISCONNECT }
func (m Disconnect) Len() int {
	if m.Duration != 0 {
		return DisconnectLen + 2
	}
	return DisconnectLen
}
func (m Disconnect) put(b []byte) {
	if m.Duration != 0 {
		binary.BigEndian.PutUint16(b[2:], m.Duration)
	}
}
