package mqttclient

import (
	"fmt"
	"slices"
)

// ProtocolVersion is the protocol level carried in CONNECT.
type ProtocolVersion byte

const (
	ProtocolV311 ProtocolVersion = 4
	ProtocolV5   ProtocolVersion = 5
)

// String returns the protocol version as "3.1.1" or "5.0".
func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV311:
		return "3.1.1"
	case ProtocolV5:
		return "5.0"
	default:
		return fmt.Sprintf("unknown(%d)", byte(v))
	}
}

// Valid reports whether the version is supported.
func (v ProtocolVersion) Valid() bool {
	return v == ProtocolV311 || v == ProtocolV5
}

// QoS levels.
const (
	QoS0 byte = 0
	QoS1 byte = 1
	QoS2 byte = 2
)

// Packet is an MQTT control packet. The concrete types in this package are
// the only implementations; dispatch on them with a type switch.
type Packet interface {
	// Type returns the control packet type.
	Type() PacketType

	// encodeBody writes the variable header and payload and returns the
	// fixed header flags.
	encodeBody(e *encoder, v ProtocolVersion) (byte, error)

	// decodeBody parses the variable header and payload of a complete packet.
	decodeBody(d *decoder, flags byte, v ProtocolVersion) error
}

// newPacket returns an empty packet for the given type.
func newPacket(t PacketType) (Packet, error) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	case PacketAUTH:
		return &AuthPacket{}, nil
	default:
		return nil, ErrInvalidPacketType
	}
}

// Message is an application message, published or received.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	// Duplicate is set on received messages that carried the DUP flag.
	Duplicate bool

	// MQTT 5.0 publish properties. Ignored on 3.1.1 connections.
	PayloadFormat           byte
	MessageExpiry           uint32
	ContentType             string
	ResponseTopic           string
	CorrelationData         []byte
	UserProperties          []StringPair
	SubscriptionIdentifiers []uint32

	// PacketID is set on received QoS 1 and 2 messages.
	PacketID uint16

	ack *acknowledger
}

// Clone creates a deep copy of the message without its acknowledgement handle.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	clone.ack = nil
	clone.Payload = slices.Clone(m.Payload)
	clone.CorrelationData = slices.Clone(m.CorrelationData)
	clone.UserProperties = slices.Clone(m.UserProperties)
	clone.SubscriptionIdentifiers = slices.Clone(m.SubscriptionIdentifiers)
	return &clone
}

// Ack acknowledges a received message when manual acknowledgement is enabled.
// Calling it a second time returns ErrIllegalState. With automatic
// acknowledgement, or for QoS 0 messages, it is a no-op.
func (m *Message) Ack() error {
	if m.ack == nil {
		return nil
	}
	return m.ack.acknowledge()
}

func (m *Message) properties() Properties {
	var p Properties
	if m.PayloadFormat != 0 {
		_ = p.Set(PropPayloadFormatIndicator, m.PayloadFormat)
	}
	if m.MessageExpiry != 0 {
		_ = p.Set(PropMessageExpiryInterval, m.MessageExpiry)
	}
	if m.ContentType != "" {
		_ = p.Set(PropContentType, m.ContentType)
	}
	if m.ResponseTopic != "" {
		_ = p.Set(PropResponseTopic, m.ResponseTopic)
	}
	if len(m.CorrelationData) > 0 {
		_ = p.Set(PropCorrelationData, m.CorrelationData)
	}
	for _, up := range m.UserProperties {
		_ = p.Add(PropUserProperty, up)
	}
	return p
}

func (m *Message) setProperties(p *Properties) {
	m.PayloadFormat, _ = p.Byte(PropPayloadFormatIndicator)
	m.MessageExpiry, _ = p.Uint32(PropMessageExpiryInterval)
	m.ContentType, _ = p.String(PropContentType)
	m.ResponseTopic, _ = p.String(PropResponseTopic)
	m.CorrelationData, _ = p.Binary(PropCorrelationData)
	m.UserProperties = p.UserProperties()
	m.SubscriptionIdentifiers = p.SubscriptionIdentifiers()
}
