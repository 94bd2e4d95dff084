package mqttclient

import (
	"errors"
	"fmt"
)

// PUBLISH packet errors.
var (
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level")
	ErrPacketIDRequired = errors.New("mqtt: packet identifier required for QoS > 0")
	ErrTopicRequired    = errors.New("mqtt: topic name or topic alias required")
)

// Publish flag bits.
const (
	publishFlagRetain = 0x01
	publishFlagQoS    = 0x06
	publishFlagDUP    = 0x08
)

// PublishPacket is the PUBLISH control packet.
type PublishPacket struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	DUP      bool
	PacketID uint16
	Props    Properties
}

func (p *PublishPacket) Type() PacketType { return PacketPUBLISH }

func (p *PublishPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	if p.QoS > QoS2 {
		return 0, ErrInvalidQoS
	}
	if p.QoS > QoS0 && p.PacketID == 0 {
		return 0, ErrPacketIDRequired
	}
	if p.QoS == QoS0 && p.DUP {
		return 0, ErrInvalidPacketFlags
	}
	if p.Topic == "" && (v == ProtocolV311 || !p.Props.Has(PropTopicAlias)) {
		return 0, ErrTopicRequired
	}

	flags := p.QoS << 1
	if p.DUP {
		flags |= publishFlagDUP
	}
	if p.Retain {
		flags |= publishFlagRetain
	}

	if err := e.writeString(p.Topic); err != nil {
		return 0, err
	}
	if p.QoS > QoS0 {
		e.writeUint16(p.PacketID)
	}
	if v == ProtocolV5 {
		if err := p.Props.encode(e, PacketPUBLISH); err != nil {
			return 0, err
		}
	}
	e.writeRaw(p.Payload)

	return flags, nil
}

func (p *PublishPacket) decodeBody(d *decoder, flags byte, v ProtocolVersion) error {
	p.DUP = flags&publishFlagDUP != 0
	p.QoS = (flags & publishFlagQoS) >> 1
	p.Retain = flags&publishFlagRetain != 0

	var err error
	if p.Topic, err = d.readString(); err != nil {
		return err
	}
	if p.QoS > QoS0 {
		if p.PacketID, err = d.readUint16(); err != nil {
			return err
		}
		if p.PacketID == 0 {
			return fmt.Errorf("%w: PUBLISH with packet identifier 0", ErrMalformedPacket)
		}
	}
	if v == ProtocolV5 {
		if err := p.Props.decode(d, PacketPUBLISH); err != nil {
			return err
		}
	}
	if p.Topic == "" && !p.Props.Has(PropTopicAlias) {
		return fmt.Errorf("%w: empty topic without topic alias", ErrMalformedPacket)
	}

	p.Payload = d.rest()
	return nil
}

// Message converts the packet into an application message.
func (p *PublishPacket) Message() *Message {
	m := &Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: p.DUP,
		PacketID:  p.PacketID,
	}
	m.setProperties(&p.Props)
	return m
}

// newPublishPacket builds a PUBLISH from an application message. The packet
// identifier is assigned later by the outgoing flow manager.
func newPublishPacket(m *Message) *PublishPacket {
	return &PublishPacket{
		Topic:   m.Topic,
		Payload: m.Payload,
		QoS:     m.QoS,
		Retain:  m.Retain,
		Props:   m.properties(),
	}
}
