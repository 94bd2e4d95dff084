package mqttclient

import (
	"errors"
	"fmt"
)

var ErrNoTopicFilters = errors.New("mqtt: at least one topic filter required")

// UnsubscribePacket is the UNSUBSCRIBE control packet.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
	Props        Properties
}

func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

func (p *UnsubscribePacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	if p.PacketID == 0 {
		return 0, ErrPacketIDRequired
	}
	if len(p.TopicFilters) == 0 {
		return 0, ErrNoTopicFilters
	}
	e.writeUint16(p.PacketID)
	if v == ProtocolV5 {
		if err := p.Props.encode(e, PacketUNSUBSCRIBE); err != nil {
			return 0, err
		}
	}
	for _, f := range p.TopicFilters {
		if err := e.writeString(f); err != nil {
			return 0, err
		}
	}
	return 0x02, nil
}

func (p *UnsubscribePacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	var err error
	if p.PacketID, err = d.readUint16(); err != nil {
		return err
	}
	if v == ProtocolV5 {
		if err := p.Props.decode(d, PacketUNSUBSCRIBE); err != nil {
			return err
		}
	}
	for d.remaining() > 0 {
		f, err := d.readString()
		if err != nil {
			return err
		}
		p.TopicFilters = append(p.TopicFilters, f)
	}
	if len(p.TopicFilters) == 0 {
		return fmt.Errorf("%w: UNSUBSCRIBE without topic filters", ErrMalformedPacket)
	}
	return nil
}

// UnsubackPacket is the UNSUBACK control packet. MQTT 3.1.1 carries no
// reason codes, so ReasonCodes stays empty on those connections.
type UnsubackPacket struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

func (p *UnsubackPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	e.writeUint16(p.PacketID)
	if v == ProtocolV311 {
		return 0, nil
	}
	if err := p.Props.encode(e, PacketUNSUBACK); err != nil {
		return 0, err
	}
	for _, rc := range p.ReasonCodes {
		e.writeByte(byte(rc))
	}
	return 0, nil
}

func (p *UnsubackPacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	var err error
	if p.PacketID, err = d.readUint16(); err != nil {
		return err
	}
	if v == ProtocolV311 {
		if d.remaining() != 0 {
			return fmt.Errorf("%w: UNSUBACK remaining length must be 2", ErrMalformedPacket)
		}
		return nil
	}
	if err := p.Props.decode(d, PacketUNSUBACK); err != nil {
		return err
	}
	for d.remaining() > 0 {
		code, _ := d.readByte()
		p.ReasonCodes = append(p.ReasonCodes, ReasonCode(code))
	}
	return nil
}
