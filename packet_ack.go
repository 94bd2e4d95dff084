package mqttclient

import "fmt"

// ack is the shared body of PUBACK, PUBREC, PUBREL and PUBCOMP.
type ack struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

func (a *ack) encode(e *encoder, t PacketType, v ProtocolVersion) error {
	if a.PacketID == 0 {
		return ErrPacketIDRequired
	}
	e.writeUint16(a.PacketID)
	if v == ProtocolV311 {
		return nil
	}
	// Reason code and properties may be omitted on success without properties.
	if a.ReasonCode == ReasonSuccess && a.Props.Len() == 0 {
		return nil
	}
	e.writeByte(byte(a.ReasonCode))
	if a.Props.Len() == 0 {
		return nil
	}
	return a.Props.encode(e, t)
}

func (a *ack) decode(d *decoder, t PacketType, v ProtocolVersion) error {
	var err error
	if a.PacketID, err = d.readUint16(); err != nil {
		return err
	}
	if a.PacketID == 0 {
		return fmt.Errorf("%w: %s with packet identifier 0", ErrMalformedPacket, t)
	}
	if v == ProtocolV311 {
		if d.remaining() != 0 {
			return fmt.Errorf("%w: %s remaining length must be 2", ErrMalformedPacket, t)
		}
		return nil
	}

	a.ReasonCode = ReasonSuccess
	if d.remaining() == 0 {
		return nil
	}
	code, err := d.readByte()
	if err != nil {
		return err
	}
	a.ReasonCode = ReasonCode(code)
	if d.remaining() == 0 {
		return nil
	}
	return a.Props.decode(d, t)
}

// PubackPacket is the PUBACK control packet (QoS 1 acknowledgement).
type PubackPacket struct{ ack }

func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

func (p *PubackPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	return 0, p.encode(e, PacketPUBACK, v)
}

func (p *PubackPacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	return p.decode(d, PacketPUBACK, v)
}

// PubrecPacket is the PUBREC control packet (QoS 2 delivery part 1).
type PubrecPacket struct{ ack }

func (p *PubrecPacket) Type() PacketType { return PacketPUBREC }

func (p *PubrecPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	return 0, p.encode(e, PacketPUBREC, v)
}

func (p *PubrecPacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	return p.decode(d, PacketPUBREC, v)
}

// PubrelPacket is the PUBREL control packet (QoS 2 delivery part 2).
type PubrelPacket struct{ ack }

func (p *PubrelPacket) Type() PacketType { return PacketPUBREL }

func (p *PubrelPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	return 0x02, p.encode(e, PacketPUBREL, v)
}

func (p *PubrelPacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	return p.decode(d, PacketPUBREL, v)
}

// PubcompPacket is the PUBCOMP control packet (QoS 2 delivery part 3).
type PubcompPacket struct{ ack }

func (p *PubcompPacket) Type() PacketType { return PacketPUBCOMP }

func (p *PubcompPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	return 0, p.encode(e, PacketPUBCOMP, v)
}

func (p *PubcompPacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	return p.decode(d, PacketPUBCOMP, v)
}

func newPuback(id uint16, code ReasonCode) *PubackPacket {
	return &PubackPacket{ack{PacketID: id, ReasonCode: code}}
}

func newPubrec(id uint16, code ReasonCode) *PubrecPacket {
	return &PubrecPacket{ack{PacketID: id, ReasonCode: code}}
}

func newPubrel(id uint16, code ReasonCode) *PubrelPacket {
	return &PubrelPacket{ack{PacketID: id, ReasonCode: code}}
}

func newPubcomp(id uint16, code ReasonCode) *PubcompPacket {
	return &PubcompPacket{ack{PacketID: id, ReasonCode: code}}
}
