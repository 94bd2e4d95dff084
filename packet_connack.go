package mqttclient

import "fmt"

// ConnackPacket is the CONNACK control packet. On MQTT 3.1.1 the return
// code is carried in ReasonCode using the matching 5.0 reason code.
type ConnackPacket struct {
	SessionPresent bool
	ReasonCode     ReasonCode
	Props          Properties
}

func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

func (p *ConnackPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	var ackFlags byte
	if p.SessionPresent {
		ackFlags = 0x01
	}
	e.writeByte(ackFlags)

	if v == ProtocolV311 {
		code, ok := connackReturnCode(p.ReasonCode)
		if !ok {
			return 0, fmt.Errorf("mqtt: reason code %s has no MQTT 3.1.1 CONNACK equivalent", p.ReasonCode)
		}
		e.writeByte(code)
		return 0, nil
	}

	e.writeByte(byte(p.ReasonCode))
	return 0, p.Props.encode(e, PacketCONNACK)
}

func (p *ConnackPacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	ackFlags, err := d.readByte()
	if err != nil {
		return err
	}
	if ackFlags&0xFE != 0 {
		return fmt.Errorf("%w: reserved CONNACK flags set", ErrMalformedPacket)
	}
	p.SessionPresent = ackFlags&0x01 != 0

	code, err := d.readByte()
	if err != nil {
		return err
	}

	if v == ProtocolV311 {
		reason, ok := v311ConnackCodes[code]
		if !ok {
			return fmt.Errorf("%w: CONNACK return code 0x%02X", ErrMalformedPacket, code)
		}
		p.ReasonCode = reason
	} else {
		p.ReasonCode = ReasonCode(code)
		if err := p.Props.decode(d, PacketCONNACK); err != nil {
			return err
		}
	}

	if p.SessionPresent && p.ReasonCode.IsError() {
		return fmt.Errorf("%w: session present with failure code", ErrMalformedPacket)
	}
	if d.remaining() != 0 {
		return fmt.Errorf("%w: trailing bytes after CONNACK", ErrMalformedPacket)
	}
	return nil
}
