package mqttclient

// DisconnectPacket is the DISCONNECT control packet. MQTT 3.1.1 has no
// reason code or properties and always encodes an empty body.
type DisconnectPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *DisconnectPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	if v == ProtocolV311 {
		return 0, nil
	}
	if p.ReasonCode == ReasonSuccess && p.Props.Len() == 0 {
		return 0, nil
	}
	e.writeByte(byte(p.ReasonCode))
	if p.Props.Len() == 0 {
		return 0, nil
	}
	return 0, p.Props.encode(e, PacketDISCONNECT)
}

func (p *DisconnectPacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	if v == ProtocolV311 {
		return expectEmpty(d, PacketDISCONNECT)
	}
	p.ReasonCode = ReasonSuccess
	if d.remaining() == 0 {
		return nil
	}
	code, err := d.readByte()
	if err != nil {
		return err
	}
	p.ReasonCode = ReasonCode(code)
	if d.remaining() == 0 {
		return nil
	}
	return p.Props.decode(d, PacketDISCONNECT)
}
