package mqttclient

import "fmt"

// PingreqPacket is the PINGREQ control packet.
type PingreqPacket struct{}

func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

func (p *PingreqPacket) encodeBody(*encoder, ProtocolVersion) (byte, error) { return 0, nil }

func (p *PingreqPacket) decodeBody(d *decoder, _ byte, _ ProtocolVersion) error {
	return expectEmpty(d, PacketPINGREQ)
}

// PingrespPacket is the PINGRESP control packet.
type PingrespPacket struct{}

func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

func (p *PingrespPacket) encodeBody(*encoder, ProtocolVersion) (byte, error) { return 0, nil }

func (p *PingrespPacket) decodeBody(d *decoder, _ byte, _ ProtocolVersion) error {
	return expectEmpty(d, PacketPINGRESP)
}

func expectEmpty(d *decoder, t PacketType) error {
	if d.remaining() != 0 {
		return fmt.Errorf("%w: %s with remaining length %d", ErrMalformedPacket, t, d.remaining())
	}
	return nil
}
