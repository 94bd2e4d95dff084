package mqttclient

import (
	"errors"
	"fmt"
)

// ErrAuthNotSupported is returned when AUTH is used on an MQTT 3.1.1 connection.
var ErrAuthNotSupported = errors.New("mqtt: AUTH requires MQTT 5.0")

// AuthPacket is the MQTT 5.0 AUTH control packet used for enhanced
// authentication exchanges.
type AuthPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

func (p *AuthPacket) Type() PacketType { return PacketAUTH }

func (p *AuthPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	if v != ProtocolV5 {
		return 0, ErrAuthNotSupported
	}
	if p.ReasonCode == ReasonSuccess && p.Props.Len() == 0 {
		return 0, nil
	}
	e.writeByte(byte(p.ReasonCode))
	return 0, p.Props.encode(e, PacketAUTH)
}

func (p *AuthPacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	if v != ProtocolV5 {
		return fmt.Errorf("%w: AUTH on MQTT %s", ErrMalformedPacket, v)
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
	if p.ReasonCode != ReasonSuccess && p.ReasonCode != ReasonContinueAuth && p.ReasonCode != ReasonReAuth {
		return fmt.Errorf("%w: AUTH reason code %s", ErrMalformedPacket, p.ReasonCode)
	}
	if d.remaining() == 0 {
		return nil
	}
	return p.Props.decode(d, PacketAUTH)
}

// method returns the authentication method property.
func (p *AuthPacket) method() string {
	m, _ := p.Props.String(PropAuthenticationMethod)
	return m
}

// data returns the authentication data property.
func (p *AuthPacket) data() []byte {
	b, _ := p.Props.Binary(PropAuthenticationData)
	return b
}
