package mqttclient

import (
	"errors"
	"fmt"
)

const protocolName = "MQTT"

// Connect flag bits.
const (
	connectFlagReserved   = 0x01
	connectFlagCleanStart = 0x02
	connectFlagWill       = 0x04
	connectFlagWillQoS    = 0x18
	connectFlagWillRetain = 0x20
	connectFlagPassword   = 0x40
	connectFlagUsername   = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName    = fmt.Errorf("%w: protocol name is not MQTT", ErrMalformedPacket)
	ErrInvalidProtocolVersion = errors.New("mqtt: unsupported protocol version")
	ErrInvalidConnectFlags    = fmt.Errorf("%w: invalid connect flags", ErrMalformedPacket)
	ErrPasswordWithoutUser    = errors.New("mqtt: password requires a user name on MQTT 3.1.1")
)

// Will is the message the server publishes when the client disappears.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
	Props   Properties
}

// ConnectPacket is the CONNECT control packet.
type ConnectPacket struct {
	// Version is filled in when the packet is decoded. Encoding always uses
	// the version passed to Encode.
	Version    ProtocolVersion
	ClientID   string
	CleanStart bool
	KeepAlive  uint16
	Username   string
	Password   []byte
	Will       *Will
	Props      Properties
}

func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

func (p *ConnectPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	if !v.Valid() {
		return 0, ErrInvalidProtocolVersion
	}
	if v == ProtocolV311 && len(p.Password) > 0 && p.Username == "" {
		return 0, ErrPasswordWithoutUser
	}

	var flags byte
	if p.CleanStart {
		flags |= connectFlagCleanStart
	}
	if p.Will != nil {
		if p.Will.QoS > QoS2 {
			return 0, ErrInvalidQoS
		}
		flags |= connectFlagWill | p.Will.QoS<<3
		if p.Will.Retain {
			flags |= connectFlagWillRetain
		}
	}
	if p.Username != "" {
		flags |= connectFlagUsername
	}
	if len(p.Password) > 0 {
		flags |= connectFlagPassword
	}

	if err := e.writeString(protocolName); err != nil {
		return 0, err
	}
	e.writeByte(byte(v))
	e.writeByte(flags)
	e.writeUint16(p.KeepAlive)

	if v == ProtocolV5 {
		if err := p.Props.encode(e, PacketCONNECT); err != nil {
			return 0, err
		}
	}

	if err := e.writeString(p.ClientID); err != nil {
		return 0, err
	}

	if p.Will != nil {
		if v == ProtocolV5 {
			if err := p.Will.Props.encode(e, propertyWill); err != nil {
				return 0, err
			}
		}
		if err := e.writeString(p.Will.Topic); err != nil {
			return 0, err
		}
		if err := e.writeBinary(p.Will.Payload); err != nil {
			return 0, err
		}
	}

	if p.Username != "" {
		if err := e.writeString(p.Username); err != nil {
			return 0, err
		}
	}
	if len(p.Password) > 0 {
		if err := e.writeBinary(p.Password); err != nil {
			return 0, err
		}
	}

	return 0, nil
}

// decodeBody ignores v: the protocol level inside the packet is authoritative.
func (p *ConnectPacket) decodeBody(d *decoder, _ byte, _ ProtocolVersion) error {
	name, err := d.readString()
	if err != nil {
		return err
	}
	if name != protocolName {
		return ErrInvalidProtocolName
	}

	level, err := d.readByte()
	if err != nil {
		return err
	}
	p.Version = ProtocolVersion(level)
	if !p.Version.Valid() {
		return ErrInvalidProtocolVersion
	}

	flags, err := d.readByte()
	if err != nil {
		return err
	}
	if flags&connectFlagReserved != 0 {
		return ErrInvalidConnectFlags
	}
	willQoS := (flags & connectFlagWillQoS) >> 3
	hasWill := flags&connectFlagWill != 0
	if willQoS > QoS2 || (!hasWill && (willQoS != 0 || flags&connectFlagWillRetain != 0)) {
		return ErrInvalidConnectFlags
	}
	p.CleanStart = flags&connectFlagCleanStart != 0

	if p.KeepAlive, err = d.readUint16(); err != nil {
		return err
	}

	if p.Version == ProtocolV5 {
		if err := p.Props.decode(d, PacketCONNECT); err != nil {
			return err
		}
	}

	if p.ClientID, err = d.readString(); err != nil {
		return err
	}

	if hasWill {
		w := &Will{QoS: willQoS, Retain: flags&connectFlagWillRetain != 0}
		if p.Version == ProtocolV5 {
			if err := w.Props.decode(d, propertyWill); err != nil {
				return err
			}
		}
		if w.Topic, err = d.readString(); err != nil {
			return err
		}
		if w.Payload, err = d.readBinary(); err != nil {
			return err
		}
		p.Will = w
	}

	if flags&connectFlagUsername != 0 {
		if p.Username, err = d.readString(); err != nil {
			return err
		}
	}
	if flags&connectFlagPassword != 0 {
		if p.Password, err = d.readBinary(); err != nil {
			return err
		}
	}

	if d.remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes after CONNECT payload", ErrMalformedPacket, d.remaining())
	}
	return nil
}
