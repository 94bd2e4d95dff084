package mqttclient

import (
	"errors"
	"fmt"
)

// SUBSCRIBE packet errors.
var (
	ErrNoSubscriptions      = errors.New("mqtt: at least one subscription required")
	ErrInvalidRetainHandler = errors.New("mqtt: retain handling must be 0, 1 or 2")
)

// Subscription options bits.
const (
	subOptQoS               = 0x03
	subOptNoLocal           = 0x04
	subOptRetainAsPublished = 0x08
	subOptRetainHandling    = 0x30
	subOptReserved          = 0xC0
)

// Subscription is one topic filter with its options. On MQTT 3.1.1 only
// TopicFilter and QoS are sent.
type Subscription struct {
	TopicFilter       string
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte

	// SubscriptionID is sent as the packet's Subscription Identifier
	// property on MQTT 5.0. Zero means none.
	SubscriptionID uint32
}

func (s Subscription) options(v ProtocolVersion) (byte, error) {
	if s.QoS > QoS2 {
		return 0, ErrInvalidQoS
	}
	if v == ProtocolV311 {
		return s.QoS, nil
	}
	if s.RetainHandling > 2 {
		return 0, ErrInvalidRetainHandler
	}
	opts := s.QoS | s.RetainHandling<<4
	if s.NoLocal {
		opts |= subOptNoLocal
	}
	if s.RetainAsPublished {
		opts |= subOptRetainAsPublished
	}
	return opts, nil
}

// SubscribePacket is the SUBSCRIBE control packet.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
	Props         Properties
}

func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

func (p *SubscribePacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	if p.PacketID == 0 {
		return 0, ErrPacketIDRequired
	}
	if len(p.Subscriptions) == 0 {
		return 0, ErrNoSubscriptions
	}

	e.writeUint16(p.PacketID)
	if v == ProtocolV5 {
		if err := p.Props.encode(e, PacketSUBSCRIBE); err != nil {
			return 0, err
		}
	}
	for _, s := range p.Subscriptions {
		opts, err := s.options(v)
		if err != nil {
			return 0, err
		}
		if err := e.writeString(s.TopicFilter); err != nil {
			return 0, err
		}
		e.writeByte(opts)
	}
	return 0x02, nil
}

func (p *SubscribePacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	var err error
	if p.PacketID, err = d.readUint16(); err != nil {
		return err
	}
	var subID uint32
	if v == ProtocolV5 {
		if err := p.Props.decode(d, PacketSUBSCRIBE); err != nil {
			return err
		}
		if ids := p.Props.SubscriptionIdentifiers(); len(ids) > 0 {
			subID = ids[0]
		}
	}

	for d.remaining() > 0 {
		var s Subscription
		if s.TopicFilter, err = d.readString(); err != nil {
			return err
		}
		opts, err := d.readByte()
		if err != nil {
			return err
		}
		reserved := byte(subOptReserved)
		if v == ProtocolV311 {
			reserved = ^byte(subOptQoS)
		}
		if opts&reserved != 0 {
			return fmt.Errorf("%w: reserved subscription option bits set", ErrMalformedPacket)
		}
		s.QoS = opts & subOptQoS
		s.NoLocal = opts&subOptNoLocal != 0
		s.RetainAsPublished = opts&subOptRetainAsPublished != 0
		s.RetainHandling = (opts & subOptRetainHandling) >> 4
		if s.QoS > QoS2 || s.RetainHandling > 2 {
			return fmt.Errorf("%w: invalid subscription options 0x%02X", ErrMalformedPacket, opts)
		}
		s.SubscriptionID = subID
		p.Subscriptions = append(p.Subscriptions, s)
	}
	if len(p.Subscriptions) == 0 {
		return fmt.Errorf("%w: SUBSCRIBE without topic filters", ErrMalformedPacket)
	}
	return nil
}

// SubackPacket is the SUBACK control packet. ReasonCodes holds one entry per
// requested filter; MQTT 3.1.1 failure 0x80 maps to ReasonUnspecifiedError.
type SubackPacket struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

func (p *SubackPacket) encodeBody(e *encoder, v ProtocolVersion) (byte, error) {
	e.writeUint16(p.PacketID)
	if v == ProtocolV5 {
		if err := p.Props.encode(e, PacketSUBACK); err != nil {
			return 0, err
		}
	}
	for _, rc := range p.ReasonCodes {
		if v == ProtocolV311 && rc.IsError() {
			rc = subackV311Failure
		}
		e.writeByte(byte(rc))
	}
	return 0, nil
}

func (p *SubackPacket) decodeBody(d *decoder, _ byte, v ProtocolVersion) error {
	var err error
	if p.PacketID, err = d.readUint16(); err != nil {
		return err
	}
	if v == ProtocolV5 {
		if err := p.Props.decode(d, PacketSUBACK); err != nil {
			return err
		}
	}
	for d.remaining() > 0 {
		code, _ := d.readByte()
		if v == ProtocolV311 && code > 2 && code != subackV311Failure {
			return fmt.Errorf("%w: SUBACK return code 0x%02X", ErrMalformedPacket, code)
		}
		p.ReasonCodes = append(p.ReasonCodes, ReasonCode(code))
	}
	return nil
}
