package mqttclient

import (
	"errors"
	"fmt"
	"slices"
)

// PropertyID represents an MQTT 5.0 property identifier.
type PropertyID byte

// Property identifiers.
const (
	PropPayloadFormatIndicator   PropertyID = 0x01
	PropMessageExpiryInterval    PropertyID = 0x02
	PropContentType              PropertyID = 0x03
	PropResponseTopic            PropertyID = 0x08
	PropCorrelationData          PropertyID = 0x09
	PropSubscriptionIdentifier   PropertyID = 0x0B
	PropSessionExpiryInterval    PropertyID = 0x11
	PropAssignedClientIdentifier PropertyID = 0x12
	PropServerKeepAlive          PropertyID = 0x13
	PropAuthenticationMethod     PropertyID = 0x15
	PropAuthenticationData       PropertyID = 0x16
	PropRequestProblemInfo       PropertyID = 0x17
	PropWillDelayInterval        PropertyID = 0x18
	PropRequestResponseInfo      PropertyID = 0x19
	PropResponseInformation      PropertyID = 0x1A
	PropServerReference          PropertyID = 0x1C
	PropReasonString             PropertyID = 0x1F
	PropReceiveMaximum           PropertyID = 0x21
	PropTopicAliasMaximum        PropertyID = 0x22
	PropTopicAlias               PropertyID = 0x23
	PropMaximumQoS               PropertyID = 0x24
	PropRetainAvailable          PropertyID = 0x25
	PropUserProperty             PropertyID = 0x26
	PropMaximumPacketSize        PropertyID = 0x27
	PropWildcardSubAvailable     PropertyID = 0x28
	PropSubscriptionIDAvailable  PropertyID = 0x29
	PropSharedSubAvailable       PropertyID = 0x2A
)

// PropertyType is the wire type of a property value.
type PropertyType byte

const (
	PropTypeByte PropertyType = iota
	PropTypeTwoByteInt
	PropTypeFourByteInt
	PropTypeVarInt
	PropTypeString
	PropTypeBinary
	PropTypeStringPair
)

// propertyWill marks properties allowed in the Will properties of CONNECT.
// It sits outside the PacketType range.
const propertyWill = 0

type propertySpec struct {
	typ        PropertyType
	repeatable bool
	// allowed is a bitmask indexed by PacketType, bit 0 is Will properties.
	allowed uint16
}

func on(types ...PacketType) uint16 {
	var mask uint16
	for _, t := range types {
		mask |= 1 << t
	}
	return mask
}

var propertySpecs = map[PropertyID]propertySpec{
	PropPayloadFormatIndicator:   {typ: PropTypeByte, allowed: on(PacketPUBLISH, propertyWill)},
	PropMessageExpiryInterval:    {typ: PropTypeFourByteInt, allowed: on(PacketPUBLISH, propertyWill)},
	PropContentType:              {typ: PropTypeString, allowed: on(PacketPUBLISH, propertyWill)},
	PropResponseTopic:            {typ: PropTypeString, allowed: on(PacketPUBLISH, propertyWill)},
	PropCorrelationData:          {typ: PropTypeBinary, allowed: on(PacketPUBLISH, propertyWill)},
	PropSubscriptionIdentifier:   {typ: PropTypeVarInt, repeatable: true, allowed: on(PacketPUBLISH, PacketSUBSCRIBE)},
	PropSessionExpiryInterval:    {typ: PropTypeFourByteInt, allowed: on(PacketCONNECT, PacketCONNACK, PacketDISCONNECT)},
	PropAssignedClientIdentifier: {typ: PropTypeString, allowed: on(PacketCONNACK)},
	PropServerKeepAlive:          {typ: PropTypeTwoByteInt, allowed: on(PacketCONNACK)},
	PropAuthenticationMethod:     {typ: PropTypeString, allowed: on(PacketCONNECT, PacketCONNACK, PacketAUTH)},
	PropAuthenticationData:       {typ: PropTypeBinary, allowed: on(PacketCONNECT, PacketCONNACK, PacketAUTH)},
	PropRequestProblemInfo:       {typ: PropTypeByte, allowed: on(PacketCONNECT)},
	PropWillDelayInterval:        {typ: PropTypeFourByteInt, allowed: on(propertyWill)},
	PropRequestResponseInfo:      {typ: PropTypeByte, allowed: on(PacketCONNECT)},
	PropResponseInformation:      {typ: PropTypeString, allowed: on(PacketCONNACK)},
	PropServerReference:          {typ: PropTypeString, allowed: on(PacketCONNACK, PacketDISCONNECT)},
	PropReasonString: {typ: PropTypeString, allowed: on(PacketCONNACK, PacketPUBACK, PacketPUBREC, PacketPUBREL,
		PacketPUBCOMP, PacketSUBACK, PacketUNSUBACK, PacketDISCONNECT, PacketAUTH)},
	PropReceiveMaximum:    {typ: PropTypeTwoByteInt, allowed: on(PacketCONNECT, PacketCONNACK)},
	PropTopicAliasMaximum: {typ: PropTypeTwoByteInt, allowed: on(PacketCONNECT, PacketCONNACK)},
	PropTopicAlias:        {typ: PropTypeTwoByteInt, allowed: on(PacketPUBLISH)},
	PropMaximumQoS:        {typ: PropTypeByte, allowed: on(PacketCONNACK)},
	PropRetainAvailable:   {typ: PropTypeByte, allowed: on(PacketCONNACK)},
	PropUserProperty: {typ: PropTypeStringPair, repeatable: true, allowed: on(propertyWill, PacketCONNECT, PacketCONNACK,
		PacketPUBLISH, PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP, PacketSUBSCRIBE, PacketSUBACK,
		PacketUNSUBSCRIBE, PacketUNSUBACK, PacketDISCONNECT, PacketAUTH)},
	PropMaximumPacketSize:       {typ: PropTypeFourByteInt, allowed: on(PacketCONNECT, PacketCONNACK)},
	PropWildcardSubAvailable:    {typ: PropTypeByte, allowed: on(PacketCONNACK)},
	PropSubscriptionIDAvailable: {typ: PropTypeByte, allowed: on(PacketCONNACK)},
	PropSharedSubAvailable:      {typ: PropTypeByte, allowed: on(PacketCONNACK)},
}

// Type returns the wire type of the property, or false for unknown ids.
func (p PropertyID) Type() (PropertyType, bool) {
	spec, ok := propertySpecs[p]
	return spec.typ, ok
}

// Property errors.
var (
	ErrUnknownPropertyID     = fmt.Errorf("%w: unknown property identifier", ErrMalformedPacket)
	ErrDuplicateProperty     = fmt.Errorf("%w: duplicate property", ErrMalformedPacket)
	ErrPropertyNotAllowed    = fmt.Errorf("%w: property not allowed for packet type", ErrMalformedPacket)
	ErrInvalidPropertyValue  = errors.New("mqtt: property value does not match its type")
	ErrPropertyLengthInvalid = fmt.Errorf("%w: property length exceeds packet", ErrMalformedPacket)
)

// Properties is an ordered collection of MQTT 5.0 properties.
// The zero value is an empty collection ready to use.
type Properties struct {
	props []property
}

type property struct {
	id    PropertyID
	value any
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.props)
}

// Has reports whether a property with the given id is present.
func (p *Properties) Has(id PropertyID) bool {
	if p == nil {
		return false
	}
	return slices.ContainsFunc(p.props, func(pr property) bool { return pr.id == id })
}

// Get returns the first value for id.
func (p *Properties) Get(id PropertyID) (any, bool) {
	if p == nil {
		return nil, false
	}
	for _, pr := range p.props {
		if pr.id == id {
			return pr.value, true
		}
	}
	return nil, false
}

// Set replaces every value for id with v.
func (p *Properties) Set(id PropertyID, v any) error {
	if err := checkPropertyValue(id, v); err != nil {
		return err
	}
	p.Delete(id)
	p.props = append(p.props, property{id: id, value: v})
	return nil
}

// Add appends a value for a repeatable property such as user properties.
func (p *Properties) Add(id PropertyID, v any) error {
	if err := checkPropertyValue(id, v); err != nil {
		return err
	}
	if spec := propertySpecs[id]; !spec.repeatable && p.Has(id) {
		return ErrDuplicateProperty
	}
	p.props = append(p.props, property{id: id, value: v})
	return nil
}

// Delete removes every value for id.
func (p *Properties) Delete(id PropertyID) {
	p.props = slices.DeleteFunc(p.props, func(pr property) bool { return pr.id == id })
}

// Byte returns a byte property.
func (p *Properties) Byte(id PropertyID) (byte, bool) {
	v, ok := p.Get(id)
	b, isByte := v.(byte)
	return b, ok && isByte
}

// Uint16 returns a two byte integer property.
func (p *Properties) Uint16(id PropertyID) (uint16, bool) {
	v, ok := p.Get(id)
	n, isUint16 := v.(uint16)
	return n, ok && isUint16
}

// Uint32 returns a four byte or variable byte integer property.
func (p *Properties) Uint32(id PropertyID) (uint32, bool) {
	v, ok := p.Get(id)
	n, isUint32 := v.(uint32)
	return n, ok && isUint32
}

// String returns a UTF-8 string property.
func (p *Properties) String(id PropertyID) (string, bool) {
	v, ok := p.Get(id)
	s, isString := v.(string)
	return s, ok && isString
}

// Binary returns a binary data property.
func (p *Properties) Binary(id PropertyID) ([]byte, bool) {
	v, ok := p.Get(id)
	b, isBinary := v.([]byte)
	return b, ok && isBinary
}

// UserProperties returns every user property in wire order.
func (p *Properties) UserProperties() []StringPair {
	if p == nil {
		return nil
	}
	var pairs []StringPair
	for _, pr := range p.props {
		if pr.id == PropUserProperty {
			pairs = append(pairs, pr.value.(StringPair))
		}
	}
	return pairs
}

// SubscriptionIdentifiers returns every subscription identifier in wire order.
func (p *Properties) SubscriptionIdentifiers() []uint32 {
	if p == nil {
		return nil
	}
	var ids []uint32
	for _, pr := range p.props {
		if pr.id == PropSubscriptionIdentifier {
			ids = append(ids, pr.value.(uint32))
		}
	}
	return ids
}

// Clone returns a deep copy.
func (p *Properties) Clone() Properties {
	if p == nil || len(p.props) == 0 {
		return Properties{}
	}
	out := Properties{props: make([]property, len(p.props))}
	for i, pr := range p.props {
		if b, ok := pr.value.([]byte); ok {
			pr.value = slices.Clone(b)
		}
		out.props[i] = pr
	}
	return out
}

func checkPropertyValue(id PropertyID, v any) error {
	spec, ok := propertySpecs[id]
	if !ok {
		return ErrUnknownPropertyID
	}
	var valid bool
	switch spec.typ {
	case PropTypeByte:
		_, valid = v.(byte)
	case PropTypeTwoByteInt:
		_, valid = v.(uint16)
	case PropTypeFourByteInt:
		_, valid = v.(uint32)
	case PropTypeVarInt:
		n, isUint32 := v.(uint32)
		valid = isUint32 && n <= maxVarint
	case PropTypeString:
		_, valid = v.(string)
	case PropTypeBinary:
		_, valid = v.([]byte)
	case PropTypeStringPair:
		_, valid = v.(StringPair)
	}
	if !valid {
		return fmt.Errorf("%w: 0x%02X got %T", ErrInvalidPropertyValue, byte(id), v)
	}
	return nil
}

// encode writes the property length followed by every property.
// context is the packet type owning the block, or propertyWill.
func (p *Properties) encode(e *encoder, context PacketType) error {
	var body encoder
	if p != nil {
		for _, pr := range p.props {
			spec, ok := propertySpecs[pr.id]
			if !ok {
				return ErrUnknownPropertyID
			}
			if spec.allowed&(1<<context) == 0 {
				return fmt.Errorf("%w: 0x%02X in %s", ErrPropertyNotAllowed, byte(pr.id), propertyContextName(context))
			}
			if err := body.writeVarint(uint32(pr.id)); err != nil {
				return err
			}
			if err := encodePropertyValue(&body, spec.typ, pr.value); err != nil {
				return err
			}
		}
	}
	if err := e.writeVarint(uint32(body.len())); err != nil {
		return err
	}
	e.writeRaw(body.buf)
	return nil
}

func encodePropertyValue(e *encoder, typ PropertyType, v any) error {
	switch typ {
	case PropTypeByte:
		e.writeByte(v.(byte))
	case PropTypeTwoByteInt:
		e.writeUint16(v.(uint16))
	case PropTypeFourByteInt:
		e.writeUint32(v.(uint32))
	case PropTypeVarInt:
		return e.writeVarint(v.(uint32))
	case PropTypeString:
		return e.writeString(v.(string))
	case PropTypeBinary:
		return e.writeBinary(v.([]byte))
	case PropTypeStringPair:
		pair := v.(StringPair)
		if err := e.writeString(pair.Key); err != nil {
			return err
		}
		return e.writeString(pair.Value)
	}
	return nil
}

// decode reads a property block and checks every property against context.
func (p *Properties) decode(d *decoder, context PacketType) error {
	length, err := d.readVarint()
	if err != nil {
		return err
	}
	if int(length) > d.remaining() {
		return ErrPropertyLengthInvalid
	}

	block := newDecoder(d.buf[d.pos : d.pos+int(length)])
	d.pos += int(length)

	p.props = nil
	for block.remaining() > 0 {
		rawID, err := block.readVarint()
		if err != nil {
			return err
		}
		id := PropertyID(rawID)
		spec, ok := propertySpecs[id]
		if !ok || rawID > 0xFF {
			return fmt.Errorf("%w: 0x%02X", ErrUnknownPropertyID, rawID)
		}
		if spec.allowed&(1<<context) == 0 {
			return fmt.Errorf("%w: 0x%02X in %s", ErrPropertyNotAllowed, rawID, propertyContextName(context))
		}
		if !spec.repeatable && p.Has(id) {
			return fmt.Errorf("%w: 0x%02X", ErrDuplicateProperty, rawID)
		}

		v, err := decodePropertyValue(block, spec.typ)
		if err != nil {
			return err
		}
		p.props = append(p.props, property{id: id, value: v})
	}
	return nil
}

func decodePropertyValue(d *decoder, typ PropertyType) (any, error) {
	switch typ {
	case PropTypeByte:
		return d.readByte()
	case PropTypeTwoByteInt:
		return d.readUint16()
	case PropTypeFourByteInt:
		return d.readUint32()
	case PropTypeVarInt:
		return d.readVarint()
	case PropTypeString:
		return d.readString()
	case PropTypeBinary:
		b, err := d.readBinary()
		if b == nil && err == nil {
			b = []byte{}
		}
		return b, err
	case PropTypeStringPair:
		key, err := d.readString()
		if err != nil {
			return nil, err
		}
		value, err := d.readString()
		if err != nil {
			return nil, err
		}
		return StringPair{Key: key, Value: value}, nil
	}
	return nil, ErrUnknownPropertyID
}

func propertyContextName(context PacketType) string {
	if context == propertyWill {
		return "Will properties"
	}
	return context.String()
}
