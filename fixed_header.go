package mqttclient

import (
	"fmt"
)

// PacketType represents the MQTT control packet type.
type PacketType byte

// MQTT control packet types.
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
	PacketAUTH        PacketType = 15
)

var packetTypeNames = [...]string{
	PacketCONNECT:     "CONNECT",
	PacketCONNACK:     "CONNACK",
	PacketPUBLISH:     "PUBLISH",
	PacketPUBACK:      "PUBACK",
	PacketPUBREC:      "PUBREC",
	PacketPUBREL:      "PUBREL",
	PacketPUBCOMP:     "PUBCOMP",
	PacketSUBSCRIBE:   "SUBSCRIBE",
	PacketSUBACK:      "SUBACK",
	PacketUNSUBSCRIBE: "UNSUBSCRIBE",
	PacketUNSUBACK:    "UNSUBACK",
	PacketPINGREQ:     "PINGREQ",
	PacketPINGRESP:    "PINGRESP",
	PacketDISCONNECT:  "DISCONNECT",
	PacketAUTH:        "AUTH",
}

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	if !p.Valid() {
		return fmt.Sprintf("UNKNOWN(%d)", byte(p))
	}
	return packetTypeNames[p]
}

// Valid returns true if the packet type is valid.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketAUTH
}

// reservedFlags returns the fixed flag nibble a packet type must carry.
// PUBLISH is the only type with variable flags and reports ok=false.
func (p PacketType) reservedFlags() (flags byte, ok bool) {
	switch p {
	case PacketPUBLISH:
		return 0, false
	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		return 0x02, true
	default:
		return 0x00, true
	}
}

// FixedHeader represents the fixed header of an MQTT control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// appendTo appends the encoded header to buf.
func (h FixedHeader) appendTo(buf []byte) ([]byte, error) {
	if !h.PacketType.Valid() {
		return buf, ErrInvalidPacketType
	}
	buf = append(buf, byte(h.PacketType)<<4|(h.Flags&0x0F))
	return appendVarint(buf, h.RemainingLength)
}

// parseFixedHeader reads a fixed header from the start of buf.
// It returns ErrIncomplete when buf does not yet hold the whole header.
func parseFixedHeader(buf []byte) (FixedHeader, int, error) {
	var h FixedHeader
	if len(buf) < 2 {
		return h, 0, ErrIncomplete
	}

	h.PacketType = PacketType(buf[0] >> 4)
	h.Flags = buf[0] & 0x0F

	length, n, err := consumeVarint(buf[1:])
	if err != nil {
		return h, 0, err
	}
	h.RemainingLength = length

	if err := h.validate(); err != nil {
		return h, 0, err
	}

	return h, 1 + n, nil
}

// Size returns the encoded size of the fixed header in bytes.
func (h FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// validate checks the packet type and the reserved flag bits.
func (h FixedHeader) validate() error {
	if !h.PacketType.Valid() {
		return ErrInvalidPacketType
	}

	if h.PacketType == PacketPUBLISH {
		qos := (h.Flags >> 1) & 0x03
		if qos > 2 {
			return fmt.Errorf("%w: PUBLISH with QoS 3", ErrInvalidPacketFlags)
		}
		if qos == 0 && h.Flags&0x08 != 0 {
			return fmt.Errorf("%w: DUP set on QoS 0 PUBLISH", ErrInvalidPacketFlags)
		}
		return nil
	}

	want, _ := h.PacketType.reservedFlags()
	if h.Flags != want {
		return fmt.Errorf("%w: %s flags 0x%X, want 0x%X", ErrInvalidPacketFlags, h.PacketType, h.Flags, want)
	}

	return nil
}
