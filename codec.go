package mqttclient

import (
	"errors"
	"fmt"
	"io"
)

// Codec errors.
var (
	// ErrIncomplete is returned by Decode when buf holds only part of a packet.
	ErrIncomplete = errors.New("mqtt: incomplete packet")

	ErrInvalidPacketType  = fmt.Errorf("%w: invalid packet type", ErrMalformedPacket)
	ErrInvalidPacketFlags = fmt.Errorf("%w: invalid fixed header flags", ErrMalformedPacket)
)

// Encode serializes p for protocol version v. If maxPacketSize is non-zero and
// the encoded packet, fixed header included, would exceed it, Encode returns
// ErrPacketTooLarge.
func Encode(p Packet, v ProtocolVersion, maxPacketSize uint32) ([]byte, error) {
	body := getEncoder()
	defer putEncoder(body)

	flags, err := p.encodeBody(body, v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Type(), err)
	}
	if body.len() > maxVarint {
		return nil, fmt.Errorf("encode %s: %w", p.Type(), ErrPacketTooLarge)
	}

	header := FixedHeader{
		PacketType:      p.Type(),
		Flags:           flags,
		RemainingLength: uint32(body.len()),
	}
	if total := header.Size() + body.len(); maxPacketSize > 0 && uint32(total) > maxPacketSize {
		return nil, fmt.Errorf("encode %s of %d bytes: %w", p.Type(), total, ErrPacketTooLarge)
	}

	buf := make([]byte, 0, header.Size()+body.len())
	buf, err = header.appendTo(buf)
	if err != nil {
		return nil, err
	}
	return append(buf, body.buf...), nil
}

// Decode parses one packet from the start of buf and returns it with the
// number of bytes consumed. When buf holds only part of a packet it returns
// ErrIncomplete and the caller should retry with more data. Protocol
// violations inside a complete frame wrap ErrMalformedPacket.
func Decode(buf []byte, v ProtocolVersion, maxPacketSize uint32) (Packet, int, error) {
	header, n, err := parseFixedHeader(buf)
	if err != nil {
		return nil, 0, err
	}

	total := n + int(header.RemainingLength)
	if maxPacketSize > 0 && uint32(total) > maxPacketSize {
		return nil, 0, fmt.Errorf("decode %s of %d bytes: %w", header.PacketType, total, ErrPacketTooLarge)
	}
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}

	p, err := decodeBody(header, buf[n:total], v)
	if err != nil {
		return nil, 0, err
	}
	return p, total, nil
}

// ReadPacket reads exactly one packet from r.
func ReadPacket(r io.Reader, v ProtocolVersion, maxPacketSize uint32) (Packet, int, error) {
	// Fixed header is at most 5 bytes: one type byte and a 4 byte varint.
	head := make([]byte, 0, 5)
	var one [1]byte
	for {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return nil, len(head), err
		}
		head = append(head, one[0])
		if len(head) >= 2 && (head[len(head)-1]&varintContinueBit == 0 || len(head) == 5) {
			break
		}
	}

	header, n, err := parseFixedHeader(head)
	if err != nil {
		return nil, len(head), err
	}
	total := n + int(header.RemainingLength)
	if maxPacketSize > 0 && uint32(total) > maxPacketSize {
		return nil, n, fmt.Errorf("decode %s of %d bytes: %w", header.PacketType, total, ErrPacketTooLarge)
	}

	body := make([]byte, header.RemainingLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, n, err
	}

	p, err := decodeBody(header, body, v)
	if err != nil {
		return nil, total, err
	}
	return p, total, nil
}

// WritePacket encodes p and writes it to w in one call.
func WritePacket(w io.Writer, p Packet, v ProtocolVersion, maxPacketSize uint32) (int, error) {
	buf, err := Encode(p, v, maxPacketSize)
	if err != nil {
		return 0, err
	}
	return w.Write(buf)
}

func decodeBody(header FixedHeader, body []byte, v ProtocolVersion) (Packet, error) {
	p, err := newPacket(header.PacketType)
	if err != nil {
		return nil, err
	}
	d := newDecoder(body)
	if err := p.decodeBody(d, header.Flags, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", header.PacketType, err)
	}
	return p, nil
}
