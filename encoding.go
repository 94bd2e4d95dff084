package mqttclient

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Encoding errors. Decode-side variants wrap ErrMalformedPacket.
var (
	ErrStringTooLong      = errors.New("mqtt: string exceeds 65535 bytes")
	ErrBinaryTooLong      = errors.New("mqtt: binary data exceeds 65535 bytes")
	ErrVarintTooLarge     = errors.New("mqtt: variable byte integer exceeds 268435455")
	ErrInvalidUTF8        = fmt.Errorf("%w: invalid UTF-8 string", ErrMalformedPacket)
	ErrStringContainsNull = fmt.Errorf("%w: string contains U+0000", ErrMalformedPacket)
	ErrVarintMalformed    = fmt.Errorf("%w: variable byte integer longer than 4 bytes", ErrMalformedPacket)
	ErrVarintOverlong     = fmt.Errorf("%w: variable byte integer not minimally encoded", ErrMalformedPacket)
	ErrTruncated          = fmt.Errorf("%w: packet body truncated", ErrMalformedPacket)
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

// StringPair is a UTF-8 name/value pair, used for user properties.
type StringPair struct {
	Key   string
	Value string
}

func validateString(s string) error {
	if len(s) > maxUint16 {
		return ErrStringTooLong
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	for i := range len(s) {
		if s[i] == 0 {
			return ErrStringContainsNull
		}
	}
	return nil
}

func appendVarint(buf []byte, value uint32) ([]byte, error) {
	if value > maxVarint {
		return buf, ErrVarintTooLarge
	}
	for {
		b := byte(value & varintValueMask)
		value >>= 7
		if value > 0 {
			b |= varintContinueBit
		}
		buf = append(buf, b)
		if value == 0 {
			return buf, nil
		}
	}
}

// consumeVarint decodes a variable byte integer from the start of buf.
// A buffer that ends mid-integer yields ErrIncomplete.
func consumeVarint(buf []byte) (uint32, int, error) {
	var value uint32
	var shift uint
	for i := range 4 {
		if i >= len(buf) {
			return 0, 0, ErrIncomplete
		}
		b := buf[i]
		value |= uint32(b&varintValueMask) << shift
		if b&varintContinueBit == 0 {
			if i > 0 && b == 0 {
				return 0, 0, ErrVarintOverlong
			}
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrVarintMalformed
}

func varintSize(value uint32) int {
	switch {
	case value < 128:
		return 1
	case value < 16384:
		return 2
	case value < 2097152:
		return 3
	default:
		return 4
	}
}

// encoder accumulates the variable header and payload of a packet.
type encoder struct {
	buf []byte
}

func (e *encoder) writeByte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) writeUint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *encoder) writeUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) writeVarint(v uint32) error {
	var err error
	e.buf, err = appendVarint(e.buf, v)
	return err
}

func (e *encoder) writeString(s string) error {
	if err := validateString(s); err != nil {
		return err
	}
	e.writeUint16(uint16(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

func (e *encoder) writeBinary(b []byte) error {
	if len(b) > maxUint16 {
		return ErrBinaryTooLong
	}
	e.writeUint16(uint16(len(b)))
	e.buf = append(e.buf, b...)
	return nil
}

func (e *encoder) writeRaw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) len() int {
	return len(e.buf)
}

// decoder reads fields from the body of a single, complete packet.
// Running out of bytes is a malformed packet, never an incomplete one.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readUint16() (uint16, error) {
	if d.remaining() < 2 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) readUint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) readVarint() (uint32, error) {
	v, n, err := consumeVarint(d.buf[d.pos:])
	if errors.Is(err, ErrIncomplete) {
		return 0, ErrTruncated
	}
	if err != nil {
		return 0, err
	}
	d.pos += n
	return v, nil
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrTruncated
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+n])
	d.pos += n
	return b, nil
}

func (d *decoder) readBinary() ([]byte, error) {
	n, err := d.readUint16()
	if err != nil {
		return nil, err
	}
	return d.readBytes(int(n))
}

func (d *decoder) readString() (string, error) {
	b, err := d.readBinary()
	if err != nil {
		return "", err
	}
	s := string(b)
	if err := validateString(s); err != nil {
		return "", err
	}
	return s, nil
}

// rest returns a copy of every unread byte.
func (d *decoder) rest() []byte {
	b, _ := d.readBytes(d.remaining())
	return b
}
