package mqttclient

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustProps(t *testing.T, kv ...any) Properties {
	t.Helper()
	var p Properties
	for i := 0; i < len(kv); i += 2 {
		id := kv[i].(PropertyID)
		if spec := propertySpecs[id]; spec.repeatable {
			require.NoError(t, p.Add(id, kv[i+1]))
		} else {
			require.NoError(t, p.Set(id, kv[i+1]))
		}
	}
	return p
}

func roundTrip(t *testing.T, p Packet, v ProtocolVersion) Packet {
	t.Helper()
	buf, err := Encode(p, v, 0)
	require.NoError(t, err)

	got, n, err := Decode(buf, v, 0)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	return got
}

func TestVarint(t *testing.T) {
	tests := []struct {
		value uint32
		wire  []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		buf, err := appendVarint(nil, tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.wire, buf, "encode %d", tt.value)
		assert.Equal(t, len(tt.wire), varintSize(tt.value))

		v, n, err := consumeVarint(tt.wire)
		require.NoError(t, err)
		assert.Equal(t, tt.value, v)
		assert.Equal(t, len(tt.wire), n)
	}

	t.Run("too large", func(t *testing.T) {
		_, err := appendVarint(nil, maxVarint+1)
		assert.ErrorIs(t, err, ErrVarintTooLarge)
	})

	t.Run("five bytes", func(t *testing.T) {
		_, _, err := consumeVarint([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F})
		assert.ErrorIs(t, err, ErrVarintMalformed)
		assert.ErrorIs(t, err, ErrMalformedPacket)
	})

	t.Run("overlong", func(t *testing.T) {
		_, _, err := consumeVarint([]byte{0x80, 0x00})
		assert.ErrorIs(t, err, ErrVarintOverlong)
	})

	t.Run("incomplete", func(t *testing.T) {
		_, _, err := consumeVarint([]byte{0x80})
		assert.ErrorIs(t, err, ErrIncomplete)
	})
}

func TestFixedHeader(t *testing.T) {
	t.Run("valid flags", func(t *testing.T) {
		for _, b := range []byte{0x10, 0x20, 0x30, 0x3D, 0x40, 0x50, 0x62, 0x70, 0x82, 0x90, 0xA2, 0xB0, 0xC0, 0xD0, 0xE0, 0xF0} {
			_, _, err := parseFixedHeader([]byte{b, 0x00})
			assert.NoError(t, err, "first byte 0x%02X", b)
		}
	})

	tests := []struct {
		name string
		buf  []byte
		err  error
	}{
		{"type zero", []byte{0x00, 0x00}, ErrInvalidPacketType},
		{"pubrel without flag", []byte{0x60, 0x02}, ErrInvalidPacketFlags},
		{"subscribe without flag", []byte{0x80, 0x02}, ErrInvalidPacketFlags},
		{"pingreq with flag", []byte{0xC1, 0x00}, ErrInvalidPacketFlags},
		{"publish qos 3", []byte{0x36, 0x00}, ErrInvalidPacketFlags},
		{"publish dup on qos 0", []byte{0x38, 0x00}, ErrInvalidPacketFlags},
		{"one byte", []byte{0x30}, ErrIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseFixedHeader(tt.buf)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("size", func(t *testing.T) {
		assert.Equal(t, 2, FixedHeader{PacketType: PacketPUBLISH, RemainingLength: 127}.Size())
		assert.Equal(t, 3, FixedHeader{PacketType: PacketPUBLISH, RemainingLength: 128}.Size())
		assert.Equal(t, 5, FixedHeader{PacketType: PacketPUBLISH, RemainingLength: maxVarint}.Size())
	})

	t.Run("packet type names", func(t *testing.T) {
		assert.Equal(t, "PUBLISH", PacketPUBLISH.String())
		assert.Equal(t, "AUTH", PacketAUTH.String())
		assert.Equal(t, "UNKNOWN(0)", PacketType(0).String())
	})
}

func TestEncodeWireFormat(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
		v    ProtocolVersion
		wire []byte
	}{
		{"pingreq", &PingreqPacket{}, ProtocolV5, []byte{0xC0, 0x00}},
		{"pingresp", &PingrespPacket{}, ProtocolV311, []byte{0xD0, 0x00}},
		{"disconnect v3", &DisconnectPacket{ReasonCode: ReasonServerBusy}, ProtocolV311, []byte{0xE0, 0x00}},
		{"disconnect v5 success", &DisconnectPacket{}, ProtocolV5, []byte{0xE0, 0x00}},
		{"disconnect v5 reason", &DisconnectPacket{ReasonCode: ReasonKeepAliveTimeout}, ProtocolV5, []byte{0xE0, 0x01, 0x8D}},
		{"puback v3", newPuback(1, ReasonSuccess), ProtocolV311, []byte{0x40, 0x02, 0x00, 0x01}},
		{"puback v5 success", newPuback(258, ReasonSuccess), ProtocolV5, []byte{0x40, 0x02, 0x01, 0x02}},
		{"pubrec v5 error", newPubrec(5, ReasonQuotaExceeded), ProtocolV5, []byte{0x50, 0x03, 0x00, 0x05, 0x97}},
		{"pubrel", newPubrel(7, ReasonSuccess), ProtocolV5, []byte{0x62, 0x02, 0x00, 0x07}},
		{"pubcomp", newPubcomp(7, ReasonSuccess), ProtocolV311, []byte{0x70, 0x02, 0x00, 0x07}},
		{
			"connect v3",
			&ConnectPacket{ClientID: "a", CleanStart: true, KeepAlive: 60},
			ProtocolV311,
			[]byte{0x10, 0x0D, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x02, 0x00, 0x3C, 0x00, 0x01, 'a'},
		},
		{
			"connect v5",
			&ConnectPacket{ClientID: "a", CleanStart: true, KeepAlive: 60},
			ProtocolV5,
			[]byte{0x10, 0x0E, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x05, 0x02, 0x00, 0x3C, 0x00, 0x00, 0x01, 'a'},
		},
		{
			"publish qos 1 v3",
			&PublishPacket{Topic: "a/b", QoS: 1, PacketID: 10, Payload: []byte("hi")},
			ProtocolV311,
			[]byte{0x32, 0x09, 0x00, 0x03, 'a', '/', 'b', 0x00, 0x0A, 'h', 'i'},
		},
		{
			"publish retain dup v5",
			&PublishPacket{Topic: "t", QoS: 2, DUP: true, Retain: true, PacketID: 1, Payload: []byte("x")},
			ProtocolV5,
			[]byte{0x3D, 0x07, 0x00, 0x01, 't', 0x00, 0x01, 0x00, 'x'},
		},
		{
			"subscribe v3",
			&SubscribePacket{PacketID: 1, Subscriptions: []Subscription{{TopicFilter: "a/#", QoS: 1}}},
			ProtocolV311,
			[]byte{0x82, 0x08, 0x00, 0x01, 0x00, 0x03, 'a', '/', '#', 0x01},
		},
		{
			"subscribe v5 options",
			&SubscribePacket{PacketID: 1, Subscriptions: []Subscription{
				{TopicFilter: "a", QoS: 2, NoLocal: true, RetainAsPublished: true, RetainHandling: 2},
			}},
			ProtocolV5,
			[]byte{0x82, 0x07, 0x00, 0x01, 0x00, 0x00, 0x01, 'a', 0x2E},
		},
		{
			"unsubscribe v3",
			&UnsubscribePacket{PacketID: 2, TopicFilters: []string{"a"}},
			ProtocolV311,
			[]byte{0xA2, 0x05, 0x00, 0x02, 0x00, 0x01, 'a'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Encode(tt.p, tt.v, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, buf)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, v := range []ProtocolVersion{ProtocolV311, ProtocolV5} {
		t.Run(v.String(), func(t *testing.T) {
			connect := &ConnectPacket{
				Version:    v,
				ClientID:   "client-1",
				CleanStart: true,
				KeepAlive:  30,
				Username:   "user",
				Password:   []byte("secret"),
				Will: &Will{
					Topic:   "status/client-1",
					Payload: []byte("offline"),
					QoS:     1,
					Retain:  true,
				},
			}
			if v == ProtocolV5 {
				connect.Props = mustProps(t,
					PropSessionExpiryInterval, uint32(3600),
					PropReceiveMaximum, uint16(20),
					PropUserProperty, StringPair{Key: "k", Value: "v"},
				)
				connect.Will.Props = mustProps(t, PropWillDelayInterval, uint32(5), PropContentType, "text/plain")
			}
			assert.Equal(t, connect, roundTrip(t, connect, v))

			connack := &ConnackPacket{SessionPresent: true, ReasonCode: ReasonSuccess}
			if v == ProtocolV5 {
				connack.Props = mustProps(t,
					PropAssignedClientIdentifier, "srv-1",
					PropServerKeepAlive, uint16(15),
					PropMaximumQoS, byte(1),
				)
			}
			assert.Equal(t, connack, roundTrip(t, connack, v))

			refused := &ConnackPacket{ReasonCode: ReasonNotAuthorized}
			assert.Equal(t, refused, roundTrip(t, refused, v))

			publish := &PublishPacket{Topic: "a/b/c", QoS: 2, PacketID: 65535, Retain: true, Payload: []byte("payload")}
			if v == ProtocolV5 {
				publish.Props = mustProps(t,
					PropContentType, "application/json",
					PropResponseTopic, "reply/1",
					PropCorrelationData, []byte{1, 2, 3},
					PropSubscriptionIdentifier, uint32(268435455),
					PropUserProperty, StringPair{Key: "a", Value: "1"},
					PropUserProperty, StringPair{Key: "a", Value: "2"},
				)
			}
			assert.Equal(t, publish, roundTrip(t, publish, v))

			for _, a := range []Packet{newPuback(1, ReasonSuccess), newPubrec(2, ReasonSuccess), newPubrel(3, ReasonSuccess), newPubcomp(4, ReasonSuccess)} {
				assert.Equal(t, a, roundTrip(t, a, v))
			}

			sub := &SubscribePacket{PacketID: 9, Subscriptions: []Subscription{
				{TopicFilter: "a/+", QoS: 1},
				{TopicFilter: "$share/g/b/#", QoS: 2},
			}}
			assert.Equal(t, sub, roundTrip(t, sub, v))

			suback := &SubackPacket{PacketID: 9, ReasonCodes: []ReasonCode{ReasonGrantedQoS1, ReasonUnspecifiedError}}
			assert.Equal(t, suback, roundTrip(t, suback, v))

			unsub := &UnsubscribePacket{PacketID: 10, TopicFilters: []string{"a/+", "b"}}
			assert.Equal(t, unsub, roundTrip(t, unsub, v))

			assert.Equal(t, &PingreqPacket{}, roundTrip(t, &PingreqPacket{}, v))
			assert.Equal(t, &DisconnectPacket{}, roundTrip(t, &DisconnectPacket{}, v))
		})
	}

	t.Run("v5 only", func(t *testing.T) {
		puback := &PubackPacket{ack{PacketID: 3, ReasonCode: ReasonNoMatchingSubscribers,
			Props: mustProps(t, PropReasonString, "nobody")}}
		assert.Equal(t, puback, roundTrip(t, puback, ProtocolV5))

		sub := &SubscribePacket{
			PacketID:      1,
			Subscriptions: []Subscription{{TopicFilter: "x", QoS: 1, NoLocal: true, RetainHandling: 1, SubscriptionID: 42}},
			Props:         mustProps(t, PropSubscriptionIdentifier, uint32(42)),
		}
		assert.Equal(t, sub, roundTrip(t, sub, ProtocolV5))

		unsuback := &UnsubackPacket{PacketID: 4, ReasonCodes: []ReasonCode{ReasonSuccess, ReasonNoSubscriptionExisted}}
		assert.Equal(t, unsuback, roundTrip(t, unsuback, ProtocolV5))

		disconnect := &DisconnectPacket{ReasonCode: ReasonServerMoved,
			Props: mustProps(t, PropServerReference, "other:1883")}
		assert.Equal(t, disconnect, roundTrip(t, disconnect, ProtocolV5))

		auth := &AuthPacket{ReasonCode: ReasonContinueAuth,
			Props: mustProps(t, PropAuthenticationMethod, "SCRAM-SHA-256", PropAuthenticationData, []byte("data"))}
		got := roundTrip(t, auth, ProtocolV5).(*AuthPacket)
		assert.Equal(t, auth, got)
		assert.Equal(t, "SCRAM-SHA-256", got.method())
		assert.Equal(t, []byte("data"), got.data())

		alias := &PublishPacket{QoS: 0, Payload: []byte("x"), Props: mustProps(t, PropTopicAlias, uint16(3))}
		assert.Equal(t, alias, roundTrip(t, alias, ProtocolV5))
	})

	t.Run("v3 unsuback has no reason codes", func(t *testing.T) {
		got := roundTrip(t, &UnsubackPacket{PacketID: 4, ReasonCodes: []ReasonCode{ReasonSuccess}}, ProtocolV311)
		assert.Equal(t, &UnsubackPacket{PacketID: 4}, got)
	})
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		p    Packet
		v    ProtocolVersion
		err  error
	}{
		{"publish qos 3", &PublishPacket{Topic: "a", QoS: 3}, ProtocolV5, ErrInvalidQoS},
		{"publish without id", &PublishPacket{Topic: "a", QoS: 1}, ProtocolV5, ErrPacketIDRequired},
		{"publish dup qos 0", &PublishPacket{Topic: "a", DUP: true}, ProtocolV5, ErrInvalidPacketFlags},
		{"publish without topic", &PublishPacket{Payload: []byte("x")}, ProtocolV5, ErrTopicRequired},
		{"publish alias on v3", &PublishPacket{Props: Properties{props: []property{{PropTopicAlias, uint16(1)}}}}, ProtocolV311, ErrTopicRequired},
		{"topic with null", &PublishPacket{Topic: "a\x00b"}, ProtocolV5, ErrStringContainsNull},
		{"topic too long", &PublishPacket{Topic: strings.Repeat("a", 65536)}, ProtocolV5, ErrStringTooLong},
		{"subscribe empty", &SubscribePacket{PacketID: 1}, ProtocolV5, ErrNoSubscriptions},
		{"subscribe retain handling", &SubscribePacket{PacketID: 1, Subscriptions: []Subscription{{TopicFilter: "a", RetainHandling: 3}}}, ProtocolV5, ErrInvalidRetainHandler},
		{"unsubscribe empty", &UnsubscribePacket{PacketID: 1}, ProtocolV5, ErrNoTopicFilters},
		{"ack without id", newPuback(0, ReasonSuccess), ProtocolV5, ErrPacketIDRequired},
		{"auth on v3", &AuthPacket{}, ProtocolV311, ErrAuthNotSupported},
		{"password without user on v3", &ConnectPacket{Password: []byte("x")}, ProtocolV311, ErrPasswordWithoutUser},
		{"bad version", &ConnectPacket{}, ProtocolVersion(3), ErrInvalidProtocolVersion},
		{"property not allowed", &PublishPacket{Topic: "a", Props: Properties{props: []property{{PropSessionExpiryInterval, uint32(1)}}}}, ProtocolV5, ErrPropertyNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.p, tt.v, 0)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("maximum packet size", func(t *testing.T) {
		p := &PublishPacket{Topic: "a", Payload: make([]byte, 100)}
		_, err := Encode(p, ProtocolV5, 50)
		assert.ErrorIs(t, err, ErrPacketTooLarge)

		buf, err := Encode(p, ProtocolV5, 106)
		require.NoError(t, err)
		assert.Len(t, buf, 106)
	})

	t.Run("v3 connack code without equivalent", func(t *testing.T) {
		_, err := Encode(&ConnackPacket{ReasonCode: ReasonBanned}, ProtocolV311, 0)
		assert.Error(t, err)
	})
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		v    ProtocolVersion
		err  error
	}{
		{"invalid utf8 topic", []byte{0x30, 0x04, 0x00, 0x02, 0xC3, 0x28}, ProtocolV311, ErrInvalidUTF8},
		{"null in topic", []byte{0x30, 0x04, 0x00, 0x02, 'a', 0x00}, ProtocolV311, ErrStringContainsNull},
		{"publish id zero", []byte{0x32, 0x05, 0x00, 0x01, 'a', 0x00, 0x00}, ProtocolV311, ErrMalformedPacket},
		{"truncated topic", []byte{0x30, 0x03, 0x00, 0x05, 'a'}, ProtocolV311, ErrTruncated},
		{"duplicate property", []byte{0x30, 0x08, 0x00, 0x01, 'a', 0x04, 0x01, 0x01, 0x01, 0x01}, ProtocolV5, ErrDuplicateProperty},
		{"property not allowed", []byte{0x30, 0x09, 0x00, 0x01, 'a', 0x05, 0x11, 0x00, 0x00, 0x00, 0x01}, ProtocolV5, ErrPropertyNotAllowed},
		{"unknown property", []byte{0x30, 0x06, 0x00, 0x01, 'a', 0x02, 0x7F, 0x00}, ProtocolV5, ErrUnknownPropertyID},
		{"property length past end", []byte{0x30, 0x05, 0x00, 0x01, 'a', 0x09, 0x01}, ProtocolV5, ErrPropertyLengthInvalid},
		{"empty topic without alias", []byte{0x30, 0x03, 0x00, 0x00, 0x00}, ProtocolV5, ErrMalformedPacket},
		{"v3 puback too long", []byte{0x40, 0x03, 0x00, 0x01, 0x00}, ProtocolV311, ErrMalformedPacket},
		{"puback id zero", []byte{0x40, 0x02, 0x00, 0x00}, ProtocolV5, ErrMalformedPacket},
		{"v3 connack bad code", []byte{0x20, 0x02, 0x00, 0x06}, ProtocolV311, ErrMalformedPacket},
		{"connack reserved flags", []byte{0x20, 0x03, 0x02, 0x00, 0x00}, ProtocolV5, ErrMalformedPacket},
		{"connack session present on failure", []byte{0x20, 0x03, 0x01, 0x87, 0x00}, ProtocolV5, ErrMalformedPacket},
		{"pingresp with body", []byte{0xD0, 0x01, 0x00}, ProtocolV5, ErrMalformedPacket},
		{"v3 suback bad code", []byte{0x90, 0x03, 0x00, 0x01, 0x03}, ProtocolV311, ErrMalformedPacket},
		{"auth on v3", []byte{0xF0, 0x00}, ProtocolV311, ErrMalformedPacket},
		{"auth bad reason", []byte{0xF0, 0x02, 0x87, 0x00}, ProtocolV5, ErrMalformedPacket},
		{"subscribe reserved bits", []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0xC1}, ProtocolV311, ErrMalformedPacket},
		{"subscribe without filters", []byte{0x82, 0x02, 0x00, 0x01}, ProtocolV311, ErrMalformedPacket},
		{"connect bad protocol name", []byte{0x10, 0x0D, 0x00, 0x04, 'M', 'Q', 'T', 'X', 0x04, 0x02, 0x00, 0x3C, 0x00, 0x01, 'a'}, ProtocolV311, ErrInvalidProtocolName},
		{"connect reserved flag", []byte{0x10, 0x0D, 0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x03, 0x00, 0x3C, 0x00, 0x01, 'a'}, ProtocolV311, ErrInvalidConnectFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.buf, tt.v, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("incomplete", func(t *testing.T) {
		buf, err := Encode(&PublishPacket{Topic: "a/b", Payload: []byte("hello")}, ProtocolV5, 0)
		require.NoError(t, err)

		for i := range len(buf) {
			_, _, err := Decode(buf[:i], ProtocolV5, 0)
			assert.ErrorIs(t, err, ErrIncomplete, "prefix of %d bytes", i)
		}
	})

	t.Run("too large before complete", func(t *testing.T) {
		_, _, err := Decode([]byte{0x30, 0x80, 0x01}, ProtocolV5, 64)
		assert.ErrorIs(t, err, ErrPacketTooLarge)
	})

	t.Run("decode consumes one packet", func(t *testing.T) {
		a, err := Encode(&PingreqPacket{}, ProtocolV5, 0)
		require.NoError(t, err)
		b, err := Encode(newPuback(1, ReasonSuccess), ProtocolV5, 0)
		require.NoError(t, err)

		p, n, err := Decode(append(a, b...), ProtocolV5, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.IsType(t, &PingreqPacket{}, p)
	})
}

func TestReadWritePacket(t *testing.T) {
	var buf bytes.Buffer
	packetsOut := []Packet{
		&PublishPacket{Topic: "a", QoS: 1, PacketID: 1, Payload: bytes.Repeat([]byte("x"), 300)},
		newPuback(1, ReasonSuccess),
		&PingrespPacket{},
	}
	for _, p := range packetsOut {
		_, err := WritePacket(&buf, p, ProtocolV5, 0)
		require.NoError(t, err)
	}

	for _, want := range packetsOut {
		got, _, err := ReadPacket(&buf, ProtocolV5, 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, _, err := ReadPacket(&buf, ProtocolV5, 0)
	assert.ErrorIs(t, err, io.EOF)

	t.Run("too large", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := WritePacket(&buf, &PublishPacket{Topic: "a", Payload: make([]byte, 200)}, ProtocolV5, 0)
		require.NoError(t, err)

		_, _, err = ReadPacket(&buf, ProtocolV5, 100)
		assert.ErrorIs(t, err, ErrPacketTooLarge)
	})

	t.Run("truncated body", func(t *testing.T) {
		_, _, err := ReadPacket(bytes.NewReader([]byte{0x30, 0x05, 0x00}), ProtocolV5, 0)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestMochiInterop(t *testing.T) {
	decodeHeader := func(t *testing.T, buf []byte) (packets.FixedHeader, []byte) {
		t.Helper()
		var fh packets.FixedHeader
		require.NoError(t, fh.Decode(buf[0]))
		remaining, used, err := packets.DecodeLength(bytes.NewReader(buf[1:]))
		require.NoError(t, err)
		fh.Remaining = remaining
		return fh, buf[1+used:]
	}

	t.Run("connect read by mochi", func(t *testing.T) {
		buf, err := Encode(&ConnectPacket{
			ClientID:   "interop",
			CleanStart: true,
			KeepAlive:  45,
			Username:   "user",
			Password:   []byte("pass"),
			Props:      mustProps(t, PropSessionExpiryInterval, uint32(120)),
		}, ProtocolV5, 0)
		require.NoError(t, err)

		fh, body := decodeHeader(t, buf)
		pk := packets.Packet{FixedHeader: fh}
		require.NoError(t, pk.ConnectDecode(body))

		assert.Equal(t, byte(5), pk.ProtocolVersion)
		assert.Equal(t, "interop", pk.Connect.ClientIdentifier)
		assert.Equal(t, uint16(45), pk.Connect.Keepalive)
		assert.True(t, pk.Connect.Clean)
		assert.Equal(t, []byte("user"), pk.Connect.Username)
		assert.Equal(t, []byte("pass"), pk.Connect.Password)
		assert.Equal(t, uint32(120), pk.Properties.SessionExpiryInterval)
	})

	t.Run("publish read by mochi", func(t *testing.T) {
		buf, err := Encode(&PublishPacket{
			Topic:    "sensors/1/temp",
			QoS:      1,
			PacketID: 7,
			Payload:  []byte("21.5"),
			Props: mustProps(t,
				PropContentType, "text/plain",
				PropUserProperty, StringPair{Key: "unit", Value: "C"},
			),
		}, ProtocolV5, 0)
		require.NoError(t, err)

		fh, body := decodeHeader(t, buf)
		pk := packets.Packet{FixedHeader: fh, ProtocolVersion: 5}
		require.NoError(t, pk.PublishDecode(body))

		assert.Equal(t, byte(1), pk.FixedHeader.Qos)
		assert.Equal(t, "sensors/1/temp", pk.TopicName)
		assert.Equal(t, uint16(7), pk.PacketID)
		assert.Equal(t, []byte("21.5"), pk.Payload)
		assert.Equal(t, "text/plain", pk.Properties.ContentType)
		assert.Equal(t, []packets.UserProperty{{Key: "unit", Val: "C"}}, pk.Properties.User)
	})

	t.Run("publish written by mochi", func(t *testing.T) {
		pk := packets.Packet{
			FixedHeader:     packets.FixedHeader{Type: packets.Publish, Qos: 2, Retain: true},
			ProtocolVersion: 5,
			TopicName:       "a/b",
			PacketID:        9,
			Payload:         []byte("hello"),
			Properties: packets.Properties{
				ContentType: "application/json",
				User:        []packets.UserProperty{{Key: "k", Val: "v"}},
			},
		}
		var buf bytes.Buffer
		require.NoError(t, pk.PublishEncode(&buf))

		got, n, err := Decode(buf.Bytes(), ProtocolV5, 0)
		require.NoError(t, err)
		assert.Equal(t, buf.Len(), n)

		msg := got.(*PublishPacket).Message()
		assert.Equal(t, "a/b", msg.Topic)
		assert.Equal(t, byte(2), msg.QoS)
		assert.True(t, msg.Retain)
		assert.Equal(t, uint16(9), msg.PacketID)
		assert.Equal(t, []byte("hello"), msg.Payload)
		assert.Equal(t, "application/json", msg.ContentType)
		assert.Equal(t, []StringPair{{Key: "k", Value: "v"}}, msg.UserProperties)
	})

	t.Run("v3 publish written by mochi", func(t *testing.T) {
		pk := packets.Packet{
			FixedHeader:     packets.FixedHeader{Type: packets.Publish, Qos: 1},
			ProtocolVersion: 4,
			TopicName:       "x",
			PacketID:        3,
			Payload:         []byte("y"),
		}
		var buf bytes.Buffer
		require.NoError(t, pk.PublishEncode(&buf))

		got, _, err := Decode(buf.Bytes(), ProtocolV311, 0)
		require.NoError(t, err)
		assert.Equal(t, &PublishPacket{Topic: "x", QoS: 1, PacketID: 3, Payload: []byte("y")}, got)
	})
}
