package mqttclient

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		o := applyOptions()
		assert.Equal(t, uint16(60), o.keepAlive)
		assert.True(t, o.cleanStart)
		assert.Equal(t, ProtocolV5, o.protocolVersion)
		assert.Equal(t, uint16(65535), o.receiveMaximum)
		assert.Equal(t, MaxPacketSizeDefault, o.maxPacketSize)
		assert.Equal(t, defaultPingSafetyMargin, o.pingMargin)
		assert.True(t, o.pingRespRequired)
		assert.Equal(t, -1, o.maxReconnects)
		assert.IsType(t, &NoOpLogger{}, o.logger)
		assert.Equal(t, NoOpMetrics{}, o.metrics)
		assert.IsType(t, &MemoryFlowStore{}, o.flowStore)
	})

	t.Run("nil option ignored", func(t *testing.T) {
		o := applyOptions(nil, WithKeepAlive(5))
		assert.Equal(t, uint16(5), o.keepAlive)
	})

	t.Run("servers append", func(t *testing.T) {
		o := applyOptions(WithServers("tcp://a:1883"), WithServers("tcp://b:1883", "ws://c/mqtt"))
		assert.Equal(t, []string{"tcp://a:1883", "tcp://b:1883", "ws://c/mqtt"}, o.servers)
	})

	t.Run("clamps", func(t *testing.T) {
		o := applyOptions(WithReceiveMaximum(0), WithMaxPacketSize(0), WithMaxInflight(-3))
		assert.Equal(t, uint16(65535), o.receiveMaximum)
		assert.Equal(t, MaxPacketSizeProtocol, o.maxPacketSize)
		assert.Equal(t, int64(65535), o.maxInflight)
	})

	t.Run("will", func(t *testing.T) {
		var props Properties
		require.NoError(t, props.Set(PropWillDelayInterval, uint32(10)))

		o := applyOptions(WithWillProps(props), WithWill("status/dev", []byte("offline"), true, QoS1))
		require.NotNil(t, o.will)
		assert.Equal(t, "status/dev", o.will.Topic)
		assert.Equal(t, []byte("offline"), o.will.Payload)
		assert.True(t, o.will.Retain)
		assert.Equal(t, QoS1, o.will.QoS)
		assert.True(t, o.will.Props.Has(PropWillDelayInterval))
	})

	t.Run("credentials", func(t *testing.T) {
		o := applyOptions(WithCredentials("user", "secret"))
		assert.Equal(t, "user", o.username)
		assert.Equal(t, []byte("secret"), o.password)
	})
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		err  error
	}{
		{"no servers", nil, ErrNoServers},
		{"bad version", []Option{WithServers("tcp://x:1883"), WithProtocolVersion(3)}, ErrInvalidProtocolVersion},
		{"bad will topic", []Option{WithServers("tcp://x:1883"), WithWill("a/+", nil, false, 0)}, ErrInvalidTopic},
		{"bad will qos", []Option{WithServers("tcp://x:1883"), WithWill("a", nil, false, 3)}, ErrInvalidQoS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts...)
			assert.ErrorIs(t, err, tt.err)
			assert.Nil(t, c)
		})
	}

	t.Run("generated client id on 3.1.1", func(t *testing.T) {
		c, err := New(WithServers("tcp://x:1883"), WithProtocolVersion(ProtocolV311))
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(c.clientID, "mqttc-"))

		c, err = New(WithServers("tcp://x:1883"))
		require.NoError(t, err)
		assert.Empty(t, c.clientID, "5.0 lets the server assign one")
	})

	t.Run("clean start resets the store", func(t *testing.T) {
		store := NewMemoryFlowStore()
		require.NoError(t, store.Store(FlowRecord{Direction: FlowIncoming, PacketID: 1, QoS: QoS2}))

		_, err := New(WithServers("tcp://x:1883"), WithFlowStore(store))
		require.NoError(t, err)
		assert.Zero(t, store.Len())
	})

	t.Run("resumed session restores flows", func(t *testing.T) {
		store := NewMemoryFlowStore()
		raw, err := Encode(&PublishPacket{Topic: "a", QoS: QoS1, PacketID: 7}, ProtocolV5, 0)
		require.NoError(t, err)
		require.NoError(t, store.Store(FlowRecord{Direction: FlowOutgoing, PacketID: 7, QoS: QoS1,
			State: FlowWaitPuback, Seq: 1, Publish: raw, Version: ProtocolV5}))

		c, err := New(WithServers("tcp://x:1883"), WithFlowStore(store), WithCleanStart(false))
		require.NoError(t, err)
		assert.True(t, c.ids.IsUsed(7))
		assert.Equal(t, 1, c.outgoing.inFlight())
	})
}

func TestBackoffOptions(t *testing.T) {
	strategy := func(attempt int, current time.Duration, err error) time.Duration { return time.Duration(attempt) }
	o := applyOptions(WithAutoReconnect(true), WithReconnectBackoff(time.Second, time.Minute), WithBackoffStrategy(strategy), WithMaxReconnects(3))
	assert.True(t, o.autoReconnect)
	assert.Equal(t, time.Second, o.reconnectBackoff)
	assert.Equal(t, time.Minute, o.maxBackoff)
	assert.Equal(t, 3, o.maxReconnects)
	require.NotNil(t, o.backoffStrategy)
	assert.Equal(t, time.Duration(2), o.backoffStrategy(2, 0, nil))
}
