package mqttclient

import (
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()
	return addr
}

// startMochi runs an in-process broker with a TCP and a websocket listener
// and returns their server URLs.
func startMochi(t *testing.T) (tcpURL, wsURL string) {
	t.Helper()
	tcpAddr := freeAddress(t)
	wsAddr := freeAddress(t)

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{ID: "tcp", Address: tcpAddr})))
	require.NoError(t, server.AddListener(listeners.NewWebsocket(listeners.Config{ID: "ws", Address: wsAddr})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })

	return "tcp://" + tcpAddr, "ws://" + wsAddr + "/mqtt"
}

func connectMochi(t *testing.T, server string, opts ...Option) *Client {
	t.Helper()
	c, err := New(append([]Option{WithServers(server)}, opts...)...)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.Connect(testContext(t)) == nil
	}, 5*time.Second, 50*time.Millisecond)

	t.Cleanup(func() { c.Close() })
	return c
}

func TestBrokerRoundTrip(t *testing.T) {
	tcpURL, wsURL := startMochi(t)

	tests := []struct {
		name     string
		server   string
		version  ProtocolVersion
		clientID string
	}{
		{"tcp 5.0", tcpURL, ProtocolV5, "tcp-v5"},
		{"tcp 3.1.1", tcpURL, ProtocolV311, "tcp-v311"},
		{"websocket 5.0", wsURL, ProtocolV5, "ws-v5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := connectMochi(t, tt.server,
				WithProtocolVersion(tt.version),
				WithClientID(tt.clientID),
			)
			ctx := testContext(t)

			msgs := make(chan *Message, 8)
			tok := c.Subscribe(ctx, func(m *Message) { msgs <- m },
				Subscription{TopicFilter: "sensors/+/temp", QoS: QoS2})
			require.NoError(t, tok.Wait(ctx))
			assert.Equal(t, []ReasonCode{ReasonGrantedQoS2}, tok.ReasonCodes())

			for _, qos := range []byte{QoS0, QoS1, QoS2} {
				pub := c.Publish(ctx, &Message{Topic: "sensors/42/temp", Payload: []byte{'0' + qos}, QoS: qos})
				require.NoError(t, pub.Wait(ctx), "qos %d", qos)

				m := receive(t, msgs)
				assert.Equal(t, "sensors/42/temp", m.Topic)
				assert.Equal(t, []byte{'0' + qos}, m.Payload)
				assert.Equal(t, qos, m.QoS)
			}

			unsub := c.Unsubscribe(ctx, "sensors/+/temp")
			require.NoError(t, unsub.Wait(ctx))
		})
	}
}

func TestBrokerRetainedAndProperties(t *testing.T) {
	tcpURL, _ := startMochi(t)
	ctx := testContext(t)

	publisher := connectMochi(t, tcpURL, WithClientID("publisher"))
	require.NoError(t, publisher.Publish(ctx, &Message{
		Topic:          "status/device",
		Payload:        []byte("online"),
		QoS:            QoS1,
		Retain:         true,
		ContentType:    "text/plain",
		UserProperties: []StringPair{{Key: "origin", Value: "test"}},
	}).Wait(ctx))

	subscriber := connectMochi(t, tcpURL, WithClientID("subscriber"))
	msgs := make(chan *Message, 1)
	require.NoError(t, subscriber.Subscribe(ctx, func(m *Message) { msgs <- m },
		Subscription{TopicFilter: "status/#", QoS: QoS1}).Wait(ctx))

	m := receive(t, msgs)
	assert.True(t, m.Retain)
	assert.Equal(t, []byte("online"), m.Payload)
	assert.Equal(t, "text/plain", m.ContentType)
	assert.Equal(t, []StringPair{{Key: "origin", Value: "test"}}, m.UserProperties)
}

func TestBrokerSessionTakeover(t *testing.T) {
	tcpURL, _ := startMochi(t)
	events := newEventRecorder()

	connectMochi(t, tcpURL, WithClientID("twin"), events.option())
	waitEvent[*ConnectedEvent](t, events)
	connectMochi(t, tcpURL, WithClientID("twin"))

	lost := waitEvent[*ConnectionLostError](t, events)
	assert.Equal(t, SourceServer, lost.Source)
	assert.Equal(t, ReasonSessionTakenOver, lost.ReasonCode)
}
