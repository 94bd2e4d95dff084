package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/mqttclient"
)

func startBroker(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })

	return "tcp://" + addr
}

func connect(t *testing.T, server, clientID string) *mqttclient.Client {
	t.Helper()

	client, err := mqttclient.New(
		mqttclient.WithServers(server),
		mqttclient.WithClientID(clientID),
	)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return client.Connect(ctx) == nil
	}, 5*time.Second, 50*time.Millisecond)

	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewHandler(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		h, err := NewHandler(context.Background(), nil, nil)
		assert.Nil(t, h)
		assert.Error(t, err)
	})

	t.Run("default response topic", func(t *testing.T) {
		server := startBroker(t)
		client := connect(t, server, "requester")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h, err := NewHandler(ctx, client, nil)
		require.NoError(t, err)
		defer h.Close(ctx)

		assert.Equal(t, "rpc/response/requester", h.ResponseTopic())
	})

	t.Run("custom response topic", func(t *testing.T) {
		server := startBroker(t)
		client := connect(t, server, "requester")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h, err := NewHandler(ctx, client, &HandlerOptions{ResponseTopic: "replies/me", QoS: 1})
		require.NoError(t, err)
		defer h.Close(ctx)

		assert.Equal(t, "replies/me", h.ResponseTopic())
	})
}

func TestCall(t *testing.T) {
	server := startBroker(t)
	requester := connect(t, server, "requester")
	responder := connect(t, server, "responder")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := responder.Subscribe(ctx, func(m *mqttclient.Message) {
		reply := &Request{
			Payload: append([]byte("echo:"), m.Payload...),
			Headers: Headers{"handled-by": "responder"},
		}
		_ = Respond(context.Background(), responder, m, reply)
	}, mqttclient.Subscription{TopicFilter: "service/echo", QoS: 1}).Wait(ctx)
	require.NoError(t, err)

	h, err := NewHandler(ctx, requester, &HandlerOptions{QoS: 1})
	require.NoError(t, err)
	defer h.Close(ctx)

	t.Run("response matched by correlation data", func(t *testing.T) {
		resp, err := h.Call(ctx, "service/echo", &Request{
			Payload:     []byte("hello"),
			ContentType: "text/plain",
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("echo:hello"), resp.Payload)
		assert.Equal(t, "responder", resp.Headers["handled-by"])
		assert.Len(t, resp.CorrelationData, 36)
	})

	t.Run("sequential calls", func(t *testing.T) {
		for _, payload := range []string{"a", "b", "c"} {
			resp, err := h.Call(ctx, "service/echo", &Request{Payload: []byte(payload)})
			require.NoError(t, err)
			assert.Equal(t, "echo:"+payload, string(resp.Payload))
		}
	})

	t.Run("timeout without responder", func(t *testing.T) {
		_, err := h.CallWithTimeout("service/nobody", &Request{Payload: []byte("x")}, 200*time.Millisecond)
		assert.ErrorIs(t, err, ErrTimeout)
	})
}

func TestRespond(t *testing.T) {
	t.Run("request without response topic", func(t *testing.T) {
		err := Respond(context.Background(), nil, &mqttclient.Message{Topic: "a"}, nil)
		assert.Error(t, err)
	})
}

func TestClose(t *testing.T) {
	server := startBroker(t)
	client := connect(t, server, "closer")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := NewHandler(ctx, client, nil)
	require.NoError(t, err)
	require.NoError(t, h.Close(ctx))

	_, err = h.Call(ctx, "service/echo", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
