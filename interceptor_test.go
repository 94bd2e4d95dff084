package mqttclient

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerInterceptors(t *testing.T) {
	tag := ProducerInterceptorFunc(func(m *Message) *Message {
		m.UserProperties = append(m.UserProperties, StringPair{Key: "via", Value: "interceptor"})
		return m
	})
	dropDebug := ProducerInterceptorFunc(func(m *Message) *Message {
		if m.Topic == "debug" {
			return nil
		}
		return m
	})

	t.Run("modifies a copy", func(t *testing.T) {
		s := newFakeServer()
		c, p, _ := connectClient(t, s, &ConnackPacket{}, WithProducerInterceptors(tag, dropDebug))
		ctx := testContext(t)

		msg := &Message{Topic: "a/b"}
		require.NoError(t, c.Publish(ctx, msg).Wait(ctx))

		pub := expectPacket[*PublishPacket](p)
		assert.Equal(t, []StringPair{{Key: "via", Value: "interceptor"}}, pub.Props.UserProperties())
		assert.Empty(t, msg.UserProperties)
	})

	t.Run("drop", func(t *testing.T) {
		c := newFakeClient(t, newFakeServer(), WithProducerInterceptors(tag, dropDebug))
		tok := c.Publish(testContext(t), &Message{Topic: "debug"})
		assert.ErrorIs(t, tok.Err(), ErrMessageDropped)
	})

	t.Run("replaced message is validated", func(t *testing.T) {
		rename := ProducerInterceptorFunc(func(m *Message) *Message {
			return &Message{Topic: "bad/#"}
		})
		c := newFakeClient(t, newFakeServer(), WithProducerInterceptors(rename))
		tok := c.Publish(testContext(t), &Message{Topic: "a"})
		assert.ErrorIs(t, tok.Err(), ErrInvalidTopic)
	})
}

func TestConsumerInterceptors(t *testing.T) {
	t.Run("drop still acknowledges", func(t *testing.T) {
		s := newFakeServer()
		dropAll := ConsumerInterceptorFunc(func(*Message) *Message { return nil })
		c, p, _ := connectClient(t, s, &ConnackPacket{}, WithConsumerInterceptors(dropAll))
		ctx := testContext(t)

		msgs := make(chan *Message, 1)
		tok := c.Subscribe(ctx, func(m *Message) { msgs <- m }, Subscription{TopicFilter: "a/#", QoS: QoS1})
		sub := expectPacket[*SubscribePacket](p)
		p.send(&SubackPacket{PacketID: sub.PacketID, ReasonCodes: []ReasonCode{ReasonGrantedQoS1}})
		require.NoError(t, tok.Wait(ctx))

		p.send(&PublishPacket{Topic: "a/b", QoS: QoS1, PacketID: 4})
		ack := expectPacket[*PubackPacket](p)
		assert.Equal(t, uint16(4), ack.PacketID)
		assert.Empty(t, msgs)
	})

	t.Run("replacement keeps the acknowledgement", func(t *testing.T) {
		upper := ConsumerInterceptorFunc(func(m *Message) *Message {
			out := m.Clone()
			out.Payload = bytes.ToUpper(out.Payload)
			return out
		})
		c := newFakeClient(t, newFakeServer(), WithConsumerInterceptors(upper))

		in := &Message{Topic: "a", Payload: []byte("hi")}
		in.ack = &acknowledger{req: ackRequest{packetID: 1}, queue: newQueue[ackRequest]()}

		out := c.interceptConsume(in)
		require.NotNil(t, out)
		assert.Equal(t, []byte("HI"), out.Payload)
		assert.Same(t, in.ack, out.ack)
	})
}

func TestInterceptorPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(&buf, LogLevelDebug)
	boom := ProducerInterceptorFunc(func(*Message) *Message { panic("boom") })
	tag := ProducerInterceptorFunc(func(m *Message) *Message {
		m.ContentType = "tagged"
		return m
	})

	c := newFakeClient(t, newFakeServer(), WithLogger(logger), WithProducerInterceptors(boom, tag))
	out := c.interceptSend(&Message{Topic: "a/b"})

	require.NotNil(t, out)
	assert.Equal(t, "tagged", out.ContentType)
	assert.Contains(t, buf.String(), "interceptor panicked")
	assert.Contains(t, buf.String(), "boom")
}
