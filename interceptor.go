package mqttclient

import (
	"errors"
	"fmt"
)

// ErrMessageDropped is returned by Publish when a producer interceptor
// returned nil.
var ErrMessageDropped = errors.New("message dropped by interceptor")

// ProducerInterceptor sees every message passed to Publish before it is
// validated and queued. It receives a copy that it may modify or replace;
// returning nil drops the message.
type ProducerInterceptor interface {
	OnSend(msg *Message) *Message
}

// ConsumerInterceptor sees every received message before the handlers do.
// Returning nil skips the handlers; the message is still acknowledged.
type ConsumerInterceptor interface {
	OnConsume(msg *Message) *Message
}

// ProducerInterceptorFunc adapts a function to ProducerInterceptor.
type ProducerInterceptorFunc func(msg *Message) *Message

func (f ProducerInterceptorFunc) OnSend(msg *Message) *Message { return f(msg) }

// ConsumerInterceptorFunc adapts a function to ConsumerInterceptor.
type ConsumerInterceptorFunc func(msg *Message) *Message

func (f ConsumerInterceptorFunc) OnConsume(msg *Message) *Message { return f(msg) }

// intercept runs msg through the chain in order. A panicking interceptor is
// logged and skipped.
func intercept[I any](logger Logger, chain []I, msg *Message, apply func(I, *Message) *Message) *Message {
	for _, ic := range chain {
		if msg == nil {
			return nil
		}
		msg = safeApply(logger, ic, msg, apply)
	}
	return msg
}

func safeApply[I any](logger Logger, ic I, msg *Message, apply func(I, *Message) *Message) (result *Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("interceptor panicked", LogFields{
				LogFieldTopic: msg.Topic,
				LogFieldError: fmt.Sprint(r),
			})
			result = msg
		}
	}()
	return apply(ic, msg)
}

func (c *Client) interceptSend(msg *Message) *Message {
	return intercept(c.logger, c.options.producerInterceptors, msg, ProducerInterceptor.OnSend)
}

func (c *Client) interceptConsume(msg *Message) *Message {
	out := intercept(c.logger, c.options.consumerInterceptors, msg, ConsumerInterceptor.OnConsume)
	if out != nil && out != msg {
		out.ack = msg.ack
	}
	return out
}
