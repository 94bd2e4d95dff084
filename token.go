package mqttclient

import (
	"context"
	"sync"
)

// Token is the pending result of an asynchronous operation. It completes
// exactly once, on the connection loop.
type Token interface {
	// Done is closed when the operation completes.
	Done() <-chan struct{}

	// Wait blocks until the operation completes or ctx ends and returns
	// the operation error, or ctx.Err() if ctx ended first.
	Wait(ctx context.Context) error

	// Err returns the result of a completed operation, or nil while pending.
	Err() error
}

type baseToken struct {
	done       chan struct{}
	once       sync.Once
	err        error
	onComplete func()
}

func newBaseToken() baseToken {
	return baseToken{done: make(chan struct{})}
}

func (t *baseToken) Done() <-chan struct{} {
	return t.done
}

func (t *baseToken) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *baseToken) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// complete resolves the token. Later calls are ignored.
func (t *baseToken) complete(err error) bool {
	completed := false
	t.once.Do(func() {
		t.err = err
		if t.onComplete != nil {
			t.onComplete()
		}
		close(t.done)
		completed = true
	})
	return completed
}

// PublishToken tracks one published message until it is acknowledged.
type PublishToken struct {
	baseToken
	packetID   uint16
	reasonCode ReasonCode
}

func newPublishToken() *PublishToken {
	return &PublishToken{baseToken: newBaseToken()}
}

// PacketID returns the identifier used for a QoS 1 or 2 publish, valid
// once the token is done.
func (t *PublishToken) PacketID() uint16 {
	<-t.done
	return t.packetID
}

// ReasonCode returns the reason code of the final acknowledgement.
func (t *PublishToken) ReasonCode() ReasonCode {
	<-t.done
	return t.reasonCode
}

// SubscribeToken tracks a SUBSCRIBE until its SUBACK.
type SubscribeToken struct {
	baseToken
	reasonCodes []ReasonCode
}

func newSubscribeToken() *SubscribeToken {
	return &SubscribeToken{baseToken: newBaseToken()}
}

// ReasonCodes returns one granted QoS or failure code per requested filter.
func (t *SubscribeToken) ReasonCodes() []ReasonCode {
	<-t.done
	return t.reasonCodes
}

// UnsubscribeToken tracks an UNSUBSCRIBE until its UNSUBACK.
type UnsubscribeToken struct {
	baseToken
	reasonCodes []ReasonCode
}

func newUnsubscribeToken() *UnsubscribeToken {
	return &UnsubscribeToken{baseToken: newBaseToken()}
}

// ReasonCodes returns the UNSUBACK reason codes. Always empty on MQTT 3.1.1.
func (t *UnsubscribeToken) ReasonCodes() []ReasonCode {
	<-t.done
	return t.reasonCodes
}

// Tokens rejected at the API boundary are returned already completed.
func failedPublish(err error) *PublishToken {
	t := newPublishToken()
	t.complete(err)
	return t
}

func failedSubscribe(err error) *SubscribeToken {
	t := newSubscribeToken()
	t.complete(err)
	return t
}

func failedUnsubscribe(err error) *UnsubscribeToken {
	t := newUnsubscribeToken()
	t.complete(err)
	return t
}
