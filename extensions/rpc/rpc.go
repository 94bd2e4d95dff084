// Package rpc provides request/response on top of an MQTT 5.0 client. It
// uses the Response Topic and Correlation Data publish properties to match
// requests with their responses.
// MQTT v5.0 spec: Section 4.10 (Request / Response)
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitalvas/mqttclient"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("rpc: request timeout")

	// ErrClosed is returned for requests pending when the handler is closed.
	ErrClosed = errors.New("rpc: handler closed")
)

// Headers are transmitted as MQTT 5.0 User Properties.
type Headers map[string]string

// Request is an RPC request with optional headers.
type Request struct {
	Payload     []byte
	Headers     Headers
	ContentType string
}

// Response is the reply matched to a request.
type Response struct {
	Payload         []byte
	Headers         Headers
	ContentType     string
	CorrelationData []byte
}

// Client is the part of *mqttclient.Client the handler needs.
type Client interface {
	ClientID() string
	Subscribe(ctx context.Context, handler mqttclient.MessageHandler, subs ...mqttclient.Subscription) *mqttclient.SubscribeToken
	Unsubscribe(ctx context.Context, filters ...string) *mqttclient.UnsubscribeToken
	Publish(ctx context.Context, msg *mqttclient.Message) *mqttclient.PublishToken
}

// Handler sends requests and routes responses back to their callers.
type Handler struct {
	client        Client
	responseTopic string
	qos           byte

	mu      sync.Mutex
	pending map[string]chan *Response
	closed  bool
}

// HandlerOptions configures the RPC handler.
type HandlerOptions struct {
	// ResponseTopic defaults to "rpc/response/{clientID}".
	ResponseTopic string

	// QoS for requests and the response subscription. Defaults to 0.
	QoS byte
}

// NewHandler subscribes to the response topic and waits for the SUBACK.
func NewHandler(ctx context.Context, client Client, opts *HandlerOptions) (*Handler, error) {
	if client == nil {
		return nil, errors.New("rpc: client is required")
	}
	if opts == nil {
		opts = &HandlerOptions{}
	}

	responseTopic := opts.ResponseTopic
	if responseTopic == "" {
		responseTopic = "rpc/response/" + client.ClientID()
	}

	h := &Handler{
		client:        client,
		responseTopic: responseTopic,
		qos:           opts.QoS,
		pending:       make(map[string]chan *Response),
	}

	sub := mqttclient.Subscription{TopicFilter: responseTopic, QoS: opts.QoS}
	if err := client.Subscribe(ctx, h.handleResponse, sub).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rpc: subscribe to response topic: %w", err)
	}
	return h, nil
}

// ResponseTopic returns the topic responses are received on.
func (h *Handler) ResponseTopic() string {
	return h.responseTopic
}

// Call publishes req to topic and blocks until the matching response
// arrives or ctx ends.
func (h *Handler) Call(ctx context.Context, topic string, req *Request) (*Response, error) {
	if req == nil {
		req = &Request{}
	}

	correlID := uuid.NewString()
	ch := make(chan *Response, 1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.pending[correlID] = ch
	h.mu.Unlock()
	defer h.forget(correlID)

	msg := &mqttclient.Message{
		Topic:           topic,
		Payload:         req.Payload,
		QoS:             h.qos,
		ResponseTopic:   h.responseTopic,
		CorrelationData: []byte(correlID),
		ContentType:     req.ContentType,
	}
	for k, v := range req.Headers {
		msg.UserProperties = append(msg.UserProperties, mqttclient.StringPair{Key: k, Value: v})
	}

	if err := h.client.Publish(ctx, msg).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rpc: publish request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// CallWithTimeout is Call with a fresh timeout context.
func (h *Handler) CallWithTimeout(topic string, req *Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return h.Call(ctx, topic, req)
}

// Close fails pending calls and unsubscribes from the response topic.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
	h.mu.Unlock()

	return h.client.Unsubscribe(ctx, h.responseTopic).Wait(ctx)
}

func (h *Handler) forget(correlID string) {
	h.mu.Lock()
	delete(h.pending, correlID)
	h.mu.Unlock()
}

func (h *Handler) handleResponse(msg *mqttclient.Message) {
	if len(msg.CorrelationData) == 0 {
		return
	}

	h.mu.Lock()
	ch, ok := h.pending[string(msg.CorrelationData)]
	if ok {
		delete(h.pending, string(msg.CorrelationData))
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	resp := &Response{
		Payload:         msg.Payload,
		ContentType:     msg.ContentType,
		CorrelationData: msg.CorrelationData,
	}
	if len(msg.UserProperties) > 0 {
		resp.Headers = make(Headers, len(msg.UserProperties))
		for _, up := range msg.UserProperties {
			resp.Headers[up.Key] = up.Value
		}
	}
	ch <- resp
}

// Respond publishes reply to the response topic of request, copying its
// correlation data. It returns an error if request has no response topic.
func Respond(ctx context.Context, client Client, request *mqttclient.Message, reply *Request) error {
	if request.ResponseTopic == "" {
		return errors.New("rpc: request has no response topic")
	}
	if reply == nil {
		reply = &Request{}
	}

	msg := &mqttclient.Message{
		Topic:           request.ResponseTopic,
		Payload:         reply.Payload,
		QoS:             request.QoS,
		CorrelationData: request.CorrelationData,
		ContentType:     reply.ContentType,
	}
	for k, v := range reply.Headers {
		msg.UserProperties = append(msg.UserProperties, mqttclient.StringPair{Key: k, Value: v})
	}
	return client.Publish(ctx, msg).Wait(ctx)
}
