package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrNoServers is returned by New when neither WithServers nor
// WithServerResolver is given.
var ErrNoServers = errors.New("no servers configured: use WithServers() or WithServerResolver()")

// ConnectionState is the lifecycle state of a Client.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// delivery is one received message waiting for its handlers.
type delivery struct {
	msg      *Message
	handlers []MessageHandler
}

// Client is an MQTT 3.1.1 and 5.0 client.
//
// Each network connection is served by a single loop goroutine that owns
// the protocol state. Public methods hand work to that loop and return
// tokens that complete when the server answers.
type Client struct {
	options *clientOptions
	logger  Logger
	metrics *ClientMetrics

	serverIndex atomic.Uint32
	maxQoS      atomic.Uint32

	mu              sync.Mutex
	state           ConnectionState
	conn            *connection
	clientID        string
	userClosed      bool
	reconnectCancel context.CancelFunc
	dispatchDone    chan struct{}

	// Session state shared by consecutive connections.
	ids        *PacketIDAllocator
	outgoing   *outgoingManager
	incoming   *incomingManager
	subs       *subscriptionRegistry
	acks       *queue[ackRequest]
	deliveries *queue[delivery]

	inflight *semaphore.Weighted
	limiter  *rate.Limiter
}

// New creates a disconnected client. Call Connect to open the first
// connection.
func New(opts ...Option) (*Client, error) {
	o := applyOptions(opts...)

	if len(o.servers) == 0 && o.serverResolver == nil {
		return nil, ErrNoServers
	}
	if !o.protocolVersion.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidProtocolVersion, o.protocolVersion)
	}
	if o.will != nil {
		if err := ValidateTopicName(o.will.Topic); err != nil {
			return nil, fmt.Errorf("will: %w", err)
		}
		if o.will.QoS > QoS2 {
			return nil, fmt.Errorf("will: %w", ErrInvalidQoS)
		}
	}
	if o.authenticator != nil && o.protocolVersion != ProtocolV5 {
		return nil, ErrAuthNotSupported
	}

	clientID := o.clientID
	if clientID == "" && o.protocolVersion == ProtocolV311 {
		clientID = "mqttc-" + uuid.NewString()
	}

	c := &Client{
		options:    o,
		logger:     o.logger,
		metrics:    NewClientMetrics(o.metrics),
		clientID:   clientID,
		ids:        NewPacketIDAllocator(0),
		subs:       newSubscriptionRegistry(),
		acks:       newQueue[ackRequest](),
		deliveries: newQueue[delivery](),
		inflight:   semaphore.NewWeighted(o.maxInflight),
		limiter:    rate.NewLimiter(o.publishRate, o.publishBurst),
	}
	c.maxQoS.Store(uint32(QoS2))
	c.outgoing = newOutgoingManager(o.protocolVersion, c.ids, o.flowStore, c.logger, c.metrics)
	c.incoming = newIncomingManager(o.protocolVersion, o.receiveMaximum, o.flowStore, c.acks, c.logger)

	if o.cleanStart {
		if err := o.flowStore.Reset(); err != nil {
			return nil, fmt.Errorf("reset flow store: %w", err)
		}
		return c, nil
	}

	out, err := o.flowStore.List(FlowOutgoing)
	if err != nil {
		return nil, fmt.Errorf("load outgoing flows: %w", err)
	}
	if err := c.outgoing.restore(out); err != nil {
		return nil, err
	}
	in, err := o.flowStore.List(FlowIncoming)
	if err != nil {
		return nil, fmt.Errorf("load incoming flows: %w", err)
	}
	c.incoming.restore(in)

	if len(out) > 0 || len(in) > 0 {
		c.logger.Info("restored session flows", LogFields{
			"outgoing": len(out),
			"incoming": len(in),
		})
	}
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the client has an established connection.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// ClientID returns the client identifier, including one assigned by the
// server.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Connect opens a connection and performs the MQTT handshake. It returns
// once CONNACK is accepted or the attempt fails; failures match
// ErrConnectionFailed, are *ConnectError and are also passed to the event
// handler.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrIllegalState, state)
	}
	c.state = StateConnecting
	c.userClosed = false
	c.stopReconnectLocked()
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		c.setState(StateDisconnected)
		c.emit(err)
		return err
	}
	return nil
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// current returns the live connection, or nil when not connected.
func (c *Client) current() *connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	return c.conn
}

// connectParams are the values negotiated by one handshake.
type connectParams struct {
	clientID       string
	keepAlive      uint16
	receiveMaximum uint16
	maxPacketSize  uint32
	maxQoS         byte
	retain         bool
}

// connect runs one attempt: dial, CONNECT, optional AUTH exchange and
// CONNACK. On success the connection loop is running.
func (c *Client) connect(ctx context.Context) error {
	o := c.options
	if o.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.connectTimeout)
		defer cancel()
	}

	server, err := c.nextServer(ctx)
	if err != nil {
		return &ConnectError{Cause: err}
	}
	dialer, address, err := resolveDialer(server, o)
	if err != nil {
		return &ConnectError{Cause: err}
	}

	logger := c.logger.WithFields(LogFields{LogFieldServer: server})
	logger.Debug("dialing", nil)

	nc, err := dialer.Dial(ctx, address)
	if err != nil {
		return &ConnectError{Cause: err}
	}

	// The handshake reads and writes the socket directly, so the context
	// is enforced through the deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = nc.SetDeadline(time.Now())
	})

	c.mu.Lock()
	clientID := c.clientID
	c.mu.Unlock()

	connack, err := c.handshake(nc, clientID)
	if !stop() {
		err = &ConnectError{Cause: ctx.Err()}
	}
	if err != nil {
		nc.Close()
		logger.Warn("connection attempt failed", LogFields{LogFieldError: err.Error()})
		return err
	}
	if err := nc.SetDeadline(noDeadline); err != nil {
		nc.Close()
		return &ConnectError{Cause: err}
	}

	params, err := c.negotiate(connack, clientID)
	if err != nil {
		nc.Close()
		return &ConnectError{Cause: err}
	}

	c.mu.Lock()
	if c.userClosed {
		c.mu.Unlock()
		nc.Close()
		return &ConnectError{Cause: ErrConnectionClosed}
	}
	// A successful attempt ends the reconnect loop that made it.
	c.stopReconnectLocked()
	cn := newConnection(c, nc, params, logger.WithFields(LogFields{LogFieldClientID: params.clientID}))
	c.clientID = params.clientID
	c.conn = cn
	c.state = StateConnected
	prevDispatch := c.dispatchDone
	dispatchDone := make(chan struct{})
	c.dispatchDone = dispatchDone
	c.mu.Unlock()

	c.maxQoS.Store(uint32(params.maxQoS))
	c.metrics.ConnectionOpened()
	cn.logger.Info("connected", LogFields{
		"session_present": connack.SessionPresent,
		"keep_alive":      params.keepAlive,
	})

	go c.dispatch(prevDispatch, cn.stop, dispatchDone)
	go cn.run(connack.SessionPresent)

	serverProps := connack.Props.Clone()
	c.emit(&ConnectedEvent{SessionPresent: connack.SessionPresent, ServerProps: &serverProps})
	return nil
}

// nextServer picks the next server round-robin, preferring the resolver's
// list when it returns one.
func (c *Client) nextServer(ctx context.Context) (string, error) {
	var servers []string
	if c.options.serverResolver != nil {
		resolved, err := c.options.serverResolver(ctx)
		if err != nil {
			c.logger.Warn("server resolver failed", LogFields{LogFieldError: err.Error()})
		} else {
			servers = resolved
		}
	}
	if len(servers) == 0 {
		servers = c.options.servers
	}
	if len(servers) == 0 {
		return "", errors.New("no servers available")
	}

	index := c.serverIndex.Add(1) - 1
	return servers[index%uint32(len(servers))], nil
}

func (c *Client) connectPacket(clientID string) (*ConnectPacket, error) {
	o := c.options
	pkt := &ConnectPacket{
		Version:    o.protocolVersion,
		ClientID:   clientID,
		CleanStart: o.cleanStart,
		KeepAlive:  o.keepAlive,
		Username:   o.username,
		Password:   o.password,
		Will:       o.will,
	}
	if o.protocolVersion != ProtocolV5 {
		return pkt, nil
	}

	props := &pkt.Props
	if o.sessionExpiryInterval > 0 {
		_ = props.Set(PropSessionExpiryInterval, o.sessionExpiryInterval)
	}
	if o.receiveMaximum < 65535 {
		_ = props.Set(PropReceiveMaximum, o.receiveMaximum)
	}
	if o.maxPacketSize < MaxPacketSizeProtocol {
		_ = props.Set(PropMaximumPacketSize, o.maxPacketSize)
	}
	if o.topicAliasMaximum > 0 {
		_ = props.Set(PropTopicAliasMaximum, o.topicAliasMaximum)
	}
	for _, up := range o.userProperties {
		_ = props.Add(PropUserProperty, up)
	}

	if auth := o.authenticator; auth != nil {
		data, err := auth.InitialData()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		_ = props.Set(PropAuthenticationMethod, auth.Method())
		if len(data) > 0 {
			_ = props.Set(PropAuthenticationData, data)
		}
	}
	return pkt, nil
}

// handshake sends CONNECT and reads until CONNACK, answering AUTH
// challenges on the way.
func (c *Client) handshake(nc net.Conn, clientID string) (*ConnackPacket, error) {
	v := c.options.protocolVersion
	auth := c.options.authenticator

	pkt, err := c.connectPacket(clientID)
	if err != nil {
		return nil, &ConnectError{Cause: err}
	}
	if _, err := WritePacket(nc, pkt, v, 0); err != nil {
		return nil, &ConnectError{Cause: err}
	}

	for {
		p, _, err := ReadPacket(nc, v, c.options.maxPacketSize)
		if err != nil {
			return nil, &ConnectError{Cause: err}
		}

		switch p := p.(type) {
		case *ConnackPacket:
			if p.ReasonCode.IsError() {
				props := p.Props.Clone()
				return nil, &ConnectError{ReasonCode: p.ReasonCode, Properties: &props}
			}
			if auth != nil {
				if data, ok := p.Props.Binary(PropAuthenticationData); ok {
					if _, err := auth.Continue(data); err != nil {
						return nil, &ConnectError{Cause: err}
					}
				}
			}
			return p, nil

		case *AuthPacket:
			if auth == nil || p.ReasonCode != ReasonContinueAuth {
				return nil, &ConnectError{Cause: protocolErrorf("unexpected AUTH %s during connect", p.ReasonCode)}
			}
			if method := p.method(); method != auth.Method() {
				return nil, &ConnectError{Cause: protocolErrorf("AUTH method %q, expected %q", method, auth.Method())}
			}
			resp, err := auth.Continue(p.data())
			if err != nil {
				return nil, &ConnectError{Cause: err}
			}
			out := &AuthPacket{ReasonCode: ReasonContinueAuth}
			_ = out.Props.Set(PropAuthenticationMethod, auth.Method())
			if len(resp) > 0 {
				_ = out.Props.Set(PropAuthenticationData, resp)
			}
			if _, err := WritePacket(nc, out, v, 0); err != nil {
				return nil, &ConnectError{Cause: err}
			}

		default:
			return nil, &ConnectError{Cause: protocolErrorf("expected CONNACK, got %s", p.Type())}
		}
	}
}

// negotiate applies the server's CONNACK properties to the client's
// requested settings.
func (c *Client) negotiate(connack *ConnackPacket, clientID string) (connectParams, error) {
	o := c.options
	p := connectParams{
		clientID:       clientID,
		keepAlive:      o.keepAlive,
		receiveMaximum: 65535,
		maxPacketSize:  MaxPacketSizeProtocol,
		maxQoS:         QoS2,
	}
	if o.protocolVersion != ProtocolV5 {
		p.retain = !o.cleanStart
		return p, nil
	}
	p.retain = o.sessionExpiryInterval > 0

	props := &connack.Props
	if id, ok := props.String(PropAssignedClientIdentifier); ok && id != "" {
		p.clientID = id
	}
	if p.clientID == "" {
		return p, protocolErrorf("server did not assign a client identifier")
	}
	if ka, ok := props.Uint16(PropServerKeepAlive); ok {
		p.keepAlive = ka
	}
	if rm, ok := props.Uint16(PropReceiveMaximum); ok {
		if rm == 0 {
			return p, protocolErrorf("CONNACK receive maximum is 0")
		}
		p.receiveMaximum = rm
	}
	if size, ok := props.Uint32(PropMaximumPacketSize); ok {
		if size == 0 {
			return p, protocolErrorf("CONNACK maximum packet size is 0")
		}
		p.maxPacketSize = min(size, MaxPacketSizeProtocol)
	}
	if q, ok := props.Byte(PropMaximumQoS); ok {
		if q > QoS1 {
			return p, protocolErrorf("CONNACK maximum QoS is %d", q)
		}
		p.maxQoS = q
	}
	if expiry, ok := props.Uint32(PropSessionExpiryInterval); ok {
		p.retain = expiry > 0
	}
	return p, nil
}

// Publish sends msg. QoS 0 tokens complete once the packet is written,
// QoS 1 and 2 tokens on the final acknowledgement. Publish blocks while
// the rate limit or the in-flight bound holds it back.
func (c *Client) Publish(ctx context.Context, msg *Message) *PublishToken {
	if msg == nil {
		return failedPublish(fmt.Errorf("%w: nil message", ErrPublishFailed))
	}
	if len(c.options.producerInterceptors) > 0 {
		if msg = c.interceptSend(msg.Clone()); msg == nil {
			return failedPublish(ErrMessageDropped)
		}
	}
	if err := ValidateTopicName(msg.Topic); err != nil {
		return failedPublish(err)
	}
	if msg.QoS > QoS2 {
		return failedPublish(ErrInvalidQoS)
	}
	if maxQoS := byte(c.maxQoS.Load()); msg.QoS > maxQoS {
		return failedPublish(fmt.Errorf("%w: server maximum QoS is %d", ErrInvalidQoS, maxQoS))
	}

	if c.current() == nil {
		return failedPublish(ErrNotConnected)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return failedPublish(err)
	}

	token := newPublishToken()
	if msg.QoS > QoS0 {
		if err := c.inflight.Acquire(ctx, 1); err != nil {
			return failedPublish(err)
		}
		token.onComplete = func() { c.inflight.Release(1) }
	}

	// The connection may have changed while waiting.
	cn := c.current()
	if cn == nil {
		token.complete(ErrNotConnected)
		return token
	}
	if err := cn.mailbox.send(ctx, &publishCommand{msg: msg.Clone(), token: token}); err != nil {
		token.complete(err)
	}
	return token
}

// Subscribe registers handler for the given subscriptions and sends one
// SUBSCRIBE. The handler receives messages from the moment the request is
// sent; filters the server refuses are dropped again on SUBACK. A nil
// handler routes matches to the default handler.
func (c *Client) Subscribe(ctx context.Context, handler MessageHandler, subs ...Subscription) *SubscribeToken {
	if len(subs) == 0 {
		return failedSubscribe(ErrNoSubscriptions)
	}
	if handler == nil {
		handler = c.options.defaultHandler
	}
	if handler == nil {
		return failedSubscribe(fmt.Errorf("%w: no message handler", ErrSubscribeFailed))
	}

	var subID uint32
	for _, s := range subs {
		if err := ValidateTopicFilter(s.TopicFilter); err != nil {
			return failedSubscribe(err)
		}
		if s.QoS > QoS2 {
			return failedSubscribe(ErrInvalidQoS)
		}
		if s.RetainHandling > 2 {
			return failedSubscribe(fmt.Errorf("%w: retain handling %d", ErrSubscribeFailed, s.RetainHandling))
		}
		if s.SubscriptionID != 0 {
			if subID != 0 && subID != s.SubscriptionID {
				return failedSubscribe(fmt.Errorf("%w: one SUBSCRIBE carries a single subscription identifier", ErrSubscribeFailed))
			}
			subID = s.SubscriptionID
		}
	}

	cn := c.current()
	if cn == nil {
		return failedSubscribe(ErrNotConnected)
	}

	cmd := &subscribeCommand{
		subs:    append([]Subscription(nil), subs...),
		handler: handler,
		token:   newSubscribeToken(),
	}
	if subID != 0 && c.options.protocolVersion == ProtocolV5 {
		if err := cmd.props.Set(PropSubscriptionIdentifier, subID); err != nil {
			return failedSubscribe(err)
		}
	}
	if err := cn.mailbox.send(ctx, cmd); err != nil {
		cmd.token.complete(err)
	}
	return cmd.token
}

// Unsubscribe removes filters. Their handlers stop receiving messages once
// the server confirms.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) *UnsubscribeToken {
	if len(filters) == 0 {
		return failedUnsubscribe(ErrNoTopicFilters)
	}
	for _, f := range filters {
		if err := ValidateTopicFilter(f); err != nil {
			return failedUnsubscribe(err)
		}
	}

	cn := c.current()
	if cn == nil {
		return failedUnsubscribe(ErrNotConnected)
	}

	cmd := &unsubscribeCommand{
		filters: append([]string(nil), filters...),
		token:   newUnsubscribeToken(),
	}
	if err := cn.mailbox.send(ctx, cmd); err != nil {
		cmd.token.complete(err)
	}
	return cmd.token
}

// Disconnect sends DISCONNECT with reason after the commands already
// queued, then closes the connection and stops automatic reconnects. If
// ctx ends first the connection is closed without waiting for the flush.
// Calling it on a disconnected client only stops reconnects.
func (c *Client) Disconnect(ctx context.Context, reason ReasonCode) error {
	c.mu.Lock()
	c.userClosed = true
	c.stopReconnectLocked()
	cn := c.conn
	if c.state != StateConnected || cn == nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnecting
	c.mu.Unlock()

	if err := cn.mailbox.send(ctx, &disconnectCommand{reason: reason}); err != nil && !errors.Is(err, ErrConnectionClosed) {
		cn.conn.Close()
		<-cn.done
		return err
	}

	select {
	case <-cn.done:
		return nil
	case <-ctx.Done():
		cn.conn.Close()
		<-cn.done
		return ctx.Err()
	}
}

// Close disconnects with reason Normal Disconnection.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.writeTimeout+time.Second)
	defer cancel()
	return c.Disconnect(ctx, ReasonSuccess)
}

func (c *Client) emit(event error) {
	if c.options.onEvent != nil {
		c.options.onEvent(c, event)
	}
}

// dispatch runs message handlers for one connection. It starts after the
// previous connection's dispatcher finished, so handlers never overlap and
// see messages in arrival order. When stop closes it delivers what is left
// and exits.
func (c *Client) dispatch(prev <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	for {
		select {
		case <-c.deliveries.ready():
			c.deliver()
		case <-stop:
			c.deliver()
			return
		}
	}
}

func (c *Client) deliver() {
	items, _ := c.deliveries.drain()
	for _, d := range items {
		if msg := c.interceptConsume(d.msg); msg != nil {
			for _, h := range d.handlers {
				h(msg)
			}
		}
		if !c.options.manualAck && d.msg.ack != nil {
			_ = d.msg.ack.acknowledge()
		}
	}
}

// startReconnect launches the reconnect loop unless one is running or the
// user asked to disconnect.
func (c *Client) startReconnect(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userClosed || c.reconnectCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectCancel = cancel
	go c.reconnect(ctx, cause)
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
}

func (c *Client) reconnect(ctx context.Context, cause error) {
	defer func() {
		c.mu.Lock()
		if ctx.Err() == nil {
			c.stopReconnectLocked()
		}
		c.mu.Unlock()
	}()

	o := c.options
	backoff := o.reconnectBackoff
	for attempt := 1; ; attempt++ {
		if o.maxReconnects >= 0 && attempt > o.maxReconnects {
			c.logger.Error("giving up reconnecting", LogFields{
				LogFieldAttempt: attempt - 1,
				LogFieldError:   cause.Error(),
			})
			return
		}

		c.emit(&ReconnectingEvent{Attempt: attempt, Delay: backoff})
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if c.state != StateDisconnected || c.userClosed {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()

		c.metrics.Reconnect()
		err := c.connect(ctx)
		if err == nil {
			return
		}
		c.setState(StateDisconnected)
		c.emit(err)
		cause = err

		c.logger.Warn("reconnect attempt failed", LogFields{
			LogFieldAttempt:  attempt,
			LogFieldDuration: backoff.String(),
			LogFieldError:    err.Error(),
		})

		if o.backoffStrategy != nil {
			backoff = o.backoffStrategy(attempt, backoff, err)
		} else {
			backoff *= 2
		}
		if o.maxBackoff > 0 && backoff > o.maxBackoff {
			backoff = o.maxBackoff
		}
	}
}
