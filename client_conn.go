package mqttclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync/atomic"
	"time"
)

type pendingSubscribe struct {
	subs    []Subscription
	entries []*subscriptionEntry
	token   *SubscribeToken
}

type pendingUnsubscribe struct {
	filters []string
	token   *UnsubscribeToken
}

// connection is one network connection. Its loop goroutine owns all
// protocol state; the reader and writer goroutines only move bytes.
type connection struct {
	client *Client
	conn   net.Conn
	params connectParams
	logger Logger

	mailbox  *mailbox
	outbound chan []byte
	inbound  chan Packet
	readErr  chan error

	writerDone chan struct{}
	writeErr   atomic.Value
	readerDone chan struct{}
	stop       chan struct{}
	done       chan struct{}

	lastFlush atomic.Int64

	keepAlive *keepAliveMonitor
	aliases   *topicAliasTable

	pendingSubs   map[uint16]*pendingSubscribe
	pendingUnsubs map[uint16]*pendingUnsubscribe

	disconnectReason *ReasonCode
}

func newConnection(c *Client, nc net.Conn, params connectParams, logger Logger) *connection {
	o := c.options
	cn := &connection{
		client:        c,
		conn:          nc,
		params:        params,
		logger:        logger,
		mailbox:       newMailbox(o.mailboxSize),
		outbound:      make(chan []byte, o.outboundBuffer),
		inbound:       make(chan Packet),
		readErr:       make(chan error, 1),
		writerDone:    make(chan struct{}),
		readerDone:    make(chan struct{}),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		keepAlive:     newKeepAliveMonitor(params.keepAlive, o.pingMargin, o.pingRespRequired),
		aliases:       newTopicAliasTable(o.topicAliasMaximum),
		pendingSubs:   make(map[uint16]*pendingSubscribe),
		pendingUnsubs: make(map[uint16]*pendingUnsubscribe),
	}
	cn.lastFlush.Store(time.Now().UnixNano())
	return cn
}

// send encodes p within the server's maximum packet size and queues it for
// the writer. It fails with an error wrapping ErrConnectionClosed once the
// writer has stopped.
func (cn *connection) send(p Packet) error {
	raw, err := Encode(p, cn.client.options.protocolVersion, cn.params.maxPacketSize)
	if err != nil {
		return err
	}

	select {
	case cn.outbound <- raw:
	case <-cn.writerDone:
		if err, ok := cn.writeErr.Load().(error); ok {
			return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		return ErrConnectionClosed
	}

	cn.client.metrics.PacketSent(p.Type(), len(raw))
	cn.logger.Debug("packet queued", LogFields{
		LogFieldPacketType: p.Type().String(),
		LogFieldBytes:      len(raw),
	})
	return nil
}

// writeLoop writes queued packets until outbound is closed or a write
// fails. Each completed write is the last-flush time used by keep alive.
func (cn *connection) writeLoop() {
	defer close(cn.writerDone)

	timeout := cn.client.options.writeTimeout
	for raw := range cn.outbound {
		if timeout > 0 {
			_ = cn.conn.SetWriteDeadline(time.Now().Add(timeout))
		}
		if _, err := cn.conn.Write(raw); err != nil {
			cn.writeErr.Store(err)
			return
		}
		cn.lastFlush.Store(time.Now().UnixNano())
	}
}

// readLoop decodes packets and hands them to the loop.
func (cn *connection) readLoop() {
	defer close(cn.readerDone)

	c := cn.client
	v := c.options.protocolVersion
	r := bufio.NewReader(cn.conn)
	for {
		p, n, err := ReadPacket(r, v, c.options.maxPacketSize)
		if err != nil {
			cn.readErr <- err
			return
		}
		c.metrics.PacketReceived(p.Type(), n)

		select {
		case cn.inbound <- p:
		case <-cn.stop:
			return
		}
	}
}

func (cn *connection) run(sessionPresent bool) {
	go cn.writeLoop()
	go cn.readLoop()

	err := cn.start(sessionPresent)
	if err == nil {
		err = cn.loop()
	}
	cn.teardown(err)
}

// start restores the session on the new connection.
func (cn *connection) start(sessionPresent bool) error {
	c := cn.client
	c.outgoing.attach(cn, cn.params.receiveMaximum, cn.params.maxPacketSize)
	c.incoming.attach(cn)

	c.incoming.resume(sessionPresent)
	if err := c.outgoing.resume(sessionPresent); err != nil {
		return err
	}
	if !sessionPresent {
		if err := cn.resubscribe(); err != nil {
			return err
		}
	}
	return cn.processAcks()
}

// resubscribe repeats the registered subscriptions when the server has no
// session for the client. Subscriptions sharing a subscription identifier
// go in one SUBSCRIBE.
func (cn *connection) resubscribe() error {
	c := cn.client
	subs := c.subs.subscriptions()
	if len(subs) == 0 {
		return nil
	}

	groups := make(map[uint32][]Subscription)
	var order []uint32
	for _, s := range subs {
		if _, ok := groups[s.SubscriptionID]; !ok {
			order = append(order, s.SubscriptionID)
		}
		groups[s.SubscriptionID] = append(groups[s.SubscriptionID], s)
	}

	for _, subID := range order {
		id, err := c.ids.Allocate()
		if err != nil {
			return err
		}
		pkt := &SubscribePacket{PacketID: id, Subscriptions: groups[subID]}
		if subID != 0 && c.options.protocolVersion == ProtocolV5 {
			_ = pkt.Props.Set(PropSubscriptionIdentifier, subID)
		}
		cn.pendingSubs[id] = &pendingSubscribe{subs: pkt.Subscriptions}
		if err := cn.send(pkt); err != nil {
			return err
		}
	}
	cn.logger.Info("restored subscriptions", LogFields{"count": len(subs)})
	return nil
}

// loop serves the connection until it ends. A nil result is a completed
// client disconnect.
func (cn *connection) loop() error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if cn.keepAlive.enabled() {
			timer.Reset(max(time.Until(cn.keepAlive.next(cn.lastFlushTime())), 0))
		}

		select {
		case cmd := <-cn.mailbox.receive():
			done, err := cn.handleCommand(cmd)
			if err != nil || done {
				return err
			}

		case p := <-cn.inbound:
			if err := cn.handlePacket(p); err != nil {
				return err
			}

		case err := <-cn.readErr:
			if errors.Is(err, ErrMalformedPacket) || errors.Is(err, ErrPacketTooLarge) || errors.Is(err, ErrProtocolError) {
				return err
			}
			return &ConnectionLostError{Source: SourceTransport, Cause: err}

		case <-cn.writerDone:
			err, _ := cn.writeErr.Load().(error)
			return &ConnectionLostError{Source: SourceTransport, Cause: err}

		case <-cn.client.acks.ready():
			if err := cn.processAcks(); err != nil {
				return err
			}

		case <-timer.C:
			if err := cn.checkKeepAlive(time.Now()); err != nil {
				return err
			}
		}
	}
}

func (cn *connection) lastFlushTime() time.Time {
	return time.Unix(0, cn.lastFlush.Load())
}

func (cn *connection) checkKeepAlive(now time.Time) error {
	switch cn.keepAlive.check(now, cn.lastFlushTime()) {
	case keepAlivePing:
		if err := cn.send(&PingreqPacket{}); err != nil {
			return err
		}
		cn.keepAlive.pingSent(now)
	case keepAliveTimeout:
		cn.client.metrics.KeepAliveTimeout()
		cn.logger.Warn("no PINGRESP from server", LogFields{
			LogFieldDuration: cn.keepAlive.interval.String(),
		})
		return ErrKeepAliveTimeout
	}
	return nil
}

// processAcks sends the acknowledgements requested by Message.Ack. Every
// request is applied even after a send failure so no flow is left waiting
// for an Ack that was already given.
func (cn *connection) processAcks() error {
	reqs, _ := cn.client.acks.drain()
	var firstErr error
	for _, req := range reqs {
		if err := cn.client.incoming.acknowledge(req); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// handleCommand runs one mailbox command. done is true after DISCONNECT.
func (cn *connection) handleCommand(cmd command) (done bool, err error) {
	c := cn.client
	switch cmd := cmd.(type) {
	case *publishCommand:
		return false, c.outgoing.publish(cmd.msg, cmd.token)

	case *subscribeCommand:
		return false, cn.subscribe(cmd)

	case *unsubscribeCommand:
		return false, cn.unsubscribe(cmd)

	case *disconnectCommand:
		reason := cmd.reason
		cn.disconnectReason = &reason
		pkt := &DisconnectPacket{ReasonCode: reason}
		if err := cn.send(pkt); err != nil && !isTransportError(err) {
			return true, err
		}
		return true, nil
	}
	return false, fmt.Errorf("unknown command %T", cmd)
}

func (cn *connection) subscribe(cmd *subscribeCommand) error {
	c := cn.client
	id, err := c.ids.Allocate()
	if err != nil {
		cmd.token.complete(err)
		return nil
	}

	p := &pendingSubscribe{subs: cmd.subs, token: cmd.token}
	for _, s := range cmd.subs {
		entry, err := c.subs.add(s, cmd.handler)
		if err != nil {
			cn.dropEntries(p)
			c.ids.Release(id)
			cmd.token.complete(err)
			return nil
		}
		p.entries = append(p.entries, entry)
	}

	pkt := &SubscribePacket{PacketID: id, Subscriptions: cmd.subs, Props: cmd.props}
	if err := cn.send(pkt); err != nil {
		cn.dropEntries(p)
		c.ids.Release(id)
		cmd.token.complete(err)
		if isTransportError(err) {
			return err
		}
		return nil
	}
	cn.pendingSubs[id] = p
	return nil
}

func (cn *connection) dropEntries(p *pendingSubscribe) {
	for i, e := range p.entries {
		cn.client.subs.remove(p.subs[i].TopicFilter, e)
	}
}

func (cn *connection) unsubscribe(cmd *unsubscribeCommand) error {
	c := cn.client
	id, err := c.ids.Allocate()
	if err != nil {
		cmd.token.complete(err)
		return nil
	}

	pkt := &UnsubscribePacket{PacketID: id, TopicFilters: cmd.filters}
	if err := cn.send(pkt); err != nil {
		c.ids.Release(id)
		cmd.token.complete(err)
		if isTransportError(err) {
			return err
		}
		return nil
	}
	cn.pendingUnsubs[id] = &pendingUnsubscribe{filters: cmd.filters, token: cmd.token}
	return nil
}

func (cn *connection) handlePacket(p Packet) error {
	c := cn.client
	_, isPingresp := p.(*PingrespPacket)
	cn.keepAlive.onInbound(isPingresp)

	switch p := p.(type) {
	case *PublishPacket:
		return cn.handlePublish(p)
	case *PubackPacket:
		return c.outgoing.handlePuback(p)
	case *PubrecPacket:
		return c.outgoing.handlePubrec(p)
	case *PubrelPacket:
		return c.incoming.handlePubrel(p)
	case *PubcompPacket:
		return c.outgoing.handlePubcomp(p)
	case *SubackPacket:
		return cn.handleSuback(p)
	case *UnsubackPacket:
		return cn.handleUnsuback(p)
	case *PingrespPacket:
		return nil
	case *DisconnectPacket:
		return cn.handleDisconnect(p)
	case *AuthPacket:
		return cn.handleAuth(p)
	}
	return protocolErrorf("unexpected %s from server", p.Type())
}

func (cn *connection) handlePublish(p *PublishPacket) error {
	c := cn.client

	if alias, ok := p.Props.Uint16(PropTopicAlias); ok && c.options.protocolVersion == ProtocolV5 {
		topic, err := cn.aliases.resolve(alias, p.Topic)
		if err != nil {
			return err
		}
		p.Topic = topic
	}
	if err := ValidateTopicName(p.Topic); err != nil {
		return protocolErrorf("PUBLISH topic: %v", err)
	}

	msg, err := c.incoming.handlePublish(p)
	if err != nil || msg == nil {
		return err
	}

	handlers := c.subs.match(msg.Topic)
	if len(handlers) == 0 && c.options.defaultHandler != nil {
		handlers = []MessageHandler{c.options.defaultHandler}
	}
	if len(handlers) == 0 {
		cn.logger.Debug("no handler for message", LogFields{LogFieldTopic: msg.Topic})
		if msg.ack != nil {
			_ = msg.ack.acknowledge()
		}
		return nil
	}

	c.metrics.MessageDelivered(msg.QoS)
	c.deliveries.push(delivery{msg: msg, handlers: handlers})
	return nil
}

func (cn *connection) handleSuback(p *SubackPacket) error {
	c := cn.client
	pending, ok := cn.pendingSubs[p.PacketID]
	if !ok {
		return protocolErrorf("SUBACK for unknown packet identifier %d", p.PacketID)
	}
	delete(cn.pendingSubs, p.PacketID)
	c.ids.Release(p.PacketID)

	if len(p.ReasonCodes) != len(pending.subs) {
		err := protocolErrorf("SUBACK has %d reason codes for %d filters", len(p.ReasonCodes), len(pending.subs))
		if pending.token != nil {
			pending.token.complete(err)
		}
		return err
	}

	var firstErr error
	for i, code := range p.ReasonCodes {
		if !code.IsError() {
			continue
		}
		filter := pending.subs[i].TopicFilter
		if i < len(pending.entries) {
			c.subs.remove(filter, pending.entries[i])
		} else {
			c.subs.remove(filter, nil)
		}
		cn.logger.Warn("subscription refused", LogFields{
			LogFieldTopic:      filter,
			LogFieldReasonCode: code.String(),
		})
		if firstErr == nil {
			firstErr = &SubscribeError{TopicFilter: filter, ReasonCode: code}
		}
	}

	if pending.token != nil {
		pending.token.reasonCodes = slices.Clone(p.ReasonCodes)
		pending.token.complete(firstErr)
	}
	return nil
}

func (cn *connection) handleUnsuback(p *UnsubackPacket) error {
	c := cn.client
	pending, ok := cn.pendingUnsubs[p.PacketID]
	if !ok {
		return protocolErrorf("UNSUBACK for unknown packet identifier %d", p.PacketID)
	}
	delete(cn.pendingUnsubs, p.PacketID)
	c.ids.Release(p.PacketID)

	v5 := c.options.protocolVersion == ProtocolV5
	if v5 && len(p.ReasonCodes) != len(pending.filters) {
		err := protocolErrorf("UNSUBACK has %d reason codes for %d filters", len(p.ReasonCodes), len(pending.filters))
		pending.token.complete(err)
		return err
	}

	var firstErr error
	for i, filter := range pending.filters {
		if v5 && p.ReasonCodes[i].IsError() {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %q: %s", ErrUnsubscribeFailed, filter, p.ReasonCodes[i])
			}
			continue
		}
		c.subs.remove(filter, nil)
	}

	pending.token.reasonCodes = slices.Clone(p.ReasonCodes)
	pending.token.complete(firstErr)
	return nil
}

func (cn *connection) handleDisconnect(p *DisconnectPacket) error {
	if cn.client.options.protocolVersion != ProtocolV5 {
		return protocolErrorf("DISCONNECT from server on MQTT 3.1.1")
	}
	props := p.Props.Clone()
	if reason, ok := props.String(PropReasonString); ok {
		cn.logger.Warn("server disconnected", LogFields{
			LogFieldReasonCode: p.ReasonCode.String(),
			"reason":           reason,
		})
	}
	return &ConnectionLostError{Source: SourceServer, ReasonCode: p.ReasonCode, Properties: &props}
}

// handleAuth answers server-driven re-authentication.
func (cn *connection) handleAuth(p *AuthPacket) error {
	auth := cn.client.options.authenticator
	if auth == nil {
		return protocolErrorf("AUTH without an authentication method")
	}
	if method := p.method(); method != auth.Method() {
		return protocolErrorf("AUTH method %q, expected %q", method, auth.Method())
	}

	switch p.ReasonCode {
	case ReasonContinueAuth:
		resp, err := auth.Continue(p.data())
		if err != nil {
			return &ConnectionLostError{Source: SourceClient, ReasonCode: ReasonNotAuthorized, Cause: err}
		}
		out := &AuthPacket{ReasonCode: ReasonContinueAuth}
		_ = out.Props.Set(PropAuthenticationMethod, auth.Method())
		if len(resp) > 0 {
			_ = out.Props.Set(PropAuthenticationData, resp)
		}
		return cn.send(out)
	case ReasonSuccess:
		if data := p.data(); len(data) > 0 {
			if _, err := auth.Continue(data); err != nil {
				return &ConnectionLostError{Source: SourceClient, ReasonCode: ReasonNotAuthorized, Cause: err}
			}
		}
		cn.logger.Info("re-authenticated", nil)
		return nil
	}
	return protocolErrorf("unexpected AUTH %s from server", p.ReasonCode)
}

// teardown closes the connection, settles every pending operation and
// reports how the connection ended.
func (cn *connection) teardown(cause error) {
	c := cn.client
	close(cn.stop)

	for _, cmd := range cn.mailbox.close() {
		if dc, ok := cmd.(*disconnectCommand); ok && cn.disconnectReason == nil {
			reason := dc.reason
			cn.disconnectReason = &reason
		}
		cmd.fail(ErrConnectionClosed)
	}

	if cause != nil && c.options.protocolVersion == ProtocolV5 {
		if code, ok := reasonCodeForError(cause); ok {
			_ = cn.send(&DisconnectPacket{ReasonCode: code})
		}
	}

	// Flush what is queued, bounded by the write timeout.
	close(cn.outbound)
	flush := time.NewTimer(max(c.options.writeTimeout, time.Second))
	select {
	case <-cn.writerDone:
	case <-flush.C:
	}
	flush.Stop()
	cn.conn.Close()
	<-cn.writerDone
	<-cn.readerDone

	c.outgoing.connectionLost(cn.params.retain)
	c.incoming.connectionLost(cn.params.retain)
	for id, p := range cn.pendingSubs {
		c.ids.Release(id)
		if p.token != nil {
			p.token.complete(ErrConnectionClosed)
		}
	}
	for id, p := range cn.pendingUnsubs {
		c.ids.Release(id)
		p.token.complete(ErrConnectionClosed)
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.conn = nil
	userClosed := c.userClosed
	c.mu.Unlock()
	c.metrics.ConnectionClosed()

	if cause == nil {
		reason := ReasonSuccess
		if cn.disconnectReason != nil {
			reason = *cn.disconnectReason
		}
		cn.logger.Info("disconnected", LogFields{LogFieldReasonCode: reason.String()})
		c.emit(&DisconnectedEvent{ReasonCode: reason})
		close(cn.done)
		return
	}

	var lost *ConnectionLostError
	if !errors.As(cause, &lost) {
		code, _ := reasonCodeForError(cause)
		lost = &ConnectionLostError{Source: SourceClient, ReasonCode: code, Cause: cause}
	}
	if lost.Cause != nil && errors.Is(lost.Cause, io.EOF) {
		cn.logger.Warn("connection closed by server", nil)
	} else {
		cn.logger.Warn("connection lost", LogFields{LogFieldError: lost.Error()})
	}
	c.emit(lost)

	if c.options.autoReconnect && !userClosed {
		c.startReconnect(lost)
	}
	close(cn.done)
}
