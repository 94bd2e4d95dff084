package mqttclient

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"
)

// packetSink is where flow managers hand packets for the wire. Errors that
// wrap ErrConnectionClosed mean the transport is gone; any other error is
// an encoding failure of that one packet.
type packetSink interface {
	send(p Packet) error
}

func isTransportError(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}

type outgoingFlow struct {
	packetID uint16
	qos      byte
	state    FlowState
	seq      uint64
	publish  *PublishPacket
	token    *PublishToken
	started  time.Time
}

// advance moves the flow to a later state. Going back or staying put is
// refused.
func (f *outgoingFlow) advance(to FlowState) bool {
	if to <= f.state {
		return false
	}
	f.state = to
	return true
}

func (f *outgoingFlow) waitState() FlowState {
	if f.qos == QoS1 {
		return FlowWaitPuback
	}
	return FlowWaitPubrec
}

type queuedPublish struct {
	msg   *Message
	token *PublishToken
}

// outgoingManager drives QoS 1 and 2 publishes through
// PUBLISH -> PUBACK or PUBLISH -> PUBREC -> PUBREL -> PUBCOMP. It belongs
// to the client so flows survive reconnects, but it is only touched by
// the live connection loop.
type outgoingManager struct {
	version ProtocolVersion
	ids     *PacketIDAllocator
	quota   *FlowController
	store   FlowStore
	logger  Logger
	metrics *ClientMetrics

	flows  map[uint16]*outgoingFlow
	queued []queuedPublish
	seq    uint64

	sink          packetSink
	maxPacketSize uint32
}

func newOutgoingManager(v ProtocolVersion, ids *PacketIDAllocator, store FlowStore, logger Logger, metrics *ClientMetrics) *outgoingManager {
	return &outgoingManager{
		version: v,
		ids:     ids,
		quota:   NewFlowController(0),
		store:   store,
		logger:  logger,
		metrics: metrics,
		flows:   make(map[uint16]*outgoingFlow),
	}
}

// attach binds the manager to a new connection and its negotiated limits.
func (m *outgoingManager) attach(sink packetSink, receiveMaximum uint16, maxPacketSize uint32) {
	m.sink = sink
	m.maxPacketSize = maxPacketSize
	m.quota.SetMaximum(receiveMaximum)
	m.quota.Reset()
}

// restore loads flows persisted by an earlier process.
func (m *outgoingManager) restore(recs []FlowRecord) error {
	for _, rec := range recs {
		pkt, _, err := Decode(rec.Publish, rec.Version, 0)
		if err != nil {
			return fmt.Errorf("restore outgoing flow %d: %w", rec.PacketID, err)
		}
		pub, ok := pkt.(*PublishPacket)
		if !ok {
			return fmt.Errorf("restore outgoing flow %d: stored %s is not a PUBLISH", rec.PacketID, pkt.Type())
		}
		if !m.ids.Reserve(rec.PacketID) {
			return fmt.Errorf("restore outgoing flow %d: packet identifier in use", rec.PacketID)
		}
		m.flows[rec.PacketID] = &outgoingFlow{
			packetID: rec.PacketID,
			qos:      pub.QoS,
			state:    rec.State,
			seq:      rec.Seq,
			publish:  pub,
		}
		m.seq = max(m.seq, rec.Seq)
	}
	return nil
}

func (m *outgoingManager) inFlight() int {
	return len(m.flows)
}

// publish sends msg or queues it behind earlier publishes waiting for
// quota. The returned error is fatal for the connection.
func (m *outgoingManager) publish(msg *Message, token *PublishToken) error {
	if msg.QoS == QoS0 {
		err := m.sink.send(newPublishPacket(msg))
		if err != nil {
			token.complete(err)
			if isTransportError(err) {
				return err
			}
			return nil
		}
		m.metrics.PublishCompleted(QoS0, 0)
		token.complete(nil)
		return nil
	}

	m.queued = append(m.queued, queuedPublish{msg: msg, token: token})
	return m.drain()
}

// drain starts queued publishes in order while quota and identifiers last.
func (m *outgoingManager) drain() error {
	for len(m.queued) > 0 {
		started, err := m.start(m.queued[0])
		if !started {
			return nil
		}
		m.queued[0] = queuedPublish{}
		m.queued = m.queued[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *outgoingManager) start(q queuedPublish) (bool, error) {
	if !m.quota.TryAcquire() {
		return false, nil
	}
	id, err := m.ids.Allocate()
	if err != nil {
		m.quota.Release()
		return false, nil
	}

	pkt := newPublishPacket(q.msg)
	pkt.PacketID = id
	raw, err := Encode(pkt, m.version, m.maxPacketSize)
	if err == nil {
		m.seq++
		err = m.store.Store(FlowRecord{
			Direction: FlowOutgoing,
			PacketID:  id,
			QoS:       pkt.QoS,
			State:     FlowNew,
			Seq:       m.seq,
			Publish:   raw,
			Version:   m.version,
		})
	}
	if err != nil {
		m.ids.Release(id)
		m.quota.Release()
		m.metrics.PublishFailed(pkt.QoS)
		q.token.complete(err)
		return true, nil
	}

	q.token.packetID = id
	f := &outgoingFlow{
		packetID: id,
		qos:      pkt.QoS,
		state:    FlowNew,
		seq:      m.seq,
		publish:  pkt,
		token:    q.token,
		started:  time.Now(),
	}
	m.flows[id] = f
	m.metrics.Inflight(len(m.flows))

	if err := m.sink.send(pkt); err != nil {
		return true, err
	}
	f.advance(FlowSent)
	f.advance(f.waitState())
	return true, nil
}

func (m *outgoingManager) handlePuback(p *PubackPacket) error {
	f, ok := m.flows[p.PacketID]
	if !ok {
		return protocolErrorf("PUBACK for unknown packet identifier %d", p.PacketID)
	}
	if f.qos != QoS1 || f.state != FlowWaitPuback {
		return protocolErrorf("PUBACK for packet identifier %d in state %s", p.PacketID, f.state)
	}
	m.finish(f, p.ReasonCode)
	return m.drain()
}

func (m *outgoingManager) handlePubrec(p *PubrecPacket) error {
	f, ok := m.flows[p.PacketID]
	if !ok {
		return protocolErrorf("PUBREC for unknown packet identifier %d", p.PacketID)
	}
	if f.qos != QoS2 {
		return protocolErrorf("PUBREC for QoS %d packet identifier %d", f.qos, p.PacketID)
	}

	if f.state != FlowWaitPubrec {
		return protocolErrorf("PUBREC for packet identifier %d in state %s", p.PacketID, f.state)
	}

	if p.ReasonCode.IsError() {
		m.finish(f, p.ReasonCode)
		return m.drain()
	}

	f.advance(FlowWaitPubcomp)
	raw, err := Encode(f.publish, m.version, 0)
	if err == nil {
		err = m.store.Store(FlowRecord{
			Direction: FlowOutgoing,
			PacketID:  f.packetID,
			QoS:       f.qos,
			State:     f.state,
			Seq:       f.seq,
			Publish:   raw,
			Version:   m.version,
		})
	}
	if err != nil {
		m.logger.Warn("failed to persist outgoing flow", LogFields{
			LogFieldPacketID: f.packetID,
			LogFieldError:    err.Error(),
		})
	}
	return m.sink.send(newPubrel(f.packetID, ReasonSuccess))
}

func (m *outgoingManager) handlePubcomp(p *PubcompPacket) error {
	f, ok := m.flows[p.PacketID]
	if !ok {
		return protocolErrorf("PUBCOMP for unknown packet identifier %d", p.PacketID)
	}
	if f.state != FlowWaitPubcomp {
		return protocolErrorf("PUBCOMP for packet identifier %d in state %s", p.PacketID, f.state)
	}
	m.finish(f, p.ReasonCode)
	return m.drain()
}

// finish ends a flow and resolves its token with the final reason code.
func (m *outgoingManager) finish(f *outgoingFlow, code ReasonCode) {
	f.advance(FlowAcked)
	delete(m.flows, f.packetID)
	m.ids.Release(f.packetID)
	m.quota.Release()

	if err := m.store.Discard(FlowOutgoing, f.packetID); err != nil {
		m.logger.Warn("failed to discard outgoing flow", LogFields{
			LogFieldPacketID: f.packetID,
			LogFieldError:    err.Error(),
		})
	}

	var err error
	if code.IsError() {
		err = &PublishError{Topic: f.publish.Topic, PacketID: f.packetID, ReasonCode: code}
		m.metrics.PublishFailed(f.qos)
	} else {
		m.metrics.PublishCompleted(f.qos, time.Since(f.started))
	}
	m.metrics.Inflight(len(m.flows))

	if f.token != nil {
		f.token.reasonCode = code
		f.token.complete(err)
	}
}

// resume runs right after CONNACK. With a resumed session every flow is
// resent from its last confirmed step, in the order the flows started.
func (m *outgoingManager) resume(sessionPresent bool) error {
	if !sessionPresent {
		m.discardAll()
		return m.drain()
	}

	flows := make([]*outgoingFlow, 0, len(m.flows))
	for _, f := range m.flows {
		flows = append(flows, f)
	}
	slices.SortFunc(flows, func(a, b *outgoingFlow) int {
		return cmp.Compare(a.seq, b.seq)
	})

	for _, f := range flows {
		// Resent flows were already in flight and count against the quota
		// even past the server's Receive Maximum.
		m.quota.Acquire()

		var pkt Packet
		if f.state < FlowWaitPubcomp {
			dup := *f.publish
			dup.DUP = true
			pkt = &dup
			f.advance(f.waitState())
		} else {
			pkt = newPubrel(f.packetID, ReasonSuccess)
		}

		m.logger.Debug("resending outgoing flow", LogFields{
			LogFieldPacketID:   f.packetID,
			LogFieldPacketType: pkt.Type().String(),
		})
		if err := m.sink.send(pkt); err != nil {
			return err
		}
	}
	return m.drain()
}

// connectionLost fails every pending token. Flows stay for resend when the
// session is retained.
func (m *outgoingManager) connectionLost(retain bool) {
	for _, f := range m.flows {
		if f.token != nil {
			f.token.complete(ErrConnectionClosed)
			f.token = nil
		}
	}
	for _, q := range m.queued {
		q.token.complete(ErrConnectionClosed)
	}
	m.queued = nil
	m.quota.Reset()
	m.sink = nil

	if !retain {
		m.discardAll()
	}
}

func (m *outgoingManager) discardAll() {
	for id, f := range m.flows {
		if f.token != nil {
			f.token.complete(ErrConnectionClosed)
		}
		m.ids.Release(id)
		if err := m.store.Discard(FlowOutgoing, id); err != nil {
			m.logger.Warn("failed to discard outgoing flow", LogFields{
				LogFieldPacketID: id,
				LogFieldError:    err.Error(),
			})
		}
	}
	clear(m.flows)
	m.quota.Reset()
	m.metrics.Inflight(0)
}
