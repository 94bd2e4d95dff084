package mqttclient

import (
	"fmt"
	"sync/atomic"
)

var errReceiveMaximumExceeded = fmt.Errorf("%w: receive maximum exceeded", ErrProtocolError)

// ackRequest asks the connection loop to acknowledge a delivered message.
type ackRequest struct {
	packetID uint16
	seq      uint64
}

// acknowledger is the handle behind Message.Ack. seq identifies the flow,
// so an Ack that arrives after the flow was dropped is ignored even if the
// server has reused the packet identifier since.
type acknowledger struct {
	req   ackRequest
	queue *queue[ackRequest]
	acked atomic.Bool
}

func (a *acknowledger) acknowledge() error {
	if !a.acked.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: message %d already acknowledged", ErrIllegalState, a.req.packetID)
	}
	a.queue.push(a.req)
	return nil
}

type incomingFlow struct {
	packetID   uint16
	qos        byte
	seq        uint64
	acked      bool
	pubrecSent bool
}

// incomingManager handles QoS 1 and 2 PUBLISH packets from the server:
// PUBACK, PUBREC and PUBCOMP, duplicate suppression and the client's own
// Receive Maximum. Like outgoingManager it lives as long as the client and
// is only touched by the live connection loop.
type incomingManager struct {
	version ProtocolVersion
	store   FlowStore
	logger  Logger
	acks    *queue[ackRequest]

	flows map[uint16]*incomingFlow
	quota *FlowController
	seq   uint64

	sink packetSink
}

func newIncomingManager(v ProtocolVersion, receiveMaximum uint16, store FlowStore, acks *queue[ackRequest], logger Logger) *incomingManager {
	return &incomingManager{
		version: v,
		store:   store,
		logger:  logger,
		acks:    acks,
		flows:   make(map[uint16]*incomingFlow),
		quota:   NewFlowController(receiveMaximum),
	}
}

func (m *incomingManager) attach(sink packetSink) {
	m.sink = sink
}

// restore loads QoS 2 flows persisted by an earlier process. Their message
// was already handed to that process, so they count as acknowledged.
func (m *incomingManager) restore(recs []FlowRecord) {
	for _, rec := range recs {
		m.seq++
		m.flows[rec.PacketID] = &incomingFlow{
			packetID:   rec.PacketID,
			qos:        QoS2,
			seq:        m.seq,
			acked:      true,
			pubrecSent: rec.PubrecSent,
		}
		m.quota.Acquire()
	}
}

// handlePublish registers the PUBLISH and returns the message to deliver,
// or nil for a duplicate.
func (m *incomingManager) handlePublish(p *PublishPacket) (*Message, error) {
	if p.QoS == QoS0 {
		return p.Message(), nil
	}

	if f, ok := m.flows[p.PacketID]; ok {
		if f.qos != p.QoS {
			return nil, protocolErrorf("packet identifier %d reused for QoS %d while QoS %d is in flight",
				p.PacketID, p.QoS, f.qos)
		}
		if !p.DUP {
			return nil, protocolErrorf("PUBLISH %d resent without DUP", p.PacketID)
		}
		// Already delivered. A QoS 2 PUBREC is repeated once the application
		// has acknowledged; until then the pending Ack answers it.
		if f.qos == QoS2 && f.acked {
			f.pubrecSent = true
			return nil, m.sink.send(newPubrec(f.packetID, ReasonSuccess))
		}
		return nil, nil
	}

	if !m.quota.TryAcquire() {
		return nil, fmt.Errorf("%w: more than %d unacknowledged publishes", errReceiveMaximumExceeded, m.quota.Maximum())
	}

	m.seq++
	f := &incomingFlow{packetID: p.PacketID, qos: p.QoS, seq: m.seq}
	m.flows[p.PacketID] = f

	if f.qos == QoS2 {
		m.persist(f)
	}

	msg := p.Message()
	msg.ack = &acknowledger{
		req:   ackRequest{packetID: f.packetID, seq: f.seq},
		queue: m.acks,
	}
	return msg, nil
}

// acknowledge sends the PUBACK or PUBREC for an application Ack.
func (m *incomingManager) acknowledge(req ackRequest) error {
	f, ok := m.flows[req.packetID]
	if !ok || f.seq != req.seq || f.acked {
		return nil
	}
	f.acked = true

	if f.qos == QoS1 {
		delete(m.flows, f.packetID)
		m.quota.Release()
		return m.sink.send(newPuback(f.packetID, ReasonSuccess))
	}

	f.pubrecSent = true
	m.persist(f)
	return m.sink.send(newPubrec(f.packetID, ReasonSuccess))
}

func (m *incomingManager) handlePubrel(p *PubrelPacket) error {
	f, ok := m.flows[p.PacketID]
	if !ok {
		code := ReasonSuccess
		if m.version == ProtocolV5 {
			code = ReasonPacketIDNotFound
		}
		return m.sink.send(newPubcomp(p.PacketID, code))
	}
	if f.qos != QoS2 {
		return protocolErrorf("PUBREL for QoS %d packet identifier %d", f.qos, p.PacketID)
	}
	if !f.pubrecSent {
		return protocolErrorf("PUBREL for packet identifier %d before PUBREC", p.PacketID)
	}

	delete(m.flows, f.packetID)
	m.quota.Release()
	if err := m.store.Discard(FlowIncoming, f.packetID); err != nil {
		m.logger.Warn("failed to discard incoming flow", LogFields{
			LogFieldPacketID: f.packetID,
			LogFieldError:    err.Error(),
		})
	}
	return m.sink.send(newPubcomp(f.packetID, ReasonSuccess))
}

func (m *incomingManager) persist(f *incomingFlow) {
	err := m.store.Store(FlowRecord{
		Direction:  FlowIncoming,
		PacketID:   f.packetID,
		QoS:        f.qos,
		Seq:        f.seq,
		Version:    m.version,
		PubrecSent: f.pubrecSent,
	})
	if err != nil {
		m.logger.Warn("failed to persist incoming flow", LogFields{
			LogFieldPacketID: f.packetID,
			LogFieldError:    err.Error(),
		})
	}
}

// connectionLost drops QoS 1 flows, which the server resends as new
// deliveries, and keeps QoS 2 flows when the session is retained.
func (m *incomingManager) connectionLost(retain bool) {
	m.sink = nil
	if !retain {
		m.discardAll()
		return
	}
	for id, f := range m.flows {
		if f.qos == QoS1 {
			delete(m.flows, id)
			m.quota.Release()
		}
	}
}

// resume drops all flows when the server did not keep the session.
func (m *incomingManager) resume(sessionPresent bool) {
	if !sessionPresent {
		m.discardAll()
	}
}

func (m *incomingManager) discardAll() {
	for id, f := range m.flows {
		if f.qos == QoS2 {
			if err := m.store.Discard(FlowIncoming, id); err != nil {
				m.logger.Warn("failed to discard incoming flow", LogFields{
					LogFieldPacketID: id,
					LogFieldError:    err.Error(),
				})
			}
		}
	}
	clear(m.flows)
	m.quota.Reset()
}
