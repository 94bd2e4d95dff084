package mqttclient

import (
	"errors"
)

var ErrFlowNotFound = errors.New("flow not found")

// FlowDirection separates flows started by the client from flows started
// by the server. Both share the 16-bit packet identifier space but never
// collide with each other.
type FlowDirection byte

const (
	// FlowOutgoing is a QoS 1 or 2 PUBLISH sent by the client.
	FlowOutgoing FlowDirection = 1
	// FlowIncoming is a QoS 2 PUBLISH received from the server.
	FlowIncoming FlowDirection = 2
)

func (d FlowDirection) String() string {
	switch d {
	case FlowOutgoing:
		return "outgoing"
	case FlowIncoming:
		return "incoming"
	default:
		return "unknown"
	}
}

// FlowState is the position of an outgoing flow in its exchange. States
// only move forward.
type FlowState byte

const (
	FlowNew FlowState = iota
	FlowSent
	FlowWaitPuback
	FlowWaitPubrec
	FlowWaitPubcomp
	FlowAcked
)

var flowStateNames = [...]string{
	FlowNew:         "NEW",
	FlowSent:        "SENT",
	FlowWaitPuback:  "WAIT_PUBACK",
	FlowWaitPubrec:  "WAIT_PUBREC",
	FlowWaitPubcomp: "WAIT_PUBCOMP",
	FlowAcked:       "ACKED",
}

func (s FlowState) String() string {
	if int(s) < len(flowStateNames) {
		return flowStateNames[s]
	}
	return "UNKNOWN"
}

// FlowRecord is the persisted form of one in-flight exchange.
type FlowRecord struct {
	Direction FlowDirection
	PacketID  uint16
	QoS       byte
	State     FlowState

	// Seq orders outgoing flows for resend.
	Seq uint64

	// Publish is the encoded PUBLISH packet, without DUP, for outgoing flows.
	Publish []byte
	Version ProtocolVersion

	// PubrecSent is set on incoming flows once PUBREC went out.
	PubrecSent bool
}

// FlowStore persists in-flight flows so a retained session can resume
// after a reconnect or a restart. Records are keyed by direction and
// packet identifier.
type FlowStore interface {
	// Store creates or replaces a record.
	Store(rec FlowRecord) error

	// Get returns a record or ErrFlowNotFound.
	Get(dir FlowDirection, packetID uint16) (FlowRecord, error)

	// Discard deletes a record. Deleting a missing record is not an error.
	Discard(dir FlowDirection, packetID uint16) error

	// List returns every record of a direction.
	List(dir FlowDirection) ([]FlowRecord, error)

	// Reset deletes all records.
	Reset() error
}
