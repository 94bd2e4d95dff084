package mqttclient

import (
	"errors"
	"fmt"
	"time"
)

// EventHandler receives lifecycle events. Inspect them with errors.Is and
// errors.As. Events are emitted synchronously from the goroutine that
// observed them, so a handler should return promptly.
type EventHandler func(client *Client, event error)

// Error kinds - check with errors.Is().
var (
	// ErrMalformedPacket is a decode-time violation of the wire format.
	ErrMalformedPacket = errors.New("mqtt: malformed packet")

	// ErrProtocolError is a well-formed packet that is invalid in the current
	// state, such as an acknowledgement for an unknown packet identifier.
	ErrProtocolError = errors.New("mqtt: protocol error")

	// ErrPacketTooLarge is returned when a packet exceeds the negotiated maximum.
	ErrPacketTooLarge = errors.New("mqtt: packet exceeds maximum size")

	// ErrPacketIDExhausted is returned when all 65535 identifiers are in use.
	ErrPacketIDExhausted = errors.New("mqtt: packet identifiers exhausted")

	// ErrConnectionFailed wraps handshake and transport failures before the
	// connection is established.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionClosed is returned for operations cut short by the loss of
	// an established connection.
	ErrConnectionClosed = errors.New("mqtt: connection closed")

	// ErrKeepAliveTimeout is the cause when the server stops answering PINGREQ.
	ErrKeepAliveTimeout = errors.New("mqtt: keep alive timeout")

	// ErrIllegalState is returned for calls made in the wrong state, such as
	// Connect on a connected client or a second Ack on a message.
	ErrIllegalState = errors.New("mqtt: illegal state")
)

// Lifecycle sentinels - check with errors.Is().
var (
	ErrConnected    = errors.New("connected")
	ErrDisconnected = errors.New("disconnected")
	ErrReconnecting = errors.New("reconnecting")
)

// Operation errors - check with errors.Is().
var (
	ErrPublishFailed     = errors.New("publish failed")
	ErrSubscribeFailed   = errors.New("subscribe failed")
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")
	ErrNotConnected      = errors.New("not connected")
	ErrInvalidTopic      = errors.New("invalid topic")
	ErrAuthFailed        = errors.New("authentication failed")
)

// DisconnectSource tells who ended a connection.
type DisconnectSource int

const (
	// SourceClient is a disconnect requested through Client.Disconnect or
	// a protocol violation detected by the client.
	SourceClient DisconnectSource = iota
	// SourceServer is a DISCONNECT sent by the server.
	SourceServer
	// SourceTransport is a closed or failed byte stream.
	SourceTransport
)

func (s DisconnectSource) String() string {
	switch s {
	case SourceClient:
		return "client"
	case SourceServer:
		return "server"
	case SourceTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// ConnectedEvent is emitted after a successful CONNACK.
type ConnectedEvent struct {
	SessionPresent bool
	ServerProps    *Properties
}

func (e *ConnectedEvent) Error() string { return ErrConnected.Error() }
func (e *ConnectedEvent) Unwrap() error { return ErrConnected }

// ConnectError describes a failed connection attempt. It matches
// ErrConnectionFailed, and its Cause when one is set.
type ConnectError struct {
	ReasonCode ReasonCode
	Properties *Properties
	Cause      error
}

func (e *ConnectError) Error() string {
	if e.Cause != nil {
		return "mqtt: connection failed: " + e.Cause.Error()
	}
	return "mqtt: connection failed: " + e.ReasonCode.String()
}

func (e *ConnectError) Unwrap() []error {
	errs := []error{ErrConnectionFailed}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	if e.ReasonCode == ReasonBadUserNameOrPassword || e.ReasonCode == ReasonNotAuthorized ||
		e.ReasonCode == ReasonBadAuthMethod {
		errs = append(errs, ErrAuthFailed)
	}
	return errs
}

// ConnectionLostError is emitted when an established connection ends
// without Client.Disconnect. It matches ErrConnectionClosed.
type ConnectionLostError struct {
	Source     DisconnectSource
	ReasonCode ReasonCode
	Properties *Properties
	Cause      error
}

func (e *ConnectionLostError) Error() string {
	msg := fmt.Sprintf("mqtt: connection closed by %s", e.Source)
	if e.Source == SourceServer || e.ReasonCode != ReasonSuccess {
		msg += ": " + e.ReasonCode.String()
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConnectionLostError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrConnectionClosed, e.Cause}
	}
	return []error{ErrConnectionClosed}
}

// DisconnectedEvent is emitted after Client.Disconnect completes.
type DisconnectedEvent struct {
	ReasonCode ReasonCode
}

func (e *DisconnectedEvent) Error() string { return "disconnected: " + e.ReasonCode.String() }
func (e *DisconnectedEvent) Unwrap() error { return ErrDisconnected }

// ReconnectingEvent is emitted before each automatic reconnect attempt.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

func (e *ReconnectingEvent) Error() string {
	return fmt.Sprintf("reconnecting: attempt %d in %s", e.Attempt, e.Delay)
}

func (e *ReconnectingEvent) Unwrap() error { return ErrReconnecting }

// PublishError is returned by a publish token when the server rejects the
// message with an error reason code.
type PublishError struct {
	Topic      string
	PacketID   uint16
	ReasonCode ReasonCode
}

func (e *PublishError) Error() string { return "publish failed: " + e.ReasonCode.String() }
func (e *PublishError) Unwrap() error { return ErrPublishFailed }

// SubscribeError is returned by a subscribe token when the server refuses
// one or more filters.
type SubscribeError struct {
	TopicFilter string
	ReasonCode  ReasonCode
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %q failed: %s", e.TopicFilter, e.ReasonCode)
}

func (e *SubscribeError) Unwrap() error { return ErrSubscribeFailed }

// protocolErrorf builds an error wrapping ErrProtocolError.
func protocolErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrProtocolError}, args...)...)
}

// reasonCodeForError picks the DISCONNECT reason code for a fatal error.
// ok is false for transport errors, which are closed without DISCONNECT.
func reasonCodeForError(err error) (code ReasonCode, ok bool) {
	var lost *ConnectionLostError
	switch {
	case err == nil:
		return ReasonSuccess, true
	case errors.Is(err, ErrPacketTooLarge):
		return ReasonPacketTooLarge, true
	case errors.Is(err, ErrDuplicateProperty), errors.Is(err, ErrPropertyNotAllowed):
		return ReasonProtocolError, true
	case errors.Is(err, ErrMalformedPacket):
		return ReasonMalformedPacket, true
	case errors.Is(err, errReceiveMaximumExceeded):
		return ReasonReceiveMaxExceeded, true
	case errors.Is(err, errTopicAliasInvalid):
		return ReasonTopicAliasInvalid, true
	case errors.Is(err, ErrProtocolError):
		return ReasonProtocolError, true
	case errors.Is(err, ErrKeepAliveTimeout):
		return ReasonKeepAliveTimeout, true
	case errors.As(err, &lost) && lost.Source == SourceClient:
		return lost.ReasonCode, true
	}
	return ReasonUnspecifiedError, false
}
