package mqttclient

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectError(t *testing.T) {
	t.Run("refused", func(t *testing.T) {
		err := error(&ConnectError{ReasonCode: ReasonBadUserNameOrPassword})
		assert.ErrorIs(t, err, ErrConnectionFailed)
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.Equal(t, "mqtt: connection failed: bad user name or password", err.Error())
	})

	t.Run("not an auth failure", func(t *testing.T) {
		err := error(&ConnectError{ReasonCode: ReasonServerBusy})
		assert.ErrorIs(t, err, ErrConnectionFailed)
		assert.NotErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("cause", func(t *testing.T) {
		err := fmt.Errorf("dial: %w", &ConnectError{Cause: io.ErrUnexpectedEOF})
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.ErrorIs(t, err, ErrConnectionFailed)

		var ce *ConnectError
		assert.ErrorAs(t, err, &ce)
		assert.Contains(t, err.Error(), "unexpected EOF")
	})
}

func TestConnectionLostError(t *testing.T) {
	err := error(&ConnectionLostError{Source: SourceServer, ReasonCode: ReasonSessionTakenOver})
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, "mqtt: connection closed by server: session taken over", err.Error())

	err = &ConnectionLostError{Source: SourceTransport, Cause: io.EOF}
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "mqtt: connection closed by transport: EOF", err.Error())

	err = &ConnectionLostError{Source: SourceClient, ReasonCode: ReasonKeepAliveTimeout, Cause: ErrKeepAliveTimeout}
	assert.ErrorIs(t, err, ErrKeepAliveTimeout)
}

func TestEvents(t *testing.T) {
	assert.ErrorIs(t, &ConnectedEvent{}, ErrConnected)
	assert.ErrorIs(t, &DisconnectedEvent{}, ErrDisconnected)
	assert.ErrorIs(t, &ReconnectingEvent{Attempt: 2, Delay: time.Second}, ErrReconnecting)
	assert.Equal(t, "reconnecting: attempt 2 in 1s", (&ReconnectingEvent{Attempt: 2, Delay: time.Second}).Error())

	assert.ErrorIs(t, &PublishError{ReasonCode: ReasonQuotaExceeded}, ErrPublishFailed)
	assert.ErrorIs(t, &SubscribeError{TopicFilter: "a/#", ReasonCode: ReasonNotAuthorized}, ErrSubscribeFailed)
	assert.Equal(t, `subscribe "a/#" failed: not authorized`,
		(&SubscribeError{TopicFilter: "a/#", ReasonCode: ReasonNotAuthorized}).Error())

	assert.Equal(t, "transport", SourceTransport.String())
}

func TestReasonCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ReasonCode
		ok   bool
	}{
		{"nil", nil, ReasonSuccess, true},
		{"too large", fmt.Errorf("read: %w", ErrPacketTooLarge), ReasonPacketTooLarge, true},
		{"duplicate property", ErrDuplicateProperty, ReasonProtocolError, true},
		{"malformed", ErrVarintMalformed, ReasonMalformedPacket, true},
		{"receive maximum", errReceiveMaximumExceeded, ReasonReceiveMaxExceeded, true},
		{"topic alias", errTopicAliasInvalid, ReasonTopicAliasInvalid, true},
		{"protocol", protocolErrorf("PUBACK for unknown packet identifier %d", 3), ReasonProtocolError, true},
		{"keep alive", ErrKeepAliveTimeout, ReasonKeepAliveTimeout, true},
		{"client side", &ConnectionLostError{Source: SourceClient, ReasonCode: ReasonAdminAction}, ReasonAdminAction, true},
		{"transport", &ConnectionLostError{Source: SourceTransport, Cause: io.EOF}, ReasonUnspecifiedError, false},
		{"other", errors.New("boom"), ReasonUnspecifiedError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := reasonCodeForError(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.ok, ok)
		})
	}

	err := protocolErrorf("PUBACK for unknown packet identifier %d", 3)
	assert.Equal(t, "mqtt: protocol error: PUBACK for unknown packet identifier 3", err.Error())
}
