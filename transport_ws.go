package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the subprotocol MQTT brokers require.
const WebSocketSubprotocol = "mqtt"

var ErrNonBinaryFrame = errors.New("websocket: MQTT requires binary frames")

const wsCloseTimeout = time.Second

// wsStream presents a WebSocket as the byte stream ReadPacket expects.
// Frame boundaries carry no meaning: a packet may span frames and a frame
// may hold several packets.
type wsStream struct {
	*websocket.Conn
	frame io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.frame != nil {
			n, err := s.frame.Read(p)
			if err == io.EOF {
				s.frame = nil
				if n == 0 {
					continue
				}
				err = nil
			}
			return n, err
		}

		mt, r, err := s.Conn.NextReader()
		if err != nil {
			return 0, err
		}
		if mt != websocket.BinaryMessage {
			return 0, ErrNonBinaryFrame
		}
		s.frame = r
	}
}

// Write sends p as one binary frame. The connection writer already hands
// over whole packets.
func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.Conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) SetDeadline(t time.Time) error {
	if err := s.Conn.SetReadDeadline(t); err != nil {
		return err
	}
	return s.Conn.SetWriteDeadline(t)
}

// Close sends a normal closure frame before dropping the socket.
func (s *wsStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseTimeout))
	return s.Conn.Close()
}

// WSDialer connects to ws:// and wss:// broker URLs.
type WSDialer struct {
	Dialer *websocket.Dialer
	// Header is sent with the upgrade request.
	Header http.Header
}

func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Subprotocols:     []string{WebSocketSubprotocol},
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// SetProxy tunnels the upgrade request through the same HTTP CONNECT or
// SOCKS5 dialer the TCP transports use.
func (d *WSDialer) SetProxy(pd *ProxyDialer) {
	d.Dialer.NetDialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
		return pd.Dial(ctx, addr)
	}
}

func (d *WSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed: %s: %w", resp.Status, err)
		}
		return nil, err
	}
	if conn.Subprotocol() != WebSocketSubprotocol {
		conn.Close()
		return nil, fmt.Errorf("websocket: server selected subprotocol %q", conn.Subprotocol())
	}
	return &wsStream{Conn: conn}, nil
}
