package mqttclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

const quicALPN = "mqtt"

// quicStream carries one MQTT session on the first bidirectional stream of
// a QUIC connection. Reads, writes and deadlines go to the stream.
type quicStream struct {
	*quic.Stream
	conn *quic.Conn
}

func (s *quicStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *quicStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close ends the stream and the connection with it; the broker sees the
// connection drop as it would for TCP.
func (s *quicStream) Close() error {
	s.Stream.CancelRead(0)
	err := s.Stream.Close()
	if cerr := s.conn.CloseWithError(0, ""); err == nil {
		err = cerr
	}
	return err
}

// QUICDialer connects over QUIC and speaks MQTT on a single stream.
type QUICDialer struct {
	// TLSConfig requires TLS 1.3. The "mqtt" ALPN is used when NextProtos
	// is empty.
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

func NewQUICDialer(tlsConfig *tls.Config) *QUICDialer {
	return &QUICDialer{TLSConfig: tlsConfig}
}

func (d *QUICDialer) tlsConfig() *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS13}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{quicALPN}
	}
	return cfg
}

// Dial connects to a "host:port" address and opens the session stream.
func (d *QUICDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, address, d.tlsConfig(), d.QUICConfig)
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream")
		return nil, fmt.Errorf("quic open stream: %w", err)
	}
	return &quicStream{Stream: stream, conn: conn}, nil
}
