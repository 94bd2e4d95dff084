package mqttclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

var ErrUnsupportedScheme = errors.New("unsupported server scheme")

// noDeadline clears a deadline set on a net.Conn.
var noDeadline time.Time

// Dialer opens the byte stream a client speaks MQTT over. Everything below
// MQTT, TLS and proxies and WebSocket framing included, is the dialer's job.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

func (f DialerFunc) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// TCPDialer connects to MQTT brokers over TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to MQTT brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration

	// Forward, when set, opens the underlying stream, for example through
	// a proxy. The TLS handshake then runs on top of it.
	Forward Dialer
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	config := d.Config
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if d.Forward == nil {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: d.Timeout},
			Config:    config,
		}
		return dialer.DialContext(ctx, "tcp", address)
	}

	raw, err := d.Forward.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	if config.ServerName == "" {
		config = config.Clone()
		config.ServerName, _, _ = net.SplitHostPort(address)
	}
	conn := tls.Client(raw, config)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return conn, nil
}

var defaultPorts = map[string]string{
	"tcp":   "1883",
	"mqtt":  "1883",
	"ssl":   "8883",
	"tls":   "8883",
	"mqtts": "8883",
	"ws":    "80",
	"wss":   "443",
	"quic":  "14567",
}

// resolveDialer picks the dialer and dial address for a server URL such
// as tcp://broker:1883, wss://broker/mqtt or unix:///run/mqtt.sock.
func resolveDialer(server string, o *clientOptions) (Dialer, string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, "", fmt.Errorf("invalid server address %q: %w", server, err)
	}

	if o.dialer != nil {
		return o.dialer, server, nil
	}

	host := u.Host
	if port, ok := defaultPorts[u.Scheme]; ok && u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), port)
	}

	var (
		proxy Dialer
		pd    *ProxyDialer
	)
	if o.proxyURL != "" {
		if pd, err = NewProxyDialer(o.proxyURL, "", ""); err != nil {
			return nil, "", err
		}
		proxy = pd
	}

	switch u.Scheme {
	case "tcp", "mqtt":
		if proxy != nil {
			return proxy, host, nil
		}
		return &TCPDialer{}, host, nil
	case "ssl", "tls", "mqtts":
		return &TLSDialer{Config: o.tlsConfig, Forward: proxy}, host, nil
	case "ws", "wss":
		d := NewWSDialer()
		if o.tlsConfig != nil {
			d.Dialer.TLSClientConfig = o.tlsConfig
		}
		if pd != nil {
			d.SetProxy(pd)
		}
		return d, server, nil
	case "unix":
		path, err := unixSocketPath(u)
		if err != nil {
			return nil, "", err
		}
		return NewUnixDialer(), path, nil
	case "quic":
		return NewQUICDialer(o.tlsConfig), host, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
