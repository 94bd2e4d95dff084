package mqttclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"golang.org/x/net/proxy"
)

var defaultProxyPorts = map[string]string{
	"http":    "8080",
	"https":   "443",
	"socks5":  "1080",
	"socks5h": "1080",
}

// ProxyDialer tunnels the broker connection through an HTTP CONNECT or a
// SOCKS5 proxy. It is the Forward dialer for TLS when WithProxy is set.
type ProxyDialer struct {
	proxyURL *url.URL
	auth     string
	socks    proxy.ContextDialer
}

// NewProxyDialer accepts http, https, socks5 and socks5h proxy URLs.
// Credentials in the URL are used when username is empty.
func NewProxyDialer(proxyURL, username, password string) (*ProxyDialer, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	port, ok := defaultProxyPorts[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}

	d := &ProxyDialer{proxyURL: u}
	switch u.Scheme {
	case "socks5", "socks5h":
		pd, err := proxy.FromURL(u, &net.Dialer{})
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy: %w", err)
		}
		cd, ok := pd.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 proxy: dialer does not support contexts")
		}
		d.socks = cd
	default:
		if u.User != nil {
			pass, _ := u.User.Password()
			d.auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(u.User.Username()+":"+pass))
		}
	}
	return d, nil
}

// Dial connects to a "host:port" broker address through the proxy.
func (d *ProxyDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	if d.socks != nil {
		conn, err := d.socks.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, fmt.Errorf("socks5 dial %s: %w", address, err)
		}
		return conn, nil
	}
	return d.connectTunnel(ctx, address)
}

func (d *ProxyDialer) dialProxy(ctx context.Context) (net.Conn, error) {
	if d.proxyURL.Scheme == "https" {
		td := &tls.Dialer{Config: &tls.Config{ServerName: d.proxyURL.Hostname(), MinVersion: tls.VersionTLS12}}
		return td.DialContext(ctx, "tcp", d.proxyURL.Host)
	}
	var nd net.Dialer
	return nd.DialContext(ctx, "tcp", d.proxyURL.Host)
}

// connectTunnel issues CONNECT and hands back the raw tunnel. The broker
// only speaks after our CONNECT packet, so the response reader holds no
// tunnel bytes when it is dropped.
func (d *ProxyDialer) connectTunnel(ctx context.Context, address string) (net.Conn, error) {
	conn, err := d.dialProxy(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to proxy %s: %w", d.proxyURL.Host, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: make(http.Header),
	}
	if d.auth != "" {
		req.Header.Set("Proxy-Authorization", d.auth)
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT %s: %s", address, resp.Status)
	}

	_ = conn.SetDeadline(noDeadline)
	return conn, nil
}
