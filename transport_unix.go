package mqttclient

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// UnixDialer connects to a broker listening on a Unix domain socket.
type UnixDialer struct{}

func NewUnixDialer() *UnixDialer { return &UnixDialer{} }

func (d *UnixDialer) Dial(ctx context.Context, path string) (net.Conn, error) {
	var nd net.Dialer
	return nd.DialContext(ctx, "unix", path)
}

// unixSocketPath extracts the socket path from unix:///run/mqtt.sock or
// the relative form unix://run/mqtt.sock.
func unixSocketPath(u *url.URL) (string, error) {
	path := u.Host + u.Path
	if path == "" {
		return "", fmt.Errorf("unix server address %q has no socket path", u.String())
	}
	return path, nil
}
