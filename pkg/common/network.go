package common

import (
	"context"
	"net"
	"time"
)

// DialContextPreferIPv6 is a net.Dialer.DialContext replacement for the
// registry HTTP client's Transport: it tries "tcp6" first and falls back to
// "tcp4" only if the v6 dial fails, so a dual-stack origin mirror is
// reached over IPv6 whenever it is actually reachable that way, instead of
// racing both families and letting either one win.
func DialContextPreferIPv6(ctx context.Context, network, address string) (net.Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp6", address)
	if err == nil {
		return conn, nil
	}
	return d.DialContext(ctx, "tcp4", address)
}
