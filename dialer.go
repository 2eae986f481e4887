package lnclient

import (
	"context"
	"net"
	"time"

	"github.com/decred/go-socks/socks"
	"google.golang.org/grpc"
)

type (
	// Dialer establishes the transport used by the raw client. The options
	// include the transport credential, and any configured context dialer.
	// If the returned value implements io.Closer, it is closed by
	// [Client.Close].
	Dialer func(ctx context.Context, target string, opts ...grpc.DialOption) (grpc.ClientConnInterface, error)

	// ContextDialer is for use with grpc.WithContextDialer.
	ContextDialer func(ctx context.Context, addr string) (conn net.Conn, err error)
)

var (
	_ Dialer        = DialGRPC
	_ ContextDialer = DialTCP

	dialer net.Dialer
)

// DialGRPC is the default [Dialer]. It uses [grpc.NewClient], meaning no
// I/O is performed until the first RPC.
func DialGRPC(ctx context.Context, target string, opts ...grpc.DialOption) (grpc.ClientConnInterface, error) {
	return grpc.NewClient(target, opts...)
}

// DialTCP dials addr directly.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	if ctx == nil {
		panic(`lnclient: DialTCP called with nil context`)
	}
	return dialer.DialContext(ctx, `tcp`, addr)
}

// DialSOCKS returns a [ContextDialer] that connects through the SOCKS5
// proxy at proxyAddr. Tor stream isolation is enabled, so each connection
// uses a distinct circuit.
func DialSOCKS(proxyAddr string) ContextDialer {
	proxy := &socks.Proxy{
		Addr:         proxyAddr,
		TorIsolation: true,
	}
	return func(ctx context.Context, addr string) (net.Conn, error) {
		return proxy.DialContext(ctx, `tcp`, addr)
	}
}

// DialWithTimeout wraps a dialer function to ensure that it respects the
// provided timeout.
func DialWithTimeout(timeout time.Duration, dialer ContextDialer) ContextDialer {
	if dialer == nil {
		panic(`lnclient: DialWithTimeout called with nil dialer`)
	}
	if timeout <= 0 {
		return dialer
	}
	return func(ctx context.Context, addr string) (net.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return dialer(ctx, addr)
	}
}
