package channel

import (
	"context"
	"fmt"
	"io"
	"net"
)

// Listener accepts inbound connections for a Channel to wrap.
type Listener interface {
	// Accept blocks until an inbound connection arrives or ctx is done.
	Accept(ctx context.Context) (io.ReadWriteCloser, error)
	Addr() net.Addr
	Close() error
}

// Endpoint provides dialing and listening for one connection kind.
type Endpoint interface {
	Kind() string
	Listen(ctx context.Context, address string) (Listener, error)
	Dial(ctx context.Context, address string) (io.ReadWriteCloser, error)
}

// ByKind returns the endpoint implementation for a configured kind.
func ByKind(kind string) (Endpoint, error) {
	switch kind {
	case "tcp":
		return TCP(), nil
	case "unix":
		return newUnixEndpoint()
	case "quic":
		return QUIC(), nil
	case "pipe":
		return newPipeEndpoint()
	case "mem":
		return Mem(), nil
	default:
		return nil, fmt.Errorf("channel: unknown endpoint kind %q", kind)
	}
}
