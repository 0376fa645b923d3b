package channel

import (
	"context"
	"errors"
	"io"
	"net"
)

// tcpEndpoint carries channels over plain TCP. Descriptor passing is not
// available; sends with attached descriptors fail.
type tcpEndpoint struct{}

// TCP returns the TCP endpoint.
func TCP() Endpoint { return tcpEndpoint{} }

func (tcpEndpoint) Kind() string { return "tcp" }

func (tcpEndpoint) Listen(ctx context.Context, address string) (Listener, error) {
	lc := net.ListenConfig{}
	l, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return newNetListener(ctx, l), nil
}

func (tcpEndpoint) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	d := &net.Dialer{}
	return d.DialContext(ctx, "tcp", address)
}

// netListener adapts a net.Listener to context-aware Accept, shared by
// the stream-style endpoints.
type netListener struct {
	l       net.Listener
	newCh   chan net.Conn
	closeCh chan struct{}
}

func newNetListener(ctx context.Context, l net.Listener) *netListener {
	nl := &netListener{l: l, newCh: make(chan net.Conn, 8), closeCh: make(chan struct{})}
	go nl.acceptLoop()
	go func() {
		<-ctx.Done()
		_ = nl.Close()
	}()
	return nl
}

func (l *netListener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		select {
		case l.newCh <- c:
		case <-l.closeCh:
			_ = c.Close()
			return
		}
	}
}

func (l *netListener) Addr() net.Addr { return l.l.Addr() }

func (l *netListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("channel: listener closed")
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *netListener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return l.l.Close()
}
