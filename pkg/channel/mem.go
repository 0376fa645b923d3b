package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// memEndpoint is an in-process endpoint over net.Pipe, used in tests and
// as a stand-in for a real transport.
type memEndpoint struct {
	mu        sync.Mutex
	listeners map[string]*memListener
}

var sharedMem = &memEndpoint{listeners: make(map[string]*memListener)}

// Mem returns the process-wide in-memory endpoint.
func Mem() Endpoint { return sharedMem }

func (e *memEndpoint) Kind() string { return "mem" }

func (e *memEndpoint) Listen(ctx context.Context, name string) (Listener, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.listeners[name]; ok {
		return nil, errors.New("channel: mem listener already exists")
	}
	l := &memListener{
		ep:      e,
		name:    name,
		newCh:   make(chan net.Conn, 8),
		closeCh: make(chan struct{}),
	}
	e.listeners[name] = l
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	return l, nil
}

func (e *memEndpoint) Dial(ctx context.Context, name string) (io.ReadWriteCloser, error) {
	e.mu.Lock()
	l := e.listeners[name]
	e.mu.Unlock()
	if l == nil {
		return nil, errors.New("channel: no such mem listener")
	}
	c1, c2 := net.Pipe()
	select {
	case l.newCh <- c1:
	case <-l.closeCh:
		_ = c1.Close()
		_ = c2.Close()
		return nil, errors.New("channel: mem listener closed")
	case <-ctx.Done():
		_ = c1.Close()
		_ = c2.Close()
		return nil, ctx.Err()
	}
	return c2, nil
}

type memListener struct {
	ep      *memEndpoint
	name    string
	newCh   chan net.Conn
	closeCh chan struct{}
	once    sync.Once
}

func (l *memListener) Addr() net.Addr { return memAddr(l.name) }

func (l *memListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("channel: mem listener closed")
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *memListener) Close() error {
	l.once.Do(func() {
		close(l.closeCh)
		l.ep.mu.Lock()
		delete(l.ep.listeners, l.name)
		l.ep.mu.Unlock()
	})
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }
