//go:build windows

package channel

import (
	"context"
	"io"

	"github.com/Microsoft/go-winio"
)

// pipeEndpoint carries channels over Windows named pipes.
type pipeEndpoint struct{}

func newPipeEndpoint() (Endpoint, error) { return pipeEndpoint{}, nil }

func (pipeEndpoint) Kind() string { return "pipe" }

func (pipeEndpoint) Listen(ctx context.Context, pipeName string) (Listener, error) {
	l, err := winio.ListenPipe(pipeName, nil)
	if err != nil {
		return nil, err
	}
	return newNetListener(ctx, l), nil
}

func (pipeEndpoint) Dial(ctx context.Context, pipeName string) (io.ReadWriteCloser, error) {
	return winio.DialPipeContext(ctx, pipeName)
}
