//go:build unix

package channel

import (
	"context"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// unixEndpoint carries channels over Unix domain sockets and passes
// message descriptors as SCM_RIGHTS ancillary data attached to the first
// byte of each frame.
type unixEndpoint struct{}

func newUnixEndpoint() (Endpoint, error) { return unixEndpoint{}, nil }

func (unixEndpoint) Kind() string { return "unix" }

func (unixEndpoint) Listen(ctx context.Context, address string) (Listener, error) {
	lc := net.ListenConfig{}
	l, err := lc.Listen(ctx, "unix", address)
	if err != nil {
		return nil, err
	}
	return &unixListener{netListener: newNetListener(ctx, l)}, nil
}

func (unixEndpoint) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	d := &net.Dialer{}
	c, err := d.DialContext(ctx, "unix", address)
	if err != nil {
		return nil, err
	}
	return &unixConn{UnixConn: c.(*net.UnixConn)}, nil
}

type unixListener struct {
	*netListener
}

func (l *unixListener) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	c, err := l.netListener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &unixConn{UnixConn: c.(*net.UnixConn)}, nil
}

// unixConn implements DescriptorConn over one Unix stream socket.
type unixConn struct {
	*net.UnixConn
}

func (c *unixConn) WriteWithDescriptors(b []byte, fds []int) (int, error) {
	oob := unix.UnixRights(fds...)
	n, _, err := c.WriteMsgUnix(b, oob, nil)
	if err != nil {
		return n, err
	}
	// WriteMsgUnix can return short on stream sockets; push the rest
	// without re-sending the ancillary block.
	for n < len(b) {
		w, werr := c.Write(b[n:])
		n += w
		if werr != nil {
			return n, werr
		}
	}
	return n, nil
}

func (c *unixConn) ReadWithDescriptors(b []byte) (int, []int, error) {
	oob := make([]byte, unix.CmsgSpace(4*maxDescriptorsPerRead))
	n, oobn, _, _, err := c.ReadMsgUnix(b, oob)
	if oobn == 0 {
		return n, nil, err
	}
	scms, perr := unix.ParseSocketControlMessage(oob[:oobn])
	if perr != nil {
		return n, nil, fmt.Errorf("channel: parse control message: %w", perr)
	}
	var fds []int
	for _, scm := range scms {
		got, rerr := unix.ParseUnixRights(&scm)
		if rerr != nil {
			return n, nil, fmt.Errorf("channel: parse unix rights: %w", rerr)
		}
		fds = append(fds, got...)
	}
	return n, fds, err
}

// maxDescriptorsPerRead bounds the ancillary buffer; it matches the
// per-message descriptor capacity.
const maxDescriptorsPerRead = 7
