//go:build unix

package channel

import (
	"io"
	"net"
	"os"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"ipcwire/pkg/ipc"
)

func fdConn(t *testing.T, fd int) *unixConn {
	t.Helper()
	f := os.NewFile(uintptr(fd), "socketpair")
	c, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		t.Fatalf("fileconn: %v", err)
	}
	return &unixConn{UnixConn: c.(*net.UnixConn)}
}

func socketChannelPair(t *testing.T, async bool) (*Channel, *Channel) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	opts := Options{Logger: zap.NewNop(), AsyncDescriptors: async}
	ch1 := New(fdConn(t, fds[0]), opts)
	ch2 := New(fdConn(t, fds[1]), opts)
	ch1.Start()
	ch2.Start()
	t.Cleanup(func() { _ = ch1.Close(); _ = ch2.Close() })
	return ch1, ch2
}

// sendPipeEnd attaches the write end of a fresh os pipe to a message and
// sends it; the returned read end observes writes through the passed
// descriptor.
func sendPipeEnd(t *testing.T, ch *Channel, routing int32) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	m := ipc.NewMessage(routing, 0x40)
	if err := m.WriteDescriptor(ipc.Descriptor{FD: int(w.Fd())}); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	if err := ch.Send(m); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = w.Close()
	return r
}

func checkReceivedPipeEnd(t *testing.T, m *ipc.Message, r *os.File, text string) {
	t.Helper()
	if m.NumDescriptors() != 1 {
		t.Fatalf("descriptor count = %d, want 1", m.NumDescriptors())
	}
	d, err := m.ReadDescriptor(m.Iter())
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	w := os.NewFile(uintptr(d.FD), "received")
	if _, err := w.WriteString(text); err != nil {
		t.Fatalf("write through received descriptor: %v", err)
	}
	_ = w.Close()
	b, err := io.ReadAll(r)
	if err != nil || string(b) != text {
		t.Fatalf("pipe read: %q %v", b, err)
	}
}

func TestUnixDescriptorRoundtrip(t *testing.T) {
	ch1, ch2 := socketChannelPair(t, false)

	r := sendPipeEnd(t, ch1, 1)
	got := recvOne(t, ch2)
	if got.Routing() != 1 || got.Type() != 0x40 {
		t.Fatalf("envelope mismatch: routing %d type %#x", got.Routing(), got.Type())
	}
	checkReceivedPipeEnd(t, got, r, "through the socket")
}

func TestUnixDescriptorCookieHandshake(t *testing.T) {
	ch1, ch2 := socketChannelPair(t, true)

	// Two transfers back to back; each claim must match the cookie the
	// sender stamped for its own transfer.
	r1 := sendPipeEnd(t, ch1, 2)
	r2 := sendPipeEnd(t, ch1, 2)

	first := recvOne(t, ch2)
	if first.Cookie() != 1 {
		t.Fatalf("first cookie = %d, want 1", first.Cookie())
	}
	checkReceivedPipeEnd(t, first, r1, "first transfer")

	second := recvOne(t, ch2)
	if second.Cookie() != 2 {
		t.Fatalf("second cookie = %d, want 2", second.Cookie())
	}
	checkReceivedPipeEnd(t, second, r2, "second transfer")
}
