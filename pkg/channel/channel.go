// Package channel moves ipc messages over a byte-stream connection. A
// Channel owns the wire: it serializes sealed messages, accumulates
// received bytes, finds message boundaries with the envelope framing
// probe, and hands each completed message to the dispatch side by
// ownership transfer over a Go channel.
package channel

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"ipcwire/pkg/ipc"
)

var (
	// ErrDescriptorsUnsupported reports a send of a message carrying
	// descriptors over a connection that cannot pass them.
	ErrDescriptorsUnsupported = errors.New("channel: connection cannot carry descriptors")
	// ErrClosed reports use of a closed channel.
	ErrClosed = errors.New("channel: closed")
)

// defaultMaxFrameSize bounds how much one frame may make the receiver
// buffer before the declared length is trusted.
const defaultMaxFrameSize = 128 << 20

// DescriptorConn is a connection able to pass platform handles alongside
// bytes, such as a Unix domain socket using SCM_RIGHTS.
type DescriptorConn interface {
	io.ReadWriteCloser
	// WriteWithDescriptors writes b and attaches fds as one ancillary
	// block on the first byte.
	WriteWithDescriptors(b []byte, fds []int) (int, error)
	// ReadWithDescriptors reads into b and returns any descriptors that
	// arrived with those bytes.
	ReadWithDescriptors(b []byte) (int, []int, error)
}

// Options configures a Channel.
type Options struct {
	// Logger defaults to zap.L().
	Logger *zap.Logger
	// ReadBufferSize is the per-read chunk size. Default 4096.
	ReadBufferSize int
	// Inbound is the handoff queue capacity. Default 64.
	Inbound int
	// MaxFrameSize caps one message frame, header included. A peer
	// declaring a larger frame is a protocol fault. Default 128 MiB.
	MaxFrameSize int
	// AsyncDescriptors enables the cookie handshake for platforms where
	// descriptor delivery is asynchronous relative to byte delivery.
	// Both peers of one channel must agree on this setting.
	AsyncDescriptors bool
}

// Channel is one end of a message pipe. Exactly one goroutine reads (the
// internal loop) and callers serialize sends through the write lock; the
// inbound Go channel is the single synchronization point with dispatch.
type Channel struct {
	c    io.ReadWriteCloser
	log  *zap.Logger
	opts Options

	in        chan *ipc.Message
	seq       atomic.Int32
	cookieSeq atomic.Uint32
	hs        descriptorHandshake
	parked    []*ipc.Message

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// New wraps an established connection. Call Start to begin reading.
func New(c io.ReadWriteCloser, opts Options) *Channel {
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 4096
	}
	if opts.Inbound <= 0 {
		opts.Inbound = 64
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaultMaxFrameSize
	}
	return &Channel{
		c:    c,
		log:  opts.Logger,
		opts: opts,
		in:   make(chan *ipc.Message, opts.Inbound),
		done: make(chan struct{}),
	}
}

// Start launches the read loop. The inbound channel is closed when the
// connection ends or a protocol fault is detected.
func (ch *Channel) Start() {
	go ch.readLoop()
}

// In returns the inbound message stream. Receiving from it takes
// exclusive ownership of each message.
func (ch *Channel) In() <-chan *ipc.Message { return ch.in }

// Send seals and writes one message. Ownership passes to the channel; the
// caller must not mutate the message afterwards. A zero seqno is stamped
// from the channel's monotonic counter.
func (ch *Channel) Send(m *ipc.Message) error {
	select {
	case <-ch.done:
		return ErrClosed
	default:
	}
	if m.Seqno() == 0 {
		m.SetSeqno(ch.seq.Add(1))
	}
	ch.wmu.Lock()
	defer ch.wmu.Unlock()
	if n := m.Descriptors().Len(); n > 0 {
		dc, ok := ch.c.(DescriptorConn)
		if !ok {
			return ErrDescriptorsUnsupported
		}
		if ch.opts.AsyncDescriptors {
			m.SetCookie(ch.cookieSeq.Add(1))
		}
		_, err := dc.WriteWithDescriptors(m.Bytes(), m.Descriptors().FDs())
		return err
	}
	_, err := ch.c.Write(m.Bytes())
	return err
}

// NextSeqno returns a fresh sequence number without sending.
func (ch *Channel) NextSeqno() int32 { return ch.seq.Add(1) }

// Close tears down the connection. Pending inbound messages already
// handed off remain valid.
func (ch *Channel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		close(ch.done)
		err = ch.c.Close()
	})
	return err
}

func (ch *Channel) readLoop() {
	defer close(ch.in)
	var buf []byte
	tmp := make([]byte, ch.opts.ReadBufferSize)
	dc, hasFDs := ch.c.(DescriptorConn)
	for {
		var (
			n   int
			fds []int
			err error
		)
		if hasFDs {
			n, fds, err = dc.ReadWithDescriptors(tmp)
		} else {
			n, err = ch.c.Read(tmp)
		}
		if n > 0 {
			if len(fds) > 0 {
				ch.hs.offer(fds)
				if !ch.drainParked() {
					return
				}
			}
			buf = append(buf, tmp[:n]...)
			for {
				sz := ipc.MessageSize(buf)
				if sz == 0 {
					break
				}
				if uint64(sz) > uint64(ch.opts.MaxFrameSize) {
					ch.log.Error("oversized message frame, closing channel",
						zap.Uint32("frame_size", sz), zap.Int("limit", ch.opts.MaxFrameSize))
					_ = ch.Close()
					return
				}
				if uint32(len(buf)) < sz {
					break
				}
				frame := append([]byte(nil), buf[:sz]...)
				buf = buf[sz:]
				m, perr := ipc.ParseMessage(frame)
				if perr != nil {
					// A malformed header is a protocol violation and
					// connection-fatal, not locally recoverable.
					ch.log.Error("malformed message frame, closing channel",
						zap.Error(perr), zap.Uint32("frame_size", sz))
					_ = ch.Close()
					return
				}
				if !ch.admit(m) {
					return
				}
			}
			if len(buf) == 0 {
				buf = nil
			}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, io.ErrClosedPipe) {
				select {
				case <-ch.done:
				default:
					ch.log.Warn("channel read failed", zap.Error(err))
				}
			}
			return
		}
	}
}

// admit attaches any pending descriptors and delivers the message, or
// parks it until its descriptor group arrives. Returns false on a fatal
// protocol fault.
func (ch *Channel) admit(m *ipc.Message) bool {
	want := int(m.NumDescriptors())
	if want == 0 {
		return ch.deliver(m)
	}
	if _, ok := ch.c.(DescriptorConn); !ok {
		// No transfer can ever arrive to satisfy the claim; parking here
		// would leak the message silently. Mirrors the send-side
		// ErrDescriptorsUnsupported.
		ch.log.Error("message declares descriptors on a connection that cannot carry them, closing channel",
			zap.Int32("seqno", m.Seqno()), zap.Int("descriptors", want))
		_ = ch.Close()
		return false
	}
	set, err := ch.hs.claim(m.Cookie(), want, ch.opts.AsyncDescriptors)
	if errors.Is(err, errDescriptorsPending) {
		// Bytes outran the descriptor transfer; hold the message until
		// the matching group is observed.
		ch.parked = append(ch.parked, m)
		return true
	}
	if err != nil {
		ch.log.Error("descriptor handshake failed, closing channel",
			zap.Error(err), zap.Int32("seqno", m.Seqno()))
		_ = ch.Close()
		return false
	}
	m.AttachDescriptors(set)
	return ch.deliver(m)
}

func (ch *Channel) drainParked() bool {
	for len(ch.parked) > 0 {
		m := ch.parked[0]
		set, err := ch.hs.claim(m.Cookie(), int(m.NumDescriptors()), ch.opts.AsyncDescriptors)
		if errors.Is(err, errDescriptorsPending) {
			return true
		}
		if err != nil {
			ch.log.Error("descriptor handshake failed, closing channel", zap.Error(err))
			_ = ch.Close()
			return false
		}
		ch.parked = ch.parked[1:]
		m.AttachDescriptors(set)
		if !ch.deliver(m) {
			return false
		}
	}
	return true
}

func (ch *Channel) deliver(m *ipc.Message) bool {
	select {
	case ch.in <- m:
		return true
	case <-ch.done:
		return false
	}
}
