// Package pickle implements a growable byte buffer with a caller-sized
// header prefix and aligned scalar packing. It is the storage primitive
// under the ipc envelope: the first four bytes of every header are a
// little-endian payload-length word, which lets a streaming reader compute
// whole-frame sizes without parsing the rest of the header.
package pickle

import (
	"encoding/binary"
	"errors"
)

// Alignment of every datum written into the payload, in bytes.
const alignment = 4

// Minimum header size: the payload-length word itself.
const baseHeaderSize = 4

var (
	// ErrReadPastEnd reports an iterator read beyond the payload.
	ErrReadPastEnd = errors.New("pickle: read past end of payload")
	// ErrShortBuffer reports an attach on fewer bytes than the header needs.
	ErrShortBuffer = errors.New("pickle: buffer shorter than header")
)

// Pickle owns one contiguous buffer laid out as header followed by payload.
// The header size is fixed at construction; only the payload grows.
type Pickle struct {
	buf        []byte
	headerSize int
}

// New returns an empty Pickle whose header occupies headerSize bytes.
// headerSize is rounded up to the payload alignment and must cover at
// least the payload-length word.
func New(headerSize int) *Pickle {
	if headerSize < baseHeaderSize {
		headerSize = baseHeaderSize
	}
	headerSize = align(headerSize)
	p := &Pickle{
		buf:        make([]byte, headerSize, headerSize+64),
		headerSize: headerSize,
	}
	return p
}

// Attach wraps data as a received frame without copying. The frame must
// contain at least headerSize bytes and exactly headerSize+payload bytes
// are retained; trailing bytes are ignored.
func Attach(data []byte, headerSize int) (*Pickle, error) {
	headerSize = align(headerSize)
	if len(data) < headerSize {
		return nil, ErrShortBuffer
	}
	payload := int(binary.LittleEndian.Uint32(data[0:4]))
	total := headerSize + payload
	if len(data) < total {
		return nil, ErrShortBuffer
	}
	return &Pickle{buf: data[:total], headerSize: headerSize}, nil
}

// MessageSize computes the total framed size of the frame starting at
// data[0], given the already-resolved header size. It returns 0 when data
// does not yet contain the payload-length word; 0 is a backpressure
// signal, never a valid frame size.
func MessageSize(headerSize int, data []byte) uint32 {
	if len(data) < baseHeaderSize {
		return 0
	}
	return uint32(align(headerSize)) + binary.LittleEndian.Uint32(data[0:4])
}

// HeaderSize returns the fixed header size in bytes.
func (p *Pickle) HeaderSize() int { return p.headerSize }

// PayloadSize returns the current payload length in bytes.
func (p *Pickle) PayloadSize() uint32 {
	return binary.LittleEndian.Uint32(p.buf[0:4])
}

// Size returns header plus payload length.
func (p *Pickle) Size() int { return len(p.buf) }

// Bytes returns the full frame (header + payload). The slice aliases the
// internal buffer and is invalidated by further writes.
func (p *Pickle) Bytes() []byte { return p.buf }

// Header returns the mutable header region.
func (p *Pickle) Header() []byte { return p.buf[:p.headerSize] }

// Payload returns the payload region.
func (p *Pickle) Payload() []byte { return p.buf[p.headerSize:] }

func (p *Pickle) setPayloadSize(n int) {
	binary.LittleEndian.PutUint32(p.buf[0:4], uint32(n))
}

// grow extends the buffer by n bytes plus alignment padding and returns
// the slice to write the datum into.
func (p *Pickle) grow(n int) []byte {
	off := len(p.buf)
	padded := align(n)
	for i := 0; i < padded; i++ {
		p.buf = append(p.buf, 0)
	}
	p.setPayloadSize(len(p.buf) - p.headerSize)
	return p.buf[off : off+n]
}

// WriteUint32 appends v to the payload.
func (p *Pickle) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(p.grow(4), v)
}

// WriteInt32 appends v to the payload.
func (p *Pickle) WriteInt32(v int32) { p.WriteUint32(uint32(v)) }

// WriteUint64 appends v to the payload.
func (p *Pickle) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(p.grow(8), v)
}

// WriteBytes appends a length-prefixed, alignment-padded byte run.
func (p *Pickle) WriteBytes(b []byte) {
	p.WriteUint32(uint32(len(b)))
	copy(p.grow(len(b)), b)
}

// WriteString appends s as a length-prefixed byte run.
func (p *Pickle) WriteString(s string) { p.WriteBytes([]byte(s)) }

// Iterator is a read cursor over a Pickle payload. Reads consume data in
// the order it was written and fail cleanly at the end of the payload.
type Iterator struct {
	p   *Pickle
	off int
}

// Iter returns an iterator positioned at the start of the payload.
func (p *Pickle) Iter() *Iterator {
	return &Iterator{p: p, off: p.headerSize}
}

func (it *Iterator) take(n int) ([]byte, error) {
	padded := align(n)
	if it.off+n > len(it.p.buf) {
		return nil, ErrReadPastEnd
	}
	b := it.p.buf[it.off : it.off+n]
	if it.off+padded > len(it.p.buf) {
		it.off = len(it.p.buf)
	} else {
		it.off += padded
	}
	return b, nil
}

// ReadUint32 consumes one uint32.
func (it *Iterator) ReadUint32() (uint32, error) {
	b, err := it.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 consumes one int32.
func (it *Iterator) ReadInt32() (int32, error) {
	v, err := it.ReadUint32()
	return int32(v), err
}

// ReadUint64 consumes one uint64.
func (it *Iterator) ReadUint64() (uint64, error) {
	b, err := it.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadBytes consumes one length-prefixed byte run. The returned slice
// aliases the underlying buffer.
func (it *Iterator) ReadBytes() ([]byte, error) {
	n, err := it.ReadUint32()
	if err != nil {
		return nil, err
	}
	return it.take(int(n))
}

// ReadString consumes one length-prefixed byte run as a string.
func (it *Iterator) ReadString() (string, error) {
	b, err := it.ReadBytes()
	return string(b), err
}

// Remaining reports how many payload bytes are left to read.
func (it *Iterator) Remaining() int { return len(it.p.buf) - it.off }

func align(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}
