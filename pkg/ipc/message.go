// Package ipc implements the cross-process message envelope: a hand-packed
// binary header over a pickle buffer, the control-flag semantics that let a
// receiver interleave and re-enter message processing, and the static
// framing probe a channel uses to find message boundaries in a byte stream.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"ipcwire/pkg/pickle"
)

var (
	// ErrTruncatedHeader reports construction from a range shorter than
	// the resolved header size. The channel treats this as a protocol
	// violation; a framing caller should have waited for more bytes.
	ErrTruncatedHeader = errors.New("ipc: frame shorter than resolved header")
	// ErrTruncatedFrame reports construction from a range shorter than
	// header plus the declared payload length.
	ErrTruncatedFrame = errors.New("ipc: frame shorter than declared size")
)

// Message is one unit of work exchanged between two processes. It owns an
// envelope header, a pickle buffer holding header+payload, and any
// attached descriptor set. A Message is exclusively owned: transfer it
// with Move or by handing the pointer off, never by copying the struct.
type Message struct {
	p          *pickle.Pickle
	fds        *DescriptorSet
	name       string
	createTime time.Time
}

// NewMessage returns an empty builder-state message with a minimal header,
// the given routing id and type, and no flags set.
func NewMessage(routing int32, msgType uint32) *Message {
	m := &Message{
		p:          pickle.New(minHeaderSize),
		name:       "???",
		createTime: time.Now(),
	}
	m.SetRouting(routing)
	m.setType(msgType)
	m.SetNested(NotNested)
	return m
}

// NewTracedMessage is NewMessage with the extended trace block carried in
// the header and the tracing flag bit set, so receivers resolve the
// extended header size when framing.
func NewTracedMessage(routing int32, msgType uint32) *Message {
	m := &Message{
		p:          pickle.New(tracedHeaderSize),
		name:       "???",
		createTime: time.Now(),
	}
	m.SetRouting(routing)
	m.setType(msgType)
	m.SetNested(NotNested)
	m.setFlag(tracingBit)
	return m
}

// ParseMessage reconstructs a message from a received byte range. The
// range must contain the complete frame as reported by MessageSize;
// payload bytes are retained by reference into data, not copied.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) < minHeaderSize {
		return nil, ErrTruncatedHeader
	}
	hs := HeaderSizeFromData(data)
	if len(data) < hs {
		return nil, ErrTruncatedHeader
	}
	p, err := pickle.Attach(data, hs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
	}
	return &Message{p: p, name: "???", createTime: time.Now()}, nil
}

// MessageSize determines the total length in bytes of the next complete
// message at the front of data, or 0 when data does not yet hold enough of
// the header to decide. The probe is two-phase: resolve the header size
// from the tracing bit inside the minimal prefix, then delegate to the
// pickle buffer's generic size computation.
func MessageSize(data []byte) uint32 {
	if len(data) < minHeaderSize {
		return 0
	}
	return pickle.MessageSize(HeaderSizeFromData(data), data)
}

// Move transfers exclusive ownership of the buffer and descriptor set to a
// new message, leaving the receiver valid but empty.
func (m *Message) Move() *Message {
	moved := &Message{p: m.p, fds: m.fds, name: m.name, createTime: m.createTime}
	m.p = pickle.New(minHeaderSize)
	m.fds = nil
	m.name = "???"
	return moved
}

// Bytes returns the full wire frame: resolved header followed by payload.
func (m *Message) Bytes() []byte { return m.p.Bytes() }

// Size returns the total frame length in bytes.
func (m *Message) Size() int { return m.p.Size() }

// PayloadSize returns the payload length in bytes.
func (m *Message) PayloadSize() uint32 { return m.p.PayloadSize() }

// HeaderSize returns the resolved header size for this message.
func (m *Message) HeaderSize() int { return m.p.HeaderSize() }

// Name returns the diagnostic message name.
func (m *Message) Name() string { return m.name }

// SetName sets the diagnostic message name.
func (m *Message) SetName(name string) { m.name = name }

// CreateTime returns when this message value was constructed.
func (m *Message) CreateTime() time.Time { return m.createTime }

// Payload write-through and read-through to the pickle buffer.

// WriteUint32 appends v to the payload.
func (m *Message) WriteUint32(v uint32) { m.p.WriteUint32(v) }

// WriteInt32 appends v to the payload.
func (m *Message) WriteInt32(v int32) { m.p.WriteInt32(v) }

// WriteUint64 appends v to the payload.
func (m *Message) WriteUint64(v uint64) { m.p.WriteUint64(v) }

// WriteBytes appends a length-prefixed byte run to the payload.
func (m *Message) WriteBytes(b []byte) { m.p.WriteBytes(b) }

// WriteString appends a length-prefixed string to the payload.
func (m *Message) WriteString(s string) { m.p.WriteString(s) }

// Iter returns a read cursor over the payload.
func (m *Message) Iter() *pickle.Iterator { return m.p.Iter() }

// Header field access. Mutators are masked read-modify-write on the flag
// word and never disturb unrelated bits.

func (m *Message) hdr() []byte { return m.p.Header() }

func (m *Message) flags() uint32 { return binary.LittleEndian.Uint32(m.hdr()[offFlags:]) }

func (m *Message) setFlags(v uint32) { binary.LittleEndian.PutUint32(m.hdr()[offFlags:], v) }

func (m *Message) setFlag(bit uint32) { m.setFlags(m.flags() | bit) }

// Routing returns the destination endpoint id.
func (m *Message) Routing() int32 {
	return int32(binary.LittleEndian.Uint32(m.hdr()[offRouting:]))
}

// SetRouting sets the destination endpoint id.
func (m *Message) SetRouting(id int32) {
	binary.LittleEndian.PutUint32(m.hdr()[offRouting:], uint32(id))
}

// Type returns the message-type identifier, opaque to the envelope.
func (m *Message) Type() uint32 {
	return binary.LittleEndian.Uint32(m.hdr()[offType:])
}

func (m *Message) setType(t uint32) {
	binary.LittleEndian.PutUint32(m.hdr()[offType:], t)
}

// Nested returns the nesting level.
func (m *Message) Nested() NestedLevel {
	return NestedLevel(m.flags() & nestedMask)
}

// SetNested sets the nesting level. Values wider than the two-bit field
// are a caller error.
func (m *Message) SetNested(l NestedLevel) {
	if uint32(l)&^nestedMask != 0 {
		panic("ipc: nesting level out of range")
	}
	m.setFlags(m.flags()&^nestedMask | uint32(l))
}

// Priority returns the message priority.
func (m *Message) Priority() Priority {
	return Priority((m.flags() & prioMask) >> 2)
}

// SetPriority sets the message priority. Values wider than the two-bit
// field are a caller error.
func (m *Message) SetPriority(pr Priority) {
	if (uint32(pr)<<2)&^prioMask != 0 {
		panic("ipc: priority out of range")
	}
	m.setFlags(m.flags()&^prioMask | uint32(pr)<<2)
}

// IsSync reports whether the sender blocks awaiting a reply.
func (m *Message) IsSync() bool { return m.flags()&syncBit != 0 }

// SetSync marks the message synchronous.
func (m *Message) SetSync() { m.setFlag(syncBit) }

// IsReply reports whether this message answers an earlier sync message.
func (m *Message) IsReply() bool { return m.flags()&replyBit != 0 }

// SetReply marks the message as a reply.
func (m *Message) SetReply() { m.setFlag(replyBit) }

// IsReplyError reports a reply indicating no receiver was found.
func (m *Message) IsReplyError() bool { return m.flags()&replyErrorBit != 0 }

// SetReplyError marks the reply as failed.
func (m *Message) SetReplyError() { m.setFlag(replyErrorBit) }

// IsInterrupt reports whether the message belongs to the reentrant
// call/reply protocol.
func (m *Message) IsInterrupt() bool { return m.flags()&interruptBit != 0 }

// SetInterrupt marks the message as interrupt-kind.
func (m *Message) SetInterrupt() { m.setFlag(interruptBit) }

// IsConstructor reports whether the message creates a new routable
// endpoint.
func (m *Message) IsConstructor() bool { return m.flags()&constructorBit != 0 }

// SetConstructor marks the message as a constructor.
func (m *Message) SetConstructor() { m.setFlag(constructorBit) }

// IsTraced reports whether the header carries the trace block.
func (m *Message) IsTraced() bool { return m.flags()&tracingBit != 0 }

// CompressType reports the payload compression scheme. The enabled bit
// wins over the exhaustive bit when both are set.
func (m *Message) CompressType() Compression {
	switch {
	case m.flags()&compressBit != 0:
		return CompressionEnabled
	case m.flags()&compressAllBit != 0:
		return CompressionAll
	default:
		return CompressionNone
	}
}

// SetCompression selects the payload compression scheme.
func (m *Message) SetCompression(c Compression) {
	f := m.flags() &^ (compressBit | compressAllBit)
	switch c {
	case CompressionEnabled:
		f |= compressBit
	case CompressionAll:
		f |= compressAllBit
	}
	m.setFlags(f)
}

// TransactionID returns the transaction id used to order sync and urgent
// messages. The slot is shared with the interrupt stack-depth guess;
// reading it on an interrupt-kind message is a caller error.
func (m *Message) TransactionID() int32 {
	if m.IsInterrupt() {
		panic("ipc: transaction id read on interrupt message")
	}
	return int32(binary.LittleEndian.Uint32(m.hdr()[offStackTxn:]))
}

// SetTransactionID sets the transaction id.
func (m *Message) SetTransactionID(txn int32) {
	if m.IsInterrupt() {
		panic("ipc: transaction id set on interrupt message")
	}
	binary.LittleEndian.PutUint32(m.hdr()[offStackTxn:], uint32(txn))
}

// RemoteStackDepthGuess returns the sender's guess at the peer's call
// stack depth. Valid only on interrupt-kind messages.
func (m *Message) RemoteStackDepthGuess() uint32 {
	if !m.IsInterrupt() {
		panic("ipc: stack depth guess read on non-interrupt message")
	}
	return binary.LittleEndian.Uint32(m.hdr()[offStackTxn:])
}

// SetRemoteStackDepthGuess sets the peer stack-depth guess.
func (m *Message) SetRemoteStackDepthGuess(depth uint32) {
	if !m.IsInterrupt() {
		panic("ipc: stack depth guess set on non-interrupt message")
	}
	binary.LittleEndian.PutUint32(m.hdr()[offStackTxn:], depth)
}

// LocalStackDepth returns the sender's local call-stack depth. Valid only
// on interrupt-kind messages.
func (m *Message) LocalStackDepth() uint32 {
	if !m.IsInterrupt() {
		panic("ipc: local stack depth read on non-interrupt message")
	}
	return binary.LittleEndian.Uint32(m.hdr()[offLocalDepth:])
}

// SetLocalStackDepth sets the local call-stack depth.
func (m *Message) SetLocalStackDepth(depth uint32) {
	if !m.IsInterrupt() {
		panic("ipc: local stack depth set on non-interrupt message")
	}
	binary.LittleEndian.PutUint32(m.hdr()[offLocalDepth:], depth)
}

// Seqno returns the sender-assigned diagnostic sequence number.
func (m *Message) Seqno() int32 {
	return int32(binary.LittleEndian.Uint32(m.hdr()[offSeqno:]))
}

// SetSeqno sets the sequence number.
func (m *Message) SetSeqno(seqno int32) {
	binary.LittleEndian.PutUint32(m.hdr()[offSeqno:], uint32(seqno))
}

// Cookie returns the descriptor-transfer acknowledgment token.
func (m *Message) Cookie() uint32 {
	return binary.LittleEndian.Uint32(m.hdr()[offCookie:])
}

// SetCookie stamps the descriptor-transfer token.
func (m *Message) SetCookie(cookie uint32) {
	binary.LittleEndian.PutUint32(m.hdr()[offCookie:], cookie)
}

// NumDescriptors returns the count of ancillary descriptors attached.
func (m *Message) NumDescriptors() uint32 {
	return binary.LittleEndian.Uint32(m.hdr()[offNumFDs:])
}

func (m *Message) setNumDescriptors(n uint32) {
	binary.LittleEndian.PutUint32(m.hdr()[offNumFDs:], n)
}

// Trace block access, valid only on traced messages.

func (m *Message) traceOff(off int) []byte {
	if !m.IsTraced() {
		panic("ipc: trace field access on untraced message")
	}
	return m.hdr()[off:]
}

// TaskID returns the trace task id.
func (m *Message) TaskID() uint64 {
	return binary.LittleEndian.Uint64(m.traceOff(offTaskID))
}

// SetTaskID sets the trace task id.
func (m *Message) SetTaskID(id uint64) {
	binary.LittleEndian.PutUint64(m.traceOff(offTaskID), id)
}

// SourceEventID returns the trace source-event id.
func (m *Message) SourceEventID() uint64 {
	return binary.LittleEndian.Uint64(m.traceOff(offSourceEventID))
}

// SetSourceEventID sets the trace source-event id.
func (m *Message) SetSourceEventID(id uint64) {
	binary.LittleEndian.PutUint64(m.traceOff(offSourceEventID), id)
}

// ParentTaskID returns the trace parent-task id.
func (m *Message) ParentTaskID() uint64 {
	return binary.LittleEndian.Uint64(m.traceOff(offParentTaskID))
}

// SetParentTaskID sets the trace parent-task id.
func (m *Message) SetParentTaskID(id uint64) {
	binary.LittleEndian.PutUint64(m.traceOff(offParentTaskID), id)
}

// SourceEventType returns the trace source-event type tag.
func (m *Message) SourceEventType() uint32 {
	return binary.LittleEndian.Uint32(m.traceOff(offSourceEventType))
}

// SetSourceEventType sets the trace source-event type tag.
func (m *Message) SetSourceEventType(t uint32) {
	binary.LittleEndian.PutUint32(m.traceOff(offSourceEventType), t)
}
