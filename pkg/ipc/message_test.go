package ipc

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundtripMinimalHeader(t *testing.T) {
	m := NewMessage(7, 0x1001)
	m.SetSync()
	m.SetPriority(PriorityInput)
	m.SetSeqno(42)
	m.SetTransactionID(-5)
	m.WriteString("payload bytes")

	d, err := ParseMessage(m.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Routing() != 7 || d.Type() != 0x1001 || !d.IsSync() ||
		d.Priority() != PriorityInput || d.Seqno() != 42 || d.TransactionID() != -5 {
		t.Fatalf("header mismatch after roundtrip")
	}
	if d.IsTraced() || d.HeaderSize() != minHeaderSize {
		t.Fatalf("minimal message resolved as traced")
	}
	if s, err := d.Iter().ReadString(); err != nil || s != "payload bytes" {
		t.Fatalf("payload: %q %v", s, err)
	}
}

func TestRoundtripTracedHeader(t *testing.T) {
	m := NewTracedMessage(3, 0x2002)
	m.SetTaskID(0x1111222233334444)
	m.SetSourceEventID(0x5555666677778888)
	m.SetParentTaskID(0x9999AAAABBBBCCCC)
	m.SetSourceEventType(12)
	m.WriteUint32(77)

	d, err := ParseMessage(m.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !d.IsTraced() || d.HeaderSize() != tracedHeaderSize {
		t.Fatalf("traced header not resolved: size %d", d.HeaderSize())
	}
	if d.TaskID() != 0x1111222233334444 || d.SourceEventID() != 0x5555666677778888 ||
		d.ParentTaskID() != 0x9999AAAABBBBCCCC || d.SourceEventType() != 12 {
		t.Fatalf("trace block mismatch")
	}
	if v, err := d.Iter().ReadUint32(); err != nil || v != 77 {
		t.Fatalf("payload after trace block: %v %v", v, err)
	}
}

// The framing scenario: serialize a sync message and feed its bytes to
// MessageSize one byte at a time.
func TestFramingByteAtATime(t *testing.T) {
	m := NewMessage(7, 0x1001)
	m.SetSync()
	m.SetSeqno(42)
	wire := m.Bytes()

	for i := 0; i < len(wire); i++ {
		if got := MessageSize(wire[:i]); got != 0 {
			t.Fatalf("MessageSize(%d bytes) = %d, want insufficient", i, got)
		}
	}
	if got := MessageSize(wire); got != uint32(len(wire)) {
		t.Fatalf("MessageSize(full) = %d, want %d", MessageSize(wire), len(wire))
	}

	d, err := ParseMessage(wire)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Routing() != 7 || d.Type() != 0x1001 || !d.IsSync() || d.Seqno() != 42 {
		t.Fatalf("decoded fields mismatch: routing=%d type=%#x sync=%v seqno=%d",
			d.Routing(), d.Type(), d.IsSync(), d.Seqno())
	}
}

func TestFramingResolvesTracedSize(t *testing.T) {
	traced := NewTracedMessage(1, 9)
	traced.WriteUint32(1)
	wire := traced.Bytes()

	// Enough bytes to probe the flag word but fewer than the extended
	// header: the probe must still select the extended size.
	if got := MessageSize(wire[:minHeaderSize]); got != uint32(len(wire)) {
		t.Fatalf("traced MessageSize = %d, want %d", got, len(wire))
	}

	plain := NewMessage(1, 9)
	if got := MessageSize(plain.Bytes()); got != uint32(minHeaderSize) {
		t.Fatalf("minimal MessageSize = %d, want %d", got, minHeaderSize)
	}
}

func TestFramingNeverOverclaims(t *testing.T) {
	m := NewMessage(2, 3)
	m.WriteString("body")
	wire := m.Bytes()
	withTrailer := append(append([]byte(nil), wire...), 0xFF, 0xFF, 0xFF)
	if got := MessageSize(withTrailer); got != uint32(len(wire)) {
		t.Fatalf("MessageSize with trailing bytes = %d, want %d", got, len(wire))
	}
}

func TestParseFaults(t *testing.T) {
	if _, err := ParseMessage(make([]byte, minHeaderSize-1)); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("short prefix: %v", err)
	}

	traced := NewTracedMessage(1, 1)
	short := traced.Bytes()[:minHeaderSize+4]
	if _, err := ParseMessage(short); !errors.Is(err, ErrTruncatedHeader) {
		t.Fatalf("short traced header: %v", err)
	}

	m := NewMessage(1, 1)
	m.WriteString("full payload")
	cut := m.Bytes()[:m.Size()-2]
	if _, err := ParseMessage(cut); !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("short payload: %v", err)
	}
}

func TestMoveTransfersOwnership(t *testing.T) {
	m := NewMessage(5, 6)
	m.SetSeqno(11)
	m.WriteString("moved")
	if err := m.WriteDescriptor(Descriptor{FD: 9}); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	srcBytes := m.Bytes()

	moved := m.Move()
	if !bytes.Equal(moved.Bytes(), srcBytes) {
		t.Fatalf("moved message lost bytes")
	}
	if moved.Descriptors().Len() != 1 {
		t.Fatalf("descriptor set not moved")
	}
	// Source stays valid but empty.
	if m.Descriptors() != nil || m.PayloadSize() != 0 || m.Seqno() != 0 {
		t.Fatalf("source not reset after move")
	}
	m.WriteUint32(1) // still usable
}
