package ipc

import "testing"

// snapshot captures every accessor value so setter isolation can be
// checked field by field.
type snapshot struct {
	routing     int32
	msgType     uint32
	nested      NestedLevel
	prio        Priority
	sync        bool
	reply       bool
	replyError  bool
	interrupt   bool
	constructor bool
	compress    Compression
	seqno       int32
	cookie      uint32
}

func snap(m *Message) snapshot {
	return snapshot{
		routing:     m.Routing(),
		msgType:     m.Type(),
		nested:      m.Nested(),
		prio:        m.Priority(),
		sync:        m.IsSync(),
		reply:       m.IsReply(),
		replyError:  m.IsReplyError(),
		interrupt:   m.IsInterrupt(),
		constructor: m.IsConstructor(),
		compress:    m.CompressType(),
		seqno:       m.Seqno(),
		cookie:      m.Cookie(),
	}
}

func TestSetterIsolation(t *testing.T) {
	cases := []struct {
		name  string
		apply func(*Message)
		diff  func(*snapshot)
	}{
		{"nested", func(m *Message) { m.SetNested(NestedInsideUrgent) }, func(s *snapshot) { s.nested = NestedInsideUrgent }},
		{"priority", func(m *Message) { m.SetPriority(PriorityHigh) }, func(s *snapshot) { s.prio = PriorityHigh }},
		{"sync", func(m *Message) { m.SetSync() }, func(s *snapshot) { s.sync = true }},
		{"reply", func(m *Message) { m.SetReply() }, func(s *snapshot) { s.reply = true }},
		{"reply_error", func(m *Message) { m.SetReplyError() }, func(s *snapshot) { s.replyError = true }},
		{"interrupt", func(m *Message) { m.SetInterrupt() }, func(s *snapshot) { s.interrupt = true }},
		{"constructor", func(m *Message) { m.SetConstructor() }, func(s *snapshot) { s.constructor = true }},
		{"compress", func(m *Message) { m.SetCompression(CompressionAll) }, func(s *snapshot) { s.compress = CompressionAll }},
		{"seqno", func(m *Message) { m.SetSeqno(99) }, func(s *snapshot) { s.seqno = 99 }},
		{"cookie", func(m *Message) { m.SetCookie(5) }, func(s *snapshot) { s.cookie = 5 }},
	}
	for _, tc := range cases {
		m := NewMessage(7, 0x42)
		m.SetNested(NotNested)
		before := snap(m)
		tc.apply(m)
		want := before
		tc.diff(&want)
		if got := snap(m); got != want {
			t.Fatalf("%s: snapshot %+v, want %+v", tc.name, got, want)
		}
	}
}

func TestCompressionPrecedence(t *testing.T) {
	m := NewMessage(1, 1)
	m.SetCompression(CompressionAll)
	m.setFlag(compressBit) // both bits on
	if got := m.CompressType(); got != CompressionEnabled {
		t.Fatalf("compress type = %v, want enabled", got)
	}
}

func TestCompressionSetClearsOtherBit(t *testing.T) {
	m := NewMessage(1, 1)
	m.SetCompression(CompressionAll)
	m.SetCompression(CompressionEnabled)
	if m.flags()&compressAllBit != 0 {
		t.Fatalf("compress-all bit survived a scheme change")
	}
	m.SetCompression(CompressionNone)
	if m.CompressType() != CompressionNone {
		t.Fatalf("compress type not cleared")
	}
}

func TestUnionDiscriminant(t *testing.T) {
	m := NewMessage(1, 1)
	m.SetTransactionID(1234)
	if m.TransactionID() != 1234 {
		t.Fatalf("txn id mismatch")
	}
	assertPanics(t, "depth guess on non-interrupt", func() { m.SetRemoteStackDepthGuess(3) })
	assertPanics(t, "local depth on non-interrupt", func() { _ = m.LocalStackDepth() })

	ir := NewMessage(1, 1)
	ir.SetInterrupt()
	ir.SetRemoteStackDepthGuess(3)
	ir.SetLocalStackDepth(2)
	if ir.RemoteStackDepthGuess() != 3 || ir.LocalStackDepth() != 2 {
		t.Fatalf("interrupt depths mismatch")
	}
	assertPanics(t, "txn id on interrupt", func() { _ = ir.TransactionID() })
}

func TestRangeChecks(t *testing.T) {
	m := NewMessage(1, 1)
	assertPanics(t, "nesting out of range", func() { m.SetNested(NestedLevel(4)) })
	assertPanics(t, "priority out of range", func() { m.SetPriority(Priority(4)) })
	assertPanics(t, "trace field on untraced", func() { _ = m.TaskID() })
}

func TestRoutingSentinels(t *testing.T) {
	if RoutingNone == RoutingControl {
		t.Fatalf("sentinels collide")
	}
	if RoutingNone != -0x80000000 || RoutingControl != 0x7FFFFFFF {
		t.Fatalf("sentinel values changed: %d %d", RoutingNone, RoutingControl)
	}
	if TypeReply == TypeLogging {
		t.Fatalf("reserved type ids collide")
	}
}

func assertPanics(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", name)
		}
	}()
	fn()
}
