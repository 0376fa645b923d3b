package ipc

import "testing"

func TestReplyCorrelation(t *testing.T) {
	req := NewMessage(4, 0x1001)
	req.SetSync()
	req.SetSeqno(42)
	info := InfoOf(req)

	// The correlator outlives the request.
	*req = *NewMessage(0, 0)

	reply := NewMessage(4, TypeReply)
	reply.SetReply()
	reply.SetReplyError()
	reply.SetSeqno(42)
	if !info.Matches(reply) {
		t.Fatalf("reply-error with matching seqno did not correlate")
	}
	if !reply.IsReplyError() {
		t.Fatalf("reply error bit lost")
	}

	stranger := NewMessage(4, TypeReply)
	stranger.SetReply()
	stranger.SetSeqno(43)
	if info.Matches(stranger) {
		t.Fatalf("mismatched seqno correlated")
	}

	wrongType := NewMessage(4, 0x9999)
	wrongType.SetSeqno(42)
	if info.Matches(wrongType) {
		t.Fatalf("unrelated type correlated")
	}
}

func TestReplyToBuilders(t *testing.T) {
	req := NewMessage(8, 0x1001)
	req.SetSync()
	req.SetSeqno(7)

	r := ReplyTo(req)
	if !r.IsReply() || r.Routing() != 8 || r.Type() != TypeReply || r.Seqno() != 7 {
		t.Fatalf("reply builder fields wrong")
	}
	e := ReplyErrorTo(req)
	if !e.IsReply() || !e.IsReplyError() {
		t.Fatalf("reply-error builder fields wrong")
	}
}

func TestDispatchShapes(t *testing.T) {
	type target struct{ calls int }
	obj := &target{}
	m := NewMessage(1, 2)

	if !Dispatch(m, obj, func(o *target) { o.calls++ }) {
		t.Fatalf("Dispatch reported failure")
	}
	if !DispatchWithMessage(m, obj, func(o *target, got *Message) {
		o.calls++
		if got != m {
			t.Fatalf("wrong message passed to handler")
		}
	}) {
		t.Fatalf("DispatchWithMessage reported failure")
	}
	if obj.calls != 2 {
		t.Fatalf("handlers invoked %d times, want 2", obj.calls)
	}
}
