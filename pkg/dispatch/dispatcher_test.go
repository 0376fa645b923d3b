package dispatch

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"ipcwire/pkg/channel"
	"ipcwire/pkg/ipc"
)

func dispatcherPair(t *testing.T) (*Dispatcher, *Dispatcher, *channel.Channel, *channel.Channel) {
	t.Helper()
	c1, c2 := net.Pipe()
	ch1 := channel.New(c1, channel.Options{Logger: zap.NewNop()})
	ch2 := channel.New(c2, channel.Options{Logger: zap.NewNop()})
	d1 := New(ch1, zap.NewNop())
	d2 := New(ch2, zap.NewNop())
	ch1.Start()
	ch2.Start()
	t.Cleanup(func() { _ = ch1.Close(); _ = ch2.Close() })
	return d1, d2, ch1, ch2
}

func TestSendSyncEcho(t *testing.T) {
	d1, d2, _, ch2 := dispatcherPair(t)

	d2.Handle(5, func(m *ipc.Message) {
		s, err := m.Iter().ReadString()
		if err != nil {
			t.Errorf("handler read: %v", err)
			return
		}
		reply := ipc.ReplyTo(m)
		reply.WriteString(s)
		_ = ch2.Send(reply)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d1.Run(ctx)
	go d2.Run(ctx)

	req := ipc.NewMessage(5, 0x1001)
	req.WriteString("echo me")
	reply, err := d1.SendSync(ctx, req)
	if err != nil {
		t.Fatalf("sync send: %v", err)
	}
	if s, err := reply.Iter().ReadString(); err != nil || s != "echo me" {
		t.Fatalf("reply payload: %q %v", s, err)
	}
	if !reply.IsReply() {
		t.Fatalf("reply bit missing")
	}
}

func TestSendSyncNoReceiver(t *testing.T) {
	d1, d2, _, _ := dispatcherPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d1.Run(ctx)
	go d2.Run(ctx) // no handler registered

	req := ipc.NewMessage(99, 0x2002)
	if _, err := d1.SendSync(ctx, req); !errors.Is(err, ErrReplyError) {
		t.Fatalf("sync send to missing receiver: %v", err)
	}
}

func TestAsyncDelivery(t *testing.T) {
	d1, d2, ch1, _ := dispatcherPair(t)

	got := make(chan string, 1)
	d2.Handle(3, func(m *ipc.Message) {
		s, _ := m.Iter().ReadString()
		got <- s
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d1.Run(ctx)
	go d2.Run(ctx)

	m := ipc.NewMessage(3, 0x7)
	m.WriteString("fire and forget")
	if err := ch1.Send(m); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case s := <-got:
		if s != "fire and forget" {
			t.Fatalf("payload: %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("async message never dispatched")
	}
}

func TestDeferredReplayAfterSyncCompletes(t *testing.T) {
	d1, d2, _, ch2 := dispatcherPair(t)

	replayed := make(chan string, 1)
	d1.Handle(8, func(m *ipc.Message) {
		s, _ := m.Iter().ReadString()
		replayed <- s
	})

	// The peer pushes a normal-priority message at the blocked caller
	// before replying. It must be deferred while the call is outstanding
	// and replayed once the reply settles it, with no further inbound
	// traffic to nudge the loop.
	d2.Handle(5, func(m *ipc.Message) {
		note := ipc.NewMessage(8, 0x30)
		note.WriteString("while you were blocked")
		_ = ch2.Send(note)
		_ = ch2.Send(ipc.ReplyTo(m))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d1.Run(ctx)
	go d2.Run(ctx)

	req := ipc.NewMessage(5, 0x1001)
	if _, err := d1.SendSync(ctx, req); err != nil {
		t.Fatalf("sync send: %v", err)
	}
	select {
	case s := <-replayed:
		if s != "while you were blocked" {
			t.Fatalf("replayed payload: %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("deferred message never replayed after sync call completed")
	}
}

func TestAdmissionPolicy(t *testing.T) {
	d := New(nil, zap.NewNop())

	normal := ipc.NewMessage(1, 1)
	nested := ipc.NewMessage(1, 1)
	nested.SetNested(ipc.NestedInsideSync)
	high := ipc.NewMessage(1, 1)
	high.SetPriority(ipc.PriorityHigh)

	if !d.admissible(normal) {
		t.Fatalf("normal message blocked with no outstanding call")
	}

	d.outstanding.Add(1)
	if d.admissible(normal) {
		t.Fatalf("normal message admitted during sync call")
	}
	if !d.admissible(nested) {
		t.Fatalf("nested message blocked during sync call")
	}
	if !d.admissible(high) {
		t.Fatalf("high-priority message blocked during sync call")
	}
	d.outstanding.Add(-1)
	if !d.admissible(normal) {
		t.Fatalf("normal message still blocked after sync call completed")
	}
}
