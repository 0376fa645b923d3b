// Package dispatch routes received messages to per-endpoint handlers and
// correlates synchronous replies. It is the consuming side of a channel's
// ownership handoff: one Run loop takes each inbound message and either
// invokes a handler, completes a waiting sync call, or defers the message
// under the nested-admission policy.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"ipcwire/pkg/channel"
	"ipcwire/pkg/ipc"
)

var (
	// ErrReplyError reports a reply-error completion: the peer found no
	// receiver for the request.
	ErrReplyError = errors.New("dispatch: peer reported no receiver")
	// ErrChannelClosed reports a sync call cut short by channel teardown.
	ErrChannelClosed = errors.New("dispatch: channel closed")
)

// Handler consumes one received message. Ownership of the message passes
// to the handler.
type Handler func(*ipc.Message)

type pendingCall struct {
	info    ipc.MessageInfo
	replyCh chan *ipc.Message
}

// Dispatcher drains one channel and routes by routing id.
type Dispatcher struct {
	ch  *channel.Channel
	log *zap.Logger

	mu       sync.Mutex
	handlers map[int32]Handler
	pending  map[int32]pendingCall

	outstanding atomic.Int32
	deferred    Queue
}

// New returns a dispatcher over ch. Register handlers before Run.
func New(ch *channel.Channel, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.L()
	}
	return &Dispatcher{
		ch:       ch,
		log:      logger,
		handlers: make(map[int32]Handler),
		pending:  make(map[int32]pendingCall),
	}
}

// Handle registers the handler for a routing id, replacing any previous
// registration.
func (d *Dispatcher) Handle(routing int32, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[routing] = h
}

// Run consumes the channel until it closes or ctx is done. Messages that
// the admission policy defers are replayed, in priority order, as soon as
// no synchronous call is outstanding.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.failPending()
			return
		case m, ok := <-d.ch.In():
			if !ok {
				d.failPending()
				return
			}
			if m.IsReply() {
				d.completeReply(m)
				d.replayDeferred()
				continue
			}
			if d.admissible(m) {
				d.invoke(m)
			} else {
				d.deferred.Push(m)
			}
			d.replayDeferred()
		}
	}
}

// admissible decides whether m may be processed right now. While a sync
// call is outstanding only nested or higher-priority traffic is admitted,
// which is what keeps a blocked sender's receiver loop deadlock-free.
func (d *Dispatcher) admissible(m *ipc.Message) bool {
	if d.outstanding.Load() == 0 {
		return true
	}
	if m.Priority() > ipc.PriorityNormal {
		return true
	}
	return m.Nested() >= ipc.NestedInsideSync
}

func (d *Dispatcher) replayDeferred() {
	if d.outstanding.Load() != 0 {
		return
	}
	for {
		m, ok := d.deferred.TryPop()
		if !ok {
			return
		}
		d.invoke(m)
	}
}

func (d *Dispatcher) invoke(m *ipc.Message) {
	d.mu.Lock()
	h := d.handlers[m.Routing()]
	d.mu.Unlock()
	if h == nil {
		if m.IsSync() {
			if err := d.ch.Send(ipc.ReplyErrorTo(m)); err != nil {
				d.log.Warn("failed to send reply error", zap.Error(err))
			}
			return
		}
		d.log.Debug("no handler for message",
			zap.Int32("routing", m.Routing()), zap.Uint32("type", m.Type()))
		m.Descriptors().CloseUnconsumed()
		return
	}
	ipc.DispatchWithMessage(m, h, func(h Handler, msg *ipc.Message) { h(msg) })
}

// SendSync sends m with the sync bit set and blocks until the correlated
// reply arrives, the context expires, or the channel closes. The reply's
// descriptor set, if any, belongs to the caller.
func (d *Dispatcher) SendSync(ctx context.Context, m *ipc.Message) (*ipc.Message, error) {
	m.SetSync()
	if m.Seqno() == 0 {
		m.SetSeqno(d.ch.NextSeqno())
	}
	call := pendingCall{info: ipc.InfoOf(m), replyCh: make(chan *ipc.Message, 1)}
	seqno := m.Seqno()

	d.mu.Lock()
	d.pending[seqno] = call
	d.mu.Unlock()
	d.outstanding.Add(1)
	defer func() {
		// The call settles on the Run goroutine when its reply is matched
		// or the channel fails; only an abandoned call (send error, ctx
		// expiry) is still pending here and must release its slot itself.
		d.mu.Lock()
		_, abandoned := d.pending[seqno]
		delete(d.pending, seqno)
		d.mu.Unlock()
		if abandoned {
			d.outstanding.Add(-1)
		}
	}()

	if err := d.ch.Send(m); err != nil {
		return nil, err
	}
	select {
	case reply, ok := <-call.replyCh:
		if !ok {
			return nil, ErrChannelClosed
		}
		if reply.IsReplyError() {
			return nil, ErrReplyError
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) completeReply(m *ipc.Message) {
	d.mu.Lock()
	call, ok := d.pending[m.Seqno()]
	if ok && call.info.Matches(m) {
		delete(d.pending, m.Seqno())
	} else {
		ok = false
	}
	d.mu.Unlock()
	if !ok {
		d.log.Debug("unmatched reply dropped",
			zap.Int32("seqno", m.Seqno()), zap.Uint32("type", m.Type()))
		m.Descriptors().CloseUnconsumed()
		return
	}
	// Release the sync slot before the caller wakes, so the replay pass
	// that follows on this goroutine already sees the call as settled.
	d.outstanding.Add(-1)
	call.replyCh <- m
}

func (d *Dispatcher) failPending() {
	d.mu.Lock()
	for seqno, call := range d.pending {
		close(call.replyCh)
		delete(d.pending, seqno)
		d.outstanding.Add(-1)
	}
	d.mu.Unlock()
}
