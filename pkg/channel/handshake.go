package channel

import (
	"errors"
	"fmt"
	"sync"

	"ipcwire/pkg/ipc"
)

var (
	errDescriptorsPending = errors.New("channel: descriptor group not yet offered")
	errCookieMismatch     = errors.New("channel: descriptor cookie mismatch")
)

// descriptorHandshake orders two independently-delivered streams: message
// bytes and descriptor groups. Arriving groups are offered in order and
// tagged with a monotonically increasing cookie; a message that declares
// descriptors claims the front group, matching cookies when the platform
// delivers descriptors asynchronously. A claim ahead of the offer parks
// until the transfer is observed, never the other way around.
type descriptorHandshake struct {
	mu     sync.Mutex
	next   uint32
	groups []fdGroup
}

type fdGroup struct {
	cookie uint32
	fds    []int
}

// offer records one arrived descriptor group and assigns its cookie.
func (h *descriptorHandshake) offer(fds []int) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.groups = append(h.groups, fdGroup{cookie: h.next, fds: append([]int(nil), fds...)})
	return h.next
}

// claim consumes the front group for a message declaring want
// descriptors. When checkCookie is set the group's cookie must equal the
// one stamped in the message header.
func (h *descriptorHandshake) claim(cookie uint32, want int, checkCookie bool) (*ipc.DescriptorSet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.groups) == 0 {
		return nil, errDescriptorsPending
	}
	g := h.groups[0]
	if checkCookie && g.cookie != cookie {
		return nil, fmt.Errorf("%w: message %d, transfer %d", errCookieMismatch, cookie, g.cookie)
	}
	if len(g.fds) != want {
		return nil, fmt.Errorf("channel: descriptor count mismatch: message declares %d, transfer carries %d",
			want, len(g.fds))
	}
	h.groups = h.groups[1:]
	set := &ipc.DescriptorSet{}
	for _, fd := range g.fds {
		if err := set.Add(ipc.Descriptor{FD: fd, AutoClose: true}); err != nil {
			return nil, err
		}
	}
	return set, nil
}
