package dispatch

import (
	"sync"

	"ipcwire/pkg/ipc"
)

// Queue holds messages deferred by the admission policy: strict priority
// between levels (high > input > normal), round-robin across routing ids
// inside one level so a chatty endpoint cannot starve its neighbors.
type Queue struct {
	mu   sync.Mutex
	lvls [numLevels]level
	n    int
}

const numLevels = 3

type level struct {
	flows map[int32][]*ipc.Message
	order []int32
	idx   int
}

func levelFor(p ipc.Priority) int {
	switch p {
	case ipc.PriorityHigh:
		return 0
	case ipc.PriorityInput:
		return 1
	default:
		return 2
	}
}

// Push appends m to its priority level and routing flow.
func (q *Queue) Push(m *ipc.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	lvl := &q.lvls[levelFor(m.Priority())]
	if lvl.flows == nil {
		lvl.flows = make(map[int32][]*ipc.Message)
	}
	r := m.Routing()
	if _, ok := lvl.flows[r]; !ok {
		lvl.order = append(lvl.order, r)
	}
	lvl.flows[r] = append(lvl.flows[r], m)
	q.n++
}

// TryPop removes the next message by strict priority and per-level round
// robin, or reports an empty queue.
func (q *Queue) TryPop() (*ipc.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for li := range q.lvls {
		lvl := &q.lvls[li]
		if len(lvl.order) == 0 {
			continue
		}
		n := len(lvl.order)
		for i := 0; i < n; i++ {
			j := (lvl.idx + i) % n
			r := lvl.order[j]
			fl := lvl.flows[r]
			if len(fl) == 0 {
				continue
			}
			m := fl[0]
			fl = fl[1:]
			if len(fl) == 0 {
				delete(lvl.flows, r)
				lvl.order = append(lvl.order[:j], lvl.order[j+1:]...)
				if len(lvl.order) > 0 {
					lvl.idx = j % len(lvl.order)
				} else {
					lvl.idx = 0
				}
			} else {
				lvl.flows[r] = fl
				lvl.idx = (j + 1) % n
			}
			q.n--
			return m, true
		}
	}
	return nil, false
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}
