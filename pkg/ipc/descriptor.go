package ipc

import (
	"errors"
	"syscall"

	"ipcwire/pkg/pickle"
)

// MaxDescriptorsPerMessage bounds per-message kernel resource usage. The
// limit matches the original platform constant.
const MaxDescriptorsPerMessage = 7

var (
	// ErrDescriptorSetFull reports an append beyond the capacity bound.
	ErrDescriptorSetFull = errors.New("ipc: descriptor set full")
	// ErrDescriptorSetExhausted reports a consume past the last handle or
	// out of insertion order.
	ErrDescriptorSetExhausted = errors.New("ipc: descriptor set exhausted")
)

// Descriptor is one ancillary platform handle attached to a message.
// AutoClose transfers close responsibility to the receiving set.
type Descriptor struct {
	FD        int
	AutoClose bool
}

// DescriptorSet is an ordered, capacity-bounded sequence of descriptors:
// append-only for the sender, consume-in-order for the receiver. Its
// lifetime is tied to the owning Message.
type DescriptorSet struct {
	ds       []Descriptor
	consumed int
}

// Add appends one descriptor, failing when the set is full.
func (s *DescriptorSet) Add(d Descriptor) error {
	if len(s.ds) >= MaxDescriptorsPerMessage {
		return ErrDescriptorSetFull
	}
	s.ds = append(s.ds, d)
	return nil
}

// Take consumes the descriptor at index i. Consumption must follow
// insertion order; any other index reports an exhausted or malformed
// request.
func (s *DescriptorSet) Take(i int) (Descriptor, error) {
	if i != s.consumed || i >= len(s.ds) {
		return Descriptor{}, ErrDescriptorSetExhausted
	}
	s.consumed++
	return s.ds[i], nil
}

// Len returns the number of descriptors appended.
func (s *DescriptorSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ds)
}

// FDs returns the raw descriptor values in insertion order, for the
// channel to hand to the kernel as one ancillary block.
func (s *DescriptorSet) FDs() []int {
	out := make([]int, len(s.ds))
	for i, d := range s.ds {
		out[i] = d.FD
	}
	return out
}

// CloseUnconsumed closes any auto-close descriptors that were never
// taken. Called on message teardown so unread handles do not leak.
func (s *DescriptorSet) CloseUnconsumed() {
	if s == nil {
		return
	}
	for _, d := range s.ds[s.consumed:] {
		if d.AutoClose {
			_ = syscall.Close(d.FD)
		}
	}
	s.ds = s.ds[:0]
	s.consumed = 0
}

// descriptorSet lazily allocates the set.
func (m *Message) descriptorSet() *DescriptorSet {
	if m.fds == nil {
		m.fds = &DescriptorSet{}
	}
	return m.fds
}

// Descriptors returns the message's descriptor set, which may be nil when
// none were attached.
func (m *Message) Descriptors() *DescriptorSet { return m.fds }

// AttachDescriptors installs a set received out-of-band by the channel.
func (m *Message) AttachDescriptors(s *DescriptorSet) { m.fds = s }

// WriteDescriptor appends one descriptor to the set and records its index
// in the payload, so the receiver consumes handles in write order.
func (m *Message) WriteDescriptor(d Descriptor) error {
	s := m.descriptorSet()
	idx := s.Len()
	if err := s.Add(d); err != nil {
		return err
	}
	m.WriteUint32(uint32(idx))
	m.setNumDescriptors(uint32(s.Len()))
	return nil
}

// ReadDescriptor consumes the next descriptor recorded at the iterator's
// position in the payload.
func (m *Message) ReadDescriptor(it *pickle.Iterator) (Descriptor, error) {
	idx, err := it.ReadUint32()
	if err != nil {
		return Descriptor{}, err
	}
	if m.fds == nil {
		return Descriptor{}, ErrDescriptorSetExhausted
	}
	return m.fds.Take(int(idx))
}
