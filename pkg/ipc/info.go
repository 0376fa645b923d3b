package ipc

// MessageInfo is a by-value snapshot of the fields needed to match an
// incoming reply against an outstanding request. It holds no reference to
// the message it was taken from and stays valid after that message is
// destroyed.
type MessageInfo struct {
	seqno   int32
	msgType uint32
}

// InfoOf extracts the correlation key from a message.
func InfoOf(m *Message) MessageInfo {
	return MessageInfo{seqno: m.Seqno(), msgType: m.Type()}
}

// Seqno returns the recorded sequence number.
func (i MessageInfo) Seqno() int32 { return i.seqno }

// Type returns the recorded message type.
func (i MessageInfo) Type() uint32 { return i.msgType }

// Matches reports whether a reply correlates with this request: same
// sequence number, and either the same type or the generic reply type.
func (i MessageInfo) Matches(reply *Message) bool {
	if reply.Seqno() != i.seqno {
		return false
	}
	return reply.Type() == i.msgType || reply.Type() == TypeReply
}
