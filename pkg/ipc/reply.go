package ipc

// ReplyTo builds the reply envelope for a synchronous request: generic
// reply type, the request's routing id and sequence number, and the reply
// bit set. The caller fills the payload before sending.
func ReplyTo(req *Message) *Message {
	r := NewMessage(req.Routing(), TypeReply)
	r.SetReply()
	r.SetSeqno(req.Seqno())
	return r
}

// ReplyErrorTo builds the failure reply sent when no receiver exists for
// a synchronous request.
func ReplyErrorTo(req *Message) *Message {
	r := ReplyTo(req)
	r.SetReplyError()
	return r
}
