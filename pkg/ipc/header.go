package ipc

// Envelope header layout. Every integer is little-endian, matching the
// pickle buffer convention. The first word is the pickle payload-length;
// the envelope fields follow at fixed offsets.
//
//  0  ..3   PayloadLen u32 (owned by the pickle buffer)
//  4  ..7   Routing    i32
//  8  ..11  Type       u32
//  12 ..15  Flags      u32
//  16 ..19  NumDescriptors u32
//  20 ..23  Cookie     u32
//  24 ..27  StackOrTxn u32 (stack-depth guess when interrupt, txn id otherwise)
//  28 ..31  LocalStackDepth u32
//  32 ..35  Seqno      i32
//
// When the tracing flag bit is set the header continues:
//
//  36 ..43  TaskID        u64
//  44 ..51  SourceEventID u64
//  52 ..59  ParentTaskID  u64
//  60 ..63  SourceEventType u32
//
// The true header size is a function of header content: a reader must
// parse the minimal prefix and test the tracing bit before it can locate
// the payload.
const (
	offRouting    = 4
	offType       = 8
	offFlags      = 12
	offNumFDs     = 16
	offCookie     = 20
	offStackTxn   = 24
	offLocalDepth = 28
	offSeqno      = 32

	offTaskID          = 36
	offSourceEventID   = 44
	offParentTaskID    = 52
	offSourceEventType = 60

	// minHeaderSize is the fixed prefix shared by every message.
	minHeaderSize = 36
	// tracedHeaderSize includes the trailing trace block.
	tracedHeaderSize = 64
)

// Flag word bit assignments.
const (
	nestedMask     uint32 = 0x0003
	prioMask       uint32 = 0x000C
	syncBit        uint32 = 0x0010
	replyBit       uint32 = 0x0020
	replyErrorBit  uint32 = 0x0040
	interruptBit   uint32 = 0x0080
	compressBit    uint32 = 0x0100
	compressAllBit uint32 = 0x0200
	constructorBit uint32 = 0x0400
	tracingBit     uint32 = 0x0800
)

// NestedLevel marks whether a message may be processed while its sender
// is itself blocked inside another synchronous call.
type NestedLevel uint32

const (
	NotNested          NestedLevel = 1
	NestedInsideSync   NestedLevel = 2
	NestedInsideUrgent NestedLevel = 3
)

// Priority orders messages for dispatch admission.
type Priority uint32

const (
	PriorityNormal Priority = 0
	PriorityInput  Priority = 1
	PriorityHigh   Priority = 2
)

// Compression describes the payload compression scheme.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionEnabled
	CompressionAll
)

// Routing sentinels, reserved and distinct from any real routing id.
const (
	// RoutingNone marks a message that has no routing id assigned yet.
	RoutingNone int32 = -0x80000000
	// RoutingControl marks a control message not bound to one endpoint.
	RoutingControl int32 = 0x7FFFFFFF
)

// Reserved message-type ids.
const (
	// TypeReply is the generic reply to a synchronous message.
	TypeReply uint32 = 0xFFF0
	// TypeLogging carries logging-channel traffic.
	TypeLogging uint32 = 0xFFF1
)

// HeaderSizeFromData resolves the header size for the frame starting at
// data[0] by probing the tracing bit inside the minimal prefix. When data
// is too short to probe it reports the minimal size; callers gate on
// MessageSize before trusting the result.
func HeaderSizeFromData(data []byte) int {
	if len(data) >= minHeaderSize && leUint32(data, offFlags)&tracingBit != 0 {
		return tracedHeaderSize
	}
	return minHeaderSize
}

func leUint32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}
