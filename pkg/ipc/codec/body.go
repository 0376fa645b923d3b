package codec

import (
	"fmt"

	"ipcwire/pkg/ipc"
)

// Format is the on-wire indicator of the body encoding, written into the
// payload ahead of the encoded bytes.
type Format uint32

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatCBOR
	FormatProto
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCBOR:
		return "application/cbor"
	case FormatProto:
		return "application/x-protobuf"
	default:
		return "application/octet-stream"
	}
}

// For returns a codec for the given format, preferring one registered in r.
func For(r *Registry, f Format) (Codec, error) {
	if c := r.Get(f.String()); c != nil {
		return c, nil
	}
	switch f {
	case FormatJSON:
		return JSON(), nil
	case FormatCBOR:
		return CBOR()
	case FormatProto:
		return Proto(), nil
	default:
		return nil, fmt.Errorf("codec: unknown format %d", f)
	}
}

// EncodeBody serializes v with the codec for f and appends a tagged body
// to the message payload.
func EncodeBody(r *Registry, m *ipc.Message, f Format, v any) error {
	c, err := For(r, f)
	if err != nil {
		return err
	}
	b, err := c.Marshal(v)
	if err != nil {
		return err
	}
	m.WriteUint32(uint32(f))
	m.WriteBytes(b)
	return nil
}

// DecodeBody reads a tagged body from the message payload into v and
// returns the format it was encoded with.
func DecodeBody(r *Registry, m *ipc.Message, v any) (Format, error) {
	it := m.Iter()
	tag, err := it.ReadUint32()
	if err != nil {
		return FormatUnknown, err
	}
	f := Format(tag)
	c, err := For(r, f)
	if err != nil {
		return f, err
	}
	b, err := it.ReadBytes()
	if err != nil {
		return f, err
	}
	return f, c.Unmarshal(b, v)
}
