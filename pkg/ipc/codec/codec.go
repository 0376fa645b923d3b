// Package codec provides payload body encodings for ipc messages. The
// envelope treats payload bytes as opaque; these codecs serialize typed
// values into that payload with a small format tag so the receiver can
// pick the matching decoder.
package codec

// Codec marshals typed values for cross-process exchange. Implementations
// should be deterministic so both ends agree on the bytes.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry returns a registry preloaded with the codecs that need no
// initialization: JSON and Protobuf. CBOR is added via Register since its
// construction can fail.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	return r
}

// Register adds or replaces a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns the codec for contentType, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
