// Package gcpb defines the wire messages for the heap debug service.
// The messages are maintained by hand against heapdebug.proto and
// encoded with protowire, so the service needs no generated code.
package gcpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Message is implemented by every wire message in this package.
type Message interface {
	MarshalWire() []byte
	UnmarshalWire(data []byte) error
}

// Codec plugs the hand-maintained messages into grpc transports.
type Codec struct{}

const CodecName = "gcwire"

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("gcpb: cannot marshal %T", v)
	}
	return m.MarshalWire(), nil
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("gcpb: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
