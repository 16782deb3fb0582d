package message

import (
	"fmt"

	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
)

// Hello is the handshake body each endpoint sends once per connection.
type Hello struct {
	Version  uint8
	Manifest capability.Manifest
	Limits   frame.Limits

	// Signer optionally names the key that signs this endpoint's
	// invocations. The receiver resolves it through its key provider.
	Signer string
}

type helloWire struct {
	Version         uint8  `cbor:"0,keyasint"`
	Manifest        []byte `cbor:"1,keyasint"`
	MaxFrame        int    `cbor:"2,keyasint,omitempty"`
	MaxChunk        int    `cbor:"3,keyasint,omitempty"`
	MaxStreamBuffer int    `cbor:"4,keyasint,omitempty"`
	Signer          string `cbor:"5,keyasint,omitempty"`
}

// NewHello creates a HELLO envelope announcing manifest and limits.
func NewHello(manifest capability.Manifest, limits frame.Limits, reply bool) (Envelope, error) {
	return EncodeHello(Hello{Manifest: manifest, Limits: limits}, reply)
}

// EncodeHello creates a HELLO envelope from h. The version is always
// frame.ProtocolVersion.
func EncodeHello(h Hello, reply bool) (Envelope, error) {
	mb, _ := h.Manifest.MarshalBinary()
	body, err := cborEnc.Marshal(helloWire{
		Version:         frame.ProtocolVersion,
		Manifest:        mb,
		MaxFrame:        h.Limits.MaxFrame,
		MaxChunk:        h.Limits.MaxChunk,
		MaxStreamBuffer: h.Limits.MaxStreamBuffer,
		Signer:          h.Signer,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding hello: %w", err)
	}
	env := Envelope{Type: TypeHello, Body: body}
	if reply {
		env.Flags |= FlagReply
	}
	return env, nil
}

// DecodeHello parses a HELLO body.
func DecodeHello(body []byte) (Hello, error) {
	var w helloWire
	if err := decodeCBOR(body, &w, "hello"); err != nil {
		return Hello{}, err
	}
	m, err := capability.FromBytes(w.Manifest)
	if err != nil {
		return Hello{}, schemaViolation("manifest", "%v", err)
	}
	return Hello{
		Version:  w.Version,
		Manifest: m,
		Limits: frame.Limits{
			MaxFrame:        w.MaxFrame,
			MaxChunk:        w.MaxChunk,
			MaxStreamBuffer: w.MaxStreamBuffer,
		},
		Signer: w.Signer,
	}, nil
}
