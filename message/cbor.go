package message

import (
	"errors"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Hello and Error bodies are CBOR maps with integer keys. The encoder uses
// core deterministic encoding so identical values always produce identical bytes.
var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if cborDec, err = (cbor.DecOptions{MaxNestedLevels: 4}).DecMode(); err != nil {
		panic(err)
	}
}

func decodeCBOR(body []byte, v interface{}, what string) error {
	if err := cborDec.Unmarshal(body, v); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return truncated("%s body: %v", what, err)
		}
		return schemaViolation("", "%s body: %v", what, err)
	}
	return nil
}
