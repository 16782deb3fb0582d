package security

import (
	"fmt"

	"github.com/machinefabric/dcp-go/message"
)

// Verifier authenticates invocations before they reach the router.
type Verifier struct {
	Keys   KeyProvider
	Nonces *NonceStore
	Clock  Clock
}

// NewVerifier creates a verifier. A nil nonces gets a default store and a
// nil clock reads the system clock.
func NewVerifier(keys KeyProvider, nonces *NonceStore, clock Clock) *Verifier {
	if nonces == nil {
		nonces = NewNonceStore(DefaultNonceWindow, DefaultNonceCapacity)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Verifier{Keys: keys, Nonces: nonces, Clock: clock}
}

// VerifyInvocation checks inv as sent by signer. The signature is checked
// first so a forged invocation never consumes a nonce.
func (v *Verifier) VerifyInvocation(signer string, inv *message.Invocation) error {
	if v.Keys == nil {
		return fmt.Errorf("%w: no key provider", ErrBadSignature)
	}
	pub, err := v.Keys.PublicKey(signer)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if err := VerifyInvocationSignature(pub, inv); err != nil {
		return err
	}
	return v.Nonces.Check(signer, inv.Nonce, v.Clock.Now())
}
