// Package security signs tool invocations and rejects replayed or stale ones.
//
// Signatures are ed25519 over message.SigningBytes: the encoded invocation
// body up to, but excluding, its signature field. Nonces embed their issue
// time so freshness can be checked without per-signer clocks.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/machinefabric/dcp-go/message"
)

// Verification failures. Every error returned by this package matches one
// of these with errors.Is.
var (
	ErrBadSignature  = errors.New("bad signature")
	ErrReplayedNonce = errors.New("replayed nonce")
	ErrExpiredNonce  = errors.New("expired nonce")

	// ErrUnknownSigner is reported wrapped together with ErrBadSignature.
	ErrUnknownSigner = errors.New("unknown signer")
)

// GenerateKey creates a fresh ed25519 key pair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return pub, priv, nil
}

// Sign returns the signature over (toolID, args, nonce).
func Sign(key ed25519.PrivateKey, toolID string, args message.Args, nonce uint64) []byte {
	return ed25519.Sign(key, message.SigningBytes(toolID, args, nonce))
}

// Verify checks sig against (toolID, args, nonce). Any mismatch, including a
// malformed key or signature, is ErrBadSignature.
func Verify(pub ed25519.PublicKey, toolID string, args message.Args, nonce uint64, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key is %d bytes", ErrBadSignature, len(pub))
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature is %d bytes", ErrBadSignature, len(sig))
	}
	if !ed25519.Verify(pub, message.SigningBytes(toolID, args, nonce), sig) {
		return ErrBadSignature
	}
	return nil
}

// SignInvocation fills inv.Signature.
func SignInvocation(key ed25519.PrivateKey, inv *message.Invocation) {
	inv.Signature = Sign(key, inv.ToolID, inv.Args, inv.Nonce)
}

// VerifyInvocationSignature is Verify applied to a decoded invocation.
func VerifyInvocationSignature(pub ed25519.PublicKey, inv *message.Invocation) error {
	return Verify(pub, inv.ToolID, inv.Args, inv.Nonce, inv.Signature)
}
