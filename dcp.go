// Package dcp is a binary tool-invocation protocol.
//
// Frames carry typed envelopes; invocations are ed25519-signed and
// nonce-checked, dispatched through a byte-trie router, and answered with
// a single response or a backpressured stream of chunks. This package
// ties the layers together: Session runs the per-connection pipeline,
// Serve drives a Session over a byte stream, and Client calls tools.
//
// The subpackages can be used on their own:
//
//	frame       length-prefixed framing
//	capability  256-bit capability manifest
//	message     envelopes, invocations, chunks, argument schemas
//	security    signatures, nonces, key providers
//	router      tool trie and handler interfaces
//	stream      bounded chunk ring, chunker, assembler
package dcp

import (
	"github.com/machinefabric/dcp-go/capability"
	"github.com/machinefabric/dcp-go/frame"
	"github.com/machinefabric/dcp-go/message"
	"github.com/machinefabric/dcp-go/router"
	"github.com/machinefabric/dcp-go/security"
)

// Flat re-exports of the types most callers need.
type (
	Manifest       = capability.Manifest
	Limits         = frame.Limits
	Envelope       = message.Envelope
	Invocation     = message.Invocation
	Arg            = message.Arg
	Args           = message.Args
	Call           = router.Call
	Handler        = router.Handler
	HandlerFunc    = router.HandlerFunc
	ResponseWriter = router.ResponseWriter
	StreamWriter   = router.StreamWriter
	Router         = router.Router
	Verifier       = security.Verifier
)

var (
	NewRouter      = router.New
	NewVerifier    = security.NewVerifier
	NewNonceStore  = security.NewNonceStore
	DefaultLimits  = frame.DefaultLimits
	NewManifest    = capability.New
	NewSchema      = message.NewSchema
	WithSchema     = router.WithSchema
	WithCapability = router.WithCapability
)
