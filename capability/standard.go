package capability

import "fmt"

// =============================================================================
// STANDARD CAPABILITY IDS
// Bit positions are append-only: never renumber or reuse a retired id.
// =============================================================================

// Protocol extensions occupy bits 0-63.
const (
	Streaming         ID = 0 // chunked results through StreamChunk envelopes
	SignedInvocations ID = 1 // invocations carry ed25519 signatures
	JSONArgs          ID = 2 // JSON-typed argument values
	Compression       ID = 3 // compressed envelope bodies
	Ping              ID = 4 // liveness probes
	Cancellation      ID = 5 // stream abandonment by the consumer
)

// Tool categories occupy bits 64-255.
const (
	CategoryBase ID = 64

	Filesystem ID = CategoryBase + 0
	Network    ID = CategoryBase + 1
	Process    ID = CategoryBase + 2
	Search     ID = CategoryBase + 3
	Memory     ID = CategoryBase + 4
	Browser    ID = CategoryBase + 5
)

var names = map[ID]string{
	Streaming:         "streaming",
	SignedInvocations: "signed-invocations",
	JSONArgs:          "json-args",
	Compression:       "compression",
	Ping:              "ping",
	Cancellation:      "cancellation",
	Filesystem:        "fs",
	Network:           "net",
	Process:           "process",
	Search:            "search",
	Memory:            "memory",
	Browser:           "browser",
}

// Name returns a human-readable capability name for logs.
func Name(id ID) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("cap#%d", id)
}

// aliases are long forms accepted by Lookup.
var aliases = map[string]ID{
	"filesystem": Filesystem,
	"network":    Network,
}

// Lookup resolves a name produced by Name, or one of its long forms.
func Lookup(name string) (ID, bool) {
	if id, ok := aliases[name]; ok {
		return id, true
	}
	for id, n := range names {
		if n == name {
			return id, true
		}
	}
	var id ID
	if _, err := fmt.Sscanf(name, "cap#%d", &id); err == nil {
		return id, true
	}
	return 0, false
}

// IsCategory reports whether id is in the tool-category range.
func IsCategory(id ID) bool {
	return id >= CategoryBase
}

// Protocol returns the manifest of every protocol extension this
// implementation understands. Compression and Cancellation are reserved
// and have no wire behaviour yet.
func Protocol() Manifest {
	return New(Streaming, SignedInvocations, JSONArgs, Ping)
}
