package security

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyProvider resolves a signer id to its verification key.
type KeyProvider interface {
	PublicKey(signerID string) (ed25519.PublicKey, error)
}

// StaticKeys is a fixed signer id to key map.
type StaticKeys map[string]ed25519.PublicKey

// PublicKey implements KeyProvider.
func (k StaticKeys) PublicKey(signerID string) (ed25519.PublicKey, error) {
	pub, ok := k[signerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, signerID)
	}
	return pub, nil
}

// Fingerprint returns the lowercase hex SHA-256 of the key's SSH wire form.
// It is the signer id used by AuthorizedKeys.
func Fingerprint(pub ed25519.PublicKey) (string, error) {
	sshKey, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("invalid ed25519 key: %w", err)
	}
	return fingerprint(sshKey), nil
}

func fingerprint(k ssh.PublicKey) string {
	hash := sha256.Sum256(k.Marshal())
	return hex.EncodeToString(hash[:])
}

// MarshalAuthorizedKey renders pub as one authorized_keys line.
func MarshalAuthorizedKey(pub ed25519.PublicKey, comment string) ([]byte, error) {
	sshKey, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("invalid ed25519 key: %w", err)
	}
	line := bytes.TrimRight(ssh.MarshalAuthorizedKey(sshKey), "\n")
	if comment != "" {
		line = append(append(line, ' '), comment...)
	}
	return append(line, '\n'), nil
}

// MarshalPrivateKey encodes key as an OpenSSH private key PEM block.
func MarshalPrivateKey(key ed25519.PrivateKey, comment string) ([]byte, error) {
	block, err := ssh.MarshalPrivateKey(key, comment)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return pem.EncodeToMemory(block), nil
}

// ParsePrivateKey decodes an unencrypted OpenSSH or PKCS#8 ed25519 key.
func ParsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	raw, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	switch k := raw.(type) {
	case ed25519.PrivateKey:
		return k, nil
	case *ed25519.PrivateKey:
		return *k, nil
	default:
		return nil, fmt.Errorf("parse private key: unsupported key type %T", raw)
	}
}

// LoadPrivateKey reads a private key file written by MarshalPrivateKey
// or ssh-keygen -t ed25519.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return ParsePrivateKey(data)
}

// AuthorizedKeys is a KeyProvider backed by OpenSSH authorized_keys
// entries. Only ssh-ed25519 keys are accepted; signer ids are fingerprints.
type AuthorizedKeys struct {
	keys     map[string]ed25519.PublicKey
	comments map[string]string
}

// ParseAuthorizedKeys parses authorized_keys content. Blank lines and
// '#' comments are skipped; any other unparsable line is an error.
func ParseAuthorizedKeys(data []byte) (*AuthorizedKeys, error) {
	ak := &AuthorizedKeys{
		keys:     make(map[string]ed25519.PublicKey),
		comments: make(map[string]string),
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("authorized_keys line %d: %w", lineNo, err)
		}
		if pub.Type() != ssh.KeyAlgoED25519 {
			return nil, fmt.Errorf("authorized_keys line %d: unsupported key type %s", lineNo, pub.Type())
		}
		cpk, ok := pub.(ssh.CryptoPublicKey)
		if !ok {
			return nil, fmt.Errorf("authorized_keys line %d: key does not expose its public key", lineNo)
		}
		edKey, ok := cpk.CryptoPublicKey().(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("authorized_keys line %d: not an ed25519 key", lineNo)
		}

		fp := fingerprint(pub)
		ak.keys[fp] = edKey
		ak.comments[fp] = comment
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading authorized_keys: %w", err)
	}
	return ak, nil
}

// LoadAuthorizedKeys reads and parses an authorized_keys file.
func LoadAuthorizedKeys(path string) (*AuthorizedKeys, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading authorized_keys: %w", err)
	}
	return ParseAuthorizedKeys(data)
}

// PublicKey implements KeyProvider.
func (a *AuthorizedKeys) PublicKey(signerID string) (ed25519.PublicKey, error) {
	pub, ok := a.keys[signerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, signerID)
	}
	return pub, nil
}

// Comment returns the comment recorded for signerID.
func (a *AuthorizedKeys) Comment(signerID string) string {
	return a.comments[signerID]
}

// Signers returns the known fingerprints, sorted.
func (a *AuthorizedKeys) Signers() []string {
	out := make([]string, 0, len(a.keys))
	for fp := range a.keys {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of keys.
func (a *AuthorizedKeys) Len() int {
	return len(a.keys)
}
