package license

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPair holds the issuer's Ed25519 signing keys.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// GenerateKeyPair generates a new Ed25519 key pair for signing licenses.
func GenerateKeyPair() (*KeyPair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: public, PrivateKey: private}, nil
}

// PublicKeyHex encodes the public key as hex, the form bundled with clients.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey)
}

// PrivateKeyHex encodes the private key as hex for server configuration.
func (kp *KeyPair) PrivateKeyHex() string {
	return hex.EncodeToString(kp.PrivateKey)
}

// ParsePublicKey decodes a hex or standard base64 encoded Ed25519 public key.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	data, err := decodeKey(encoded)
	if err != nil || len(data) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(data), nil
}

// ParsePrivateKey decodes a hex or standard base64 encoded Ed25519 private key.
// A 32 byte seed is also accepted.
func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	data, err := decodeKey(encoded)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	switch len(data) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(data), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(data), nil
	default:
		return nil, ErrInvalidPrivateKey
	}
}

func decodeKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if data, err := hex.DecodeString(encoded); err == nil {
		return data, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// Signer signs license payloads. Only the registry and admin tooling hold one.
type Signer struct {
	privateKey ed25519.PrivateKey
}

// NewSigner creates a Signer for the given private key.
func NewSigner(privateKey ed25519.PrivateKey) (*Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivateKey
	}
	return &Signer{privateKey: privateKey}, nil
}

// Sign returns the Ed25519 signature of payload.
func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.privateKey, payload)
}

// PublicKey returns the public half of the signing key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.privateKey.Public().(ed25519.PublicKey)
}

// Verify reports whether signature is a valid signature of payload by publicKey.
// A malformed key is reported as a failed verification.
func Verify(payload, signature []byte, publicKey ed25519.PublicKey) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, payload, signature)
}
