package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// WireGuardKeyPair holds a base64-encoded WireGuard key pair. The portal
// only ever stores the public half; the private key exists so the portal
// can hand a complete client configuration to a browser download.
type WireGuardKeyPair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateWireGuardKeyPair generates a new key pair using native crypto.
func GenerateWireGuardKeyPair() (*WireGuardKeyPair, error) {
	privateKey := make([]byte, 32)
	if _, err := rand.Read(privateKey); err != nil {
		return nil, fmt.Errorf("failed to generate random private key: %w", err)
	}

	clampWireGuardKey(privateKey)

	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	return &WireGuardKeyPair{
		PrivateKey: base64.StdEncoding.EncodeToString(privateKey),
		PublicKey:  base64.StdEncoding.EncodeToString(publicKey),
	}, nil
}

// DeriveWireGuardPublicKey derives the public key for a base64 private key.
func DeriveWireGuardPublicKey(privateKey string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return "", fmt.Errorf("private key is not valid base64: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("private key has incorrect length: expected 32 bytes, got %d", len(raw))
	}

	clampWireGuardKey(raw)

	publicKey, err := curve25519.X25519(raw, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("failed to derive public key: %w", err)
	}

	return base64.StdEncoding.EncodeToString(publicKey), nil
}

// IsValidWireGuardKey reports whether key is a base64-encoded 32-byte value.
func IsValidWireGuardKey(key string) bool {
	if len(key) != 44 {
		return false
	}

	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return false
	}

	return len(raw) == 32
}

// clampWireGuardKey applies the clamping required by the WireGuard spec.
func clampWireGuardKey(key []byte) {
	key[0] &= 248
	key[31] &= 127
	key[31] |= 64
}
