// Package secrets encrypts sensitive monitor configuration (header values,
// request bodies) before it reaches the store.
package secrets

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// ciphertextPrefix tags encrypted values so Decrypt can distinguish them
// from plaintext legacy values already in the store.
const ciphertextPrefix = "enc:v1:"

// Box seals and opens sensitive values with a single symmetric key.
type Box struct {
	aead cipher.AEAD
}

// New creates a Box from a hex-encoded 32-byte key.
func New(hexKey string) (*Box, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &Box{aead: aead}, nil
}

// EncryptSensitive seals plain and returns a tagged ciphertext string.
func (b *Box) EncryptSensitive(plain string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plain), nil)
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt returns the plaintext for a tagged ciphertext. Untagged values are
// treated as plaintext legacy data and returned unchanged.
func (b *Box) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, ciphertextPrefix) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, ciphertextPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	if len(raw) < b.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plain, err := b.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", err)
	}
	return string(plain), nil
}
