// Package crypto encrypts OAuth tokens at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// prefix marks ciphertext so plaintext rows written before encryption was enabled still read back.
const prefix = "enc:v1:"

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrNoKey             = errors.New("token encryption key not configured")
)

// TokenCipher handles AES-256-GCM encryption of stored tokens.
// A nil *TokenCipher stores tokens as plaintext.
type TokenCipher struct {
	gcm cipher.AEAD
}

// NewTokenCipher creates a cipher. Keys that are not 32 bytes are stretched with SHA-256.
func NewTokenCipher(key string) (*TokenCipher, error) {
	if key == "" {
		return nil, ErrNoKey
	}
	raw := []byte(key)
	if len(raw) != 32 {
		sum := sha256.Sum256(raw)
		raw = sum[:]
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &TokenCipher{gcm: gcm}, nil
}

// Enabled reports whether tokens are encrypted.
func (c *TokenCipher) Enabled() bool {
	return c != nil
}

// Seal encrypts token. Empty input stays empty.
func (c *TokenCipher) Seal(token string) (string, error) {
	if token == "" || c == nil {
		return token, nil
	}

	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(token), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Unprefixed values are returned unchanged.
func (c *TokenCipher) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	if c == nil {
		return "", ErrNoKey
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize+c.gcm.Overhead() {
		return "", ErrInvalidCiphertext
	}

	plain, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsSealed reports whether value carries the ciphertext prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}
