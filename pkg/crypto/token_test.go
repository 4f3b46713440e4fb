package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestTokenCipher_RoundTrip(t *testing.T) {
	c, err := NewTokenCipher("a-key-that-is-not-32-bytes")
	if err != nil {
		t.Fatalf("NewTokenCipher() error = %v", err)
	}

	sealed, err := c.Seal("ya29.token")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "ya29") {
		t.Fatalf("Seal() = %q, want opaque prefixed value", sealed)
	}

	plain, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if plain != "ya29.token" {
		t.Errorf("Open() = %q, want ya29.token", plain)
	}
}

func TestTokenCipher_Plaintext(t *testing.T) {
	c, _ := NewTokenCipher("key")

	got, err := c.Open("legacy-plain-token")
	if err != nil || got != "legacy-plain-token" {
		t.Errorf("Open(plain) = %q, %v", got, err)
	}

	var disabled *TokenCipher
	got, err = disabled.Seal("tok")
	if err != nil || got != "tok" {
		t.Errorf("nil Seal() = %q, %v", got, err)
	}
	if _, err := disabled.Open(prefix + "AAAA"); !errors.Is(err, ErrNoKey) {
		t.Errorf("nil Open(sealed) error = %v, want ErrNoKey", err)
	}
}

func TestTokenCipher_WrongKey(t *testing.T) {
	a, _ := NewTokenCipher("key-a")
	b, _ := NewTokenCipher("key-b")

	sealed, _ := a.Seal("secret")
	if _, err := b.Open(sealed); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Open() with wrong key error = %v, want ErrDecryptionFailed", err)
	}
	if _, err := a.Open(prefix + "!!!"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("Open(garbage) error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestNewTokenCipher_EmptyKey(t *testing.T) {
	if _, err := NewTokenCipher(""); !errors.Is(err, ErrNoKey) {
		t.Errorf("NewTokenCipher(\"\") error = %v, want ErrNoKey", err)
	}
}
