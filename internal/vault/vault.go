// Package vault seals credential blobs before they reach storage.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrDecryption is returned for any ciphertext that cannot be opened: bad encoding,
// truncation, tampering or a wrong key. Callers must treat it as fatal.
var ErrDecryption = errors.New("credential decryption failed")

const keyInfo = "kairo credential vault v1"

// Vault encrypts and decrypts credential blobs. It holds no state besides the
// derived key and is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New derives the AEAD key from the master secret.
func New(secret []byte) (*Vault, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("vault secret must be at least 32 bytes, got %d", len(secret))
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromBase64 is New for a base64-encoded secret, as carried in configuration.
func NewFromBase64(encoded string) (*Vault, error) {
	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode vault secret: %w", err)
	}
	return New(secret)
}

// Encrypt seals plaintext under a fresh random nonce. The nonce is prepended to
// the sealed bytes and the result is base64url encoded.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(ciphertext string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encoding", ErrDecryption)
	}
	if len(data) < v.aead.NonceSize()+v.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	nonce, sealed := data[:v.aead.NonceSize()], data[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return plaintext, nil
}

// Seal JSON-encodes v and encrypts the result.
func (v *Vault) Seal(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	return v.Encrypt(raw)
}

// Open decrypts ciphertext and decodes the JSON payload into dst.
func (v *Vault) Open(ciphertext string, dst any) error {
	raw, err := v.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: invalid payload", ErrDecryption)
	}
	return nil
}
