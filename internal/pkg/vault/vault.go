// Package vault encrypts provider credentials before they are persisted.
//
// Ciphertexts are AES-256-GCM sealed, prefixed with a format version and
// base64url encoded so they fit in a TEXT column. Decryption of a tampered
// value, or of a value sealed under a different key, always returns
// ErrDecrypt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/ManuelReschke/MarketLink/internal/pkg/env"
)

const (
	keySize       = 32
	minSecretSize = 16
	version       = "v1"
	hkdfInfo      = "marketlink token vault v1"

	// devSecret is only used when APP_ENV is dev or test and no key is set.
	devSecret = "marketlink-insecure-development-secret"
)

var (
	ErrMissingKey = errors.New("vault: encryption key is not configured")
	ErrWeakKey    = errors.New("vault: encryption key is too short")
	ErrDecrypt    = errors.New("vault: decryption failed")
	ErrMalformed  = errors.New("vault: malformed ciphertext")
)

// Vault seals and opens credential strings with one process-wide key.
// It is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New builds a Vault from secret. A 64 character hex string is used as the
// raw key; any other secret of at least 16 bytes is stretched with HKDF-SHA256.
func New(secret string) (*Vault, error) {
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// FromConfig builds the process vault. Production deployments without a key
// fail here so the server never starts.
func FromConfig(cfg env.Config) (*Vault, bool, error) {
	if cfg.TokenEncryptionKey != "" {
		v, err := New(cfg.TokenEncryptionKey)
		return v, false, err
	}
	if cfg.IsProduction() {
		return nil, false, ErrMissingKey
	}
	v, err := New(devSecret)
	return v, true, err
}

func deriveKey(secret string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingKey
	}
	if len(secret) == keySize*2 {
		if raw, err := hex.DecodeString(secret); err == nil {
			return raw, nil
		}
	}
	if len(secret) < minSecretSize {
		return nil, ErrWeakKey
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext and returns the printable ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	return v.EncryptBytes([]byte(plaintext))
}

// Decrypt opens a value produced by Encrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := v.DecryptBytes(ciphertext)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (v *Vault) EncryptBytes(plaintext []byte) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, plaintext, []byte(version))
	return version + "." + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (v *Vault) DecryptBytes(ciphertext string) ([]byte, error) {
	prefix, body, ok := strings.Cut(ciphertext, ".")
	if !ok || prefix != version {
		return nil, ErrMalformed
	}
	sealed, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrMalformed
	}
	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize+v.aead.Overhead() {
		return nil, ErrMalformed
	}
	plaintext, err := v.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(version))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
