// Package vault provides AES-256-GCM encryption and decryption for
// long-lived OAuth refresh tokens.
//
// AES-256-GCM gives confidentiality and integrity in one primitive: a
// tampered ciphertext fails authentication instead of silently decrypting
// to garbage. Every Encrypt call draws a fresh 96-bit random nonce, so
// encrypting the same token twice never produces the same ciphertext and
// nonce reuse under one key cannot happen by caller mistake.
//
// A short fingerprint of the key (key ID) is returned with each ciphertext
// and stored alongside it. It exists to support key rotation: a future
// decrypt path could select a key by its ID instead of assuming a single
// global key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"calendar-service/internal/common/errors"
)

// Vault encrypts and decrypts refresh tokens with AES-256-GCM.
// It holds no mutable state and is safe for concurrent use.
type Vault struct {
	aead  cipher.AEAD
	keyID string
}

// New creates a Vault from the master key material.
//
// The preferred form is a base64-encoded 32-byte key. Any other input is
// derived to 32 bytes with PBKDF2-SHA256 so development setups with a
// plain passphrase still get a full-strength key.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, errors.ConfigError("token encryption key cannot be empty")
	}

	key, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil || len(key) != 32 {
		salt := []byte("calendar-service-token-vault")
		key = pbkdf2.Key([]byte(masterKey), salt, 10000, 32, sha256.New)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.EncryptionError("initialization", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.EncryptionError("initialization", err)
	}

	return &Vault{
		aead:  aead,
		keyID: keyFingerprint(key),
	}, nil
}

// keyFingerprint returns a short stable identifier for the key version
func keyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])[:8]
}

// KeyID returns the fingerprint of the active key. Records encrypted under
// a different key are rejected at decrypt time by comparing this value.
func (v *Vault) KeyID() string {
	return v.keyID
}

// Encrypt encrypts a plaintext token and returns the base64-encoded
// ciphertext, the base64-encoded nonce, and the key ID. The three values
// are stored together and must only ever be written or cleared as a unit.
func (v *Vault) Encrypt(plaintext string) (ciphertext, nonce, keyID string, err error) {
	nonceBytes := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonceBytes); err != nil {
		return "", "", "", errors.EncryptionError("encryption", err)
	}

	sealed := v.aead.Seal(nil, nonceBytes, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonceBytes),
		v.keyID,
		nil
}

// Decrypt decrypts a ciphertext produced by Encrypt. It fails with an
// encryption error on malformed input, a wrong key, or an
// authentication-tag mismatch; it never returns a different plaintext
// silently.
func (v *Vault) Decrypt(ciphertext, nonce string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.EncryptionError("decryption", err)
	}

	nonceBytes, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return "", errors.EncryptionError("decryption", err)
	}

	if len(nonceBytes) != v.aead.NonceSize() {
		return "", errors.EncryptionError("decryption", errors.ValidationError("invalid nonce size"))
	}

	plaintext, err := v.aead.Open(nil, nonceBytes, sealed, nil)
	if err != nil {
		return "", errors.EncryptionError("decryption", err)
	}

	return string(plaintext), nil
}

// GenerateKey returns a new base64-encoded 32-byte key for setup tooling
func GenerateKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", errors.InternalError("failed to generate key", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
