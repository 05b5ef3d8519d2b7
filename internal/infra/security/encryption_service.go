// File: internal/infra/security/encryption_service.go
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values written by Encrypt. Anything without it was stored before a key
// was configured and is returned as is.
const sealedPrefix = "sealed:v1:"

// additional data bound into every seal; a ciphertext copied into another field will not open.
var credentialAAD = []byte("omnicoder/settings/api_key")

var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// EncryptionService seals the stored provider credential with AES-GCM.
// A nil *EncryptionService passes values through unchanged (no key configured).
type EncryptionService struct {
	gcm cipher.AEAD
}

// NewEncryptionService accepts a 16, 24 or 32 byte key (AES-128/192/256).
func NewEncryptionService(key string) (*EncryptionService, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes; got %d", len(key))
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &EncryptionService{gcm: gcm}, nil
}

// Encrypt returns "sealed:v1:" + base64(nonce || ciphertext).
func (e *EncryptionService) Encrypt(plaintext string) (string, error) {
	if e == nil || plaintext == "" || Sealed(plaintext) {
		return plaintext, nil
	}
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), credentialAAD)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (e *EncryptionService) Decrypt(stored string) (string, error) {
	if !Sealed(stored) {
		return stored, nil
	}
	if e == nil {
		return "", errors.New("value is sealed but no encryption key is configured")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	ns := e.gcm.NonceSize()
	if len(raw) < ns+e.gcm.Overhead() {
		return "", fmt.Errorf("%w: %d bytes", ErrMalformedCiphertext, len(raw))
	}
	pt, err := e.gcm.Open(nil, raw[:ns], raw[ns:], credentialAAD)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(pt), nil
}

// Sealed reports whether s was produced by Encrypt.
func Sealed(s string) bool { return strings.HasPrefix(s, sealedPrefix) }
