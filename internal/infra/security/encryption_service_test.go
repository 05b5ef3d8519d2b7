package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptionService_RoundTrip(t *testing.T) {
	svc, err := NewEncryptionService("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	ct, err := svc.Encrypt("sk-ant-secret")
	require.NoError(t, err)
	assert.True(t, Sealed(ct))
	assert.NotContains(t, ct, "sk-ant-secret")

	again, err := svc.Encrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, ct, again, "sealed values are not sealed twice")

	pt, err := svc.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-secret", pt)
}

func TestEncryptionService_Errors(t *testing.T) {
	_, err := NewEncryptionService("too-short")
	require.Error(t, err)

	svc, err := NewEncryptionService("0123456789abcdef")
	require.NoError(t, err)

	_, err = svc.Decrypt(sealedPrefix + "not base64 !!")
	require.ErrorIs(t, err, ErrMalformedCiphertext)
	_, err = svc.Decrypt(sealedPrefix + "AAAA")
	require.ErrorIs(t, err, ErrMalformedCiphertext)

	other, err := NewEncryptionService("fedcba9876543210")
	require.NoError(t, err)
	ct, err := other.Encrypt("sk-ant-secret")
	require.NoError(t, err)
	_, err = svc.Decrypt(ct)
	require.Error(t, err, "wrong key must not open")
}

func TestDecrypt_LegacyPlaintextPassesThrough(t *testing.T) {
	svc, err := NewEncryptionService("0123456789abcdef")
	require.NoError(t, err)
	pt, err := svc.Decrypt("sk-stored-before-key")
	require.NoError(t, err)
	assert.Equal(t, "sk-stored-before-key", pt)
}

func TestNilEncryptionService(t *testing.T) {
	var svc *EncryptionService
	ct, err := svc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", ct)

	pt, err := svc.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "plain", pt)

	_, err = svc.Decrypt(sealedPrefix + strings.Repeat("A", 40))
	require.Error(t, err, "sealed value without a key")
}
