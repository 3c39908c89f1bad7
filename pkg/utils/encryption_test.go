package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecryptCredentials(t *testing.T) {
	secret := `{"api_token":"EAAG...","phone_number_id":"1098"}`

	encrypted, err := EncryptCredentials(secret, testKey)
	require.NoError(t, err)
	assert.NotEqual(t, secret, encrypted)

	decrypted, err := DecryptCredentials(encrypted, testKey)
	require.NoError(t, err)
	assert.Equal(t, secret, decrypted)
}

func TestEncryptCredentialsEmptyInput(t *testing.T) {
	encrypted, err := EncryptCredentials("", testKey)
	require.NoError(t, err)
	assert.Empty(t, encrypted)
}

func TestEncryptCredentialsKeyValidation(t *testing.T) {
	_, err := EncryptCredentials("secret", "")
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, err = EncryptCredentials("secret", "short")
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestDecryptCredentialsWrongKey(t *testing.T) {
	encrypted, err := EncryptCredentials("secret", testKey)
	require.NoError(t, err)

	otherKey := strings.Repeat("x", 32)
	_, err = DecryptCredentials(encrypted, otherKey)
	assert.Error(t, err)
}

func TestDecryptCredentialsTruncated(t *testing.T) {
	_, err := DecryptCredentials("aW52YWxpZA==", testKey)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestEncryptCredentialsUniqueNonce(t *testing.T) {
	first, err := EncryptCredentials("secret", testKey)
	require.NoError(t, err)

	second, err := EncryptCredentials("secret", testKey)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}
