package credentials

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptorRoundTrip(t *testing.T) {
	t.Parallel()

	enc, err := NewEncryptorFromSecret("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("abcd efgh ijkl mnop")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "abcd")

	again, err := enc.Encrypt("abcd efgh ijkl mnop")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per call")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "abcd efgh ijkl mnop", plain)
}

func TestEncryptorDecryptWithWrongKey(t *testing.T) {
	t.Parallel()

	enc, err := NewEncryptorFromSecret("first")
	require.NoError(t, err)
	other, err := NewEncryptorFromSecret("second")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("secret")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	var decErr *DecryptionError
	require.True(t, errors.As(err, &decErr))
}

func TestEncryptorDecryptCorrupted(t *testing.T) {
	t.Parallel()

	enc, err := NewEncryptorFromSecret("secret")
	require.NoError(t, err)

	for _, input := range []string{"not base64!", "", "AAAA"} {
		_, err := enc.Decrypt(input)
		var decErr *DecryptionError
		require.True(t, errors.As(err, &decErr), "input %q", input)
	}
	_, err = enc.Decrypt("AAAA")
	assert.ErrorIs(t, err, ErrInvalidCipher)
}

func TestNewEncryptorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewEncryptor([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewEncryptorFromSecret("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := DeriveKey("secret")
	require.NoError(t, err)
	b, err := DeriveKey("secret")
	require.NoError(t, err)
	c, err := DeriveKey("other")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestGenerateSecret(t *testing.T) {
	t.Parallel()

	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	_, err = NewEncryptorFromSecret(a)
	require.NoError(t, err)
}
