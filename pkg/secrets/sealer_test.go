package secrets

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealerFromBase64(key)
	require.NoError(t, err)
	return s
}

func TestSealOpen(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.SealString("refresh-token-value")
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, []byte("refresh-token-value")))

	plain, err := s.OpenString(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token-value", plain)
}

func TestSealUsesFreshNonce(t *testing.T) {
	s := newTestSealer(t)

	a, err := s.SealString("same")
	require.NoError(t, err)
	b, err := s.SealString("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsTampering(t *testing.T) {
	s := newTestSealer(t)

	sealed, err := s.SealString("token")
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = s.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailure)

	_, err = s.Open([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedSealed)
}

func TestOpenWithWrongKey(t *testing.T) {
	a := newTestSealer(t)
	b := newTestSealer(t)

	sealed, err := a.SealString("token")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailure)
}

func TestInvalidKey(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewSealerFromBase64("not base64 !!")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
