package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCFB8RoundTrip(t *testing.T) {
	secret := make([]byte, SharedSecretLen)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	enc, err := NewCFB8(secret, secret, false)
	require.NoError(t, err)
	dec, err := NewCFB8(secret, secret, true)
	require.NoError(t, err)

	plain := []byte("The quick brown fox jumps over the lazy dog")
	cipher := make([]byte, len(plain))
	enc.XORKeyStream(cipher, plain)
	assert.NotEqual(t, plain, cipher)

	out := make([]byte, len(cipher))
	dec.XORKeyStream(out, cipher)
	assert.Equal(t, plain, out)
}

func TestCFB8StreamsAreStateful(t *testing.T) {
	// Split writes must produce the same stream as one contiguous write.
	secret := bytes.Repeat([]byte{0x42}, SharedSecretLen)

	whole, err := NewCFB8(secret, secret, false)
	require.NoError(t, err)
	split, err := NewCFB8(secret, secret, false)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte{0x10, 0x20, 0x30}, 20)

	one := make([]byte, len(plain))
	whole.XORKeyStream(one, plain)

	two := make([]byte, len(plain))
	split.XORKeyStream(two[:7], plain[:7])
	split.XORKeyStream(two[7:], plain[7:])

	assert.Equal(t, one, two)
}

func TestCFB8RejectsBadKeySizes(t *testing.T) {
	_, err := NewCFB8([]byte{1, 2, 3}, []byte{1, 2, 3}, false)
	assert.Error(t, err)

	key := make([]byte, SharedSecretLen)
	_, err = NewCFB8(key, key[:8], false)
	assert.Error(t, err)
}
