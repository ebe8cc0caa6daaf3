// Package crypto holds the connection engine's cryptographic pieces: the
// AES/CFB8 stream cipher the protocol encrypts with after login, the
// switchable plaintext->ciphertext stream wrappers, and the server's RSA
// key material used to unwrap per-connection shared secrets.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CFB8 implements AES in 8-bit cipher feedback mode. The protocol advances
// the cipher state one byte at a time in each direction, which rules out
// the 128-bit CFB the standard library ships; the Go ecosystem has no
// maintained CFB8, so we keep our own 16-byte shift register here.
type CFB8 struct {
	block     cipher.Block
	shift     []byte
	keystream []byte
	decrypt   bool
}

// NewCFB8 builds a CFB8 stream over AES-128. The protocol keys both
// directions with the shared secret and uses the same bytes as the IV.
func NewCFB8(key, iv []byte, decrypt bool) (*CFB8, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AES: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("invalid IV length %d, want %d", len(iv), block.BlockSize())
	}
	c := &CFB8{
		block:     block,
		shift:     make([]byte, block.BlockSize()),
		keystream: make([]byte, block.BlockSize()),
		decrypt:   decrypt,
	}
	copy(c.shift, iv)
	return c, nil
}

// XORKeyStream transforms src into dst, one byte of cipher state per byte
// of data. dst and src may overlap.
func (c *CFB8) XORKeyStream(dst, src []byte) {
	for i := 0; i < len(src); i++ {
		c.block.Encrypt(c.keystream, c.shift)
		in := src[i]
		out := in ^ c.keystream[0]

		copy(c.shift, c.shift[1:])
		if c.decrypt {
			c.shift[len(c.shift)-1] = in
		} else {
			c.shift[len(c.shift)-1] = out
		}
		dst[i] = out
	}
}
