package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// KeyBits is the RSA modulus size the protocol family uses for the login
// handshake. The key only protects a 16-byte session secret in transit.
const KeyBits = 1024

// SharedSecretLen is the required length of the unwrapped shared secret.
const SharedSecretLen = 16

// KeyMaterial holds the server's RSA keypair. It is loaded once at startup
// and read concurrently by every connection for the rest of the process
// lifetime; nothing mutates it after construction. The private component
// only ever unwraps per-connection shared secrets.
type KeyMaterial struct {
	private   *rsa.PrivateKey
	publicDER []byte
}

// LoadOrGenerateKeys reads a PEM-encoded RSA private key from keyFile,
// generating and persisting a fresh one when the file does not exist yet.
func LoadOrGenerateKeys(keyFile string) (*KeyMaterial, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read key file %s: %w", keyFile, err)
		}
		log.Info().Str("path", keyFile).Msg("key file not found, generating new RSA keypair")
		return generateKeys(keyFile)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("key file %s does not contain an RSA private key", keyFile)
	}
	private, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", keyFile, err)
	}

	km, err := NewKeyMaterial(private)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", keyFile).Int("bits", private.N.BitLen()).Msg("server keypair loaded")
	return km, nil
}

// NewKeyMaterial wraps an existing private key, precomputing the DER
// encoding of the public component that is sent verbatim to clients.
func NewKeyMaterial(private *rsa.PrivateKey) (*KeyMaterial, error) {
	publicDER, err := x509.MarshalPKIXPublicKey(&private.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return &KeyMaterial{private: private, publicDER: publicDER}, nil
}

func generateKeys(keyFile string) (*KeyMaterial, error) {
	private, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	if dir := filepath.Dir(keyFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create key directory: %w", err)
		}
	}
	out, err := os.OpenFile(keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	defer out.Close()

	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(private)}
	if err := pem.Encode(out, block); err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}

	log.Info().Str("path", keyFile).Int("bits", KeyBits).Msg("server keypair generated")
	return NewKeyMaterial(private)
}

// PublicDER returns the DER-encoded public key sent in EncryptionRequest.
// Callers must not modify the returned slice.
func (km *KeyMaterial) PublicDER() []byte {
	return km.publicDER
}

// Unwrap decrypts a PKCS#1 v1.5 ciphertext produced by a client under the
// server's public key. Used for both the shared secret and the echoed
// verify token.
func (km *KeyMaterial) Unwrap(ciphertext []byte) ([]byte, error) {
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, km.private, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap ciphertext: %w", err)
	}
	return plain, nil
}
