package jwtx

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultRSABits is the keypair size used when generating a fresh signing
// key.
const DefaultRSABits = 2048

// KeyManager holds the process-wide signing keypair. The private key is
// persisted as PEM so every instance of the service signs and verifies with
// the same key; regenerating on each start would invalidate all outstanding
// tokens and break verification across instances.
type KeyManager struct {
	Signer   *Signer
	Verifier *Verifier
}

// Options configures LoadKeyManager.
type Options struct {
	// KeyPath is where the PEM-encoded private key lives. Created with
	// 0600 permissions if absent.
	KeyPath string

	// Issuer is stamped into and required of every token.
	Issuer string

	// Leeway is the clock-skew tolerance for verification.
	Leeway time.Duration

	// RSABits overrides the generated key size. Zero means DefaultRSABits.
	RSABits int
}

// LoadKeyManager loads the signing keypair from disk, generating and
// persisting a new one on first start. Failure is fatal by contract, same as
// the field-encryption master key: the service must not come up unable to
// sign or verify.
func LoadKeyManager(opts Options) (*KeyManager, error) {
	pemKey, err := loadOrGenerateKeyPEM(opts.KeyPath, opts.RSABits)
	if err != nil {
		return nil, fmt.Errorf("jwtx: signing key: %w", err)
	}

	signer, err := NewSigner(pemKey)
	if err != nil {
		return nil, err
	}

	return &KeyManager{
		Signer:   signer,
		Verifier: NewVerifier(signer.PublicKey(), opts.Issuer, opts.Leeway),
	}, nil
}

// GenerateKeyPEM creates a new RSA private key and returns it PKCS1
// PEM-encoded. Exported for tests that need a second, foreign keypair.
func GenerateKeyPEM(bits int) ([]byte, error) {
	if bits <= 0 {
		bits = DefaultRSABits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), nil
}

func loadOrGenerateKeyPEM(path string, bits int) ([]byte, error) {
	path = filepath.Clean(path)

	if _, err := os.Stat(path); err == nil {
		return os.ReadFile(path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}

	pemKey, err := GenerateKeyPEM(bits)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pemKey, 0600); err != nil {
		return nil, err
	}
	return pemKey, nil
}
