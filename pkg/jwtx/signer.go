package jwtx

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs JWTs with an RSA private key using RS256. RS256 is the single
// supported algorithm: tokens are produced with the private key and verified
// with the public key only, which rules out the symmetric-secret and
// alg="none" downgrade classes by construction.
type Signer struct {
	key *rsa.PrivateKey
	pub *rsa.PublicKey
}

// NewSigner loads an RSA private key from PEM bytes. Handles both PKCS1 and
// PKCS8 because otherwise we will be chasing a bug for longer than we would
// be willing to admit.
func NewSigner(pemKey []byte) (*Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM for RSA key")
	}

	var key *rsa.PrivateKey

	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: parse PKCS1: %w", err)
		}
		key = k
	case "PRIVATE KEY":
		priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("jwtx: parse PKCS8: %w", err)
		}
		rk, ok := priv.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("jwtx: not RSA private key")
		}
		key = rk
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM type %q", block.Type)
	}

	return &Signer{key: key, pub: &key.PublicKey}, nil
}

// Sign takes claims and turns them into a signed compact JWT string.
func (s *Signer) Sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return t.SignedString(s.key)
}

// PublicKey returns the verification half of the keypair.
func (s *Signer) PublicKey() *rsa.PublicKey { return s.pub }
