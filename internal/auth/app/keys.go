package app

import (
	"fmt"

	"github.com/opendenkaru/emr-auth/pkg/cryptox"
	"github.com/opendenkaru/emr-auth/pkg/jwtx"
)

// Field-encryption data classes. Each gets its own derived key; ciphertext
// written under one class can never be opened with another class's key.
func dataClasses() []string {
	return []string{
		"patient_name",
		"patient_phone",
		"patient_address",
		"patient_email",
		"medical_record",
		"prescription_data",
		"lab_result",
		"session_data",
		"audit_details",
	}
}

// initKeys loads (or creates on first start) both key materials: the RSA
// signing keypair and the field-encryption master key. Failure of either is
// fatal; the service must never come up signing with an ephemeral key or
// storing PHI in plaintext.
func initKeys(cfg Config) (*jwtx.KeyManager, *cryptox.FieldCipher, error) {
	keyManager, err := jwtx.LoadKeyManager(jwtx.Options{
		KeyPath: cfg.SigningKeyPath,
		Issuer:  cfg.Issuer,
		Leeway:  cfg.TokenLeeway,
		RSABits: cfg.RSABits,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("signing keys: %w", err)
	}

	fieldCipher, err := cryptox.NewFieldCipher(cfg.MasterKeyPath, dataClasses())
	if err != nil {
		return nil, nil, fmt.Errorf("field encryption: %w", err)
	}

	return keyManager, fieldCipher, nil
}
