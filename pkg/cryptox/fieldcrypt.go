package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters for per-data-class field keys.
const (
	masterKeyLength = 32     // 256-bit master key
	derivedKeyBytes = 32     // 256-bit AES keys
	kdfIterations   = 100000 // OWASP recommended minimum for PBKDF2-SHA256
	labelSaltLength = 16
	gcmNonceSize    = 12 // 96-bit nonce
)

var (
	// ErrEncrypt wraps any failure on the encryption path.
	ErrEncrypt = errors.New("cryptox: encryption failed")

	// ErrDecrypt covers tag mismatch, truncated input, and unknown data
	// classes. Callers decrypting whole records should treat it as
	// per-field recoverable.
	ErrDecrypt = errors.New("cryptox: decryption failed")

	// ErrUnknownDataClass is returned when no key has been derived for the
	// requested label.
	ErrUnknownDataClass = fmt.Errorf("%w: unknown data class", ErrDecrypt)
)

// FieldCipher performs authenticated field-level encryption of PHI columns.
// One AES-256-GCM key is derived per named data class from a single
// persisted master key, so ciphertext under one class can never be opened
// with another class's key.
//
// The master key is read-mostly; Rotate takes the write lock so no
// encryption ever observes a half-swapped key set.
type FieldCipher struct {
	mu        sync.RWMutex
	masterKey []byte
	keys      map[string][]byte
}

// RotationInfo describes a completed key rotation. Existing ciphertext is
// NOT re-encrypted; that migration is the caller's responsibility.
type RotationInfo struct {
	RotatedAt   time.Time
	DerivedKeys int
}

// NewFieldCipher loads the master key from path, generating and persisting
// a fresh 256-bit key with 0600 permissions if the file does not exist, then
// derives one key per data class. Any failure here is fatal by contract: a
// missing or unreadable master key must never degrade to plaintext storage.
func NewFieldCipher(path string, dataClasses []string) (*FieldCipher, error) {
	if len(dataClasses) == 0 {
		return nil, errors.New("cryptox: no data classes configured")
	}

	master, err := loadOrGenerateMasterKey(path)
	if err != nil {
		return nil, fmt.Errorf("cryptox: master key: %w", err)
	}

	fc := &FieldCipher{masterKey: master}
	fc.keys = deriveAll(master, dataClasses)
	return fc, nil
}

// EncryptField encrypts a single field under the key for the given data
// class. Empty input passes through unchanged so optional columns stay
// optional. Output is base64(nonce || ciphertext || tag) with a fresh
// random 96-bit nonce per call.
func (fc *FieldCipher) EncryptField(plaintext, dataClass string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}

	fc.mu.RLock()
	key, ok := fc.keys[dataClass]
	fc.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDataClass, dataClass)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", ErrEncrypt, err)
	}

	// Seal appends ciphertext and tag to the nonce prefix.
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField reverses EncryptField. Empty input passes through. Truncated
// blobs, tampered ciphertext, and ciphertext sealed under a different data
// class all surface as ErrDecrypt with no further distinction.
func (fc *FieldCipher) DecryptField(blob, dataClass string) (string, error) {
	if blob == "" {
		return blob, nil
	}

	fc.mu.RLock()
	key, ok := fc.keys[dataClass]
	fc.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDataClass, dataClass)
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: malformed blob", ErrDecrypt)
	}
	if len(raw) < gcmNonceSize {
		return "", fmt.Errorf("%w: truncated blob", ErrDecrypt)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	nonce, ciphertext := raw[:gcmNonceSize], raw[gcmNonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}

	return string(plaintext), nil
}

// DataClasses returns the labels this cipher can encrypt for.
func (fc *FieldCipher) DataClasses() []string {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	out := make([]string, 0, len(fc.keys))
	for label := range fc.keys {
		out = append(out, label)
	}
	return out
}

// Rotate replaces the master key and every derived key in one swap. Old
// ciphertext becomes unreadable until a separate migration re-encrypts it.
// The new master key is not persisted here; callers that want the rotation
// to survive a restart must arrange persistence themselves.
func (fc *FieldCipher) Rotate() (RotationInfo, error) {
	newMaster := make([]byte, masterKeyLength)
	if _, err := rand.Read(newMaster); err != nil {
		return RotationInfo{}, fmt.Errorf("cryptox: rotate: %w", err)
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	labels := make([]string, 0, len(fc.keys))
	for label := range fc.keys {
		labels = append(labels, label)
	}

	fc.masterKey = newMaster
	fc.keys = deriveAll(newMaster, labels)

	return RotationInfo{
		RotatedAt:   time.Now().UTC(),
		DerivedKeys: len(fc.keys),
	}, nil
}

// deriveAll derives one key per label. Pure function of (master, label):
// the same master key and label always produce the same key, and distinct
// labels produce cryptographically independent keys.
func deriveAll(master []byte, labels []string) map[string][]byte {
	keys := make(map[string][]byte, len(labels))
	for _, label := range labels {
		keys[label] = deriveKey(master, label)
	}
	return keys
}

func deriveKey(master []byte, label string) []byte {
	salt := make([]byte, labelSaltLength)
	copy(salt, label)
	return pbkdf2.Key(master, salt, kdfIterations, derivedKeyBytes, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// loadOrGenerateMasterKey reads the persisted master key or creates one.
// An existing file must contain exactly one 256-bit key; anything else is
// corruption and aborts startup.
func loadOrGenerateMasterKey(path string) ([]byte, error) {
	path = filepath.Clean(path)

	if _, err := os.Stat(path); err == nil {
		key, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if len(key) != masterKeyLength {
			return nil, fmt.Errorf("corrupt master key at %s: got %d bytes, want %d",
				path, len(key), masterKeyLength)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}

	key := make([]byte, masterKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return key, nil
}
