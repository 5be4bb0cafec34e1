package cryptox_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/opendenkaru/emr-auth/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

var testDataClasses = []string{"patient_name", "medical_record", "audit_details"}

func newTestCipher(t *testing.T) *cryptox.FieldCipher {
	t.Helper()
	fc, err := cryptox.NewFieldCipher(filepath.Join(t.TempDir(), "master.key"), testDataClasses)
	require.NoError(t, err)
	return fc
}

func TestFieldCipherRoundTrip(t *testing.T) {
	fc := newTestCipher(t)

	blob, err := fc.EncryptField("Jane Citizen", "patient_name")
	require.NoError(t, err)
	require.NotEqual(t, "Jane Citizen", blob)

	got, err := fc.DecryptField(blob, "patient_name")
	require.NoError(t, err)
	require.Equal(t, "Jane Citizen", got)
}

func TestFieldCipherEmptyPassthrough(t *testing.T) {
	fc := newTestCipher(t)

	blob, err := fc.EncryptField("", "patient_name")
	require.NoError(t, err)
	require.Empty(t, blob)

	got, err := fc.DecryptField("", "patient_name")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFieldCipherNonceUniqueness(t *testing.T) {
	fc := newTestCipher(t)

	b1, err := fc.EncryptField("same plaintext", "medical_record")
	require.NoError(t, err)
	b2, err := fc.EncryptField("same plaintext", "medical_record")
	require.NoError(t, err)

	// Fresh nonce per call means identical plaintext never repeats on disk.
	require.NotEqual(t, b1, b2)
}

func TestFieldCipherDataClassIsolation(t *testing.T) {
	fc := newTestCipher(t)

	blob, err := fc.EncryptField("amoxicillin 500mg", "medical_record")
	require.NoError(t, err)

	_, err = fc.DecryptField(blob, "patient_name")
	require.ErrorIs(t, err, cryptox.ErrDecrypt)
}

func TestFieldCipherUnknownDataClass(t *testing.T) {
	fc := newTestCipher(t)

	_, err := fc.EncryptField("x", "no_such_class")
	require.ErrorIs(t, err, cryptox.ErrUnknownDataClass)

	_, err = fc.DecryptField("x", "no_such_class")
	require.ErrorIs(t, err, cryptox.ErrUnknownDataClass)
}

func TestFieldCipherRejectsTamperedBlob(t *testing.T) {
	fc := newTestCipher(t)

	blob, err := fc.EncryptField("lab result: normal", "medical_record")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = fc.DecryptField(tampered, "medical_record")
	require.ErrorIs(t, err, cryptox.ErrDecrypt)
}

func TestFieldCipherRejectsTruncatedAndMalformedBlob(t *testing.T) {
	fc := newTestCipher(t)

	_, err := fc.DecryptField("not base64!!!", "medical_record")
	require.ErrorIs(t, err, cryptox.ErrDecrypt)

	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	_, err = fc.DecryptField(short, "medical_record")
	require.ErrorIs(t, err, cryptox.ErrDecrypt)
}

func TestFieldCipherMasterKeyPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.key")

	fc1, err := cryptox.NewFieldCipher(path, testDataClasses)
	require.NoError(t, err)

	blob, err := fc1.EncryptField("persists across restarts", "patient_name")
	require.NoError(t, err)

	// Key file exists with owner-only permissions.
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A second cipher over the same file decrypts the first one's output.
	fc2, err := cryptox.NewFieldCipher(path, testDataClasses)
	require.NoError(t, err)

	got, err := fc2.DecryptField(blob, "patient_name")
	require.NoError(t, err)
	require.Equal(t, "persists across restarts", got)
}

func TestFieldCipherCorruptMasterKeyIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte("too short"), 0600))

	_, err := cryptox.NewFieldCipher(path, testDataClasses)
	require.Error(t, err)
	require.Contains(t, err.Error(), "corrupt master key")
}

func TestFieldCipherRequiresDataClasses(t *testing.T) {
	_, err := cryptox.NewFieldCipher(filepath.Join(t.TempDir(), "master.key"), nil)
	require.Error(t, err)
}

func TestFieldCipherRotate(t *testing.T) {
	fc := newTestCipher(t)

	blob, err := fc.EncryptField("pre-rotation value", "medical_record")
	require.NoError(t, err)

	info, err := fc.Rotate()
	require.NoError(t, err)
	require.Equal(t, len(testDataClasses), info.DerivedKeys)
	require.False(t, info.RotatedAt.IsZero())

	// Old ciphertext is unreadable under the new keys.
	_, err = fc.DecryptField(blob, "medical_record")
	require.ErrorIs(t, err, cryptox.ErrDecrypt)

	// New encryptions round-trip fine.
	fresh, err := fc.EncryptField("post-rotation value", "medical_record")
	require.NoError(t, err)
	got, err := fc.DecryptField(fresh, "medical_record")
	require.NoError(t, err)
	require.Equal(t, "post-rotation value", got)

	require.ElementsMatch(t, testDataClasses, fc.DataClasses())
}
