package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters, per current OWASP guidance.
const (
	memory      = 19 * 1024 // Memory usage in KiB (19 MiB)
	iterations  = 2         // Iteration count
	parallelism = 1         // Number of threads
	keyLength   = 32        // Length of the generated hash
	saltLength  = 16        // Length of the salt
)

// Password strength policy for clinical accounts.
const (
	minPasswordLength = 14
	passwordSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

var ErrPasswordMismatch = errors.New("cryptox: password does not match")

// HashPassword generates a PHC-format Argon2id hash string including salt and parameters.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey(
		[]byte(password),
		salt,
		iterations,
		memory,
		parallelism,
		keyLength,
	)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// Return PHC-style encoded string
	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		memory,
		iterations,
		parallelism,
		b64Salt,
		b64Hash,
	), nil
}

// VerifyPassword compares a plaintext password against a PHC-style Argon2id
// hash. A malformed hash returns an error rather than panicking, so a
// corrupted credential row behaves like a mismatch.
func VerifyPassword(password, encodedHash string) error {
	mem, iters, par, salt, expectedHash, err := parsePHC(encodedHash)
	if err != nil {
		return err
	}

	computed := argon2.IDKey(
		[]byte(password),
		salt,
		iters,
		mem,
		par,
		uint32(len(expectedHash)), // #nosec G115 - If this overflows we have bigger problems
	)

	if subtle.ConstantTimeCompare(computed, expectedHash) == 1 {
		return nil
	}
	return ErrPasswordMismatch
}

// NeedsRehash reports whether the hash was produced under parameters that
// differ from the current policy, so parameter upgrades can roll out via
// transparent rehash-on-login instead of a reset campaign. Malformed hashes
// report true.
func NeedsRehash(encodedHash string) bool {
	mem, iters, par, _, hash, err := parsePHC(encodedHash)
	if err != nil {
		return true
	}
	return mem != memory ||
		iters != iterations ||
		par != parallelism ||
		len(hash) != keyLength
}

// ValidateStrength checks a candidate password against the strength policy
// and returns every violated rule. All rules are evaluated, not
// short-circuited, so the caller can report them in one pass. An empty slice
// means the password is acceptable.
func ValidateStrength(password string) []string {
	var violations []string

	if len(password) < minPasswordLength {
		violations = append(violations,
			fmt.Sprintf("password must be at least %d characters long", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsDigit(c):
			hasDigit = true
		}
		if strings.ContainsRune(passwordSymbols, c) {
			hasSymbol = true
		}
	}

	if !hasUpper {
		violations = append(violations, "password must contain at least one uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "password must contain at least one lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "password must contain at least one number")
	}
	if !hasSymbol {
		violations = append(violations, "password must contain at least one special character")
	}

	return violations
}

// parsePHC splits a PHC string of the form
// $argon2id$v=19$m=X,t=Y,p=Z$salt$hash into its components.
func parsePHC(encodedHash string) (mem, iters uint32, par uint8, salt, hash []byte, err error) {
	parts := strings.Split(encodedHash, "$")

	// Validate structure: ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	if len(parts) != 6 {
		return 0, 0, 0, nil, nil, errors.New("invalid hash format: expected 6 parts")
	}
	if parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, errors.New("invalid hash format: not argon2id")
	}
	if parts[2] != "v=19" {
		return 0, 0, 0, nil, nil, errors.New("invalid hash format: wrong version")
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid hash format: failed to parse parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid hash format: failed to decode salt: %w", err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("invalid hash format: failed to decode hash: %w", err)
	}

	return mem, iters, par, salt, hash, nil
}
