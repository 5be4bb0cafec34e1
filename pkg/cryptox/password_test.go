package cryptox_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/opendenkaru/emr-auth/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := cryptox.HashPassword("Correct-Horse-Battery-9!")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	require.NoError(t, cryptox.VerifyPassword("Correct-Horse-Battery-9!", hash))
	require.ErrorIs(t,
		cryptox.VerifyPassword("wrong-password", hash),
		cryptox.ErrPasswordMismatch,
	)
}

func TestHashPasswordSaltsAreUnique(t *testing.T) {
	h1, err := cryptox.HashPassword("Same-Password-Twice-1!")
	require.NoError(t, err)
	h2, err := cryptox.HashPassword("Same-Password-Twice-1!")
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
	require.NoError(t, cryptox.VerifyPassword("Same-Password-Twice-1!", h1))
	require.NoError(t, cryptox.VerifyPassword("Same-Password-Twice-1!", h2))
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	cases := []string{
		"",
		"not-a-phc-string",
		"$argon2i$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=19456,t=2,p=1$!!!$aGFzaA",
	}
	for _, hash := range cases {
		err := cryptox.VerifyPassword("whatever", hash)
		require.Error(t, err, "hash %q", hash)
	}
}

func TestNeedsRehash(t *testing.T) {
	hash, err := cryptox.HashPassword("Fresh-Password-2024!")
	require.NoError(t, err)
	require.False(t, cryptox.NeedsRehash(hash))

	// A hash minted under weaker parameters must report true.
	stale := "$argon2id$v=19$m=4096,t=1,p=1$" + strings.SplitN(hash, "$", 6)[4] + "$" + strings.SplitN(hash, "$", 6)[5]
	require.True(t, cryptox.NeedsRehash(stale))

	// Malformed hashes also report true so verification flows replace them.
	require.True(t, cryptox.NeedsRehash("garbage"))
}

func TestValidateStrength(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		violations int
	}{
		{"acceptable", "Str0ng&Long-Enough!", 0},
		{"too short but otherwise fine", "Ab1!x", 1},
		{"missing uppercase", "lowercase-only-123!", 1},
		{"missing lowercase", "UPPERCASE-ONLY-123!", 1},
		{"missing digit", "No-Digits-In-Here!", 1},
		{"missing symbol", "NoSymbolsHere1234", 1},
		{"everything wrong", "aaaa", 4},
		{"empty", "", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cryptox.ValidateStrength(tt.password)
			require.Len(t, got, tt.violations, "violations: %v", got)
		})
	}
}

func TestValidateStrengthReportsEveryViolation(t *testing.T) {
	// Short, no uppercase, no digit, no symbol. All four must be reported
	// in one pass, not just the first.
	got := cryptox.ValidateStrength("lowercase")
	require.Len(t, got, 4)

	joined := strings.Join(got, "; ")
	require.Contains(t, joined, fmt.Sprintf("at least %d characters", 14))
	require.Contains(t, joined, "uppercase")
	require.Contains(t, joined, "number")
	require.Contains(t, joined, "special character")
}

func TestGenerateToken(t *testing.T) {
	tok, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)
	require.Len(t, tok, 43)

	other, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)
	require.NotEqual(t, tok, other)

	_, err = cryptox.GenerateToken(0)
	require.Error(t, err)
}

func TestFingerprintToken(t *testing.T) {
	fp := cryptox.FingerprintToken("some-refresh-token")
	require.Len(t, fp, 43)
	require.Equal(t, fp, cryptox.FingerprintToken("some-refresh-token"))
	require.NotEqual(t, fp, cryptox.FingerprintToken("some-other-token"))
}
