package service

import (
	"context"
	"testing"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/domain"
	"github.com/opendenkaru/emr-auth/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name        string
		failures    int
		unusualTime bool
		newDevice   bool
		want        int
	}{
		{"clean login", 0, false, false, 0},
		{"one recent failure", 1, false, false, 10},
		{"failures cap at 30", 7, false, false, 30},
		{"off hours only", 0, true, false, 20},
		{"new device only", 0, false, true, 25},
		{"off hours plus new device", 0, true, true, 45},
		{"everything at once", 10, true, true, 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, RiskScore(tt.failures, tt.unusualTime, tt.newDevice))
		})
	}
}

func TestUnusualHour(t *testing.T) {
	day := func(hour int) time.Time {
		return time.Date(2026, 3, 14, hour, 30, 0, 0, time.UTC)
	}

	require.True(t, UnusualHour(day(3)))
	require.True(t, UnusualHour(day(5)))
	require.False(t, UnusualHour(day(6)))
	require.False(t, UnusualHour(day(13)))
	require.False(t, UnusualHour(day(21)))
	require.True(t, UnusualHour(day(22)))
	require.True(t, UnusualHour(day(23)))
}

func TestRiskScorerAssess(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	svc := newTestAuthService(t, st)
	a := registerAccount(t, svc, "dr.tanaka")
	scorer := &RiskScorer{Store: st}

	// Daytime, no history: the only signal is the unrecognised device.
	noon := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	require.Equal(t, 25, scorer.Assess(ctx, "dr.tanaka", a.ID, "203.0.113.7", noon))

	// An active session from the same address clears the new-device signal.
	_, err := svc.Login(ctx, loginParams("dr.tanaka", testPassword))
	require.NoError(t, err)
	require.Equal(t, 0, scorer.Assess(ctx, "dr.tanaka", a.ID, "203.0.113.7", noon))

	// Recent failed logins raise the score, capped at 30.
	for range 4 {
		require.NoError(t, st.AuditEvents().AppendAuditEvent(ctx, domain.AuditEvent{
			ID:         idx.New().String(),
			Action:     domain.AuditLoginFailed,
			Subject:    "dr.tanaka",
			Success:    false,
			OccurredAt: noon.Add(-time.Minute),
		}))
	}
	require.Equal(t, 30, scorer.Assess(ctx, "dr.tanaka", a.ID, "203.0.113.7", noon))

	// Failures outside the 30-minute window do not count.
	require.Equal(t, 0, scorer.Assess(ctx, "dr.tanaka", a.ID, "203.0.113.7", noon.Add(time.Hour)))

	// Off-hours from a new address stacks both signals.
	midnight := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	require.Equal(t, 45, scorer.Assess(ctx, "dr.tanaka", a.ID, "198.51.100.9", midnight))
}
