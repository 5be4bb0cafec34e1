package service

import (
	"context"
	"time"

	"github.com/opendenkaru/emr-auth/internal/auth/store"
	"github.com/opendenkaru/emr-auth/pkg/slogx"
)

// Risk score weights. The score is clamped to 0-100 and recorded on audit
// events so unusual logins stand out in review.
const (
	riskPerFailedAttempt = 10
	riskFailedCap        = 30
	riskUnusualTime      = 20
	riskNewDevice        = 25
	riskMax              = 100

	// Working hours for the unusual-time signal. Logins outside 06:00-22:00
	// local time score higher.
	riskDayStartHour = 6
	riskDayEndHour   = 22

	riskFailureWindow = 30 * time.Minute
)

// RiskScore is the pure scoring function: recent failures cap at 30 points,
// off-hours logins add 20, an unrecognised device adds 25.
func RiskScore(failedAttempts int, unusualTime, newDevice bool) int {
	score := failedAttempts * riskPerFailedAttempt
	if score > riskFailedCap {
		score = riskFailedCap
	}
	if unusualTime {
		score += riskUnusualTime
	}
	if newDevice {
		score += riskNewDevice
	}
	if score > riskMax {
		score = riskMax
	}
	return score
}

// UnusualHour reports whether t falls outside working hours.
func UnusualHour(t time.Time) bool {
	h := t.Hour()
	return h < riskDayStartHour || h >= riskDayEndHour
}

// RiskScorer gathers the scoring inputs from stored history and applies
// RiskScore. Scoring is advisory: any store error degrades to the signals we
// could gather rather than failing the login.
type RiskScorer struct {
	Store store.Store
}

// Assess computes the risk score for a login attempt. subject is the
// username (so pre-auth failures count too), userID the resolved account.
func (r *RiskScorer) Assess(ctx context.Context, subject, userID, ip string, now time.Time) int {
	l := slogx.FromContext(ctx)

	failures, err := r.Store.AuditEvents().CountRecentFailures(ctx, subject, now.Add(-riskFailureWindow))
	if err != nil {
		l.Warn("risk: failure count unavailable", "error", err)
		failures = 0
	}

	newDevice := true
	sessions, err := r.Store.Sessions().ListActiveSessions(ctx, userID)
	if err != nil {
		l.Warn("risk: session history unavailable", "error", err)
		newDevice = false
	} else {
		for _, s := range sessions {
			if s.IPAddress == ip {
				newDevice = false
				break
			}
		}
	}

	return RiskScore(failures, UnusualHour(now), newDevice)
}
