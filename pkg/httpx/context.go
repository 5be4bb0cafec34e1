package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID      ctxKey = "user_id"
	CtxKeyPermissions ctxKey = "permissions"
	CtxKeyClaims      ctxKey = "claims"
	CtxKeySessionID   ctxKey = "session_id"
)

// UserIDFromContext returns the authenticated account id, or "" when the
// request is anonymous.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext returns the session id carried by the access token,
// or "" for tokens minted before sessions existed.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeySessionID).(string); ok {
		return v
	}
	return ""
}

func permissionsFromCtx(ctx context.Context) []string {
	if v, ok := ctx.Value(CtxKeyPermissions).([]string); ok {
		return v
	}
	return nil
}
