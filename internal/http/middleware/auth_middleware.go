package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/secure-session-store/internal/http/response"
	"github.com/sandeepkv93/secure-session-store/internal/security"
)

type contextKey string

const (
	ClaimsContextKey       contextKey = "claims"
	invalidTokenContextKey contextKey = "invalid_token"
)

// AccessRecorder receives the access time of every request carrying a valid identity token.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, sessionID string, at int64) error
}

// IdentityAccess validates an optional bearer identity token. Valid tokens put their claims on the
// request context and record the access against the token's session. Requests with a missing or
// invalid token pass through without claims; RequireIdentity rejects them where identity matters.
func IdentityAccess(jwtMgr *security.JWTManager, recorder AccessRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := jwtMgr.ParseIdentityToken(raw)
			if err != nil {
				slog.DebugContext(r.Context(), "ignoring invalid identity token", "error", err)
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), invalidTokenContextKey, true)))
				return
			}
			if recorder != nil {
				if err := recorder.RecordAccess(r.Context(), claims.SessionID, time.Now().UnixMilli()); err != nil {
					slog.WarnContext(r.Context(), "record identity access failed", "session_id", claims.SessionID, "error", err)
				}
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireIdentity rejects requests that IdentityAccess did not authenticate.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ClaimsFromContext(r.Context()); !ok {
			msg := "missing identity token"
			if invalid, _ := r.Context().Value(invalidTokenContextKey).(bool); invalid {
				msg = "invalid identity token"
			}
			response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, msg, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
