package sso

import (
	"context"
	"net/http"
)

type contextKey string

const userIDKey contextKey = "fedgate.user_id"

// UserIDFromContext returns the authenticated user id marked on the request
// context, if any.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// SessionMarker annotates requests that already carry an authenticated
// session. It runs before any handler so downstream code can skip the token
// pipeline for signed-in browsers.
func (h *Handlers) SessionMarker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		userID, ok, err := h.sessions.AuthenticatedUser(r.Context(), cookie.Value)
		if err != nil {
			h.logger.WithError(err).Warn("failed to look up session")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
