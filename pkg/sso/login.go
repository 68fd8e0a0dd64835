package sso

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/fedgate/pkg/audit"
	"github.com/platinummonkey/fedgate/pkg/auth"
	"github.com/platinummonkey/fedgate/pkg/httputil"
	"github.com/platinummonkey/fedgate/pkg/observability"
)

// handleLocalLogin handles POST /auth/login with form credentials. It is the
// fallback for browsers that cannot or did not complete federated sign-in.
func (h *Handlers) handleLocalLogin(w http.ResponseWriter, r *http.Request) {
	sid := h.ensureSession(w, r)
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := h.authenticator.CheckLogin(r.Context(), username, password)
	if errors.Is(err, auth.ErrInvalidCredentials) || (err == nil && user == nil) {
		h.metrics.LocalLoginsTotal.WithLabelValues(observability.OutcomeFailure).Inc()
		event := audit.NewEvent(audit.EventTypeLocalLoginFailed, audit.EventStatusDenied)
		event.Username = username
		event.SessionID = sid
		h.logEvent(r, event)
		httputil.WriteUnauthorized(w, "invalid credentials")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("local login failed")
		httputil.WriteInternalError(w, "login failed")
		return
	}

	if err := h.sessions.MarkAuthenticated(r.Context(), sid, user.ID, h.sessionTTL); err != nil {
		h.logger.WithError(err).Error("failed to mark session authenticated")
		httputil.WriteInternalError(w, "login failed")
		return
	}
	h.metrics.LocalLoginsTotal.WithLabelValues(observability.OutcomeSuccess).Inc()
	h.metrics.SessionsActive.Inc()

	event := audit.NewEvent(audit.EventTypeLocalLogin, audit.EventStatusSuccess)
	event.UserID = &user.ID
	event.Username = user.Username
	event.SessionID = sid
	h.logEvent(r, event)

	httputil.WriteJSON(w, http.StatusOK, user)
}

// handleWhoAmI reports the authenticated user id for the browser session.
func (h *Handlers) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "not authenticated")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"user_id": userID})
}
