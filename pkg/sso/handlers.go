package sso

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/fedgate/pkg/audit"
	"github.com/platinummonkey/fedgate/pkg/auth"
	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/session"
	"github.com/platinummonkey/fedgate/pkg/wsfed"
)

const (
	sessionCookieName = "fedgate_session"

	defaultLoginURL   = "/login"
	defaultSessionTTL = 8 * time.Hour
	defaultPendingTTL = 10 * time.Minute
)

// Config carries the collaborators for the federation HTTP handlers.
type Config struct {
	Requests    wsfed.RequestConfig
	Validator   auth.TokenValidator
	Provisioner auth.Provisioner
	Sessions    session.Store
	Consumed    *session.ConsumedCache
	Audit       audit.Logger
	Metrics     *observability.Metrics
	Logger      *observability.Logger

	// Authenticator serves the local credential fallback. When nil the
	// /auth/login and /auth/whoami routes are not registered.
	Authenticator auth.Authenticator

	// SessionTTL bounds authenticated sessions; PendingTTL bounds the window
	// between redirect and callback. Zero values take the defaults.
	SessionTTL time.Duration
	PendingTTL time.Duration

	// LoginURL is where failed federated logins land (the local login page).
	LoginURL string
}

// Handlers serves the WS-Federation sign-in, callback, and sign-out routes.
type Handlers struct {
	requests      wsfed.RequestConfig
	validator     auth.TokenValidator
	provisioner   auth.Provisioner
	sessions      session.Store
	consumed      *session.ConsumedCache
	auditLog      audit.Logger
	metrics       *observability.Metrics
	logger        *observability.Logger
	authenticator auth.Authenticator
	sessionTTL    time.Duration
	pendingTTL    time.Duration
	loginURL      string
}

// NewHandlers creates the handler set. The audit logger may be nil; it is
// replaced with a no-op logger.
func NewHandlers(cfg Config) *Handlers {
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = defaultPendingTTL
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = defaultLoginURL
	}
	return &Handlers{
		requests:      cfg.Requests,
		validator:     cfg.Validator,
		provisioner:   cfg.Provisioner,
		sessions:      cfg.Sessions,
		consumed:      cfg.Consumed,
		auditLog:      cfg.Audit,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		authenticator: cfg.Authenticator,
		sessionTTL:    cfg.SessionTTL,
		pendingTTL:    cfg.PendingTTL,
		loginURL:      cfg.LoginURL,
	}
}

// RegisterRoutes registers the federation routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/wsfed/login", h.handleLogin).Methods(http.MethodGet)
	router.HandleFunc("/auth/wsfed/callback", h.handleCallback).Methods(http.MethodPost)
	router.HandleFunc("/auth/wsfed/logout", h.handleLogout).Methods(http.MethodGet, http.MethodPost)
	if h.authenticator != nil {
		router.HandleFunc("/auth/login", h.handleLocalLogin).Methods(http.MethodPost)
		router.HandleFunc("/auth/whoami", h.handleWhoAmI).Methods(http.MethodGet)
	}
}

// handleLogin handles GET /auth/wsfed/login. It records a pending login for
// the browser session and redirects to the identity provider.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	sid := h.ensureSession(w, r)
	returnTo := r.URL.Query().Get("return_to")

	req, err := h.requests.BuildSignInRequest(returnTo)
	if err != nil {
		h.logger.WithError(err).Error("failed to build sign-in request")
		http.Error(w, "failed to start federated sign-in", http.StatusInternalServerError)
		return
	}

	replyURL := req.ReplyURL
	if replyURL == "" {
		replyURL = returnTo
	}
	pending := &session.PendingLogin{
		ContextID: req.ContextID,
		ReplyURL:  replyURL,
		IssuedAt:  req.IssuedAt,
	}
	if err := h.sessions.SavePendingLogin(r.Context(), sid, pending, h.pendingTTL); err != nil {
		h.logger.WithError(err).Error("failed to save pending login")
		http.Error(w, "failed to start federated sign-in", http.StatusInternalServerError)
		return
	}

	h.metrics.SignInRedirectsTotal.Inc()
	event := audit.NewEvent(audit.EventTypeSignInRedirect, audit.EventStatusSuccess)
	event.SessionID = sid
	event.ContextID = req.ContextID
	h.logEvent(r, event)

	http.Redirect(w, r, req.URL, http.StatusFound)
}

// handleCallback handles POST /auth/wsfed/callback: consume the pending
// login, validate the posted token, provision the user, and mark the session
// authenticated. Any validation failure collapses to a redirect back to the
// local login page.
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	sid := h.ensureSession(w, r)
	ctx := r.Context()
	wctx := r.PostFormValue("wctx")
	wresult := r.PostFormValue("wresult")

	pending, err := h.sessions.ConsumePendingLogin(ctx, sid)
	switch {
	case errors.Is(err, session.ErrNoPendingLogin):
		if h.consumed != nil && wctx != "" && h.consumed.WasConsumed(wctx) {
			h.logger.WithField("wctx", wctx).Warn("rejected replayed login context")
			event := audit.NewEvent(audit.EventTypeTokenRejected, audit.EventStatusDenied)
			event.SessionID = sid
			event.ContextID = wctx
			event.Detail = "context already consumed"
			h.logEvent(r, event)
			h.failLogin(w, r)
			return
		}
		pending = nil
	case err != nil:
		h.logger.WithError(err).Error("failed to consume pending login")
		http.Error(w, "failed to complete federated sign-in", http.StatusInternalServerError)
		return
	}

	if wresult == "" {
		h.rejectToken(w, r, sid, wctx, "missing wresult")
		return
	}

	expected := ""
	if pending != nil {
		expected = pending.ContextID
	}
	claims, err := h.validator.Validate([]byte(wresult), wctx, expected)
	if err != nil {
		kind := wsfed.KindOf(err)
		h.metrics.TokenValidationsTotal.WithLabelValues(string(kind)).Inc()
		h.logger.WithField("kind", string(kind)).
			WithField("error", err.Error()).
			Warn("token validation failed")
		h.rejectToken(w, r, sid, wctx, string(kind))
		return
	}
	h.metrics.TokenValidationsTotal.WithLabelValues(observability.OutcomeSuccess).Inc()
	if h.consumed != nil && pending != nil {
		h.consumed.MarkConsumed(pending.ContextID)
	}

	user, outcome, err := h.provisioner.Provision(ctx, claims)
	if err != nil {
		h.logger.WithError(err).Error("failed to provision federated user")
		event := audit.NewEvent(audit.EventTypeUserProvisioned, audit.EventStatusFailure)
		event.SessionID = sid
		event.ContextID = wctx
		event.Detail = err.Error()
		h.logEvent(r, event)
		http.Error(w, "failed to provision user", http.StatusInternalServerError)
		return
	}
	h.metrics.ProvisioningTotal.WithLabelValues(string(outcome)).Inc()

	if err := h.sessions.MarkAuthenticated(ctx, sid, user.ID, h.sessionTTL); err != nil {
		h.logger.WithError(err).Error("failed to mark session authenticated")
		http.Error(w, "failed to complete federated sign-in", http.StatusInternalServerError)
		return
	}
	h.metrics.SessionsActive.Inc()

	event := audit.NewEvent(audit.EventTypeTokenAccepted, audit.EventStatusSuccess)
	event.UserID = &user.ID
	event.Username = user.Username
	event.SessionID = sid
	event.ContextID = wctx
	h.logEvent(r, event)
	switch outcome {
	case auth.ProvisionCreated:
		h.auditProvisioning(r, audit.EventTypeUserProvisioned, user, sid)
	case auth.ProvisionUpdated:
		h.auditProvisioning(r, audit.EventTypeUserUpdated, user, sid)
	}

	target := "/"
	if pending != nil && pending.ReplyURL != "" {
		target = pending.ReplyURL
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleLogout handles GET/POST /auth/wsfed/logout. The local session is
// cleared before redirecting to the identity provider's sign-out endpoint.
func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		// Only a session that actually carried an authenticated marker
		// moves the gauge; Clear succeeds on unknown sessions too.
		_, wasAuthenticated, err := h.sessions.AuthenticatedUser(r.Context(), cookie.Value)
		if err != nil {
			h.logger.WithError(err).Warn("failed to look up session on logout")
		}
		if err := h.sessions.Clear(r.Context(), cookie.Value); err != nil {
			h.logger.WithError(err).Warn("failed to clear session on logout")
		} else if wasAuthenticated {
			h.metrics.SessionsActive.Dec()
		}
		event := audit.NewEvent(audit.EventTypeLogout, audit.EventStatusSuccess)
		event.SessionID = cookie.Value
		h.logEvent(r, event)
		http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Path: "/", MaxAge: -1})
	}

	signOutURL, err := h.requests.BuildSignOutURL(r.URL.Query().Get("return_to"))
	if err != nil {
		h.logger.WithError(err).Error("failed to build sign-out URL")
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	http.Redirect(w, r, signOutURL, http.StatusFound)
}

// rejectToken records a rejected token and sends the browser to the local
// login page. The detail names the failure; the user-visible outcome does not.
func (h *Handlers) rejectToken(w http.ResponseWriter, r *http.Request, sid, wctx, detail string) {
	event := audit.NewEvent(audit.EventTypeTokenRejected, audit.EventStatusFailure)
	event.SessionID = sid
	event.ContextID = wctx
	event.Detail = detail
	h.logEvent(r, event)
	h.failLogin(w, r)
}

func (h *Handlers) failLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.loginURL, http.StatusFound)
}

func (h *Handlers) auditProvisioning(r *http.Request, eventType audit.EventType, user *auth.User, sid string) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	event.UserID = &user.ID
	event.Username = user.Username
	event.SessionID = sid
	h.logEvent(r, event)
}

func (h *Handlers) logEvent(r *http.Request, event *audit.Event) {
	if err := h.auditLog.Log(r.Context(), audit.FromRequest(event, r)); err != nil {
		h.logger.WithError(err).Warn("failed to record audit event")
	}
}

// ensureSession returns the browser's session id, minting a cookie when the
// request carries none.
func (h *Handlers) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.sessionTTL / time.Second),
	})
	return sid
}
