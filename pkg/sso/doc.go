// Package sso exposes the WS-Federation passive-requestor HTTP surface.
//
// Overview
//
// The package wires the sign-in redirect, the signed-token callback, and
// sign-out onto a gorilla/mux router. A browser session is tracked with an
// opaque cookie; each sign-in attempt stashes a single-use pending login
// (context id plus return URL) in the session store before redirecting to
// the identity provider, and the callback consumes it atomically so a
// context id can never complete two logins.
//
// Every token-validation failure is logged and counted with its specific
// kind, but the browser sees a single outcome: a redirect back to the local
// login page. Provisioning failures are different; they abort the request
// with a server error because the token was valid and silently dropping the
// login would mask a storage fault.
//
// Usage
//
//	h := sso.NewHandlers(sso.Config{
//		Requests:    requestConfig,
//		Validator:   validator,
//		Provisioner: provisioner,
//		Sessions:    store,
//		Consumed:    consumed,
//		Audit:       auditLogger,
//		Metrics:     metrics,
//		Logger:      logger,
//	})
//	router := mux.NewRouter()
//	router.Use(h.SessionMarker)
//	h.RegisterRoutes(router)
//
// Related Packages
//
//   - pkg/wsfed: request construction and token validation
//   - pkg/provision: claim-to-user mapping
//   - pkg/session: pending-login and session storage
package sso
