// Package auth provides local user identities and the authenticator chain
// for the fedgate relying-party gateway.
//
// # Overview
//
// This package defines the User record shared by the provisioning and HTTP
// layers, and the Authenticator interface with its two implementations:
// Local (username/password against bcrypt hashes in Postgres) and Federated
// (WS-Federation token validation with an explicit local fallback).
//
// # Authenticator Chain
//
// Federated wraps a fallback Authenticator rather than extending it. On any
// token-validation failure the request is handed to the fallback; a fallback
// failure yields an anonymous session (nil user, nil error), never an error
// page:
//
//	local := auth.NewLocal(db)
//	federated := auth.NewFederated(validator, provisioner, local, logger)
//
//	user, err := federated.CheckAuth(r)
//	if err != nil {
//		// storage or provisioning failure, abort the request
//	}
//	if user == nil {
//		// anonymous: render the local login form
//	}
//
// # Local Credentials
//
// Local checks submitted credentials against bcrypt password hashes:
//
//	user, err := local.CheckLogin(ctx, "alice", "s3cret")
//
// Accounts created by federated provisioning carry no password hash and
// cannot be used with CheckLogin.
//
// # Related Packages
//
//   - pkg/wsfed: token validation pipeline
//   - pkg/provision: claims-to-user projection
//   - pkg/sso: HTTP handlers wiring the chain to routes
package auth
