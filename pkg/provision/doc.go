// Package provision maps validated federation claims onto local user
// accounts.
//
// # Overview
//
// A FieldMapping translates claim types into local field names, built once
// from configuration text and safe for concurrent reads. The Provisioner
// projects claims through the mapping and creates or idempotently updates
// the matching user record in Postgres, keyed by the identity provider's
// external id.
//
// # Field Mapping
//
// Mapping text is one assignment per line, local field on the left, claim
// type on the right; blank lines and #-comments are skipped:
//
//	external_id=http://schemas.example.org/claims/upn
//	email=http://schemas.example.org/claims/emailaddress
//	full_name=http://schemas.example.org/claims/displayname
//
// WatchFile rebuilds the mapping when the backing file changes (fsnotify),
// so claim wiring can be adjusted without a restart.
//
// # Provisioning
//
//	user, created, err := provisioner.Provision(ctx, claims)
//
// A user absent from storage is inserted with a username composed from the
// configured username fields; collisions get an incrementing numeric suffix.
// A present user is updated only when a mapped field actually changed, so a
// repeated identical login performs no write at all. Storage failures wrap
// ErrProvisioningFailure and abort the login.
//
// # Related Packages
//
//   - pkg/wsfed: produces the claims consumed here
//   - pkg/auth: the User record this package materializes
package provision
