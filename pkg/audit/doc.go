// Package audit records authentication and provisioning events.
//
// # Overview
//
// Every sign-in attempt leaves a trail: redirects to the identity provider,
// accepted and rejected tokens (with the rejection kind), provisioned users,
// local logins and logouts. Events are written to PostgreSQL by DBLogger; a
// no-op logger stands in when auditing is disabled.
//
// # Usage
//
//	logger, err := audit.NewDBLogger(db)
//	if err != nil {
//		return err
//	}
//	defer logger.Close()
//
//	event := audit.NewEvent(audit.EventTypeTokenRejected, audit.EventStatusDenied)
//	event.SessionID = sessionID
//	event.Detail = "expired"
//	logger.Log(ctx, event)
//
// Handlers retrieve the logger from the request context:
//
//	audit.FromContext(ctx).Log(ctx, event)
package audit
