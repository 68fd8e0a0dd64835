// Package wsfed implements the relying-party side of the WS-Federation
// passive requestor profile.
//
// # Overview
//
// The package covers three concerns:
//
//  1. Building the sign-in redirect to the identity provider
//     (wa=wsignin1.0 with wtrealm, wctx, wreply, wct and wfresh parameters).
//  2. Parsing the posted wresult parameter into a typed SecurityToken. Both
//     a bare signed assertion and a RequestSecurityTokenResponse envelope
//     are accepted; SAML 1.1 and SAML 2.0 assertion vocabularies are
//     understood.
//  3. Validating a token against a TrustConfig through a fixed sequence of
//     stages, each with its own terminal error kind, and extracting claims
//     from the validated assertion.
//
// # Validation pipeline
//
// Validation is strictly sequential: parse, context match, time validity,
// issuer name, certificate issuer DN, certificate subject DN, audience,
// XML signature. Every stage either passes or fails the whole token with a
// distinct ValidationError kind; there is no partial trust. Signature
// verification uses explicit-key trust: the certificates configured on the
// TrustConfig are the accepted anchors, not a CA chain.
//
// # Usage
//
//	validator, err := wsfed.NewValidator(trustConfig)
//	claims, err := validator.Validate(rawToken, wctx, pending.ContextID)
//	if err != nil {
//		// wsfed.KindOf(err) names the failed stage
//	}
//
// # Related Packages
//
//   - pkg/provision: maps extracted claims onto local user records
//   - pkg/session: stores pending login context ids and authenticated marks
package wsfed
