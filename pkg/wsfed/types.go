package wsfed

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// SAMLVersion identifies the assertion vocabulary carried in a token
type SAMLVersion string

const (
	SAML11 SAMLVersion = "1.1"
	SAML20 SAMLVersion = "2.0"
)

// TrustConfig holds the validation parameters for inbound security tokens.
// It is built once at startup and is read-only afterwards; a single instance
// is safe for concurrent use.
type TrustConfig struct {
	// TrustedSubjectNames are the accepted signing-certificate subject DNs
	// (RFC 2253 form, e.g. "CN=idp"). A token passes the subject check when
	// its certificate subject equals any entry.
	TrustedSubjectNames []string `json:"trusted_subject_names" yaml:"trusted_subject_names"`

	// TrustedIssuerName must equal the issuer name stated on the assertion.
	TrustedIssuerName string `json:"trusted_issuer_name" yaml:"trusted_issuer_name"`

	// TrustedIssuerDN must equal the issuer DN of the signing certificate.
	TrustedIssuerDN string `json:"trusted_issuer_dn" yaml:"trusted_issuer_dn"`

	// AudienceURIs are the accepted audience-restriction values.
	AudienceURIs []string `json:"audience_uris" yaml:"audience_uris"`

	// EntityID names the relying party the trust anchors are pinned to.
	EntityID string `json:"entity_id" yaml:"entity_id"`

	// Certificates are the PEM-encoded trust anchors for EntityID. Signature
	// verification accepts only tokens signed by one of these certificates
	// (explicit-key trust, no CA chains).
	Certificates []string `json:"certificates" yaml:"certificates"`

	// ClockSkew is applied symmetrically to every validity window check.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew"`

	// ValidateExpiration toggles the time-validity stage.
	ValidateExpiration bool `json:"validate_expiration" yaml:"validate_expiration"`

	// RequireContext toggles the anti-replay context-match stage.
	RequireContext bool `json:"require_context" yaml:"require_context"`

	// Clock supplies the notion of "now" for validity checks. Nil means the
	// system clock.
	Clock *dsig.Clock `json:"-" yaml:"-"`
}

// Validate checks that the configuration is complete enough to validate
// tokens with.
func (c *TrustConfig) Validate() error {
	if c.TrustedIssuerName == "" {
		return fmt.Errorf("trusted issuer name is required")
	}
	if c.TrustedIssuerDN == "" {
		return fmt.Errorf("trusted issuer DN is required")
	}
	if len(c.TrustedSubjectNames) == 0 {
		return fmt.Errorf("at least one trusted subject name is required")
	}
	if len(c.AudienceURIs) == 0 {
		return fmt.Errorf("at least one audience URI is required")
	}
	if c.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if len(c.Certificates) == 0 {
		return fmt.Errorf("at least one trust anchor certificate is required")
	}
	return nil
}

func (c *TrustConfig) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now()
	}
	return time.Now()
}

// SecurityToken is the typed form of a posted wresult value.
type SecurityToken struct {
	// Context is the anti-replay context id echoed on the response envelope.
	// Empty when the token arrived as a bare assertion.
	Context string

	// Created and Expires describe the envelope-level lifetime. Zero when
	// the envelope carried no lifetime or the token was a bare assertion.
	Created time.Time
	Expires time.Time

	Assertion *Assertion
}

// Assertion is the parsed, signed statement from the identity provider.
// Immutable once parsed; it lives for the duration of one validation call.
type Assertion struct {
	ID           string
	Version      SAMLVersion
	Issuer       string
	IssueInstant time.Time
	Conditions   Conditions
	Statements   []AttributeStatement

	// Certificate is the signing certificate embedded in the assertion's
	// KeyInfo, or nil when the assertion carried none.
	Certificate *x509.Certificate

	el *etree.Element
}

// Element returns the underlying XML element the assertion was parsed from.
func (a *Assertion) Element() *etree.Element {
	return a.el
}

// Conditions is the assertion-level validity window and audience restriction.
type Conditions struct {
	NotBefore    time.Time
	NotOnOrAfter time.Time
	Audiences    []string
}

// AttributeStatement groups the attributes asserted about the subject.
type AttributeStatement struct {
	Attributes []Attribute
}

// Attribute is a single asserted attribute. Namespace is empty for SAML 2.0
// assertions, where the Name attribute already carries the full claim type.
type Attribute struct {
	Namespace string
	Name      string
	Values    []string
}

// Claim is a single fact about the authenticated subject extracted from a
// validated assertion.
type Claim struct {
	// Type is the attribute namespace and name joined with "/".
	Type string `json:"type"`

	// Value is the comma-joined concatenation of all reported values.
	Value string `json:"value"`

	// Values preserves the individual values; a Value containing a literal
	// comma is only distinguishable from two values through this field.
	Values []string `json:"values,omitempty"`
}
