package wsfed

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/russellhaering/goxmldsig/etreeutils"
)

// Validator checks inbound security tokens against a TrustConfig. A single
// Validator is safe for concurrent use; it holds no per-request state.
type Validator struct {
	config    *TrustConfig
	certStore *dsig.MemoryX509CertificateStore
}

// NewValidator builds a validator from a trust configuration, parsing the
// configured PEM trust anchors into the explicit-key certificate store.
func NewValidator(config *TrustConfig) (*Validator, error) {
	if config == nil {
		return nil, fmt.Errorf("trust config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var roots []*x509.Certificate
	for i, pemData := range config.Certificates {
		certs, err := parsePEMCertificates([]byte(pemData))
		if err != nil {
			return nil, fmt.Errorf("trust anchor %d: %w", i, err)
		}
		roots = append(roots, certs...)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no usable trust anchor certificates for %s", config.EntityID)
	}

	return &Validator{
		config:    config,
		certStore: &dsig.MemoryX509CertificateStore{Roots: roots},
	}, nil
}

// Validate runs the full validation pipeline over a raw wresult value and
// returns the extracted claims on success. wctx is the context id presented
// alongside the token (the POST parameter); when the response envelope
// itself carries a context it takes precedence. expectedContext is the value
// stored in the session when the login attempt was initiated.
//
// The stages run strictly in order: parse, context match, time validity,
// issuer name, certificate issuer DN, certificate subject DN, audience,
// signature. Each failure carries its own ValidationError kind; a failed
// stage fails the whole token.
func (v *Validator) Validate(raw []byte, wctx, expectedContext string) ([]Claim, error) {
	token, err := ParseToken(raw)
	if err != nil {
		return nil, err
	}
	assertion := token.Assertion

	if v.config.RequireContext {
		presented := token.Context
		if presented == "" {
			presented = wctx
		}
		if expectedContext == "" || presented != expectedContext {
			return nil, validationErrorf(KindContextMismatch, "response context does not match the pending login attempt")
		}
	}

	if v.config.ValidateExpiration {
		now := v.config.now()
		if err := checkWindow(now, v.config.ClockSkew, token.Created, token.Expires); err != nil {
			return nil, wrapValidationError(KindExpired, "token lifetime", err)
		}
		cond := assertion.Conditions
		if err := checkWindow(now, v.config.ClockSkew, cond.NotBefore, cond.NotOnOrAfter); err != nil {
			return nil, wrapValidationError(KindExpired, "assertion conditions", err)
		}
	}

	if assertion.Issuer != v.config.TrustedIssuerName {
		return nil, validationErrorf(KindUntrustedIssuer, "issuer %q is not the trusted issuer", assertion.Issuer)
	}

	cert := assertion.Certificate
	if cert == nil {
		return nil, validationErrorf(KindUntrustedIssuer, "assertion carries no signing certificate")
	}
	if cert.Issuer.String() != v.config.TrustedIssuerDN {
		return nil, validationErrorf(KindUntrustedIssuer, "certificate issuer %q is not trusted", cert.Issuer.String())
	}

	subject := cert.Subject.String()
	if !containsString(v.config.TrustedSubjectNames, subject) {
		return nil, validationErrorf(KindUntrustedSubject, "certificate subject %q is not trusted", subject)
	}

	if !audienceAccepted(assertion.Conditions.Audiences, v.config.AudienceURIs) {
		return nil, validationErrorf(KindUntrustedAudience, "assertion audience %v is not an accepted audience", assertion.Conditions.Audiences)
	}

	if err := v.verifySignature(assertion); err != nil {
		return nil, wrapValidationError(KindInvalidSignature, "signature verification failed", err)
	}

	return ExtractClaims(assertion), nil
}

// checkWindow verifies now+skew > notBefore and now-skew < notOnOrAfter.
// Zero bounds are treated as open.
func checkWindow(now time.Time, skew time.Duration, notBefore, notOnOrAfter time.Time) error {
	if !notBefore.IsZero() && !now.Add(skew).After(notBefore) {
		return fmt.Errorf("not yet valid before %s", notBefore.Format(time.RFC3339))
	}
	if !notOnOrAfter.IsZero() && !now.Add(-skew).Before(notOnOrAfter) {
		return fmt.Errorf("no longer valid on or after %s", notOnOrAfter.Format(time.RFC3339))
	}
	return nil
}

// verifySignature validates the assertion's enveloped XML signature against
// the configured trust anchors. The signing certificate embedded in the
// token must itself be one of the anchors; CA chains are not walked.
func (v *Validator) verifySignature(a *Assertion) error {
	validationCtx := dsig.NewDefaultValidationContext(v.certStore)
	if a.Version == SAML11 {
		validationCtx.IdAttribute = "AssertionID"
	}
	if v.config.Clock != nil {
		validationCtx.Clock = v.config.Clock
	}

	nsCtx, err := etreeutils.NSBuildParentContext(a.el)
	if err != nil {
		return err
	}
	nsCtx, err = nsCtx.SubContext(a.el)
	if err != nil {
		return err
	}
	el, err := etreeutils.NSDetatch(nsCtx, a.el)
	if err != nil {
		return err
	}

	if _, err = validationCtx.Validate(el); err == nil {
		return nil
	}

	// Detaching copies every in-scope declaration onto the assertion,
	// including ones only the envelope uses (xmlns:t and friends). An
	// assertion signed before being wrapped never saw those, and inclusive
	// canonicalization folds them into the recomputed digest, so retry
	// with the declarations nothing in the subtree references dropped. An
	// assertion signed in place keeps them and passes the first attempt.
	pruned := el.Copy()
	pruneUnusedNamespaces(pruned)
	_, err = validationCtx.Validate(pruned)
	return err
}

// pruneUnusedNamespaces removes prefixed namespace declarations on el whose
// prefix no element or attribute in the subtree uses. The default namespace
// and declarations nested below el are left alone.
func pruneUnusedNamespaces(el *etree.Element) {
	used := make(map[string]bool)
	collectPrefixes(el, used)

	kept := el.Attr[:0]
	for _, attr := range el.Attr {
		if attr.Space == "xmlns" && !used[attr.Key] {
			continue
		}
		kept = append(kept, attr)
	}
	el.Attr = kept
}

func collectPrefixes(el *etree.Element, used map[string]bool) {
	if el.Space != "" {
		used[el.Space] = true
	}
	for _, attr := range el.Attr {
		if attr.Space != "" && attr.Space != "xmlns" {
			used[attr.Space] = true
		}
		// QName-valued attributes (xsi:type) reference a prefix in the
		// value rather than the name.
		if attr.Key == "type" && attr.Space != "" {
			if i := strings.Index(attr.Value, ":"); i > 0 {
				used[attr.Value[:i]] = true
			}
		}
	}
	for _, child := range el.ChildElements() {
		collectPrefixes(child, used)
	}
}

func parsePEMCertificates(pemData []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate PEM blocks found")
	}
	return certs, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func audienceAccepted(presented, trusted []string) bool {
	for _, p := range presented {
		if containsString(trusted, p) {
			return true
		}
	}
	return false
}
