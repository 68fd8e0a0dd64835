package wsfed

import (
	"crypto/x509"
	"encoding/base64"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// XML namespaces understood by the token parser.
const (
	saml11Namespace = "urn:oasis:names:tc:SAML:1.0:assertion"
	saml20Namespace = "urn:oasis:names:tc:SAML:2.0:assertion"
	dsigNamespace   = "http://www.w3.org/2000/09/xmldsig#"
	wsuNamespace    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
)

// Envelope element names; WS-Trust 2005/02 and 1.3 use the same local names.
const (
	rstrTag           = "RequestSecurityTokenResponse"
	rstrCollectionTag = "RequestSecurityTokenResponseCollection"
)

// ParseToken decodes a raw wresult value into a SecurityToken. It accepts
// either a bare signed assertion or a RequestSecurityTokenResponse envelope
// wrapping one, detected by the envelope marker element. Any failure is a
// MalformedToken validation error.
func ParseToken(raw []byte) (*SecurityToken, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, wrapValidationError(KindMalformedToken, "unparseable token document", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, validationErrorf(KindMalformedToken, "empty token document")
	}

	token := &SecurityToken{}

	assertionEl := root
	if isAssertionElement(root) {
		// Bare assertion shape; no envelope metadata to read.
	} else {
		envelope := findEnvelope(root)
		if envelope == nil {
			return nil, validationErrorf(KindMalformedToken, "token is neither an assertion nor a security token response")
		}
		token.Context = envelope.SelectAttrValue("Context", "")
		if err := parseLifetime(envelope, token); err != nil {
			return nil, err
		}
		assertionEl = findAssertion(envelope)
		if assertionEl == nil {
			return nil, validationErrorf(KindMalformedToken, "security token response carries no assertion")
		}
	}

	assertion, err := parseAssertion(assertionEl)
	if err != nil {
		return nil, err
	}
	token.Assertion = assertion
	return token, nil
}

// findEnvelope locates the RequestSecurityTokenResponse element, looking
// through a response collection wrapper when present.
func findEnvelope(root *etree.Element) *etree.Element {
	if root.Tag == rstrTag {
		return root
	}
	if root.Tag == rstrCollectionTag {
		for _, child := range root.ChildElements() {
			if child.Tag == rstrTag {
				return child
			}
		}
		return nil
	}
	return findDescendant(root, rstrTag)
}

func parseLifetime(envelope *etree.Element, token *SecurityToken) error {
	lifetime := findChildElement(envelope, "", "Lifetime")
	if lifetime == nil {
		return nil
	}
	if created := findChildElement(lifetime, wsuNamespace, "Created"); created != nil {
		t, err := parseInstant(created.Text())
		if err != nil {
			return wrapValidationError(KindMalformedToken, "invalid lifetime created instant", err)
		}
		token.Created = t
	}
	if expires := findChildElement(lifetime, wsuNamespace, "Expires"); expires != nil {
		t, err := parseInstant(expires.Text())
		if err != nil {
			return wrapValidationError(KindMalformedToken, "invalid lifetime expires instant", err)
		}
		token.Expires = t
	}
	return nil
}

func parseAssertion(el *etree.Element) (*Assertion, error) {
	a := &Assertion{el: el}

	switch el.NamespaceURI() {
	case saml11Namespace:
		a.Version = SAML11
		a.ID = el.SelectAttrValue("AssertionID", "")
		a.Issuer = el.SelectAttrValue("Issuer", "")
	case saml20Namespace:
		a.Version = SAML20
		a.ID = el.SelectAttrValue("ID", "")
		if issuer := findChildElement(el, saml20Namespace, "Issuer"); issuer != nil {
			a.Issuer = strings.TrimSpace(issuer.Text())
		}
	default:
		return nil, validationErrorf(KindMalformedToken, "unsupported assertion namespace %q", el.NamespaceURI())
	}

	if instant := el.SelectAttrValue("IssueInstant", ""); instant != "" {
		t, err := parseInstant(instant)
		if err != nil {
			return nil, wrapValidationError(KindMalformedToken, "invalid issue instant", err)
		}
		a.IssueInstant = t
	}

	if err := parseConditions(el, a); err != nil {
		return nil, err
	}
	parseAttributeStatements(el, a)

	cert, err := parseSigningCertificate(el)
	if err != nil {
		return nil, err
	}
	a.Certificate = cert
	return a, nil
}

func parseConditions(el *etree.Element, a *Assertion) error {
	conditions := findChildElement(el, el.NamespaceURI(), "Conditions")
	if conditions == nil {
		return nil
	}
	if v := conditions.SelectAttrValue("NotBefore", ""); v != "" {
		t, err := parseInstant(v)
		if err != nil {
			return wrapValidationError(KindMalformedToken, "invalid NotBefore condition", err)
		}
		a.Conditions.NotBefore = t
	}
	if v := conditions.SelectAttrValue("NotOnOrAfter", ""); v != "" {
		t, err := parseInstant(v)
		if err != nil {
			return wrapValidationError(KindMalformedToken, "invalid NotOnOrAfter condition", err)
		}
		a.Conditions.NotOnOrAfter = t
	}

	restrictionTag := "AudienceRestriction"
	if a.Version == SAML11 {
		restrictionTag = "AudienceRestrictionCondition"
	}
	for _, restriction := range conditions.ChildElements() {
		if restriction.Tag != restrictionTag {
			continue
		}
		for _, audience := range restriction.ChildElements() {
			if audience.Tag != "Audience" {
				continue
			}
			if v := strings.TrimSpace(audience.Text()); v != "" {
				a.Conditions.Audiences = append(a.Conditions.Audiences, v)
			}
		}
	}
	return nil
}

func parseAttributeStatements(el *etree.Element, a *Assertion) {
	for _, stmt := range el.ChildElements() {
		if stmt.Tag != "AttributeStatement" {
			continue
		}
		statement := AttributeStatement{}
		for _, attrEl := range stmt.ChildElements() {
			if attrEl.Tag != "Attribute" {
				continue
			}
			attr := Attribute{}
			if a.Version == SAML11 {
				attr.Namespace = attrEl.SelectAttrValue("AttributeNamespace", "")
				attr.Name = attrEl.SelectAttrValue("AttributeName", "")
			} else {
				attr.Name = attrEl.SelectAttrValue("Name", "")
			}
			for _, valueEl := range attrEl.ChildElements() {
				if valueEl.Tag != "AttributeValue" {
					continue
				}
				attr.Values = append(attr.Values, valueEl.Text())
			}
			statement.Attributes = append(statement.Attributes, attr)
		}
		a.Statements = append(a.Statements, statement)
	}
}

// parseSigningCertificate pulls the X509 certificate out of the assertion's
// signature KeyInfo. An unsigned assertion yields a nil certificate; the
// signature stage rejects it later.
func parseSigningCertificate(el *etree.Element) (*x509.Certificate, error) {
	signature := findChildElement(el, dsigNamespace, "Signature")
	if signature == nil {
		return nil, nil
	}
	keyInfo := findChildElement(signature, dsigNamespace, "KeyInfo")
	if keyInfo == nil {
		return nil, nil
	}
	x509Data := findChildElement(keyInfo, dsigNamespace, "X509Data")
	if x509Data == nil {
		return nil, nil
	}
	certEl := findChildElement(x509Data, dsigNamespace, "X509Certificate")
	if certEl == nil {
		return nil, nil
	}

	der, err := base64.StdEncoding.DecodeString(stripWhitespace(certEl.Text()))
	if err != nil {
		return nil, wrapValidationError(KindMalformedToken, "undecodable signing certificate", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, wrapValidationError(KindMalformedToken, "unparseable signing certificate", err)
	}
	return cert, nil
}

func isAssertionElement(el *etree.Element) bool {
	if el.Tag != "Assertion" {
		return false
	}
	ns := el.NamespaceURI()
	return ns == saml11Namespace || ns == saml20Namespace
}

func findAssertion(el *etree.Element) *etree.Element {
	if isAssertionElement(el) {
		return el
	}
	for _, child := range el.ChildElements() {
		if found := findAssertion(child); found != nil {
			return found
		}
	}
	return nil
}

// findChildElement returns the first direct child with the given namespace
// and tag. An empty namespace matches any.
func findChildElement(el *etree.Element, namespace, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag != tag {
			continue
		}
		if namespace != "" && child.NamespaceURI() != namespace {
			continue
		}
		return child
	}
	return nil
}

func findDescendant(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
		if found := findDescendant(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func parseInstant(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}
