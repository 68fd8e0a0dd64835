package wsfed

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"
)

// testKeyPair is a self-signed signing identity for token fixtures.
type testKeyPair struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
	der  []byte
}

func newTestKeyPair(t *testing.T, commonName string) *testKeyPair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testKeyPair{key: key, cert: cert, der: der}
}

func (kp *testKeyPair) pem() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: kp.der}))
}

func (kp *testKeyPair) subjectDN() string {
	return kp.cert.Subject.String()
}

func (kp *testKeyPair) issuerDN() string {
	return kp.cert.Issuer.String()
}

// tokenFixture describes a token document to build for a test.
type tokenFixture struct {
	version      SAMLVersion
	issuer       string
	audience     string
	notBefore    time.Time
	notOnOrAfter time.Time
	attributes   []Attribute

	// envelope wraps the assertion in a RequestSecurityTokenResponse when
	// true.
	envelope        bool
	envelopeContext string
	created         time.Time
	expires         time.Time

	// signWith signs the assertion when set; unsigned fixtures exercise the
	// stages ahead of signature verification.
	signWith *testKeyPair

	// tamper mutates the document after signing.
	tamper func(assertion *etree.Element)
}

const instantFormat = "2006-01-02T15:04:05Z"

func (f *tokenFixture) build(t *testing.T) []byte {
	t.Helper()

	assertion := f.buildAssertion(t)

	if f.signWith != nil {
		keyStore := &dsig.TLSCertKeyStore{
			PrivateKey:  f.signWith.key,
			Certificate: [][]byte{f.signWith.der},
		}
		signingCtx := dsig.NewDefaultSigningContext(keyStore)
		if f.version == SAML11 {
			signingCtx.IdAttribute = "AssertionID"
		}
		signed, err := signingCtx.SignEnveloped(assertion)
		require.NoError(t, err)
		assertion = signed
	}

	if f.tamper != nil {
		f.tamper(assertion)
	}

	doc := etree.NewDocument()
	if f.envelope {
		rstr := doc.CreateElement("t:RequestSecurityTokenResponse")
		rstr.CreateAttr("xmlns:t", "http://schemas.xmlsoap.org/ws/2005/02/trust")
		if f.envelopeContext != "" {
			rstr.CreateAttr("Context", f.envelopeContext)
		}
		if !f.created.IsZero() || !f.expires.IsZero() {
			lifetime := rstr.CreateElement("t:Lifetime")
			if !f.created.IsZero() {
				created := lifetime.CreateElement("wsu:Created")
				created.CreateAttr("xmlns:wsu", wsuNamespace)
				created.SetText(f.created.UTC().Format(instantFormat))
			}
			if !f.expires.IsZero() {
				expires := lifetime.CreateElement("wsu:Expires")
				expires.CreateAttr("xmlns:wsu", wsuNamespace)
				expires.SetText(f.expires.UTC().Format(instantFormat))
			}
		}
		requested := rstr.CreateElement("t:RequestedSecurityToken")
		requested.AddChild(assertion)
	} else {
		doc.SetRoot(assertion)
	}

	raw, err := doc.WriteToBytes()
	require.NoError(t, err)
	return raw
}

func (f *tokenFixture) buildAssertion(t *testing.T) *etree.Element {
	t.Helper()

	if f.version == "" {
		f.version = SAML20
	}

	var assertion *etree.Element
	if f.version == SAML11 {
		assertion = etree.NewElement("saml:Assertion")
		assertion.CreateAttr("xmlns:saml", saml11Namespace)
		assertion.CreateAttr("MajorVersion", "1")
		assertion.CreateAttr("MinorVersion", "1")
		assertion.CreateAttr("AssertionID", "_fixture-assertion")
		assertion.CreateAttr("Issuer", f.issuer)
	} else {
		assertion = etree.NewElement("saml:Assertion")
		assertion.CreateAttr("xmlns:saml", saml20Namespace)
		assertion.CreateAttr("Version", "2.0")
		assertion.CreateAttr("ID", "_fixture-assertion")
		issuer := assertion.CreateElement("saml:Issuer")
		issuer.SetText(f.issuer)
	}
	assertion.CreateAttr("IssueInstant", time.Now().UTC().Format(instantFormat))

	if !f.notBefore.IsZero() || !f.notOnOrAfter.IsZero() || f.audience != "" {
		conditions := assertion.CreateElement("saml:Conditions")
		if !f.notBefore.IsZero() {
			conditions.CreateAttr("NotBefore", f.notBefore.UTC().Format(instantFormat))
		}
		if !f.notOnOrAfter.IsZero() {
			conditions.CreateAttr("NotOnOrAfter", f.notOnOrAfter.UTC().Format(instantFormat))
		}
		if f.audience != "" {
			restrictionTag := "saml:AudienceRestriction"
			if f.version == SAML11 {
				restrictionTag = "saml:AudienceRestrictionCondition"
			}
			restriction := conditions.CreateElement(restrictionTag)
			audience := restriction.CreateElement("saml:Audience")
			audience.SetText(f.audience)
		}
	}

	if len(f.attributes) > 0 {
		stmt := assertion.CreateElement("saml:AttributeStatement")
		for _, attr := range f.attributes {
			attrEl := stmt.CreateElement("saml:Attribute")
			if f.version == SAML11 {
				attrEl.CreateAttr("AttributeNamespace", attr.Namespace)
				attrEl.CreateAttr("AttributeName", attr.Name)
			} else {
				attrEl.CreateAttr("Name", attr.Name)
			}
			for _, value := range attr.Values {
				valueEl := attrEl.CreateElement("saml:AttributeValue")
				valueEl.SetText(value)
			}
		}
	}

	return assertion
}

// trustConfigFor builds a TrustConfig that fully trusts the fixture signer.
func trustConfigFor(kp *testKeyPair, issuer, audience string) *TrustConfig {
	return &TrustConfig{
		TrustedSubjectNames: []string{kp.subjectDN()},
		TrustedIssuerName:   issuer,
		TrustedIssuerDN:     kp.issuerDN(),
		AudienceURIs:        []string{audience},
		EntityID:            "urn:fedgate:test",
		Certificates:        []string{kp.pem()},
		ClockSkew:           30 * time.Second,
		ValidateExpiration:  true,
		RequireContext:      true,
	}
}
