package wsfed

import (
	"errors"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://idp.example/issue"
	testAudience = "https://app.example/"
	testContext  = "l6oQD3HBbnLDAqSprEcXXNsUjS9TZ7VYfDjRRbjbR1"
)

func validFixture(kp *testKeyPair) *tokenFixture {
	now := time.Now()
	return &tokenFixture{
		issuer:       testIssuer,
		audience:     testAudience,
		notBefore:    now.Add(-5 * time.Minute),
		notOnOrAfter: now.Add(5 * time.Minute),
		attributes: []Attribute{
			{Name: "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name", Values: []string{"jdoe"}},
		},
		signWith: kp,
	}
}

func TestNewValidator(t *testing.T) {
	kp := newTestKeyPair(t, "idp")

	tests := []struct {
		name        string
		config      *TrustConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: trustConfigFor(kp, testIssuer, testAudience),
		},
		{
			name:        "nil config",
			config:      nil,
			expectError: true,
			errorMsg:    "trust config is required",
		},
		{
			name: "missing issuer name",
			config: &TrustConfig{
				TrustedSubjectNames: []string{kp.subjectDN()},
				TrustedIssuerDN:     kp.issuerDN(),
				AudienceURIs:        []string{testAudience},
				EntityID:            "urn:fedgate:test",
				Certificates:        []string{kp.pem()},
			},
			expectError: true,
			errorMsg:    "trusted issuer name is required",
		},
		{
			name: "no trust anchors",
			config: &TrustConfig{
				TrustedSubjectNames: []string{kp.subjectDN()},
				TrustedIssuerName:   testIssuer,
				TrustedIssuerDN:     kp.issuerDN(),
				AudienceURIs:        []string{testAudience},
				EntityID:            "urn:fedgate:test",
			},
			expectError: true,
			errorMsg:    "trust anchor",
		},
		{
			name: "garbage certificate PEM",
			config: &TrustConfig{
				TrustedSubjectNames: []string{kp.subjectDN()},
				TrustedIssuerName:   testIssuer,
				TrustedIssuerDN:     kp.issuerDN(),
				AudienceURIs:        []string{testAudience},
				EntityID:            "urn:fedgate:test",
				Certificates:        []string{"not-a-pem"},
			},
			expectError: true,
			errorMsg:    "no certificate PEM blocks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator, err := NewValidator(tt.config)
			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.Nil(t, validator)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, validator)
			}
		})
	}
}

func TestValidator_Validate_Success(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
	require.NoError(t, err)

	raw := validFixture(kp).build(t)

	claims, err := validator.Validate(raw, testContext, testContext)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name", claims[0].Type)
	assert.Equal(t, "jdoe", claims[0].Value)
}

func TestValidator_Validate_MalformedToken(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "not xml", raw: []byte("definitely not xml <<<<")},
		{name: "unrelated document", raw: []byte("<Envelope><Body/></Envelope>")},
		{name: "empty", raw: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.Validate(tt.raw, testContext, testContext)
			assert.True(t, errors.Is(err, ErrMalformedToken), "got %v", err)
		})
	}
}

func TestValidator_Validate_ContextMismatch(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
	require.NoError(t, err)

	raw := validFixture(kp).build(t)

	tests := []struct {
		name     string
		wctx     string
		expected string
		wantErr  bool
	}{
		{name: "exact match passes", wctx: testContext, expected: testContext, wantErr: false},
		{name: "mismatch", wctx: "somethingelse", expected: testContext, wantErr: true},
		{name: "casing difference is a mismatch", wctx: testContext, expected: testContext + "x", wantErr: true},
		{name: "empty expected rejects", wctx: testContext, expected: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.Validate(raw, tt.wctx, tt.expected)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrContextMismatch), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_Validate_EnvelopeContextTakesPrecedence(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
	require.NoError(t, err)

	fixture := validFixture(kp)
	fixture.envelope = true
	fixture.envelopeContext = testContext
	raw := fixture.build(t)

	// The envelope echoes the right context even though the form parameter
	// is stale.
	_, err = validator.Validate(raw, "stale-form-parameter", testContext)
	assert.NoError(t, err)

	_, err = validator.Validate(raw, testContext, "a-different-attempt")
	assert.True(t, errors.Is(err, ErrContextMismatch))
}

func TestValidator_Validate_Expired(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	now := time.Now()

	tests := []struct {
		name         string
		notBefore    time.Time
		notOnOrAfter time.Time
		wantErr      bool
	}{
		{
			name:         "window contains now",
			notBefore:    now.Add(-10 * time.Minute),
			notOnOrAfter: now.Add(10 * time.Minute),
			wantErr:      false,
		},
		{
			name:         "expired beyond skew",
			notBefore:    now.Add(-20 * time.Minute),
			notOnOrAfter: now.Add(-10 * time.Minute),
			wantErr:      true,
		},
		{
			name:         "not yet valid beyond skew",
			notBefore:    now.Add(10 * time.Minute),
			notOnOrAfter: now.Add(20 * time.Minute),
			wantErr:      true,
		},
		{
			name: "expired within skew tolerated",
			// Skew in the trust config is 30s; 10s past the boundary still
			// passes.
			notBefore:    now.Add(-10 * time.Minute),
			notOnOrAfter: now.Add(-10 * time.Second),
			wantErr:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
			require.NoError(t, err)

			fixture := validFixture(kp)
			fixture.notBefore = tt.notBefore
			fixture.notOnOrAfter = tt.notOnOrAfter
			raw := fixture.build(t)

			_, err = validator.Validate(raw, testContext, testContext)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrExpired), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_Validate_EnvelopeLifetimeExpired(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
	require.NoError(t, err)

	fixture := validFixture(kp)
	fixture.envelope = true
	fixture.envelopeContext = testContext
	fixture.created = time.Now().Add(-2 * time.Hour)
	fixture.expires = time.Now().Add(-time.Hour)
	raw := fixture.build(t)

	_, err = validator.Validate(raw, testContext, testContext)
	assert.True(t, errors.Is(err, ErrExpired), "got %v", err)
}

func TestValidator_Validate_ExpirationCheckDisabled(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	config := trustConfigFor(kp, testIssuer, testAudience)
	config.ValidateExpiration = false
	validator, err := NewValidator(config)
	require.NoError(t, err)

	fixture := validFixture(kp)
	fixture.notOnOrAfter = time.Now().Add(-time.Hour)
	raw := fixture.build(t)

	_, err = validator.Validate(raw, testContext, testContext)
	assert.NoError(t, err)
}

func TestValidator_Validate_UntrustedIssuer(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
	require.NoError(t, err)

	fixture := validFixture(kp)
	fixture.issuer = "https://rogue.example/issue"
	raw := fixture.build(t)

	_, err = validator.Validate(raw, testContext, testContext)
	assert.True(t, errors.Is(err, ErrUntrustedIssuer), "got %v", err)
}

func TestValidator_Validate_UntrustedIssuerDN(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	config := trustConfigFor(kp, testIssuer, testAudience)
	config.TrustedIssuerDN = "CN=someone-else"
	validator, err := NewValidator(config)
	require.NoError(t, err)

	raw := validFixture(kp).build(t)

	_, err = validator.Validate(raw, testContext, testContext)
	assert.True(t, errors.Is(err, ErrUntrustedIssuer), "got %v", err)
}

func TestValidator_Validate_UntrustedSubject(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	config := trustConfigFor(kp, testIssuer, testAudience)
	config.TrustedSubjectNames = []string{"CN=other-idp"}
	validator, err := NewValidator(config)
	require.NoError(t, err)

	// Every other stage would pass; the subject DN alone fails the token.
	raw := validFixture(kp).build(t)

	_, err = validator.Validate(raw, testContext, testContext)
	assert.True(t, errors.Is(err, ErrUntrustedSubject), "got %v", err)
}

func TestValidator_Validate_UntrustedAudience(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
	require.NoError(t, err)

	tests := []struct {
		name     string
		audience string
	}{
		{name: "different audience", audience: "https://other.example/"},
		{name: "prefix is not a match", audience: "https://app.example/extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := validFixture(kp)
			fixture.audience = tt.audience
			raw := fixture.build(t)

			_, err := validator.Validate(raw, testContext, testContext)
			assert.True(t, errors.Is(err, ErrUntrustedAudience), "got %v", err)
		})
	}
}

func TestValidator_Validate_InvalidSignature(t *testing.T) {
	kp := newTestKeyPair(t, "idp")

	t.Run("signer is not a trust anchor", func(t *testing.T) {
		// Same DNs, different key: the DN stages pass but the explicit-key
		// store does not contain the signer.
		other := newTestKeyPair(t, "idp")
		config := trustConfigFor(kp, testIssuer, testAudience)
		validator, err := NewValidator(config)
		require.NoError(t, err)

		raw := validFixture(other).build(t)

		_, err = validator.Validate(raw, testContext, testContext)
		assert.True(t, errors.Is(err, ErrInvalidSignature), "got %v", err)
	})

	t.Run("tampered content", func(t *testing.T) {
		validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
		require.NoError(t, err)

		fixture := validFixture(kp)
		fixture.tamper = func(assertion *etree.Element) {
			if valueEl := findDescendant(assertion, "AttributeValue"); valueEl != nil {
				valueEl.SetText("mallory")
			}
		}
		raw := fixture.build(t)

		_, err = validator.Validate(raw, testContext, testContext)
		assert.True(t, errors.Is(err, ErrInvalidSignature), "got %v", err)
	})

	t.Run("unsigned assertion", func(t *testing.T) {
		validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
		require.NoError(t, err)

		fixture := validFixture(kp)
		fixture.signWith = nil
		raw := fixture.build(t)

		// Without a signature there is no certificate to judge, so the
		// pipeline stops at the issuer-DN stage.
		_, err = validator.Validate(raw, testContext, testContext)
		assert.True(t, errors.Is(err, ErrUntrustedIssuer), "got %v", err)
	})
}

func TestValidator_Validate_EndToEnd(t *testing.T) {
	kp := newTestKeyPair(t, "idp")
	validator, err := NewValidator(trustConfigFor(kp, testIssuer, testAudience))
	require.NoError(t, err)

	now := time.Now()
	fixture := &tokenFixture{
		version:      SAML11,
		issuer:       testIssuer,
		audience:     testAudience,
		notBefore:    now.Add(-5 * time.Minute),
		notOnOrAfter: now.Add(5 * time.Minute),
		attributes: []Attribute{
			{Namespace: "Name", Name: "Department", Values: []string{"Eng,Ops"}},
			{Namespace: "Name", Name: "GivenName", Values: []string{"Jane"}},
		},
		envelope:        true,
		envelopeContext: testContext,
		created:         now.Add(-time.Minute),
		expires:         now.Add(10 * time.Minute),
		signWith:        kp,
	}
	raw := fixture.build(t)

	claims, err := validator.Validate(raw, testContext, testContext)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "Name/Department", claims[0].Type)
	assert.Equal(t, "Eng,Ops", claims[0].Value)
	assert.Equal(t, "Name/GivenName", claims[1].Type)
	assert.Equal(t, "Jane", claims[1].Value)
}

func TestPruneUnusedNamespaces(t *testing.T) {
	doc := etree.NewDocument()
	err := doc.ReadFromString(`<saml:Assertion xmlns:saml="urn:oasis:names:tc:SAML:1.0:assertion" xmlns:t="http://schemas.xmlsoap.org/ws/2005/02/trust" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xs="http://www.w3.org/2001/XMLSchema"><saml:AttributeValue xsi:type="xs:string">jdoe</saml:AttributeValue></saml:Assertion>`)
	require.NoError(t, err)

	el := doc.Root()
	pruneUnusedNamespaces(el)

	// The envelope-only prefix goes away; everything the subtree touches
	// stays, including the prefix referenced only by an xsi:type value.
	assert.Nil(t, el.SelectAttr("xmlns:t"))
	assert.NotNil(t, el.SelectAttr("xmlns:saml"))
	assert.NotNil(t, el.SelectAttr("xmlns:xsi"))
	assert.NotNil(t, el.SelectAttr("xmlns:xs"))
}

func TestCheckWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	skew := time.Minute

	tests := []struct {
		name         string
		notBefore    time.Time
		notOnOrAfter time.Time
		wantErr      bool
	}{
		{name: "open window", wantErr: false},
		{name: "inside window", notBefore: now.Add(-time.Hour), notOnOrAfter: now.Add(time.Hour), wantErr: false},
		{name: "before window but within skew", notBefore: now.Add(30 * time.Second), wantErr: false},
		{name: "before window beyond skew", notBefore: now.Add(2 * time.Minute), wantErr: true},
		{name: "after window but within skew", notOnOrAfter: now.Add(-30 * time.Second), wantErr: false},
		{name: "after window beyond skew", notOnOrAfter: now.Add(-2 * time.Minute), wantErr: true},
		{name: "boundary is exclusive", notOnOrAfter: now.Add(-skew), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkWindow(now, skew, tt.notBefore, tt.notOnOrAfter)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
