package wsfed

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ReplyPolicy controls how the wreply parameter is derived from the page the
// user asked for. It only affects where the browser lands after sign-in; it
// carries no trust semantics.
type ReplyPolicy string

const (
	// ReplyDisabled omits wreply entirely.
	ReplyDisabled ReplyPolicy = "disabled"
	// ReplyFull passes the requested URL through unchanged.
	ReplyFull ReplyPolicy = "full"
	// ReplyShortened strips configured path prefixes and suffixes from the
	// requested URL before use.
	ReplyShortened ReplyPolicy = "shortened"
)

const (
	// SignInAction is the fixed wa value for sign-in requests.
	SignInAction = "wsignin1.0"
	// SignOutAction is the fixed wa value for sign-out requests.
	SignOutAction = "wsignout1.0"

	// wctTimeFormat is the issue-instant format the identity provider
	// expects: UTC with millisecond precision and a literal Z.
	wctTimeFormat = "2006-01-02T15:04:05.000Z"

	// contextIDLength is the number of alphanumeric characters in a
	// generated context id (well above 128 bits of entropy).
	contextIDLength = 42

	contextIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// RequestConfig describes how outbound sign-in redirects are built.
type RequestConfig struct {
	// IdentityProviderURL is the IdP's passive-requestor endpoint.
	IdentityProviderURL string `json:"identity_provider_url" yaml:"identity_provider_url"`

	// Realm is the requesting realm sent as wtrealm.
	Realm string `json:"realm" yaml:"realm"`

	ReplyPolicy        ReplyPolicy `json:"reply_policy" yaml:"reply_policy"`
	ReplyStripPrefixes []string    `json:"reply_strip_prefixes" yaml:"reply_strip_prefixes"`
	ReplyStripSuffixes []string    `json:"reply_strip_suffixes" yaml:"reply_strip_suffixes"`

	// IncludeContext controls whether a wctx anti-replay context id is
	// generated and sent.
	IncludeContext bool `json:"include_context" yaml:"include_context"`

	// IncludeTimestamp controls whether the issue instant is echoed as wct.
	IncludeTimestamp bool `json:"include_timestamp" yaml:"include_timestamp"`

	// FreshnessMinutes asks the IdP for a maximum token age (wfresh).
	// Omitted when zero or negative. Advisory only.
	FreshnessMinutes int `json:"freshness_minutes" yaml:"freshness_minutes"`
}

// Validate checks the request configuration.
func (c *RequestConfig) Validate() error {
	if c.IdentityProviderURL == "" {
		return fmt.Errorf("identity provider URL is required")
	}
	if _, err := url.Parse(c.IdentityProviderURL); err != nil {
		return fmt.Errorf("invalid identity provider URL: %w", err)
	}
	if c.Realm == "" {
		return fmt.Errorf("realm is required")
	}
	switch c.ReplyPolicy {
	case "", ReplyDisabled, ReplyFull, ReplyShortened:
	default:
		return fmt.Errorf("invalid reply policy: %s", c.ReplyPolicy)
	}
	return nil
}

// SignInRequest is the outcome of building a sign-in redirect. ContextID and
// ReplyURL must be stored in the caller's session so the response can be
// matched back to this attempt.
type SignInRequest struct {
	URL       string
	ContextID string
	ReplyURL  string
	IssuedAt  time.Time
}

// BuildSignInRequest composes the redirect URL for a new login attempt.
// replyTarget is the URL the user originally asked for; how much of it
// survives into wreply depends on the configured reply policy.
func (c *RequestConfig) BuildSignInRequest(replyTarget string) (*SignInRequest, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	u, err := url.Parse(c.IdentityProviderURL)
	if err != nil {
		return nil, fmt.Errorf("invalid identity provider URL: %w", err)
	}

	req := &SignInRequest{IssuedAt: time.Now().UTC()}

	q := u.Query()
	q.Set("wa", SignInAction)
	q.Set("wtrealm", c.Realm)

	if c.IncludeContext {
		ctxID, err := generateContextID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate context id: %w", err)
		}
		req.ContextID = ctxID
		q.Set("wctx", ctxID)
	}

	if reply := c.replyURL(replyTarget); reply != "" {
		req.ReplyURL = reply
		q.Set("wreply", reply)
	}

	if c.IncludeTimestamp {
		q.Set("wct", req.IssuedAt.Format(wctTimeFormat))
	}
	if c.FreshnessMinutes > 0 {
		q.Set("wfresh", strconv.Itoa(c.FreshnessMinutes))
	}

	u.RawQuery = q.Encode()
	req.URL = u.String()
	return req, nil
}

// BuildSignOutURL composes the redirect for a federated sign-out.
func (c *RequestConfig) BuildSignOutURL(returnTo string) (string, error) {
	u, err := url.Parse(c.IdentityProviderURL)
	if err != nil {
		return "", fmt.Errorf("invalid identity provider URL: %w", err)
	}
	q := u.Query()
	q.Set("wa", SignOutAction)
	if returnTo != "" {
		q.Set("wreply", returnTo)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// replyURL applies the reply policy to the requested target.
func (c *RequestConfig) replyURL(target string) string {
	switch c.ReplyPolicy {
	case ReplyFull:
		return target
	case ReplyShortened:
		return c.shorten(target)
	default:
		return ""
	}
}

// shorten strips the configured path prefixes and suffixes while keeping the
// scheme and host intact.
func (c *RequestConfig) shorten(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	path := u.Path
	for _, prefix := range c.ReplyStripPrefixes {
		path = strings.TrimPrefix(path, prefix)
	}
	for _, suffix := range c.ReplyStripSuffixes {
		path = strings.TrimSuffix(path, suffix)
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// generateContextID returns a crypto-random alphanumeric context id.
func generateContextID() (string, error) {
	buf := make([]byte, contextIDLength)
	out := make([]byte, 0, contextIDLength)
	for len(out) < contextIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			// Reject bytes outside the largest multiple of the alphabet
			// size to keep the distribution uniform.
			if b >= byte(256-256%len(contextIDAlphabet)) {
				continue
			}
			out = append(out, contextIDAlphabet[int(b)%len(contextIDAlphabet)])
			if len(out) == contextIDLength {
				break
			}
		}
	}
	return string(out), nil
}
