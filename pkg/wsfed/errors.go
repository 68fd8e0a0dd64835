package wsfed

import (
	"errors"
	"fmt"
)

// Kind names the validation stage a token failed at. Each kind is a distinct
// terminal outcome; a token never fails with more than one.
type Kind string

const (
	KindMalformedToken    Kind = "malformed_token"
	KindContextMismatch   Kind = "context_mismatch"
	KindExpired           Kind = "expired"
	KindUntrustedIssuer   Kind = "untrusted_issuer"
	KindUntrustedSubject  Kind = "untrusted_subject"
	KindUntrustedAudience Kind = "untrusted_audience"
	KindInvalidSignature  Kind = "invalid_signature"
)

// Sentinels for errors.Is checks against validator results.
var (
	ErrMalformedToken    = &ValidationError{Kind: KindMalformedToken}
	ErrContextMismatch   = &ValidationError{Kind: KindContextMismatch}
	ErrExpired           = &ValidationError{Kind: KindExpired}
	ErrUntrustedIssuer   = &ValidationError{Kind: KindUntrustedIssuer}
	ErrUntrustedSubject  = &ValidationError{Kind: KindUntrustedSubject}
	ErrUntrustedAudience = &ValidationError{Kind: KindUntrustedAudience}
	ErrInvalidSignature  = &ValidationError{Kind: KindInvalidSignature}
)

// ValidationError is a typed token-validation failure.
type ValidationError struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Detail != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return string(e.Kind)
}

func (e *ValidationError) Unwrap() error {
	return e.cause
}

// Is matches any ValidationError with the same kind, so callers can compare
// against the package sentinels with errors.Is.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

func validationErrorf(kind Kind, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func wrapValidationError(kind Kind, detail string, cause error) *ValidationError {
	return &ValidationError{Kind: kind, Detail: detail, cause: cause}
}

// KindOf returns the validation kind carried by err, or "" when err is not a
// token-validation failure.
func KindOf(err error) Kind {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Kind
	}
	return ""
}
