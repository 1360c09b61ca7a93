package tokenauth

import (
	"errors"
	"fmt"
)

// Reason classifies why a token was rejected
type Reason string

const (
	ReasonMalformedHeader   Reason = "malformed_header"
	ReasonMalformedToken    Reason = "malformed_token"
	ReasonKeySetUnavailable Reason = "key_set_unavailable"
	ReasonKeyNotFound       Reason = "key_not_found"
	ReasonSignatureInvalid  Reason = "signature_invalid"
	ReasonClaimMismatch     Reason = "claim_mismatch"
	ReasonTokenExpired      Reason = "token_expired"
)

// Retryable reports whether the failure is transient.
// Only an unreachable key set is worth retrying after backoff.
func (r Reason) Retryable() bool {
	return r == ReasonKeySetUnavailable
}

// ValidationError describes a rejected token.
// Two ValidationErrors match under errors.Is when their reasons match.
type ValidationError struct {
	Reason Reason
	Detail string
	Err    error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	msg := string(e.Reason)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is matches on Reason
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

func newValidationError(reason Reason, detail string, err error) *ValidationError {
	return &ValidationError{Reason: reason, Detail: detail, Err: err}
}

var (
	// ErrMalformedHeader is returned when the header is not "Bearer <token>"
	ErrMalformedHeader = &ValidationError{Reason: ReasonMalformedHeader, Detail: "authorization header must be 'Bearer <token>'"}

	// ErrMalformedToken is returned when the token is not a well-formed JWT
	ErrMalformedToken = &ValidationError{Reason: ReasonMalformedToken}

	// ErrKeySetUnavailable is returned when the signing-key set could not be fetched
	ErrKeySetUnavailable = &ValidationError{Reason: ReasonKeySetUnavailable}

	// ErrKeyNotFound is returned when the token's key ID is absent from the key set
	ErrKeyNotFound = &ValidationError{Reason: ReasonKeyNotFound}

	// ErrSignatureInvalid is returned when signature verification fails
	ErrSignatureInvalid = &ValidationError{Reason: ReasonSignatureInvalid}

	// ErrClaimMismatch is returned when issuer, audience or not-before checks fail
	ErrClaimMismatch = &ValidationError{Reason: ReasonClaimMismatch}

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = &ValidationError{Reason: ReasonTokenExpired}
)

// ReasonOf returns the rejection reason carried by err, or "" if err is not a ValidationError
func ReasonOf(err error) Reason {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}
