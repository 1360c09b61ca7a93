package tokenauth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodedToken is a token whose signature and claims have been verified
type DecodedToken struct {
	KeyID     string
	Algorithm string
	Subject   string
	Issuer    string
	Audience  []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	NotBefore time.Time
	Claims    Claims
}

// newDecodedToken builds a DecodedToken from verified map claims
func newDecodedToken(claims jwt.MapClaims, kid, alg string) *DecodedToken {
	sub, _ := claims.GetSubject()
	iss, _ := claims.GetIssuer()
	aud, _ := claims.GetAudience()
	exp, _ := claims.GetExpirationTime()
	iat, _ := claims.GetIssuedAt()
	nbf, _ := claims.GetNotBefore()

	return &DecodedToken{
		KeyID:     kid,
		Algorithm: alg,
		Subject:   sub,
		Issuer:    iss,
		Audience:  []string(aud),
		ExpiresAt: numericTime(exp),
		IssuedAt:  numericTime(iat),
		NotBefore: numericTime(nbf),
		Claims:    NewClaims(claims),
	}
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}

// Scopes returns the space-delimited "scope" claim as a list
func (t *DecodedToken) Scopes() []string {
	v, ok := t.Claims.Get("scope")
	if !ok {
		return nil
	}
	s, err := v.AsString()
	if err != nil {
		// Some issuers emit scopes as an array
		list, _ := v.AsStringList()
		return list
	}
	return strings.Fields(s)
}

// Permissions returns the "permissions" claim, or nil when absent or mis-typed
func (t *DecodedToken) Permissions() []string {
	perms, err := t.Claims.GetStringList("permissions")
	if err != nil {
		return nil
	}
	return perms
}

// HasPermission checks the permissions claim, falling back to scopes
func (t *DecodedToken) HasPermission(permission string) bool {
	for _, p := range t.Permissions() {
		if p == permission {
			return true
		}
	}
	for _, s := range t.Scopes() {
		if s == permission {
			return true
		}
	}
	return false
}

// Outcome is the result of a validation: either a decoded token or a rejection, never both
type Outcome struct {
	token *DecodedToken
	err   *ValidationError
}

// Valid builds a successful outcome
func Valid(token *DecodedToken) Outcome {
	return Outcome{token: token}
}

// Invalid builds a rejected outcome
func Invalid(err *ValidationError) Outcome {
	return Outcome{err: err}
}

// IsValid reports whether the token was accepted
func (o Outcome) IsValid() bool {
	return o.err == nil && o.token != nil
}

// Token returns the decoded token, or nil for a rejected outcome
func (o Outcome) Token() *DecodedToken {
	if !o.IsValid() {
		return nil
	}
	return o.token
}

// Err returns the rejection, or nil for a successful outcome
func (o Outcome) Err() error {
	if o.err == nil {
		if o.token == nil {
			return ErrMalformedToken
		}
		return nil
	}
	return o.err
}

// Reason returns the rejection reason, or "" for a successful outcome
func (o Outcome) Reason() Reason {
	if o.IsValid() {
		return ""
	}
	if o.err == nil {
		return ReasonMalformedToken
	}
	return o.err.Reason
}

// ParseAuthorizationHeader extracts the token from a "Bearer <token>" header value.
// The scheme is case-insensitive; anything but exactly two fields is rejected.
func ParseAuthorizationHeader(value string) (string, error) {
	parts := strings.Fields(value)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}
