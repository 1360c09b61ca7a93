// Package authz turns validation outcomes into allow/deny decisions
package authz

import (
	"context"

	"github.com/upb/edge-authorizer/tokenauth"
)

// Effect is the result of an authorization decision
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// AnonymousPrincipal identifies the caller of a denied request
const AnonymousPrincipal = "anonymous"

// ReasonMissingResource is reported when a valid token arrives without a target resource
const ReasonMissingResource tokenauth.Reason = "missing_resource"

// Decision is an allow/deny verdict for one resource.
// Reason is kept for logs and audit only and is never sent to the caller.
type Decision struct {
	Effect      Effect                  `json:"effect"`
	PrincipalID string                  `json:"principal_id"`
	Resource    string                  `json:"resource"`
	Reason      tokenauth.Reason        `json:"-"`
	Token       *tokenauth.DecodedToken `json:"-"`
}

// Allowed reports whether the decision grants access
func (d Decision) Allowed() bool {
	return d.Effect == EffectAllow
}

// Decide maps a validation outcome to a decision for resource.
// Only a valid token with a non-empty resource is allowed.
func Decide(outcome tokenauth.Outcome, resource string) Decision {
	if !outcome.IsValid() {
		return Decision{
			Effect:      EffectDeny,
			PrincipalID: AnonymousPrincipal,
			Resource:    resource,
			Reason:      outcome.Reason(),
		}
	}

	token := outcome.Token()
	if resource == "" {
		return Decision{
			Effect:      EffectDeny,
			PrincipalID: token.Subject,
			Reason:      ReasonMissingResource,
			Token:       token,
		}
	}

	return Decision{
		Effect:      EffectAllow,
		PrincipalID: token.Subject,
		Resource:    resource,
		Token:       token,
	}
}

// Metadata describes the request a decision was made for
type Metadata struct {
	RequestID string
	SourceIP  string
	UserAgent string
}

// Authenticator validates an Authorization header value
type Authenticator interface {
	Authenticate(ctx context.Context, rawHeader string) tokenauth.Outcome
}

// DecisionRecorder receives every decision, e.g. for auditing
type DecisionRecorder interface {
	Record(ctx context.Context, decision Decision, meta Metadata)
}
