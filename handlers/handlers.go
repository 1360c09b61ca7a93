package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/edge-authorizer/app"
	"github.com/upb/edge-authorizer/authz"
	"github.com/upb/edge-authorizer/internal/observability"
	"github.com/upb/edge-authorizer/middleware"
	"github.com/upb/edge-authorizer/models"
	"github.com/upb/edge-authorizer/services/audit"
	"github.com/upb/edge-authorizer/tokenauth"
	"github.com/upb/edge-authorizer/utils"
	"go.uber.org/zap"
)

// maxAuthorizeBody caps the authorize request body
const maxAuthorizeBody = 16 << 10

// AuthorizeRequest is the body of POST /v1/authorize
type AuthorizeRequest struct {
	AuthorizationToken string `json:"authorization_token" validate:"required,max=8192"`
	Resource           string `json:"resource" validate:"max=2048"`
}

// AuthorizeHandler validates the submitted token and returns an allow or
// deny decision for the resource. Denials are a 200 with effect "Deny";
// the reason is logged and audited but never returned.
func AuthorizeHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.WithRequest(ctx, deps.Logger)

		var req AuthorizeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthorizeBody)).Decode(&req); err != nil {
			_ = utils.WriteBadRequest(w, "Invalid request body", nil)
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			_ = utils.WriteBadRequest(w, "Validation failed", utils.FieldDetails(err))
			return
		}

		outcome := deps.Authenticator.Authenticate(ctx, req.AuthorizationToken)
		decision := authz.Decide(outcome, req.Resource)

		if decision.Allowed() {
			logger.Info("request authorized",
				zap.String("principal_id", decision.PrincipalID),
				zap.String("resource", decision.Resource))
		} else {
			logger.Warn("request denied",
				zap.String("principal_id", decision.PrincipalID),
				zap.String("resource", decision.Resource),
				zap.String("reason", string(decision.Reason)))
		}

		if deps.Recorder != nil {
			deps.Recorder.Record(ctx, decision, requestMetadata(r))
		}

		_ = utils.WriteOK(w, decision)
	}
}

// requestMetadata collects audit fields from the request
func requestMetadata(r *http.Request) authz.Metadata {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return authz.Metadata{
		RequestID: middleware.GetRequestIDFromContext(r.Context()),
		SourceIP:  ip,
		UserAgent: r.UserAgent(),
	}
}

// MeResponse describes the authenticated caller
type MeResponse struct {
	Subject     string    `json:"subject"`
	Issuer      string    `json:"issuer"`
	Audience    []string  `json:"audience"`
	KeyID       string    `json:"key_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	IssuedAt    time.Time `json:"issued_at"`
	Scopes      []string  `json:"scopes,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
}

// MeHandler returns the claims of the token that authenticated the request.
// It must run behind RequireAuth.
func MeHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := middleware.GetTokenFromContext(r.Context())
		if token == nil {
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}

		_ = utils.WriteOK(w, newMeResponse(token))
	}
}

func newMeResponse(token *tokenauth.DecodedToken) MeResponse {
	return MeResponse{
		Subject:     token.Subject,
		Issuer:      token.Issuer,
		Audience:    token.Audience,
		KeyID:       token.KeyID,
		ExpiresAt:   token.ExpiresAt,
		IssuedAt:    token.IssuedAt,
		Scopes:      token.Scopes(),
		Permissions: token.Permissions(),
	}
}

// StatsResponse is returned by GET /v1/admin/stats.
// RecentDecisions includes deny reasons, so the route sits behind the stats permission.
type StatsResponse struct {
	KeyCache        tokenauth.CacheStats            `json:"key_cache"`
	Metrics         observability.MetricsSnapshot   `json:"metrics"`
	Audit           *audit.Stats                    `json:"audit,omitempty"`
	Decisions       map[models.DecisionEffect]int64 `json:"decisions"`
	RecentDecisions []*models.DecisionLog           `json:"recent_decisions"`
}

const defaultRecentDecisions = 20

// StatsHandler reports key cache, validation and audit statistics
func StatsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit := defaultRecentDecisions
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 500 {
				_ = utils.WriteBadRequest(w, "limit must be between 1 and 500", nil)
				return
			}
			limit = n
		}

		response := StatsResponse{
			KeyCache: deps.Authenticator.CacheStats(),
			Metrics:  deps.Metrics.Snapshot(),
		}

		if deps.Audit != nil {
			stats := deps.Audit.GetStats()
			response.Audit = &stats
		}

		counts, err := deps.Decisions.CountByEffect(ctx)
		if err != nil {
			deps.Logger.Error("failed to count decisions", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}
		response.Decisions = counts

		recent, err := deps.Decisions.ListRecent(ctx, limit)
		if err != nil {
			deps.Logger.Error("failed to list decisions", zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}
		response.RecentDecisions = recent

		_ = utils.WriteOK(w, response)
	}
}
