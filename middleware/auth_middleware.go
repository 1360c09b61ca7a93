package middleware

import (
	"context"
	"net/http"

	"github.com/upb/edge-authorizer/tokenauth"
	"github.com/upb/edge-authorizer/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating bearer tokens
type TokenValidator interface {
	// ValidateToken validates an Authorization header value and returns the decoded token
	ValidateToken(ctx context.Context, rawHeader string) (*tokenauth.DecodedToken, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// authTokenCookieName is consulted when no Authorization header is present
const authTokenCookieName = "auth_token"

// RequireAuth is a middleware that requires a valid bearer token.
// Every rejection is a generic 401; the reason is only logged. A key set
// that cannot be fetched yields 503 so clients retry.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		header := extractAuthorization(r)
		if header == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		token, err := m.validator.ValidateToken(ctx, header)
		if err != nil {
			reason := tokenauth.ReasonOf(err)
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.String("reason", string(reason)),
				zap.Error(err))
			if reason.Retryable() {
				w.Header().Set("Retry-After", "1")
				_ = utils.WriteServiceUnavailable(w, "Authentication temporarily unavailable", nil)
				return
			}
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithToken(ctx, token)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", token.Subject),
			zap.String("kid", token.KeyID))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission is a middleware that requires a permission or scope
// on the authenticated token. It must run after RequireAuth.
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			token := GetTokenFromContext(ctx)
			if token == nil {
				m.logger.Error("token not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if !token.HasPermission(permission) {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("sub", token.Subject),
					zap.String("required_permission", permission))
				_ = utils.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractAuthorization returns the Authorization header, or a bearer
// header built from the auth_token cookie. The header takes precedence.
func extractAuthorization(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return header
	}
	if cookie, err := r.Cookie(authTokenCookieName); err == nil && cookie.Value != "" {
		return "Bearer " + cookie.Value
	}
	return ""
}
