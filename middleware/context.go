package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/edge-authorizer/tokenauth"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// TokenKey is the context key for the validated token
	TokenKey contextKey = "token"
)

// GetRequestIDFromContext retrieves the request ID from context, falling
// back to the one set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetTokenFromContext retrieves the validated token from context
func GetTokenFromContext(ctx context.Context) *tokenauth.DecodedToken {
	if val := ctx.Value(TokenKey); val != nil {
		if token, ok := val.(*tokenauth.DecodedToken); ok {
			return token
		}
	}
	return nil
}

// WithToken adds a validated token to the context
func WithToken(ctx context.Context, token *tokenauth.DecodedToken) context.Context {
	return context.WithValue(ctx, TokenKey, token)
}
