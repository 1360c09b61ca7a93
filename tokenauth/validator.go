package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// DefaultFetchTimeout bounds a single key set fetch
const DefaultFetchTimeout = 5 * time.Second

// supportedAlgorithms are the asymmetric algorithms accepted in token headers.
// HMAC and "none" are never accepted.
var supportedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// Config holds tuning for a Validator
type Config struct {
	CacheSize    int           // max cached keys; DefaultCacheSize if zero
	KeyTTL       time.Duration // lifetime of a cached key; DefaultKeyTTL if zero
	MissTTL      time.Duration // lifetime of a "kid not in set" marker; zero disables it
	FetchTimeout time.Duration // per-fetch deadline; DefaultFetchTimeout if zero
	Leeway       time.Duration // clock skew allowed on exp and nbf
}

// cachedKey is either a key or a marker recording that the kid was absent
type cachedKey struct {
	key    VerificationKey
	absent bool
}

// Option configures a Validator
type Option func(*Validator)

// WithFetcher replaces the HTTP key set fetcher
func WithFetcher(f KeySetFetcher) Option {
	return func(v *Validator) {
		v.fetcher = f
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithClock replaces time.Now for expiry checks and cache ageing
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// Validator verifies bearer tokens against remotely published signing keys.
// It owns the key cache and is safe for concurrent use; create one per process
// and share it.
type Validator struct {
	cache        *KeyCache[cachedKey]
	fetcher      KeySetFetcher
	keyTTL       time.Duration
	missTTL      time.Duration
	fetchTimeout time.Duration
	leeway       time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewValidator creates a Validator
func NewValidator(cfg Config, opts ...Option) *Validator {
	if cfg.KeyTTL <= 0 {
		cfg.KeyTTL = DefaultKeyTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MissTTL < 0 {
		cfg.MissTTL = 0
	}

	v := &Validator{
		keyTTL:       cfg.KeyTTL,
		missTTL:      cfg.MissTTL,
		fetchTimeout: cfg.FetchTimeout,
		leeway:       cfg.Leeway,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.logger == nil {
		v.logger = zap.NewNop()
	}
	if v.fetcher == nil {
		v.fetcher = NewHTTPKeySetFetcher(nil, v.logger)
	}

	v.cache = NewKeyCache[cachedKey](cfg.CacheSize, cfg.KeyTTL)
	v.cache.now = v.now

	return v
}

// Validate checks an Authorization header value against the key set at keySetURL
// and the expected audience and issuer. It never returns a Go error: every failure
// is reported as an invalid Outcome with a Reason.
func (v *Validator) Validate(ctx context.Context, keySetURL, audience, issuer, rawHeader string) Outcome {
	tokenString, err := ParseAuthorizationHeader(rawHeader)
	if err != nil {
		return Invalid(ErrMalformedHeader)
	}

	if issuer == "" || audience == "" {
		return Invalid(newValidationError(ReasonClaimMismatch, "expected issuer and audience must be set", nil))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(supportedAlgorithms),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	// Read the header without verifying to learn which key signed the token
	unverified, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return Invalid(newValidationError(ReasonMalformedToken, "token is not a well-formed JWT", err))
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return Invalid(newValidationError(ReasonMalformedToken, "kid header not found", nil))
	}

	key, verr := v.resolveKey(ctx, keySetURL, kid)
	if verr != nil {
		return Invalid(verr)
	}

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if key.Algorithm != "" && key.Algorithm != t.Method.Alg() {
			return nil, fmt.Errorf("key %s is for %s, token uses %s", kid, key.Algorithm, t.Method.Alg())
		}
		return key.Key, nil
	})
	if err != nil {
		verr := classifyParseError(err)
		v.logger.Debug("token rejected",
			zap.String("kid", kid),
			zap.String("reason", string(verr.Reason)),
			zap.Error(err),
		)
		return Invalid(verr)
	}
	if !token.Valid {
		return Invalid(newValidationError(ReasonSignatureInvalid, "token failed verification", nil))
	}

	return Valid(newDecodedToken(claims, kid, token.Method.Alg()))
}

// resolveKey returns the key for kid, fetching the key set on a cache miss.
// A fetched set replaces every cached key it contains, so a rotated-in key is
// picked up by the first token that names it.
func (v *Validator) resolveKey(ctx context.Context, keySetURL, kid string) (VerificationKey, *ValidationError) {
	cacheKey := keySetURL + "#" + kid

	if entry, ok := v.cache.Get(cacheKey); ok {
		if entry.absent {
			return VerificationKey{}, newValidationError(ReasonKeyNotFound, fmt.Sprintf("key %q not found in key set", kid), nil)
		}
		return entry.key, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, v.fetchTimeout)
	defer cancel()

	set, err := v.fetcher.FetchKeySet(fetchCtx, keySetURL)
	if err != nil {
		v.logger.Warn("failed to fetch key set",
			zap.String("url", keySetURL),
			zap.String("kid", kid),
			zap.Error(err),
		)
		return VerificationKey{}, newValidationError(ReasonKeySetUnavailable, "signing key set could not be fetched", err)
	}

	for id, k := range set {
		if id != kid {
			v.cache.Put(keySetURL+"#"+id, cachedKey{key: k}, v.keyTTL)
		}
	}

	key, ok := set[kid]
	if ok {
		// Stored last so a key set larger than the cache cannot evict it
		v.cache.Put(cacheKey, cachedKey{key: key}, v.keyTTL)
	}
	if !ok {
		if v.missTTL > 0 {
			v.cache.Put(cacheKey, cachedKey{absent: true}, v.missTTL)
		}
		return VerificationKey{}, newValidationError(ReasonKeyNotFound, fmt.Sprintf("key %q not found in key set", kid), nil)
	}

	return key, nil
}

// classifyParseError maps golang-jwt errors onto rejection reasons
func classifyParseError(err error) *ValidationError {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return newValidationError(ReasonMalformedToken, "token is not a well-formed JWT", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return newValidationError(ReasonSignatureInvalid, "signature verification failed", err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return newValidationError(ReasonTokenExpired, "token has expired", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return newValidationError(ReasonClaimMismatch, "token is not valid yet", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return newValidationError(ReasonClaimMismatch, "issuer mismatch", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return newValidationError(ReasonClaimMismatch, "audience mismatch", err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return newValidationError(ReasonClaimMismatch, "required claim missing", err)
	default:
		return newValidationError(ReasonClaimMismatch, "claims validation failed", err)
	}
}

// CacheStats returns key cache statistics
func (v *Validator) CacheStats() CacheStats {
	return v.cache.Stats()
}

// ValidationObserver receives one call per validation
type ValidationObserver interface {
	RecordValidation(ctx context.Context, result string, elapsed time.Duration)
}

// Authenticator binds a Validator to one issuer configuration
type Authenticator struct {
	validator *Validator
	keySetURL string
	audience  string
	issuer    string
	observer  ValidationObserver
}

// NewAuthenticator creates an Authenticator. observer may be nil.
func NewAuthenticator(v *Validator, keySetURL, audience, issuer string, observer ValidationObserver) *Authenticator {
	return &Authenticator{
		validator: v,
		keySetURL: keySetURL,
		audience:  audience,
		issuer:    issuer,
		observer:  observer,
	}
}

// Authenticate validates an Authorization header value
func (a *Authenticator) Authenticate(ctx context.Context, rawHeader string) Outcome {
	start := time.Now()
	outcome := a.validator.Validate(ctx, a.keySetURL, a.audience, a.issuer, rawHeader)

	if a.observer != nil {
		result := "valid"
		if !outcome.IsValid() {
			result = string(outcome.Reason())
		}
		a.observer.RecordValidation(ctx, result, time.Since(start))
	}

	return outcome
}

// ValidateToken validates an Authorization header value and returns the decoded token
func (a *Authenticator) ValidateToken(ctx context.Context, rawHeader string) (*DecodedToken, error) {
	outcome := a.Authenticate(ctx, rawHeader)
	if err := outcome.Err(); err != nil {
		return nil, err
	}
	return outcome.Token(), nil
}

// CacheStats returns the underlying validator's key cache statistics
func (a *Authenticator) CacheStats() CacheStats {
	return a.validator.CacheStats()
}
