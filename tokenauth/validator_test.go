package tokenauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/edge-authorizer/internal/testutil"
)

type validatorFixture struct {
	validator *Validator
	server    *testutil.KeySetServer
	clock     *testutil.Clock
}

func newValidatorFixture(t *testing.T, cfg Config, keys ...map[string]any) *validatorFixture {
	t.Helper()

	clock := testutil.NewClock(time.Now().Truncate(time.Second))
	server := testutil.NewKeySetServer(t, keys...)
	validator := NewValidator(cfg, WithClock(clock.Now))

	return &validatorFixture{validator: validator, server: server, clock: clock}
}

func (f *validatorFixture) validate(header string) Outcome {
	return f.validator.Validate(context.Background(), f.server.JWKSURL(), testutil.Audience, testutil.Issuer, header)
}

func TestValidator_ValidToken(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{}, testutil.RSAJWK("k1", &key.PublicKey))

	claims := testutil.Claims(f.clock.Now())
	claims["permissions"] = []string{"read:stats"}
	token := testutil.SignRS256(t, key, "k1", claims)

	outcome := f.validate(testutil.Bearer(token))
	require.True(t, outcome.IsValid(), "unexpected rejection: %v", outcome.Err())
	assert.NoError(t, outcome.Err())
	assert.Empty(t, outcome.Reason())

	decoded := outcome.Token()
	assert.Equal(t, "k1", decoded.KeyID)
	assert.Equal(t, "RS256", decoded.Algorithm)
	assert.Equal(t, "auth0|user-123", decoded.Subject)
	assert.Equal(t, testutil.Issuer, decoded.Issuer)
	assert.Equal(t, []string{testutil.Audience}, decoded.Audience)
	assert.True(t, decoded.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)))
	assert.True(t, decoded.HasPermission("read:stats"))
	assert.False(t, decoded.HasPermission("write:stats"))
}

func TestValidator_ECKey(t *testing.T) {
	key := testutil.GenerateECKey(t)
	f := newValidatorFixture(t, Config{}, testutil.ECJWK("ec1", &key.PublicKey))

	token := testutil.SignES256(t, key, "ec1", testutil.Claims(f.clock.Now()))

	outcome := f.validate(testutil.Bearer(token))
	require.True(t, outcome.IsValid(), "unexpected rejection: %v", outcome.Err())
	assert.Equal(t, "ES256", outcome.Token().Algorithm)
}

func TestValidator_Rejections(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	otherKey := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{}, testutil.RSAJWK("k1", &key.PublicKey))
	now := f.clock.Now()

	signed := func(mutate func(jwt.MapClaims)) string {
		claims := testutil.Claims(now)
		if mutate != nil {
			mutate(claims)
		}
		return testutil.Bearer(testutil.SignRS256(t, key, "k1", claims))
	}

	hmacToken := jwt.NewWithClaims(jwt.SigningMethodHS256, testutil.Claims(now))
	hmacToken.Header["kid"] = "k1"
	hmacSigned, err := hmacToken.SignedString([]byte("secret"))
	require.NoError(t, err)

	valid := testutil.SignRS256(t, key, "k1", testutil.Claims(now))
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name   string
		header string
		reason Reason
	}{
		{"empty header", "", ReasonMalformedHeader},
		{"wrong scheme", "Basic " + valid, ReasonMalformedHeader},
		{"missing token", "Bearer", ReasonMalformedHeader},
		{"extra fields", "Bearer " + valid + " extra", ReasonMalformedHeader},
		{"not a jwt", "Bearer not-a-jwt", ReasonMalformedToken},
		{"missing kid", testutil.Bearer(testutil.SignRS256(t, key, "", testutil.Claims(now))), ReasonMalformedToken},
		{"unknown kid", testutil.Bearer(testutil.SignRS256(t, key, "k9", testutil.Claims(now))), ReasonKeyNotFound},
		{"signed by other key", testutil.Bearer(testutil.SignRS256(t, otherKey, "k1", testutil.Claims(now))), ReasonSignatureInvalid},
		{"tampered signature", testutil.Bearer(tampered), ReasonSignatureInvalid},
		{"hmac algorithm", testutil.Bearer(hmacSigned), ReasonSignatureInvalid},
		{"expired", signed(func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Minute).Unix() }), ReasonTokenExpired},
		{"wrong issuer", signed(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com/" }), ReasonClaimMismatch},
		{"wrong audience", signed(func(c jwt.MapClaims) { c["aud"] = "https://other.example.com" }), ReasonClaimMismatch},
		{"missing exp", signed(func(c jwt.MapClaims) { delete(c, "exp") }), ReasonClaimMismatch},
		{"not yet valid", signed(func(c jwt.MapClaims) { c["nbf"] = now.Add(time.Hour).Unix() }), ReasonClaimMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := f.validate(tt.header)
			assert.False(t, outcome.IsValid())
			assert.Nil(t, outcome.Token())
			assert.Equal(t, tt.reason, outcome.Reason())
			assert.Equal(t, tt.reason, ReasonOf(outcome.Err()))
		})
	}
}

func TestValidator_AudienceList(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{}, testutil.RSAJWK("k1", &key.PublicKey))

	claims := testutil.Claims(f.clock.Now())
	claims["aud"] = []string{"https://other.example.com", testutil.Audience}

	outcome := f.validate(testutil.Bearer(testutil.SignRS256(t, key, "k1", claims)))
	assert.True(t, outcome.IsValid())
}

func TestValidator_Leeway(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{Leeway: time.Minute}, testutil.RSAJWK("k1", &key.PublicKey))

	claims := testutil.Claims(f.clock.Now())
	claims["exp"] = f.clock.Now().Add(-30 * time.Second).Unix()

	outcome := f.validate(testutil.Bearer(testutil.SignRS256(t, key, "k1", claims)))
	assert.True(t, outcome.IsValid(), "expiry within leeway is accepted")
}

func TestValidator_EmptyExpectations(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{}, testutil.RSAJWK("k1", &key.PublicKey))
	token := testutil.Bearer(testutil.SignRS256(t, key, "k1", testutil.Claims(f.clock.Now())))

	outcome := f.validator.Validate(context.Background(), f.server.JWKSURL(), "", testutil.Issuer, token)
	assert.Equal(t, ReasonClaimMismatch, outcome.Reason())
	assert.Zero(t, f.server.Fetches())
}

func TestValidator_CachesKeys(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{KeyTTL: 10 * time.Minute}, testutil.RSAJWK("k1", &key.PublicKey))

	for i := 0; i < 5; i++ {
		token := testutil.SignRS256(t, key, "k1", testutil.Claims(f.clock.Now()))
		outcome := f.validate(testutil.Bearer(token))
		require.True(t, outcome.IsValid())
	}
	assert.Equal(t, 1, f.server.Fetches(), "key set is fetched once while the key is cached")

	// Past the TTL the key is fetched again
	f.clock.Advance(11 * time.Minute)
	token := testutil.SignRS256(t, key, "k1", testutil.Claims(f.clock.Now()))
	require.True(t, f.validate(testutil.Bearer(token)).IsValid())
	assert.Equal(t, 2, f.server.Fetches())

	stats := f.validator.CacheStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(4), stats.Hits)
}

func TestValidator_KeyRotation(t *testing.T) {
	oldKey := testutil.GenerateRSAKey(t)
	newKey := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{MissTTL: 5 * time.Second}, testutil.RSAJWK("old", &oldKey.PublicKey))

	require.True(t, f.validate(testutil.Bearer(testutil.SignRS256(t, oldKey, "old", testutil.Claims(f.clock.Now())))).IsValid())

	// The issuer publishes a new key; a token naming it triggers a refetch
	f.server.SetKeys(testutil.RSAJWK("old", &oldKey.PublicKey), testutil.RSAJWK("new", &newKey.PublicKey))

	outcome := f.validate(testutil.Bearer(testutil.SignRS256(t, newKey, "new", testutil.Claims(f.clock.Now()))))
	require.True(t, outcome.IsValid(), "unexpected rejection: %v", outcome.Err())
	assert.Equal(t, 2, f.server.Fetches())

	// The refetch refreshed "old" as well, so it stays a cache hit
	require.True(t, f.validate(testutil.Bearer(testutil.SignRS256(t, oldKey, "old", testutil.Claims(f.clock.Now())))).IsValid())
	assert.Equal(t, 2, f.server.Fetches())
}

func TestValidator_NegativeCache(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{MissTTL: 5 * time.Second}, testutil.RSAJWK("k1", &key.PublicKey))

	unknown := testutil.Bearer(testutil.SignRS256(t, key, "ghost", testutil.Claims(f.clock.Now())))

	for i := 0; i < 3; i++ {
		assert.Equal(t, ReasonKeyNotFound, f.validate(unknown).Reason())
	}
	assert.Equal(t, 1, f.server.Fetches(), "absent kid is remembered for the miss TTL")

	f.clock.Advance(6 * time.Second)
	assert.Equal(t, ReasonKeyNotFound, f.validate(unknown).Reason())
	assert.Equal(t, 2, f.server.Fetches())
}

func TestValidator_NegativeCacheDisabled(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{}, testutil.RSAJWK("k1", &key.PublicKey))

	unknown := testutil.Bearer(testutil.SignRS256(t, key, "ghost", testutil.Claims(f.clock.Now())))
	f.validate(unknown)
	f.validate(unknown)
	assert.Equal(t, 2, f.server.Fetches())
}

func TestValidator_KeySetUnavailable(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{}, testutil.RSAJWK("k1", &key.PublicKey))
	f.server.SetStatus(http.StatusServiceUnavailable)

	token := testutil.Bearer(testutil.SignRS256(t, key, "k1", testutil.Claims(f.clock.Now())))

	outcome := f.validate(token)
	assert.Equal(t, ReasonKeySetUnavailable, outcome.Reason())
	assert.True(t, outcome.Reason().Retryable())
	assert.ErrorIs(t, outcome.Err(), ErrKeySetUnavailable)
	assert.ErrorIs(t, outcome.Err(), ErrJWKSFetchFailed)

	// Failures are not cached; recovery is picked up on the next request
	f.server.SetStatus(http.StatusOK)
	assert.True(t, f.validate(token).IsValid())
}

func TestValidator_KeySetUnreachable(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	v := NewValidator(Config{FetchTimeout: time.Second})

	token := testutil.Bearer(testutil.SignRS256(t, key, "k1", testutil.Claims(time.Now())))
	outcome := v.Validate(context.Background(), "http://127.0.0.1:1/jwks.json", testutil.Audience, testutil.Issuer, token)
	assert.Equal(t, ReasonKeySetUnavailable, outcome.Reason())
}

type stubFetcher struct {
	mu    sync.Mutex
	set   KeySet
	err   error
	calls int
}

func (s *stubFetcher) FetchKeySet(ctx context.Context, url string) (KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.set, s.err
}

func TestValidator_KeyAlgorithmPinned(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	fetcher := &stubFetcher{set: KeySet{
		"k1": {KeyID: "k1", Algorithm: "RS512", Key: &key.PublicKey},
	}}
	v := NewValidator(Config{}, WithFetcher(fetcher))

	token := testutil.Bearer(testutil.SignRS256(t, key, "k1", testutil.Claims(time.Now())))
	outcome := v.Validate(context.Background(), "https://issuer.example.com/jwks", testutil.Audience, testutil.Issuer, token)
	assert.Equal(t, ReasonSignatureInvalid, outcome.Reason())
}

func TestValidator_FetcherError(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	fetcher := &stubFetcher{err: errors.New("boom")}
	v := NewValidator(Config{}, WithFetcher(fetcher))

	token := testutil.Bearer(testutil.SignRS256(t, key, "k1", testutil.Claims(time.Now())))
	outcome := v.Validate(context.Background(), "https://issuer.example.com/jwks", testutil.Audience, testutil.Issuer, token)
	assert.Equal(t, ReasonKeySetUnavailable, outcome.Reason())
	assert.Equal(t, 1, fetcher.calls)
}

func TestValidator_KeySetLargerThanCache(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	other := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{CacheSize: 1},
		testutil.RSAJWK("k1", &key.PublicKey),
		testutil.RSAJWK("k2", &other.PublicKey),
		testutil.RSAJWK("k3", &other.PublicKey),
	)
	token := testutil.Bearer(testutil.SignRS256(t, key, "k1", testutil.Claims(f.clock.Now())))

	for i := 0; i < 20; i++ {
		require.True(t, f.validate(token).IsValid())
	}
	assert.Equal(t, 1, f.server.Fetches(), "requested key stays cached within its TTL")
}

func TestValidator_ConcurrentValidation(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	f := newValidatorFixture(t, Config{}, testutil.RSAJWK("k1", &key.PublicKey))
	token := testutil.Bearer(testutil.SignRS256(t, key, "k1", testutil.Claims(f.clock.Now())))

	var wg sync.WaitGroup
	results := make([]bool, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.validate(token).IsValid()
		}(i)
	}
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "validation %d", i)
	}
	assert.GreaterOrEqual(t, f.server.Fetches(), 1)
}

type recordingObserver struct {
	mu      sync.Mutex
	results []string
}

func (r *recordingObserver) RecordValidation(ctx context.Context, result string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func TestAuthenticator(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	server := testutil.NewKeySetServer(t, testutil.RSAJWK("k1", &key.PublicKey))
	observer := &recordingObserver{}
	auth := NewAuthenticator(NewValidator(Config{}), server.JWKSURL(), testutil.Audience, testutil.Issuer, observer)

	token := testutil.Bearer(testutil.SignRS256(t, key, "k1", testutil.Claims(time.Now())))

	decoded, err := auth.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "auth0|user-123", decoded.Subject)

	_, err = auth.ValidateToken(context.Background(), "Token abc")
	assert.ErrorIs(t, err, ErrMalformedHeader)

	assert.Equal(t, []string{"valid", "malformed_header"}, observer.results)
	assert.Equal(t, 1, auth.CacheStats().Size)
}
