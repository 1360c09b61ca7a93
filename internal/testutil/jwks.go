// Package testutil provides signing keys, a JWKS server and token helpers for tests
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	// Issuer is the issuer used by test tokens
	Issuer = "https://issuer.example.com/"

	// Audience is the audience used by test tokens
	Audience = "https://api.example.com"
)

// GenerateRSAKey generates an RSA key pair
func GenerateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// GenerateECKey generates a P-256 key pair
func GenerateECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// RSAJWK renders an RSA public key as a JWK
func RSAJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"use": "sig",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// ECJWK renders a P-256 public key as a JWK
func ECJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kty": "EC",
		"kid": kid,
		"use": "sig",
		"alg": "ES256",
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, 32))),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, 32))),
	}
}

// KeySetServer is a JWKS endpoint whose contents and availability can change during a test
type KeySetServer struct {
	*httptest.Server

	mu      sync.Mutex
	keys    []map[string]any
	status  int
	fetches atomic.Int32
}

// NewKeySetServer starts a JWKS server publishing keys
func NewKeySetServer(t *testing.T, keys ...map[string]any) *KeySetServer {
	t.Helper()

	s := &KeySetServer{keys: keys, status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)

		s.mu.Lock()
		status := s.status
		body := map[string]any{"keys": s.keys}
		s.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "unavailable", status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(s.Close)

	return s
}

// JWKSURL returns the JWKS endpoint URL
func (s *KeySetServer) JWKSURL() string {
	return s.Server.URL + "/.well-known/jwks.json"
}

// SetKeys replaces the published keys
func (s *KeySetServer) SetKeys(keys ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

// SetStatus makes the server answer with status; anything but 200 fails the fetch
func (s *KeySetServer) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Fetches returns how many times the key set was requested
func (s *KeySetServer) Fetches() int {
	return int(s.fetches.Load())
}

// Claims returns a valid claim set for the test issuer and audience
func Claims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": Issuer,
		"aud": Audience,
		"sub": "auth0|user-123",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// SignRS256 signs claims with key and sets the kid header
func SignRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	return sign(t, jwt.SigningMethodRS256, key, kid, claims)
}

// SignES256 signs claims with key and sets the kid header
func SignES256(t *testing.T, key *ecdsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	return sign(t, jwt.SigningMethodES256, key, kid, claims)
}

func sign(t *testing.T, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// Bearer formats a token as an Authorization header value
func Bearer(token string) string {
	return "Bearer " + token
}

// Clock is a manually advanced clock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at now
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
