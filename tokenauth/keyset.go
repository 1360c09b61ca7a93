package tokenauth

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"go.uber.org/zap"
)

var (
	// ErrJWKSFetchFailed is returned when JWKS fetching fails
	ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")
)

// maxKeySetBytes caps how much of a key set response is read
const maxKeySetBytes = 1 << 20

// VerificationKey is a public signing key published in a key set
type VerificationKey struct {
	KeyID     string
	Algorithm string // empty when the JWK does not pin an algorithm
	Key       crypto.PublicKey
}

// KeySet maps key IDs to verification keys
type KeySet map[string]VerificationKey

// KeySetFetcher retrieves the key set published at a URL
type KeySetFetcher interface {
	FetchKeySet(ctx context.Context, url string) (KeySet, error)
}

// HTTPKeySetFetcher fetches JWKS documents over HTTP
type HTTPKeySetFetcher struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPKeySetFetcher creates a fetcher. A nil client gets a 10 second timeout.
func NewHTTPKeySetFetcher(client *http.Client, logger *zap.Logger) *HTTPKeySetFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPKeySetFetcher{httpClient: client, logger: logger}
}

// FetchKeySet downloads and decodes the key set at url
func (f *HTTPKeySetFetcher) FetchKeySet(ctx context.Context, url string) (KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var raw jwkset.JWKSMarshal
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeySetBytes)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode JWKS: %v", ErrJWKSFetchFailed, err)
	}

	keys := ParseKeySet(raw, f.logger)
	f.logger.Debug("fetched key set",
		zap.String("url", url),
		zap.Int("published", len(raw.Keys)),
		zap.Int("usable", len(keys)),
	)

	return keys, nil
}

// ParseKeySet converts a JWKS document into verification keys.
// Keys without a kid, keys not meant for signatures and keys that fail
// validation are skipped rather than failing the whole set.
func ParseKeySet(raw jwkset.JWKSMarshal, logger *zap.Logger) KeySet {
	if logger == nil {
		logger = zap.NewNop()
	}

	keys := make(KeySet, len(raw.Keys))
	for _, m := range raw.Keys {
		if m.KID == "" {
			logger.Debug("skipping key without kid", zap.String("kty", string(m.KTY)))
			continue
		}
		if m.USE != "" && m.USE != jwkset.UseSig {
			logger.Debug("skipping non-signature key", zap.String("kid", m.KID), zap.String("use", string(m.USE)))
			continue
		}

		jwk, err := jwkset.NewJWKFromMarshal(m, jwkset.JWKMarshalOptions{}, jwkset.JWKValidateOptions{})
		if err != nil {
			logger.Warn("skipping unusable key", zap.String("kid", m.KID), zap.Error(err))
			continue
		}

		keys[m.KID] = VerificationKey{
			KeyID:     m.KID,
			Algorithm: string(m.ALG),
			Key:       jwk.Key(),
		}
	}

	return keys
}
