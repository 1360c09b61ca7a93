// Package tokenauth validates bearer JWTs against an issuer's published JWKS.
//
// A Validator owns an LRU+TTL cache of verification keys keyed by key set URL
// and key ID. A token naming an unknown key ID triggers a fresh fetch of the
// key set, so keys rotated in by the issuer are picked up on first use.
// Validation never returns a Go error; it returns an Outcome that either holds
// a DecodedToken or a ValidationError with one of the Reason constants.
package tokenauth
