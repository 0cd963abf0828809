// Package auth verifies Supabase-issued JWTs against a cached JWKS.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// FailureReason classifies why token verification failed. The WebSocket layer
// maps Expired to close code 4002 and everything else to 4001.
type FailureReason string

const (
	FailureMissing             FailureReason = "missing"
	FailureMalformed           FailureReason = "malformed"
	FailureAlgorithmNotAllowed FailureReason = "algorithm_not_allowed"
	FailureExpired             FailureReason = "expired"
	FailureSignatureInvalid    FailureReason = "signature_invalid"
)

// VerificationError carries the failure classification alongside the cause.
type VerificationError struct {
	Reason FailureReason
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// ReasonOf extracts the failure reason from an error chain.
// Unknown errors classify as signature_invalid.
func ReasonOf(err error) FailureReason {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return FailureSignatureInvalid
}

// Claims represents the JWT claims used for authentication.
// Supabase access tokens carry the user id in "sub" and set "aud" to "authenticated".
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier is the contract the WebSocket and HTTP layers depend on.
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// ExpectedAudience is the audience claim Supabase sets on user access tokens.
const ExpectedAudience = "authenticated"

// Only asymmetric algorithms are accepted. HS* and "none" are rejected before
// any key lookup so a stolen JWKS key id can never downgrade verification.
var allowedAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"ES256": true, "ES384": true, "ES512": true,
	"EdDSA": true,
}

func allowedAlgorithmList() []string {
	algs := make([]string, 0, len(allowedAlgorithms))
	for alg := range allowedAlgorithms {
		algs = append(algs, alg)
	}
	return algs
}

// Verifier validates JWTs using keys from a refreshing JWKS cache.
type Verifier struct {
	keyFunc  jwt.Keyfunc
	audience string
}

// NewVerifier creates a Verifier backed by a jwk.Cache registered on jwksURL.
// The cache refreshes every 5 minutes; the initial fetch is performed eagerly
// so startup fails fast when the JWKS endpoint is unreachable. Additional
// jwk.RegisterOption values may be supplied for testability.
func NewVerifier(ctx context.Context, jwksURL string, regOpts ...jwk.RegisterOption) (*Verifier, error) {
	cache := jwk.NewCache(ctx)

	opts := []jwk.RegisterOption{jwk.WithRefreshInterval(5 * time.Minute)}
	opts = append(opts, regOpts...)

	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL in cache: %w", err)
	}

	// Fetch the keys for the first time to ensure connectivity.
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("kid header not found")
		}

		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get keys from cache: %w", err)
		}

		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key with kid %s not found", kid)
		}

		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("failed to get raw public key: %w", err)
		}

		return pubKey, nil
	}

	return &Verifier{
		keyFunc:  keyFunc,
		audience: ExpectedAudience,
	}, nil
}

// Verify parses and validates a JWT token string. The signing algorithm is
// checked against the allow-list before the key function runs, and the
// audience must equal "authenticated".
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, &VerificationError{Reason: FailureMissing, Err: errors.New("no token provided")}
	}

	alg, err := peekAlgorithm(tokenString)
	if err != nil {
		return nil, &VerificationError{Reason: FailureMalformed, Err: err}
	}
	if !allowedAlgorithms[alg] {
		return nil, &VerificationError{
			Reason: FailureAlgorithmNotAllowed,
			Err:    fmt.Errorf("unexpected signing method: %s", alg),
		}
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc,
		jwt.WithValidMethods(allowedAlgorithmList()),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &VerificationError{Reason: FailureSignatureInvalid, Err: errors.New("token is invalid")}
	}
	if claims.Subject == "" {
		return nil, &VerificationError{Reason: FailureMalformed, Err: errors.New("token has no subject")}
	}

	return claims, nil
}

// peekAlgorithm decodes the JOSE header without verification to read "alg".
func peekAlgorithm(tokenString string) (string, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return "", errors.New("token contains an invalid number of segments")
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("failed to decode token header: %w", err)
	}

	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return "", fmt.Errorf("failed to parse token header: %w", err)
	}
	if header.Alg == "" {
		return "", errors.New("token header has no alg")
	}

	return header.Alg, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &VerificationError{Reason: FailureExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &VerificationError{Reason: FailureMalformed, Err: err}
	default:
		// Signature mismatch, unknown kid, audience mismatch, not-yet-valid.
		return &VerificationError{Reason: FailureSignatureInvalid, Err: err}
	}
}
