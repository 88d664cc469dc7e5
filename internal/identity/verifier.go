package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier verifies provider tokens locally. RS256 tokens are checked
// against a KeySet selected by the "kid" header, HS256 tokens against a
// shared secret.
type JWTVerifier struct {
	keys     KeySet
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// VerifierOption configures a JWTVerifier.
type VerifierOption func(*JWTVerifier) error

// WithKeySet enables RS256 verification.
func WithKeySet(keys KeySet) VerifierOption {
	return func(v *JWTVerifier) error {
		v.keys = keys
		return nil
	}
}

// WithHMACSecret enables HS256 verification.
func WithHMACSecret(secret string) VerifierOption {
	return func(v *JWTVerifier) error {
		if strings.TrimSpace(secret) == "" {
			return nil
		}
		v.secret = []byte(secret)
		return nil
	}
}

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) VerifierOption {
	return func(v *JWTVerifier) error {
		v.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) VerifierOption {
	return func(v *JWTVerifier) error {
		v.audience = strings.TrimSpace(audience)
		return nil
	}
}

// WithLeeway tolerates clock skew on exp/iat/nbf.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *JWTVerifier) error {
		if d < 0 {
			return errors.New("identity: leeway must not be negative")
		}
		v.leeway = d
		return nil
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *JWTVerifier) error {
		if fn != nil {
			v.now = fn
		}
		return nil
	}
}

// NewJWTVerifier builds a verifier. At least one of WithKeySet or
// WithHMACSecret must be supplied.
func NewJWTVerifier(opts ...VerifierOption) (*JWTVerifier, error) {
	v := &JWTVerifier{now: time.Now, leeway: 5 * time.Second}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	if v.keys == nil && len(v.secret) == 0 {
		return nil, errors.New("identity: no verification key configured")
	}
	return v, nil
}

func (v *JWTVerifier) methods() []string {
	var out []string
	if v.keys != nil {
		out = append(out, jwt.SigningMethodRS256.Alg())
	}
	if len(v.secret) > 0 {
		out = append(out, jwt.SigningMethodHS256.Alg())
	}
	return out
}

// VerifyAccessToken implements Verifier.
func (v *JWTVerifier) VerifyAccessToken(ctx context.Context, raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, &VerifyError{Code: CodeInvalidArgument, Err: errors.New("empty token")}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.(type) {
		case *jwt.SigningMethodRSA:
			kid, _ := t.Header["kid"].(string)
			return v.keys.Key(ctx, kid)
		case *jwt.SigningMethodHMAC:
			return v.secret, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
	}, opts...)
	if err != nil {
		return Identity{}, classify(err)
	}

	sub := claims.subject()
	if strings.TrimSpace(sub) == "" {
		return Identity{}, &VerifyError{Code: CodeInvalid, Err: errors.New("subject missing")}
	}
	id := Identity{SubjectID: sub, Email: claims.Email}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &VerifyError{Code: CodeExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &VerifyError{Code: CodeInvalidArgument, Err: err}
	default:
		return &VerifyError{Code: CodeInvalid, Err: err}
	}
}
