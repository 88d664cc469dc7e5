// Package identity talks to the external identity provider: it verifies
// access tokens and exchanges refresh tokens for a new pair. It never mints
// production tokens itself.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Code classifies a verification failure.
type Code string

const (
	CodeExpired         Code = "token-expired"
	CodeInvalidArgument Code = "invalid-argument"
	CodeInvalid         Code = "invalid-token"
)

// VerifyError is returned by Verifier implementations.
type VerifyError struct {
	Code Code
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("identity: %s", e.Code)
	}
	return fmt.Sprintf("identity: %s: %v", e.Code, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// CodeOf returns the verification code carried by err. Errors that do not
// come from a verifier are treated as CodeInvalid.
func CodeOf(err error) Code {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return CodeInvalid
}

// Identity is what a verified access token tells us about the caller.
type Identity struct {
	SubjectID string
	Email     string
	ExpiresAt time.Time
}

// TokenPair is the result of a refresh exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	SubjectID    string
}

// Verifier checks signature, expiry and issuer of an access token.
type Verifier interface {
	VerifyAccessToken(ctx context.Context, token string) (Identity, error)
}

// Exchanger trades a refresh token for a fresh token pair.
type Exchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (TokenPair, error)
}

// Claims is the provider's access token payload.
type Claims struct {
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) subject() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}
