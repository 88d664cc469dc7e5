package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// RefreshExchanger performs the OAuth2 refresh_token grant against the
// provider's token endpoint.
type RefreshExchanger struct {
	conf   *oauth2.Config
	client *http.Client
}

// NewRefreshExchanger builds an exchanger for tokenURL. apiKey, when set, is
// appended as the "key" query parameter. timeout bounds each exchange.
func NewRefreshExchanger(tokenURL, apiKey string, timeout time.Duration) (*RefreshExchanger, error) {
	u, err := url.Parse(strings.TrimSpace(tokenURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("identity: invalid token url %q", tokenURL)
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("key", apiKey)
		u.RawQuery = q.Encode()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RefreshExchanger{
		conf: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  u.String(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: &http.Client{Timeout: timeout},
	}, nil
}

// ExchangeRefreshToken implements Exchanger.
func (e *RefreshExchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, errors.New("identity: refresh token is empty")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)

	tok, err := e.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return TokenPair{}, fmt.Errorf("identity: exchange refresh token: %w", err)
	}

	access := tok.AccessToken
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		access = idToken
	}
	if access == "" {
		return TokenPair{}, errors.New("identity: exchange returned no access token")
	}
	pair := TokenPair{AccessToken: access, RefreshToken: tok.RefreshToken}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	if uid, ok := tok.Extra("user_id").(string); ok && uid != "" {
		pair.SubjectID = uid
	} else if id, err := DecodeUnverified(access); err == nil {
		pair.SubjectID = id.SubjectID
	}
	if pair.SubjectID == "" {
		return TokenPair{}, errors.New("identity: exchange returned no subject")
	}
	return pair, nil
}

// DecodeUnverified reads the subject from a token without checking its
// signature or expiry. Only the local emulator path may rely on it for
// authentication.
func DecodeUnverified(raw string) (Identity, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return Identity{}, &VerifyError{Code: CodeInvalidArgument, Err: err}
	}
	sub := claims.subject()
	if sub == "" {
		return Identity{}, &VerifyError{Code: CodeInvalid, Err: errors.New("subject missing")}
	}
	id := Identity{SubjectID: sub, Email: claims.Email}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// EmulatorToken builds an unsigned token of the kind the local auth emulator
// hands out.
func EmulatorToken(subject, email string, expiresAt time.Time) (string, error) {
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
}

// ErrExchangeUnavailable is returned by NoExchanger.
var ErrExchangeUnavailable = errors.New("identity: refresh exchange is not configured")

// NoExchanger rejects every refresh. It stands in for the provider when no
// token endpoint is configured, so expired sessions end in a fresh sign-in.
type NoExchanger struct{}

func (NoExchanger) ExchangeRefreshToken(context.Context, string) (TokenPair, error) {
	return TokenPair{}, ErrExchangeUnavailable
}
