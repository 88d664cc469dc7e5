// Package session authenticates inbound requests from the session cookies
// or a bearer header, transparently refreshing expired access tokens.
package session

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"matchbase.io/internal/apperr"
	"matchbase.io/internal/audit"
	"matchbase.io/internal/auth"
	"matchbase.io/internal/identity"
	"matchbase.io/internal/obs"
)

var (
	ErrNoToken      = apperr.New(apperr.KindUnauthorized, apperr.ComponentSession, 1, "auth.no_token", "no access token")
	ErrInvalidToken = apperr.New(apperr.KindUnauthorized, apperr.ComponentSession, 2, "auth.invalid_token", "invalid access token")
	ErrExpiredToken = apperr.New(apperr.KindUnauthorized, apperr.ComponentSession, 3, "auth.expired_token", "access token expired")
)

// Guard holds only immutable collaborators; a request never observes state
// written by another request.
type Guard struct {
	verifier  identity.Verifier
	exchanger identity.Exchanger
	cookies   *Cookies
	emulator  bool
	logger    *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithEmulator enables the unverified decode path used against the local
// identity emulator.
func WithEmulator(enabled bool) GuardOption {
	return func(g *Guard) { g.emulator = enabled }
}

// WithLogger sets the guard's logger.
func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

func NewGuard(verifier identity.Verifier, exchanger identity.Exchanger, cookies *Cookies, opts ...GuardOption) *Guard {
	g := &Guard{
		verifier:  verifier,
		exchanger: exchanger,
		cookies:   cookies,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate resolves the caller's subject id. Cookies are written to w
// only when an expired access token was successfully refreshed.
func (g *Guard) Authenticate(w http.ResponseWriter, r *http.Request) (string, error) {
	ctx := r.Context()

	access := g.cookies.AccessToken(r)
	if access == "" {
		access = bearerToken(r.Header.Get("Authorization"))
	}
	if access == "" {
		return "", ErrNoToken
	}

	id, err := g.verifier.VerifyAccessToken(ctx, access)
	if err == nil {
		return id.SubjectID, nil
	}

	if g.emulator {
		emu, derr := identity.DecodeUnverified(access)
		if derr != nil {
			return "", ErrInvalidToken.Wrapf(derr)
		}
		g.logger.Debug("session: emulator token accepted", zap.String("subject_id", emu.SubjectID))
		return emu.SubjectID, nil
	}

	refresh := g.cookies.RefreshToken(r)
	if refresh == "" {
		return "", ErrExpiredToken.Wrapf(err)
	}

	// Only expiry is recoverable; malformed and revoked tokens are not refreshed.
	if identity.CodeOf(err) != identity.CodeExpired {
		return "", ErrInvalidToken.Wrapf(err)
	}
	return g.refresh(ctx, w, refresh)
}

func (g *Guard) refresh(ctx context.Context, w http.ResponseWriter, refreshToken string) (string, error) {
	pair, err := g.exchanger.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		obs.ObserveSessionRefresh("failed")
		g.logger.Info("session: refresh exchange failed", zap.Error(err))
		return "", ErrExpiredToken.Wrapf(err)
	}
	if err := g.cookies.Write(w, pair); err != nil {
		obs.ObserveSessionRefresh("failed")
		return "", apperr.Internal(err)
	}
	obs.ObserveSessionRefresh("ok")
	_ = audit.LogEvent(auth.ContextWithSubject(ctx, pair.SubjectID), "session.refreshed", nil)
	return pair.SubjectID, nil
}

// Middleware runs Authenticate before next and attaches the subject id to
// the request context. On failure onError writes the response and next is
// not called.
func (g *Guard) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := g.Authenticate(w, r)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithSubject(r.Context(), subject)))
		})
	}
}

// Establish stores a provider-issued pair in the session cookies after
// verifying the access token. It backs the sign-in handoff from the client.
func (g *Guard) Establish(ctx context.Context, w http.ResponseWriter, pair identity.TokenPair) (string, error) {
	if pair.AccessToken == "" {
		return "", ErrNoToken
	}
	id, err := g.verifier.VerifyAccessToken(ctx, pair.AccessToken)
	if err != nil {
		if !g.emulator {
			if identity.CodeOf(err) == identity.CodeExpired {
				return "", ErrExpiredToken.Wrapf(err)
			}
			return "", ErrInvalidToken.Wrapf(err)
		}
		id, err = identity.DecodeUnverified(pair.AccessToken)
		if err != nil {
			return "", ErrInvalidToken.Wrapf(err)
		}
	}
	pair.SubjectID = id.SubjectID
	if err := g.cookies.Write(w, pair); err != nil {
		return "", apperr.Internal(err)
	}
	_ = audit.LogEvent(auth.ContextWithSubject(ctx, id.SubjectID), "session.established", nil)
	return id.SubjectID, nil
}

// Cookies exposes the guard's cookie codec to the session endpoints.
func (g *Guard) Cookies() *Cookies { return g.cookies }

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
