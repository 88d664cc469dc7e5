package session

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"matchbase.io/internal/identity"
)

// CookieConfig describes the two session cookies.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	// Domain and Secure are only applied when Local is false.
	Domain  string
	Local   bool
	HashKey []byte
	MaxAge  time.Duration
}

// Cookies reads and writes the signed access/refresh cookies.
type Cookies struct {
	cfg   CookieConfig
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewCookies validates cfg and builds the cookie codec.
func NewCookies(cfg CookieConfig) (*Cookies, error) {
	if cfg.AccessName == "" || cfg.RefreshName == "" {
		return nil, errors.New("session: cookie names are required")
	}
	if cfg.AccessName == cfg.RefreshName {
		return nil, errors.New("session: cookie names must differ")
	}
	if len(cfg.HashKey) == 0 {
		return nil, errors.New("session: cookie hash key is required")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 400 * 24 * time.Hour
	}
	codec := securecookie.New(cfg.HashKey, nil)
	codec.MaxAge(int(cfg.MaxAge / time.Second))
	codec.SetSerializer(securecookie.JSONEncoder{})
	return &Cookies{cfg: cfg, codec: codec, now: time.Now}, nil
}

// AccessToken returns the verified access cookie value, or "".
func (c *Cookies) AccessToken(r *http.Request) string {
	return c.read(r, c.cfg.AccessName)
}

// RefreshToken returns the verified refresh cookie value, or "".
func (c *Cookies) RefreshToken(r *http.Request) string {
	return c.read(r, c.cfg.RefreshName)
}

func (c *Cookies) read(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil || ck.Value == "" {
		return ""
	}
	var value string
	if err := c.codec.Decode(name, ck.Value, &value); err != nil {
		return ""
	}
	return value
}

// Write overwrites both cookies with pair.
func (c *Cookies) Write(w http.ResponseWriter, pair identity.TokenPair) error {
	access, err := c.codec.Encode(c.cfg.AccessName, pair.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := c.codec.Encode(c.cfg.RefreshName, pair.RefreshToken)
	if err != nil {
		return err
	}
	expires := c.now().Add(c.cfg.MaxAge)
	http.SetCookie(w, c.cookie(c.cfg.AccessName, access, expires, int(c.cfg.MaxAge/time.Second)))
	http.SetCookie(w, c.cookie(c.cfg.RefreshName, refresh, expires, int(c.cfg.MaxAge/time.Second)))
	return nil
}

// Clear expires both cookies.
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(c.cfg.AccessName, "", time.Unix(0, 0), -1))
	http.SetCookie(w, c.cookie(c.cfg.RefreshName, "", time.Unix(0, 0), -1))
}

func (c *Cookies) cookie(name, value string, expires time.Time, maxAge int) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if !c.cfg.Local {
		ck.Domain = c.cfg.Domain
		ck.Secure = true
	}
	return ck
}
