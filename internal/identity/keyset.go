package identity

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

// KeySet resolves RSA public keys by key id.
type KeySet interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// ErrUnknownKey is returned when no key matches the token's kid.
var ErrUnknownKey = errors.New("identity: unknown signing key")

// StaticKeySet is a fixed kid → key map.
type StaticKeySet map[string]*rsa.PublicKey

func (s StaticKeySet) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := s[kid]; ok {
		return key, nil
	}
	return nil, ErrUnknownKey
}

// RemoteKeySet fetches a JSON document of the form {"<kid>": "<PEM>"} where
// each PEM is an X.509 certificate or a PKIX public key, and caches it.
type RemoteKeySet struct {
	url     string
	client  *http.Client
	refresh time.Duration
	// minRefetch bounds how often an unknown kid can trigger a fetch.
	minRefetch time.Duration
	now        func() time.Time
	group      singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	fetchedAt   time.Time
	attemptedAt time.Time
}

// NewRemoteKeySet builds a key set that refetches url after refresh, or when
// an unknown kid is seen and the last attempt is more than a minute old.
// Concurrent fetches are coalesced.
func NewRemoteKeySet(url string, client *http.Client, refresh time.Duration) *RemoteKeySet {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if refresh <= 0 {
		refresh = time.Hour
	}
	return &RemoteKeySet{url: url, client: client, refresh: refresh, minRefetch: time.Minute, now: time.Now}
}

func (r *RemoteKeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	r.mu.RLock()
	key, ok := r.keys[kid]
	now := r.now()
	stale := now.Sub(r.fetchedAt) > r.refresh
	throttled := now.Sub(r.attemptedAt) < r.minRefetch
	r.mu.RUnlock()
	if ok && !stale {
		return key, nil
	}
	if !ok && !stale && throttled {
		return nil, ErrUnknownKey
	}

	_, err, _ := r.group.Do("keys", func() (any, error) {
		return nil, r.fetch(ctx)
	})
	if err != nil {
		if ok {
			// Serve the cached key while the provider is unreachable.
			return key, nil
		}
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if key, ok := r.keys[kid]; ok {
		return key, nil
	}
	return nil, ErrUnknownKey
}

func (r *RemoteKeySet) fetch(ctx context.Context) error {
	r.mu.Lock()
	r.attemptedAt = r.now()
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("identity: build key request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity: fetch keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity: fetch keys: unexpected status %d", resp.StatusCode)
	}

	var doc map[string]string
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return fmt.Errorf("identity: decode keys: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc))
	for kid, pemData := range doc {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemData))
		if err != nil {
			return fmt.Errorf("identity: parse key %s: %w", kid, err)
		}
		keys[kid] = key
	}

	r.mu.Lock()
	r.keys = keys
	r.fetchedAt = r.now()
	r.mu.Unlock()
	return nil
}
