package auth

import (
	"chat-relay/errors"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const jwksFetchTimeout = 5 * time.Second

var _ KeySource = (*JWKSKeys)(nil)

// JWKSKeys resolves RS256 keys by kid from a JSON Web Key Set endpoint.
// Keys are cached for ttl; an unknown kid triggers a refresh, at most one per refreshEvery.
type JWKSKeys struct {
	url     string
	client  *http.Client
	ttl     time.Duration
	limiter *rate.Limiter
	log     *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewJWKSKeys(url string, ttl time.Duration, client *http.Client, log *slog.Logger) *JWKSKeys {
	if client == nil {
		client = &http.Client{Timeout: jwksFetchTimeout}
	}
	return &JWKSKeys{
		url:     url,
		client:  client,
		ttl:     ttl,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
		log:     log,
		now:     time.Now,
		keys:    make(map[string]*rsa.PublicKey),
	}
}

func (j *JWKSKeys) Methods() []string {
	return []string{jwt.SigningMethodRS256.Alg()}
}

func (j *JWKSKeys) Key(ctx context.Context, token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token has no kid")
	}
	if key, fresh := j.lookup(kid); key != nil && fresh {
		return key, nil
	}
	refreshErr := j.refresh(ctx)
	if refreshErr != nil {
		j.log.Warn("JWKS refresh failed", "url", j.url, "error", refreshErr)
	}
	if key, _ := j.lookup(kid); key != nil {
		return key, nil
	}
	if refreshErr != nil {
		// The key may well exist: the provider could not be asked.
		return nil, errors.Transient("fetch jwks", refreshErr)
	}
	return nil, fmt.Errorf("unknown kid %q", kid)
}

func (j *JWKSKeys) lookup(kid string) (*rsa.PublicKey, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.keys[kid], j.now().Sub(j.fetchedAt) < j.ttl
}

// refresh replaces the cached key set. Calls beyond the rate limit are skipped.
func (j *JWKSKeys) refresh(ctx context.Context) error {
	j.mu.RLock()
	stale := j.now().Sub(j.fetchedAt) >= j.ttl
	j.mu.RUnlock()
	if !stale && !j.limiter.Allow() {
		return nil
	}

	keys, err := j.fetch(ctx)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.keys = keys
	j.fetchedAt = j.now()
	j.mu.Unlock()
	j.log.Debug("JWKS refreshed", "url", j.url, "keys", len(keys))
	return nil
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (j *JWKSKeys) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := j.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		key, err := parseRSAKey(k)
		if err != nil {
			j.log.Warn("Skipping unusable JWK", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = key
	}
	return keys, nil
}

func parseRSAKey(k jsonWebKey) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exponent := new(big.Int).SetBytes(e)
	if !exponent.IsInt64() || exponent.Int64() < 3 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exponent.Int64())}, nil
}
