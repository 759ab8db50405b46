package transport

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/eapp/internal/config"
	"github.com/pitabwire/eapp/model"
)

const (
	jwksMaxBytes     = 1 << 20
	jwksMinRefresh   = 5 * time.Minute
	tokenClockLeeway = 30 * time.Second
)

// JWKSClient resolves token signing keys from the identity provider's JSON
// Web Key Set. Keys are cached for a TTL; concurrent misses share one fetch,
// and a failed refresh falls back to the last good set.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	fetches    singleflight.Group

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time
}

// NewJWKSClient returns a client for the key set at url. A nil logger
// discards output.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: jwksMinRefresh,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		keys:       map[string]crypto.PublicKey{},
	}
}

func (c *JWKSClient) cached(kid string) (crypto.PublicKey, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok, time.Since(c.fetchedAt) <= c.ttl
}

// Key returns the public key with the given key id.
func (c *JWKSClient) Key(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, ok, fresh := c.cached(kid)
	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		if key, ok, _ := c.cached(kid); ok {
			c.logger.Warn("jwks refresh failed, serving cached key",
				zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks: %w", err)
	}

	if key, ok, _ = c.cached(kid); !ok {
		return nil, fmt.Errorf("jwks: unknown signing key %q", kid)
	}
	return key, nil
}

// HealthCheck reports whether the key set can be served.
func (c *JWKSClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	n := len(c.keys)
	c.mu.RUnlock()
	if n > 0 {
		return nil
	}
	return c.refresh(ctx)
}

func (c *JWKSClient) refresh(ctx context.Context) error {
	c.mu.RLock()
	throttled := len(c.keys) > 0 && time.Since(c.fetchedAt) < c.minRefresh
	c.mu.RUnlock()
	if throttled {
		return nil
	}

	_, err, _ := c.fetches.Do(c.url, func() (any, error) {
		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.keys = keys
		c.fetchedAt = time.Now()
		c.mu.Unlock()
		c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)))
		return nil, nil
	})
	return err
}

// jsonWebKey holds the members of RFC 7517 keys that verification needs.
type jsonWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (c *JWKSClient) fetch(ctx context.Context) (map[string]crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.url)
	}

	var set struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, jwksMaxBytes)).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kid == "" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		key, err := jwk.publicKey()
		if err != nil {
			c.logger.Warn("jwks key skipped", zap.String("kid", jwk.Kid), zap.Error(err))
			continue
		}
		if key != nil {
			keys[jwk.Kid] = key
		}
	}
	return keys, nil
}

// publicKey decodes RSA and EC keys. Other key types yield nil.
func (k jsonWebKey) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := b64Int(k.N, "n")
		if err != nil {
			return nil, err
		}
		e, err := b64Int(k.E, "e")
		if err != nil {
			return nil, err
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := b64Int(k.X, "x")
		if err != nil {
			return nil, err
		}
		y, err := b64Int(k.Y, "y")
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, nil
	}
}

func b64Int(s, member string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", member)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", member, err)
	}
	return new(big.Int).SetBytes(b), nil
}

// KeyResolver resolves signing keys by key id.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// JWTAuthenticator returns middleware that requires a bearer token signed by
// the identity provider and issued for this API. Verified claims are stored
// in the request context; failures answer 401 with a WWW-Authenticate
// challenge.
func JWTAuthenticator(cfg config.IdentityConfig, keys KeyResolver) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(tokenClockLeeway),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				challenge(w, "", "Missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				kid, _ := t.Header["kid"].(string)
				if kid == "" {
					return nil, errMissingKid
				}
				return keys.Key(r.Context(), kid)
			})
			if err != nil {
				challenge(w, "invalid_token", describeTokenError(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), map[string]any(claims))))
		})
	}
}

var errMissingKid = errors.New("token header has no kid")

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func challenge(w http.ResponseWriter, code, msg string) {
	value := `Bearer realm="eapp"`
	if code != "" {
		value += `, error="` + code + `"`
	}
	w.Header().Set("WWW-Authenticate", value)
	WriteError(w, model.NewUnauthorizedError(msg))
}

func describeTokenError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token is missing a required claim"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "Token not valid yet"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// Key lookup failures land here.
		return "Token cannot be verified"
	default:
		return "Invalid token"
	}
}
