package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pitabwire/eapp/internal/config"
)

// --- test helpers ---

func generateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func generateECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func rsaKeyToJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func ecKeyToJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": "P-256",
		"use": "sig",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}
}

// jwksServer serves a key set and counts fetches. Setting fail makes it
// answer 503.
type jwksServer struct {
	*httptest.Server
	fetches atomic.Int32
	fail    atomic.Bool
}

func startJWKSServer(t *testing.T, keys ...map[string]any) *jwksServer {
	t.Helper()
	s := &jwksServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.fetches.Add(1)
		if s.fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(s.Close)
	return s
}

func signJWT(t *testing.T, key any, method jwt.SigningMethod, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func testIdentityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.example.com",
		Audience:   "eapp-api",
		Algorithms: []string{"RS256", "ES256"},
	}
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":         "user-1",
		"producer_id": "agent-7",
		"iss":         "https://auth.example.com",
		"aud":         "eapp-api",
		"exp":         jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":         jwt.NewNumericDate(time.Now()),
	}
}

// --- JWKSClient ---

func TestJWKSClient_Key_RSA(t *testing.T) {
	rsaKey := generateRSAKey(t)
	srv := startJWKSServer(t, rsaKeyToJWK("rsa-key-1", &rsaKey.PublicKey))

	key, err := NewJWKSClient(srv.URL, time.Hour, nil).Key(context.Background(), "rsa-key-1")
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *rsa.PublicKey", key)
	}
	if !pub.Equal(&rsaKey.PublicKey) {
		t.Error("RSA key mismatch")
	}
}

func TestJWKSClient_Key_EC(t *testing.T) {
	ecKey := generateECKey(t)
	srv := startJWKSServer(t, ecKeyToJWK("ec-key-1", &ecKey.PublicKey))

	key, err := NewJWKSClient(srv.URL, time.Hour, nil).Key(context.Background(), "ec-key-1")
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("key type = %T, want *ecdsa.PublicKey", key)
	}
	if !pub.Equal(&ecKey.PublicKey) {
		t.Error("EC key mismatch")
	}
}

func TestJWKSClient_Key_skipsUnusableKeys(t *testing.T) {
	rsaKey := generateRSAKey(t)
	enc := rsaKeyToJWK("enc-key", &rsaKey.PublicKey)
	enc["use"] = "enc"
	badCurve := map[string]any{"kid": "odd-curve", "kty": "EC", "crv": "P-192", "x": "AA", "y": "AA"}
	oct := map[string]any{"kid": "hmac", "kty": "oct", "k": "c2VjcmV0"}
	srv := startJWKSServer(t, enc, badCurve, oct, rsaKeyToJWK("sig-key", &rsaKey.PublicKey))

	client := NewJWKSClient(srv.URL, time.Hour, nil)
	client.minRefresh = 0
	ctx := context.Background()

	if _, err := client.Key(ctx, "sig-key"); err != nil {
		t.Fatalf("Key(sig-key): %v", err)
	}
	for _, kid := range []string{"enc-key", "odd-curve", "hmac"} {
		if _, err := client.Key(ctx, kid); err == nil {
			t.Errorf("Key(%s) should fail", kid)
		}
	}
}

func TestJWKSClient_Key_unknown(t *testing.T) {
	srv := startJWKSServer(t)
	if _, err := NewJWKSClient(srv.URL, time.Hour, nil).Key(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestJWKSClient_cachesWithinTTL(t *testing.T) {
	rsaKey := generateRSAKey(t)
	srv := startJWKSServer(t, rsaKeyToJWK("cached-key", &rsaKey.PublicKey))

	client := NewJWKSClient(srv.URL, time.Hour, nil)
	client.minRefresh = 0
	for range 3 {
		if _, err := client.Key(context.Background(), "cached-key"); err != nil {
			t.Fatalf("Key: %v", err)
		}
	}
	if n := srv.fetches.Load(); n != 1 {
		t.Errorf("fetched %d times, want 1", n)
	}
}

func TestJWKSClient_concurrentMissesShareFetch(t *testing.T) {
	rsaKey := generateRSAKey(t)
	srv := startJWKSServer(t, rsaKeyToJWK("k", &rsaKey.PublicKey))
	client := NewJWKSClient(srv.URL, time.Hour, nil)

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			if _, err := client.Key(context.Background(), "k"); err != nil {
				t.Errorf("Key: %v", err)
			}
		})
	}
	wg.Wait()

	// Callers arriving after the first fetch completes hit the cache.
	if n := srv.fetches.Load(); n > 2 {
		t.Errorf("fetched %d times for 16 concurrent misses", n)
	}
}

func TestJWKSClient_servesStaleKeyWhenRefreshFails(t *testing.T) {
	rsaKey := generateRSAKey(t)
	srv := startJWKSServer(t, rsaKeyToJWK("k", &rsaKey.PublicKey))

	client := NewJWKSClient(srv.URL, time.Nanosecond, nil)
	client.minRefresh = 0
	ctx := context.Background()
	if _, err := client.Key(ctx, "k"); err != nil {
		t.Fatalf("Key: %v", err)
	}

	srv.fail.Store(true)
	time.Sleep(time.Millisecond)
	if _, err := client.Key(ctx, "k"); err != nil {
		t.Errorf("Key after failed refresh = %v, want cached key", err)
	}
	if _, err := client.Key(ctx, "other"); err == nil {
		t.Error("Key for an uncached kid should fail while the provider is down")
	}
}

func TestJWKSClient_HealthCheck(t *testing.T) {
	srv := startJWKSServer(t, rsaKeyToJWK("k", &generateRSAKey(t).PublicKey))
	if err := NewJWKSClient(srv.URL, time.Hour, nil).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	srv.fail.Store(true)
	if err := NewJWKSClient(srv.URL, time.Hour, nil).HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when no keys can be loaded")
	}
}

// --- JWTAuthenticator ---

func serveWithToken(t *testing.T, cfg config.IdentityConfig, keys KeyResolver, header string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var seen map[string]any
	handler := JWTAuthenticator(cfg, keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/products", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestJWTAuthenticator_acceptsValidTokens(t *testing.T) {
	rsaKey := generateRSAKey(t)
	ecKey := generateECKey(t)
	srv := startJWKSServer(t,
		rsaKeyToJWK("rsa", &rsaKey.PublicKey),
		ecKeyToJWK("ec", &ecKey.PublicKey),
	)
	keys := NewJWKSClient(srv.URL, time.Hour, nil)

	withinLeeway := validClaims()
	withinLeeway["exp"] = jwt.NewNumericDate(time.Now().Add(-15 * time.Second))

	tests := []struct {
		name   string
		header string
	}{
		{"RS256", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa", validClaims())},
		{"ES256", "Bearer " + signJWT(t, ecKey, jwt.SigningMethodES256, "ec", validClaims())},
		{"lowercase scheme", "bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa", validClaims())},
		{"expired within clock leeway", "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "rsa", withinLeeway)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, claims := serveWithToken(t, testIdentityCfg(), keys, tt.header)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if claims["sub"] != "user-1" || claims["producer_id"] != "agent-7" {
				t.Errorf("claims = %v", claims)
			}
		})
	}
}

func TestJWTAuthenticator_rejects(t *testing.T) {
	rsaKey := generateRSAKey(t)
	otherKey := generateRSAKey(t)
	srv := startJWKSServer(t, rsaKeyToJWK("test-key", &rsaKey.PublicKey))
	keys := NewJWKSClient(srv.URL, time.Hour, nil)
	keys.minRefresh = 0

	with := func(mutate func(jwt.MapClaims)) jwt.MapClaims {
		c := validClaims()
		mutate(c)
		return c
	}
	sign := func(c jwt.MapClaims) string {
		return "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "test-key", c)
	}

	tests := []struct {
		name        string
		cfg         func(*config.IdentityConfig)
		header      string
		wantMessage string
		wantInvalid bool
	}{
		{name: "no header", header: "", wantMessage: "Missing bearer token"},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantMessage: "Missing bearer token"},
		{name: "empty bearer", header: "Bearer   ", wantMessage: "Missing bearer token"},
		{
			name:        "expired",
			header:      sign(with(func(c jwt.MapClaims) { c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour)) })),
			wantMessage: "Token expired",
			wantInvalid: true,
		},
		{
			name:        "missing exp",
			header:      sign(with(func(c jwt.MapClaims) { delete(c, "exp") })),
			wantMessage: "Token is missing a required claim",
			wantInvalid: true,
		},
		{
			name:        "wrong issuer",
			header:      sign(with(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" })),
			wantMessage: "Invalid token issuer",
			wantInvalid: true,
		},
		{
			name:        "wrong audience",
			header:      sign(with(func(c jwt.MapClaims) { c["aud"] = "wrong-audience" })),
			wantMessage: "Invalid token audience",
			wantInvalid: true,
		},
		{
			name:        "disallowed algorithm",
			cfg:         func(c *config.IdentityConfig) { c.Algorithms = []string{"ES256"} },
			header:      sign(validClaims()),
			wantInvalid: true,
		},
		{
			name:        "foreign signature",
			header:      "Bearer " + signJWT(t, otherKey, jwt.SigningMethodRS256, "test-key", validClaims()),
			wantMessage: "Invalid token signature",
			wantInvalid: true,
		},
		{
			name:        "unknown kid",
			header:      "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "unknown-key", validClaims()),
			wantMessage: "Token cannot be verified",
			wantInvalid: true,
		},
		{
			name:        "no kid",
			header:      "Bearer " + signJWT(t, rsaKey, jwt.SigningMethodRS256, "", validClaims()),
			wantMessage: "Token cannot be verified",
			wantInvalid: true,
		},
		{
			name:        "garbage",
			header:      "Bearer not.a.valid.jwt.token",
			wantMessage: "Malformed token",
			wantInvalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testIdentityCfg()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			rec, claims := serveWithToken(t, cfg, keys, tt.header)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if claims != nil {
				t.Error("handler must not run")
			}
			challenge := rec.Header().Get("WWW-Authenticate")
			if !strings.HasPrefix(challenge, `Bearer realm="eapp"`) {
				t.Errorf("WWW-Authenticate = %q", challenge)
			}
			if got := strings.Contains(challenge, `error="invalid_token"`); got != tt.wantInvalid {
				t.Errorf("invalid_token in challenge = %v, want %v", got, tt.wantInvalid)
			}

			var body struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != "UNAUTHORIZED" {
				t.Errorf("code = %q", body.Error.Code)
			}
			if tt.wantMessage != "" && body.Error.Message != tt.wantMessage {
				t.Errorf("message = %q, want %q", body.Error.Message, tt.wantMessage)
			}
		})
	}
}
