package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"maps"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testKeyID = "eapp-it-1"

// TestClaims describes the caller a test token speaks for.
type TestClaims struct {
	SubjectID  string
	ProducerID string
	// Extra is merged last and can override any standard claim.
	Extra map[string]any
}

// tokenIssuer plays the identity provider: it signs RS256 tokens and serves
// the matching key set.
type tokenIssuer struct {
	key      *rsa.PrivateKey
	jwks     *httptest.Server
	issuer   string
	audience string
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	set, err := json.Marshal(map[string]any{"keys": []map[string]string{{
		"kid": testKeyID,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}})
	if err != nil {
		t.Fatalf("encode key set: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(set)
	}))
	t.Cleanup(srv.Close)

	return &tokenIssuer{
		key:      key,
		jwks:     srv,
		issuer:   "https://auth.test.eapp.dev",
		audience: "eapp-test",
	}
}

// GenerateToken signs a token valid for the next hour.
func (ti *tokenIssuer) GenerateToken(c TestClaims) string {
	return ti.sign(ti.claims(c, time.Now(), time.Hour))
}

// GenerateExpiredToken signs a token that expired an hour ago, well past
// the verifier's clock leeway.
func (ti *tokenIssuer) GenerateExpiredToken(c TestClaims) string {
	return ti.sign(ti.claims(c, time.Now().Add(-2*time.Hour), time.Hour))
}

func (ti *tokenIssuer) claims(c TestClaims, issuedAt time.Time, ttl time.Duration) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iss": ti.issuer,
		"aud": ti.audience,
		"sub": c.SubjectID,
		"iat": jwt.NewNumericDate(issuedAt),
		"exp": jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	if c.ProducerID != "" {
		claims["producer_id"] = c.ProducerID
	}
	maps.Copy(claims, c.Extra)
	return claims
}

func (ti *tokenIssuer) sign(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(ti.key)
	if err != nil {
		panic("integration: sign token: " + err.Error())
	}
	return signed
}

func (ti *tokenIssuer) JWKSURL() string  { return ti.jwks.URL }
func (ti *tokenIssuer) Issuer() string   { return ti.issuer }
func (ti *tokenIssuer) Audience() string { return ti.audience }
