package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/eapp/internal/config"
	"github.com/pitabwire/eapp/internal/openapi"
	"github.com/pitabwire/eapp/model"
)

func testDeps() Dependencies {
	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Server.HandlerTimeout = 5 * time.Second
	return Dependencies{
		Config:      cfg,
		Intake:      &stubIntake{},
		Definitions: testCatalog(),
	}
}

func rejectAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		challenge(w, "", "rejected")
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_health(t *testing.T) {
	rec := get(NewRouter(testDeps()), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["schema_version"] != model.SchemaVersion {
		t.Errorf("health = %v", body)
	}
}

func TestRouter_readinessCountsCatalog(t *testing.T) {
	tests := []struct {
		name    string
		catalog DefinitionCatalog
		want    int
	}{
		{name: "products loaded", catalog: testCatalog(), want: http.StatusOK},
		{name: "empty catalog", catalog: &stubCatalog{}, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps()
			deps.Definitions = tt.catalog
			if rec := get(NewRouter(deps), "/ready"); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRouter_metricsEndpoint(t *testing.T) {
	deps := testDeps()
	if rec := get(NewRouter(deps), "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("enabled: status = %d, want 200", rec.Code)
	}

	deps.Config.Observability.Metrics.Enabled = false
	if rec := get(NewRouter(deps), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("disabled: status = %d, want 404", rec.Code)
	}
}

func TestRouter_apiRoutesRequireAuth(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = rejectAuth
	r := NewRouter(deps)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/products"},
		{http.MethodGet, "/v1/products/fia-7/definition"},
		{http.MethodPost, "/v1/products/fia-7/validate"},
		{http.MethodPost, "/v1/products/fia-7/preview"},
		{http.MethodPost, "/v1/products/fia-7/submit"},
		{http.MethodGet, "/v1/submissions/app-1"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		if rec := get(r, path); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200 without a token", path, rec.Code)
		}
	}
}

func TestRouter_producerOnlyRoutes(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = claimsAuth(map[string]any{"sub": "svc-reviewer"})
	r := NewRouter(deps)

	submit := httptest.NewRecorder()
	r.ServeHTTP(submit, httptest.NewRequest(http.MethodPost, "/v1/products/fia-7/submit", strings.NewReader(`{"answers":{}}`)))
	if submit.Code != http.StatusUnauthorized {
		t.Errorf("submit status = %d, want 401 without a producer claim", submit.Code)
	}
	if got := submit.Header().Get("WWW-Authenticate"); !strings.Contains(got, `error="invalid_token"`) {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	// Reading the catalog needs no producer.
	if rec := get(r, "/v1/products"); rec.Code != http.StatusOK {
		t.Errorf("products status = %d, want 200", rec.Code)
	}
}

func TestRouter_globalMiddlewareOnEveryRoute(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = claimsAuth(producerClaims())
	r := NewRouter(deps)

	for _, path := range []string{"/health", "/v1/products", "/v1/nope"} {
		rec := get(r, path)
		if rec.Header().Get(correlationHeader) == "" {
			t.Errorf("%s: missing correlation id", path)
		}
		if rec.Header().Get("X-Frame-Options") != "DENY" {
			t.Errorf("%s: missing security headers", path)
		}
	}
}

func TestRouter_authRunsOnlyForAPIRoutes(t *testing.T) {
	calls := 0
	deps := testDeps()
	deps.Authenticate = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			next.ServeHTTP(w, r)
		})
	}
	r := NewRouter(deps)

	get(r, "/health")
	get(r, "/ready")
	if calls != 0 {
		t.Errorf("public routes reached auth %d times", calls)
	}
	get(r, "/v1/products")
	if calls != 1 {
		t.Errorf("auth calls = %d, want 1", calls)
	}
}

func TestRouter_everyRouteDocumented(t *testing.T) {
	doc, err := openapi.Load()
	if err != nil {
		t.Fatalf("openapi.Load() error = %v", err)
	}
	deps := testDeps()
	deps.APIDoc = doc.Handler()
	r := NewRouter(deps)

	undocumented := map[string]bool{
		deps.Config.Observability.Metrics.Path: true,
		"/openapi.json":                        true,
	}
	err = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if undocumented[route] || method == http.MethodOptions {
			return nil
		}
		if _, ok := doc.Lookup(method, route); !ok {
			t.Errorf("%s %s has no operation in the API description", method, route)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("chi.Walk() error = %v", err)
	}
}

func TestRouter_apiDocIsPublic(t *testing.T) {
	doc, err := openapi.Load()
	if err != nil {
		t.Fatalf("openapi.Load() error = %v", err)
	}
	deps := testDeps()
	deps.Authenticate = rejectAuth
	deps.APIDoc = doc.Handler()

	if rec := get(NewRouter(deps), "/openapi.json"); rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
