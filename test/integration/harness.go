// Package integration runs eapp end to end: the real router and intake
// pipeline over in-memory stores, authenticated by a throwaway JWT issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pitabwire/eapp/internal/condition"
	"github.com/pitabwire/eapp/internal/config"
	"github.com/pitabwire/eapp/internal/definition"
	"github.com/pitabwire/eapp/internal/events"
	"github.com/pitabwire/eapp/internal/intake"
	"github.com/pitabwire/eapp/internal/observability"
	"github.com/pitabwire/eapp/internal/sealing"
	"github.com/pitabwire/eapp/internal/store"
	"github.com/pitabwire/eapp/internal/submission"
	"github.com/pitabwire/eapp/internal/transform"
	"github.com/pitabwire/eapp/internal/transport"
	"github.com/pitabwire/eapp/internal/validation"
)

// TestHarness is one running eapp instance. Its stores are exported so
// tests can look behind the API.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	client *http.Client
	issuer *tokenIssuer

	Registry         *definition.Registry
	SubmissionStore  *store.MemorySubmissionStore
	IdempotencyStore *intake.MemoryIdempotencyStore
	Publisher        *RecordingPublisher
	Metrics          *observability.Metrics
}

type harnessOptions struct {
	definitionDirs []string
	idempotent     bool
	maxBodyBytes   int64
}

type HarnessOption func(*harnessOptions)

// WithDefinitions loads definitions from dirs instead of testdata.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(o *harnessOptions) { o.definitionDirs = dirs }
}

// WithoutIdempotency runs submits with no idempotency store.
func WithoutIdempotency() HarnessOption {
	return func(o *harnessOptions) { o.idempotent = false }
}

func WithMaxBodyBytes(n int64) HarnessOption {
	return func(o *harnessOptions) { o.maxBodyBytes = n }
}

// RecordingPublisher keeps every event it is handed.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []events.SubmittedEvent
}

func (p *RecordingPublisher) Publish(_ context.Context, e events.SubmittedEvent) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *RecordingPublisher) Events() []events.SubmittedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.SubmittedEvent(nil), p.events...)
}

// NewTestHarness starts a server that is closed when t finishes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	o := harnessOptions{
		definitionDirs: []string{filepath.Join(testdataDir(), "definitions")},
		idempotent:     true,
		maxBodyBytes:   1 << 20,
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := &TestHarness{
		t:                t,
		client:           &http.Client{Timeout: 10 * time.Second},
		issuer:           newTokenIssuer(t),
		SubmissionStore:  store.NewMemorySubmissionStore(),
		IdempotencyStore: intake.NewMemoryIdempotencyStore(),
		Publisher:        &RecordingPublisher{},
	}
	h.Registry = loadRegistry(t, o.definitionDirs)

	reg := prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(reg)

	cfg := config.Defaults()
	cfg.Server.MaxBodyBytes = o.maxBodyBytes
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Identity.Issuer = h.issuer.Issuer()
	cfg.Identity.Audience = h.issuer.Audience()
	cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, time.Hour, nil)

	h.server = httptest.NewServer(transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Authenticate:   transport.JWTAuthenticator(cfg.Identity, jwks),
		Intake:         h.newService(t, o),
		Definitions:    h.Registry,
		Metrics:        h.Metrics,
		MetricsHandler: observability.HandlerFor(reg),
		Readiness: observability.ReadinessChecks{
			SubmissionStore:  h.SubmissionStore,
			IdempotencyStore: h.IdempotencyStore,
			IdentityKeys:     jwks,
		},
	}))
	t.Cleanup(h.server.Close)
	return h
}

func loadRegistry(t *testing.T, dirs []string) *definition.Registry {
	t.Helper()
	defs, err := definition.NewLoader().LoadAll(dirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if errs := definition.NewValidator().Validate(defs); len(errs) > 0 {
		t.Fatalf("invalid definitions: %v", errs)
	}
	return definition.NewRegistry(defs)
}

func (h *TestHarness) newService(t *testing.T, o harnessOptions) *intake.Service {
	t.Helper()
	sealer, err := sealing.NewAEADSealer(bytes.Repeat([]byte{0x42}, 32), "it-key")
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	evaluator := condition.NewEvaluator(nil)

	svcOpts := []intake.Option{intake.WithPublisher(h.Publisher), intake.WithMetrics(h.Metrics)}
	if o.idempotent {
		svcOpts = append(svcOpts, intake.WithIdempotencyStore(h.IdempotencyStore, time.Hour))
	}
	return intake.NewService(
		h.Registry,
		validation.NewEngine(evaluator),
		transform.NewTransformer(sealer, evaluator, nil),
		submission.NewValidator(nil),
		h.SubmissionStore,
		svcOpts...,
	)
}

func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, nil)
}

func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token, headers)
}

// doRequest sends body as-is when it is a string and as JSON otherwise.
func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var payload io.Reader
	if s, ok := body.(string); ok {
		payload = strings.NewReader(s)
	} else if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(h.t.Context(), method, h.server.URL+path, payload)
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// AssertStatus checks the status and closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, want, raw)
	}
}

// AssertJSON checks the status and decodes the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, want int, target any) {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, want, raw)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		t.Fatalf("decode body: %v\nbody: %s", err, raw)
	}
}

// ProducerClaims identify an appointed producer, agent-7.
func ProducerClaims() TestClaims {
	return TestClaims{SubjectID: "user-producer", ProducerID: "agent-7"}
}

// OtherProducerClaims identify a second producer, agent-9.
func OtherProducerClaims() TestClaims {
	return TestClaims{SubjectID: "user-other", ProducerID: "agent-9"}
}

// ReviewerClaims identify a back-office user with no producer id.
func ReviewerClaims() TestClaims {
	return TestClaims{SubjectID: "user-reviewer"}
}

func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// ApplicationFixture is a complete check-funded application.
func ApplicationFixture(applicationID string) map[string]any {
	return map[string]any{
		"application_id": applicationID,
		"answers": map[string]any{
			"annuitant_first_name": "Ada",
			"annuitant_last_name":  "Lovelace",
			"annuitant_ssn":        "123-45-6789",
			"funding_methods":      []any{"check"},
			"premium":              50000,
			"allocations": []any{
				map[string]any{"fund_id": "sp500", "percentage": 100},
			},
		},
	}
}

// FormatJSON renders v for failure messages.
func FormatJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
