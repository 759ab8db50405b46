package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Readiness states.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	SchemaVersion string `json:"schema_version,omitempty"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness probe.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks holds the probes behind /ready.
type ReadinessChecks struct {
	// Definitions returns the number of loaded products. Zero fails readiness.
	Definitions func() int

	SubmissionStore  HealthChecker
	IdempotencyStore HealthChecker
	IdentityKeys     HealthChecker

	// EventBroker failures mark the instance degraded; it stays in rotation.
	EventBroker HealthChecker
}

type probe struct {
	name string
	soft bool
	run  func(context.Context) CheckResult
}

func (c ReadinessChecks) probes() []probe {
	probes := []probe{{name: "definitions", run: c.definitionsProbe}}
	if c.SubmissionStore != nil {
		probes = append(probes, probe{name: "submission_store", run: checkerProbe(c.SubmissionStore)})
	}
	if c.IdempotencyStore != nil {
		probes = append(probes, probe{name: "idempotency_store", run: checkerProbe(c.IdempotencyStore)})
	}
	if c.IdentityKeys != nil {
		probes = append(probes, probe{name: "identity_keys", run: checkerProbe(c.IdentityKeys)})
	}
	if c.EventBroker != nil {
		probes = append(probes, probe{name: "event_broker", soft: true, run: checkerProbe(c.EventBroker)})
	}
	return probes
}

func (c ReadinessChecks) definitionsProbe(context.Context) CheckResult {
	if c.Definitions == nil {
		return CheckResult{Status: "error", Error: "no definition source configured"}
	}
	n := c.Definitions()
	if n == 0 {
		return CheckResult{Status: "error", Error: "no definitions loaded"}
	}
	return CheckResult{Status: "ok", Detail: fmt.Sprintf("%d products", n)}
}

const checkTimeout = 2 * time.Second

func checkerProbe(checker HealthChecker) func(context.Context) CheckResult {
	return func(ctx context.Context) CheckResult {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		if err := checker.HealthCheck(ctx); err != nil {
			return CheckResult{Status: "error", Error: err.Error()}
		}
		return CheckResult{Status: "ok"}
	}
}

// HandleHealth returns an HTTP handler for the liveness endpoint.
func HandleHealth(schemaVersion string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:        "ok",
			Version:       Version,
			Commit:        Commit,
			SchemaVersion: schemaVersion,
		})
	}
}

// HandleReady returns an HTTP handler for the readiness endpoint. Probes run
// concurrently. Any failing hard probe answers 503; a failing soft probe
// answers 200 with status "degraded".
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		probes := checks.probes()
		results := make([]CheckResult, len(probes))

		var g errgroup.Group
		for i, p := range probes {
			g.Go(func() error {
				start := time.Now()
				res := p.run(r.Context())
				res.LatencyMs = time.Since(start).Milliseconds()
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()

		status := StatusReady
		body := ReadinessResponse{Checks: make(map[string]CheckResult, len(probes))}
		for i, p := range probes {
			body.Checks[p.name] = results[i]
			if results[i].Status == "ok" {
				continue
			}
			if !p.soft {
				status = StatusNotReady
			} else if status == StatusReady {
				status = StatusDegraded
			}
		}
		body.Status = status

		code := http.StatusOK
		if status == StatusNotReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
