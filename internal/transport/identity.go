package transport

import (
	"cmp"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pitabwire/eapp/internal/config"
	"github.com/pitabwire/eapp/internal/observability"
	"github.com/pitabwire/eapp/model"
)

type claimsKey struct{}

// WithClaims returns ctx carrying verified token claims.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the verified token claims on ctx, or nil.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return claims
}

// Identify resolves the caller from verified claims and request metadata
// into a model.RequestContext. Empty claim names fall back to "sub" and
// "producer_id".
func Identify(cfg config.ClaimsConfig) func(http.Handler) http.Handler {
	subject := cmp.Or(cfg.Subject, "sub")
	producer := cmp.Or(cfg.Producer, "producer_id")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims := ClaimsFrom(ctx)
			rc := &model.RequestContext{
				SubjectID:     claimString(claims, subject),
				ProducerID:    claimString(claims, producer),
				CorrelationID: CorrelationIDFrom(ctx),
				TraceID:       observability.TraceIDFromContext(ctx),
				SpanID:        observability.SpanIDFromContext(ctx),
				ClientIP:      clientIP(r),
				UserAgent:     r.UserAgent(),
			}
			next.ServeHTTP(w, r.WithContext(model.WithRequestContext(ctx, rc)))
		})
	}
}

// RequireProducer rejects callers whose token does not name both a subject
// and a producer.
func RequireProducer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := model.RequestContextFrom(r.Context()).Authorize(); err != nil {
			challenge(w, "invalid_token", "Token does not identify a producer")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// claimString walks a dotted path through nested claim objects. Numeric
// leaves such as NPNs are rendered as text.
func claimString(claims map[string]any, path string) string {
	var cur any = claims
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case interface{ String() string }:
		return v.String()
	default:
		return ""
	}
}

// clientIP prefers the first X-Forwarded-For hop over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
