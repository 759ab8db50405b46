package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/eapp/internal/config"
	"github.com/pitabwire/eapp/model"
)

// NewLogger builds the service logger. Format "console" gives colored
// human-readable output for local runs; anything else is JSON on stdout.
// Unparseable levels fall back to info.
//
// Levels: error for store and broker failures and engine faults, warn for
// degraded dependencies and 5xx responses, info for one line per request
// and per submission outcome, debug for replays and redacted answers.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
		zc.OutputPaths = []string{"stdout"}
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.InitialFields = map[string]any{"schema_version": model.SchemaVersion}

	return zc.Build()
}

type loggerKey struct{}

// WithLogger returns ctx carrying logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger on ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger tagged with the caller and
// correlation ids of the request. Empty ids are left out.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rc := model.RequestContextFrom(ctx)
	if rc == nil {
		return logger
	}

	var fields []zap.Field
	for _, f := range [...]struct{ key, val string }{
		{"correlation_id", rc.CorrelationID},
		{"subject_id", rc.SubjectID},
		{"producer_id", rc.ProducerID},
		{"trace_id", rc.TraceID},
	} {
		if f.val != "" {
			fields = append(fields, zap.String(f.key, f.val))
		}
	}
	return logger.With(fields...)
}

const redacted = "[REDACTED]"

// sensitiveAnswers are answer keys never logged in clear. Keys ending in
// one of sensitiveSuffixes are redacted too.
var (
	sensitiveAnswers = map[string]bool{
		"ssn":               true,
		"tin":               true,
		"ein":               true,
		"tax_id":            true,
		"taxId":             true,
		"id_number":         true,
		"account_number":    true,
		"routing_number":    true,
		"authorization":     true,
		"signature_payload": true,
	}
	sensitiveSuffixes = []string{"_ssn", "_tax_id", "_account_number", "_id_number"}
)

func isSensitive(key string, extra map[string]bool) bool {
	if sensitiveAnswers[key] || extra[key] {
		return true
	}
	for _, s := range sensitiveSuffixes {
		if strings.HasSuffix(key, s) {
			return true
		}
	}
	return false
}

// RedactAnswers returns a deep copy of answers with sensitive values
// replaced. Repeating groups and nested objects are walked; absent values
// stay absent so logs still show which questions were skipped.
func RedactAnswers(answers model.Map, extra ...string) model.Map {
	if answers == nil {
		return nil
	}
	keys := make(map[string]bool, len(extra))
	for _, k := range extra {
		keys[k] = true
	}
	return redact(answers, keys).(model.Map)
}

func redact(v model.Value, extra map[string]bool) model.Value {
	switch t := v.(type) {
	case model.Map:
		out := make(model.Map, len(t))
		for k, item := range t {
			if isSensitive(k, extra) && model.IsPresent(item) {
				out[k] = model.Text(redacted)
			} else {
				out[k] = redact(item, extra)
			}
		}
		return out
	case model.List:
		out := make(model.List, len(t))
		for i, item := range t {
			out[i] = redact(item, extra)
		}
		return out
	default:
		return v
	}
}

// AnswersField renders redacted answers for debug logging.
func AnswersField(answers model.Map, extra ...string) zap.Field {
	return zap.Any("answers", model.ToAny(RedactAnswers(answers, extra...)))
}
