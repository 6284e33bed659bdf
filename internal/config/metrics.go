package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadMetricsOnce sync.Once
	loadCounter     metric.Int64Counter
)

// settingFamilies maps env var prefixes to the error class reported when validation names them.
var settingFamilies = []struct {
	prefix string
	class  string
}{
	{"SESSION_", "session"},
	{"IDENTITY_INDEX_", "identity_index"},
	{"DATABASE_", "database"},
	{"REDIS_", "redis"},
	{"JWT_", "jwt"},
	{"OTEL_", "otel"},
}

func recordConfigLoad(ctx context.Context, env, mode string, err error) {
	loadMetricsOnce.Do(func() {
		counter, cerr := otel.Meter("secure-session-store").Int64Counter("config.load.events")
		if cerr == nil {
			loadCounter = counter
		}
	})
	if loadCounter == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("env", normalizeLabel(env)),
		attribute.String("mode", normalizeLabel(mode)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", classifyConfigLoadError(err)),
	))
}

func normalizeLabel(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}

func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.TrimSpace(err.Error())
	if strings.HasPrefix(msg, "parse env:") {
		return "parse"
	}
	if !strings.HasPrefix(msg, "validate config:") {
		return "load"
	}
	first, best := "validation", len(msg)
	for _, f := range settingFamilies {
		if i := strings.Index(msg, f.prefix); i >= 0 && i < best {
			first, best = f.class, i
		}
	}
	return first
}
