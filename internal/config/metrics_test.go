package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestClassifyConfigLoadError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "none", err: nil, want: "none"},
		{name: "parse", err: errors.New("parse env: SESSION_TIME_TO_LIVE: invalid duration"), want: "parse"},
		{name: "jwt", err: errors.New("validate config: JWT_SECRET must be at least 32 bytes"), want: "jwt"},
		{name: "session", err: errors.New("validate config: SESSION_TTL_TYPE \"x\" is not a session timestamp"), want: "session"},
		{name: "first family wins", err: errors.New("validate config: DATABASE_URL is required\nJWT_SECRET must be at least 32 bytes"), want: "database"},
		{name: "index", err: errors.New("validate config: IDENTITY_INDEX_BACKEND must be \"redis\" or \"memory\""), want: "identity_index"},
		{name: "unnamed validation", err: errors.New("validate config: broken"), want: "validation"},
		{name: "other", err: errors.New("some other load error"), want: "load"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyConfigLoadError(tc.err); got != tc.want {
				t.Fatalf("classifyConfigLoadError()=%q want %q", got, tc.want)
			}
		})
	}
}

func TestRecordConfigLoadExportsAttributes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	recordConfigLoad(context.Background(), "Production", "SYSTEM", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "config.load.events" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data: %#v", m.Data)
			}
			for _, dp := range sum.DataPoints {
				mode, _ := dp.Attributes.Value("mode")
				env, _ := dp.Attributes.Value("env")
				if mode.AsString() == "system" && env.AsString() == "production" {
					return
				}
			}
			t.Fatalf("no data point with normalized labels: %#v", sum.DataPoints)
		}
	}
	t.Skip("config counter bound to an earlier meter provider")
}

func TestNormalizeLabel(t *testing.T) {
	if got := normalizeLabel("  ProD  "); got != "prod" {
		t.Fatalf("expected prod, got %q", got)
	}
	if got := normalizeLabel("   "); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func FuzzNormalizeLabelRobustness(f *testing.F) {
	f.Add("  ProD  ")
	f.Add("")
	f.Add("système")
	f.Add(strings.Repeat("A", 4096))

	f.Fuzz(func(t *testing.T, raw string) {
		got := normalizeLabel(raw)
		if got == "" {
			t.Fatal("normalized label must not be empty")
		}
		if utf8.ValidString(raw) && !utf8.ValidString(got) {
			t.Fatalf("normalized label must stay valid UTF-8: %q", got)
		}
		if got != normalizeLabel(raw) {
			t.Fatal("normalizeLabel must be deterministic")
		}
	})
}
