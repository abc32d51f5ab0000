package metrics

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("operation", "sync"),
		attribute.Int64("float_id", 2902226),
		attribute.String("outcome", "success"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "float_id" {
			t.Fatalf("float_id must not become a metric label")
		}
	}
}

func TestProfilesSyncedCountsCycles(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "atlas"}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordProfilesSynced(ctx, "sync", 2)
	m.RecordProfilesSynced(ctx, "sync", 0)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "atlas_profiles_synced_total" {
				continue
			}
			if !strings.Contains(md.Description, "cycles") {
				t.Fatalf("description should name cycles, got %q", md.Description)
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
				t.Fatalf("unexpected data %#v", md.Data)
			}
			return
		}
	}
	t.Fatalf("atlas_profiles_synced_total not collected")
}
