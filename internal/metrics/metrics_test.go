package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestNew_RegistersCollectors tests that every collector lands in the registry
func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IngestionsTotal.WithLabelValues("saved").Inc()
	m.GeoLookupsTotal.WithLabelValues("success").Inc()
	m.DatastoreQueriesTotal.WithLabelValues("sqlite", "insert", "success").Inc()
	m.RateLimited.Inc()

	if got := testutil.ToFloat64(m.IngestionsTotal.WithLabelValues("saved")); got != 1 {
		t.Errorf("expected 1 saved ingestion, got %f", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather: %v", err)
	}

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"ip_ingestions_total",
		"geo_lookups_total",
		"datastore_queries_total",
		"http_rate_limited_total",
	} {
		if !names[want] {
			t.Errorf("expected metric %s to be registered", want)
		}
	}
}

// TestNew_SeparateRegistries tests that two instances do not collide
func TestNew_SeparateRegistries(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected registration panic: %v", r)
		}
	}()

	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
