package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/regimeflow/regimeflow/internal/api"
	"github.com/regimeflow/regimeflow/internal/attribution"
	"github.com/regimeflow/regimeflow/internal/data"
	"github.com/regimeflow/regimeflow/internal/engine"
	"github.com/regimeflow/regimeflow/internal/plugins"
	"github.com/regimeflow/regimeflow/internal/regime"
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *api.Server {
	t.Helper()
	logger := zap.NewNop()

	detector, err := regime.New(logger, regime.Config{Kind: "constant", Constant: types.RegimeBull})
	if err != nil {
		t.Fatalf("regime.New: %v", err)
	}
	tracker := regime.NewTracker(detector, 100)
	portfolio := engine.NewPortfolio(decimal.NewFromInt(100000))
	attrTracker := attribution.NewTracker()

	pipeline := engine.NewPipeline(engine.PipelineConfig{
		Logger:    logger,
		Tracker:   tracker,
		Portfolio: portfolio,
		Metrics:   attrTracker,
	})

	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	registry := plugins.NewRegistry(logger)

	return api.NewServer(logger, api.DefaultConfig(), pipeline, attrTracker, store, registry, nil)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /api/v1/health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/data/symbols")
	if err != nil {
		t.Fatalf("GET /api/v1/data/symbols: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCurrentRegimeBeforeAnyBar(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/regime/current")
	if err != nil {
		t.Fatalf("GET /api/v1/regime/current: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 before any bar processed", resp.StatusCode)
	}
}

func TestAttributionReportEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/attribution/report")
	if err != nil {
		t.Fatalf("GET /api/v1/attribution/report: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var report attribution.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
}

func TestPluginsEndpointEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/plugins")
	if err != nil {
		t.Fatalf("GET /api/v1/plugins: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Plugins []map[string]interface{} `json:"plugins"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Plugins) != 0 {
		t.Errorf("plugins = %v, want empty before any Create call", body.Plugins)
	}
}

func TestPortfolioSnapshotEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/portfolio/snapshot")
	if err != nil {
		t.Fatalf("GET /api/v1/portfolio/snapshot: %v", err)
	}
	defer resp.Body.Close()

	var snap types.PortfolioSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snap.Equity.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("equity = %s, want 100000", snap.Equity)
	}
}
