// Package metrics exposes Prometheus counters/gauges for the pipeline's
// event stream (equity, fills, regime transitions, risk rejections),
// following chidi150c-coinbase's metrics.go (plain increment/set helper
// methods), with the metrics held per Collector rather than package-level.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

// Collector implements the same method set as engine.MetricsSink
// (matched structurally; this package never imports internal/engine)
// and updates a private Prometheus registry instead of the global
// default one, so multiple Collectors (e.g. one per backtest run in a
// test binary) never collide on metric registration.
type Collector struct {
	registry *prometheus.Registry

	equity          prometheus.Gauge
	cash            prometheus.Gauge
	eventsProcessed prometheus.Counter
	fillsTotal      *prometheus.CounterVec
	fillNotional    *prometheus.CounterVec
	transitionCount *prometheus.CounterVec
	rejectedTotal   prometheus.Counter
	currentRegime   *prometheus.GaugeVec
}

// NewCollector builds a Collector registered against a fresh Registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		equity: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "regimeflow_portfolio_equity",
			Help: "Current mark-to-market portfolio equity.",
		}),
		cash: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "regimeflow_portfolio_cash",
			Help: "Current portfolio cash balance.",
		}),
		eventsProcessed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "regimeflow_events_processed_total",
			Help: "Market events processed by the pipeline.",
		}),
		fillsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "regimeflow_fills_total",
			Help: "Fills executed, by order side.",
		}, []string{"side"}),
		fillNotional: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "regimeflow_fill_notional_total",
			Help: "Cumulative fill notional, by order side.",
		}, []string{"side"}),
		transitionCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "regimeflow_regime_transitions_total",
			Help: "Regime transitions observed, by from/to regime pair.",
		}, []string{"from", "to"}),
		rejectedTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "regimeflow_orders_rejected_total",
			Help: "Orders rejected by the risk gate or pricing stage.",
		}),
		currentRegime: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "regimeflow_current_regime",
			Help: "1 for the currently active regime label, 0 otherwise.",
		}, []string{"regime"}),
	}
	return c
}

// Registry returns the Collector's private Prometheus registry, for
// wiring into an HTTP handler (promhttp.HandlerFor).
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// OnSnapshot updates the equity/cash gauges and counts one processed
// event.
func (c *Collector) OnSnapshot(s types.PortfolioSnapshot) {
	c.equity.Set(s.Equity.InexactFloat64())
	c.cash.Set(s.Cash.InexactFloat64())
	c.eventsProcessed.Inc()
}

// OnFill counts a fill and its notional by side, derived from the sign of
// its signed quantity (buys positive, sells negative).
func (c *Collector) OnFill(f types.Fill, _ decimal.Decimal) {
	side := "buy"
	if f.Quantity.IsNegative() {
		side = "sell"
	}
	c.fillsTotal.WithLabelValues(side).Inc()
	c.fillNotional.WithLabelValues(side).Add(f.Notional().InexactFloat64())
}

// OnTransition counts a regime transition by from/to pair.
func (c *Collector) OnTransition(t types.RegimeTransition) {
	c.transitionCount.WithLabelValues(t.From.String(), t.To.String()).Inc()
}

// OnOrderRejected counts a risk-rejected or unpriceable order.
func (c *Collector) OnOrderRejected(*types.Order, error) {
	c.rejectedTotal.Inc()
}

// OnRegimeState flips the currentRegime gauge vector so exactly one
// label series reads 1 at a time.
func (c *Collector) OnRegimeState(state types.RegimeState) {
	for _, label := range []string{"bull", "neutral", "bear", "crisis", "custom"} {
		c.currentRegime.WithLabelValues(label).Set(0)
	}
	c.currentRegime.WithLabelValues(state.Regime.String()).Set(1)
}
