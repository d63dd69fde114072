package engine

import (
	"time"

	"github.com/regimeflow/regimeflow/internal/execution"
	"github.com/regimeflow/regimeflow/internal/regime"
	"github.com/regimeflow/regimeflow/internal/risk"
	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MetricsSink receives every event the pipeline produces (§4.9). The
// metrics tracker implementation lives in internal/attribution; engine
// only depends on this narrow interface to avoid a cyclic import.
type MetricsSink interface {
	OnSnapshot(types.PortfolioSnapshot)
	OnFill(types.Fill, decimal.Decimal)
	OnTransition(types.RegimeTransition)
	OnOrderRejected(*types.Order, error)
	OnRegimeState(types.RegimeState)
}

type nopMetricsSink struct{}

func (nopMetricsSink) OnSnapshot(types.PortfolioSnapshot)  {}
func (nopMetricsSink) OnFill(types.Fill, decimal.Decimal)  {}
func (nopMetricsSink) OnTransition(types.RegimeTransition) {}
func (nopMetricsSink) OnOrderRejected(*types.Order, error) {}
func (nopMetricsSink) OnRegimeState(types.RegimeState)     {}

// MultiMetricsSink fans every event out to multiple sinks in order, e.g.
// the attribution Tracker and a Prometheus collector side by side.
type MultiMetricsSink []MetricsSink

func (m MultiMetricsSink) OnSnapshot(s types.PortfolioSnapshot) {
	for _, sink := range m {
		sink.OnSnapshot(s)
	}
}

func (m MultiMetricsSink) OnFill(f types.Fill, cost decimal.Decimal) {
	for _, sink := range m {
		sink.OnFill(f, cost)
	}
}

func (m MultiMetricsSink) OnTransition(t types.RegimeTransition) {
	for _, sink := range m {
		sink.OnTransition(t)
	}
}

func (m MultiMetricsSink) OnOrderRejected(o *types.Order, err error) {
	for _, sink := range m {
		sink.OnOrderRejected(o, err)
	}
}

func (m MultiMetricsSink) OnRegimeState(s types.RegimeState) {
	for _, sink := range m {
		sink.OnRegimeState(s)
	}
}

// Pipeline wires the regime tracker, strategy, risk gate, execution
// simulator and portfolio into the single-threaded event loop described
// in §2 and §5: market event → feature vector → detector → regime state
// → tracker (maybe emits transition) → strategy → risk gate → execution
// → portfolio update → metrics tracker → attribution.
type Pipeline struct {
	logger *zap.Logger

	Tracker   *regime.Tracker
	Strategy  Strategy
	Risk      *risk.Manager
	Simulator *execution.Simulator
	Commission execution.CommissionModel
	Cost       execution.TransactionCostModel
	Portfolio *Portfolio
	Metrics   MetricsSink
}

// PipelineConfig bundles a Pipeline's collaborators, each optional except
// Tracker and Portfolio. With no Strategy the pipeline places no orders.
type PipelineConfig struct {
	Logger     *zap.Logger
	Tracker    *regime.Tracker
	Strategy   Strategy
	Risk       *risk.Manager
	Simulator  *execution.Simulator
	Commission execution.CommissionModel
	Cost       execution.TransactionCostModel
	Portfolio  *Portfolio
	Metrics    MetricsSink
}

// NewPipeline builds a Pipeline, defaulting every optional collaborator
// to its zero-cost implementation.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Risk == nil {
		cfg.Risk = risk.NewManager(cfg.Logger)
	}
	if cfg.Simulator == nil {
		cfg.Simulator = execution.NewSimulator(nil)
	}
	if cfg.Commission == nil {
		cfg.Commission = execution.ZeroCommission{}
	}
	if cfg.Cost == nil {
		cfg.Cost = execution.ZeroCost{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetricsSink{}
	}
	return &Pipeline{
		logger:     cfg.Logger,
		Tracker:    cfg.Tracker,
		Strategy:   cfg.Strategy,
		Risk:       cfg.Risk,
		Simulator:  cfg.Simulator,
		Commission: cfg.Commission,
		Cost:       cfg.Cost,
		Portfolio:  cfg.Portfolio,
		Metrics:    cfg.Metrics,
	}
}

// OnBar processes a single bar event through the full pipeline (§2, §5).
// Events must be fed strictly in timestamp order by the caller; the
// pipeline performs no reordering or buffering of its own.
func (p *Pipeline) OnBar(bar types.Bar) error {
	regimeBefore, hadBefore := p.Tracker.Current()
	state := p.Tracker.OnBar(bar)
	if hadBefore && state.Regime != regimeBefore.Regime {
		p.Metrics.OnTransition(types.RegimeTransition{
			From:                  regimeBefore.Regime,
			To:                    state.Regime,
			Timestamp:             state.Timestamp,
			Confidence:            state.Confidence,
			DurationInFromSeconds: state.Timestamp.Sub(regimeBefore.Timestamp).Seconds(),
		})
	}

	p.Metrics.OnRegimeState(state)
	p.Portfolio.MarkToMarket(bar.SymbolID, bar.Close)

	if p.Strategy == nil {
		p.Metrics.OnSnapshot(p.Portfolio.Snapshot(bar.Timestamp))
		return nil
	}

	order, err := p.Strategy.OnBar(bar, state, p.Portfolio)
	if err != nil {
		return errs.Wrap(errs.InvalidState, "Pipeline.OnBar", "strategy failed", err)
	}
	if order != nil {
		if err := p.route(order, bar.Close, bar.Timestamp); err != nil {
			p.Metrics.OnOrderRejected(order, err)
		}
	}

	p.Metrics.OnSnapshot(p.Portfolio.Snapshot(bar.Timestamp))
	return nil
}

// route validates an order against the risk gate and, if accepted, fills
// it against referencePrice and applies the resulting cash/position
// changes to the portfolio (§4.6, §4.7, §4.9).
func (p *Pipeline) route(order *types.Order, referencePrice decimal.Decimal, t time.Time) error {
	if err := p.Risk.Validate(order, p.Portfolio); err != nil {
		order.Status = types.OrderStatusRejected
		order.UpdatedAt = t
		return err
	}

	if order.Type != types.OrderTypeMarket && !order.HasLimitPrice() {
		order.Status = types.OrderStatusInvalid
		order.UpdatedAt = t
		return errs.New(errs.InvalidArgument, "Pipeline.route", "order cannot be priced")
	}

	fill := p.Simulator.Fill(order, referencePrice, t, false)
	fill, cost := execution.ApplyCosts(fill, p.Commission, p.Cost)

	order.Status = types.OrderStatusFilled
	order.FilledQty = order.Quantity
	order.AvgFillPrice = fill.Price
	order.UpdatedAt = t

	p.Portfolio.ApplyFill(fill)
	if !cost.IsZero() {
		p.Portfolio.debitCash(cost)
	}

	p.Metrics.OnFill(fill, cost)

	if err := p.Risk.ValidatePortfolio(p.Portfolio); err != nil {
		p.logger.Warn("post-trade portfolio validation failed", zap.Error(err))
	}
	return nil
}
