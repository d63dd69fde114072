package risk

import (
	"sync"

	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// Manager composes base limits with optional regime-conditional overlays
// and implements the §4.6 short-circuiting validate/validate_portfolio
// contract.
type Manager struct {
	logger *zap.Logger

	mu           sync.Mutex
	baseLimits   []Limit
	regimeLimits map[string][]Limit
}

// NewManager builds an empty Manager. Limits are added via AddLimit /
// AddRegimeLimit before the first Validate call.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:       logger,
		regimeLimits: make(map[string][]Limit),
	}
}

// AddLimit appends a base limit, evaluated (in insertion order) for every
// order regardless of regime.
func (m *Manager) AddLimit(l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseLimits = append(m.baseLimits, l)
}

// AddRegimeLimit appends a limit evaluated only when an order (or a
// validate_portfolio sweep) pertains to the given regime label.
func (m *Manager) AddRegimeLimit(regime string, l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regimeLimits[regime] = append(m.regimeLimits[regime], l)
}

// Validate runs the §4.6 pre-trade sequence: risk_exit bypass, then
// regime-specific limits (if the order carries a matching regime tag),
// then base limits, each short-circuiting on the first error.
func (m *Manager) Validate(order *types.Order, portfolio PortfolioView) error {
	if order.IsRiskExit() {
		return nil
	}

	m.mu.Lock()
	baseLimits := append([]Limit(nil), m.baseLimits...)
	var regimeLimits []Limit
	if regime, ok := order.Regime(); ok {
		regimeLimits = append([]Limit(nil), m.regimeLimits[regime]...)
	}
	m.mu.Unlock()

	for _, l := range regimeLimits {
		if err := l.Validate(order, portfolio); err != nil {
			return err
		}
	}
	for _, l := range baseLimits {
		if err := l.Validate(order, portfolio); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePortfolio runs every regime-specific limit (across all regimes)
// and every base limit against current portfolio state, short-circuiting
// on the first error.
func (m *Manager) ValidatePortfolio(portfolio PortfolioView) error {
	m.mu.Lock()
	baseLimits := append([]Limit(nil), m.baseLimits...)
	allRegimeLimits := make([]Limit, 0)
	for _, limits := range m.regimeLimits {
		allRegimeLimits = append(allRegimeLimits, limits...)
	}
	m.mu.Unlock()

	for _, l := range allRegimeLimits {
		if err := l.ValidatePortfolio(portfolio); err != nil {
			return err
		}
	}
	for _, l := range baseLimits {
		if err := l.ValidatePortfolio(portfolio); err != nil {
			return err
		}
	}
	return nil
}
