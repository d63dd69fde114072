package regime

import (
	"time"

	"github.com/regimeflow/regimeflow/pkg/types"
)

// ConstantDetector always reports the same regime with full confidence.
// Used standalone for testing harnesses and as an ensemble child to pin a
// fixed vote (§8 scenario 2).
type ConstantDetector struct {
	regime types.RegimeType
}

// NewConstantDetector builds a detector fixed to regime.
func NewConstantDetector(regime types.RegimeType) *ConstantDetector {
	return &ConstantDetector{regime: regime}
}

func (c *ConstantDetector) state(ts time.Time) types.RegimeState {
	posterior := make([]float64, int(types.RegimeCrisis)+1)
	posterior[int(c.regime)] = 1
	return types.NewRegimeState(ts, posterior)
}

func (c *ConstantDetector) OnBar(bar types.Bar) types.RegimeState   { return c.state(bar.Timestamp) }
func (c *ConstantDetector) OnTick(tick types.Tick) types.RegimeState { return c.state(tick.Timestamp) }
func (c *ConstantDetector) OnBook(book types.OrderBook) types.RegimeState {
	return c.state(book.Timestamp)
}

// NumStates always reports the 4-way external enum size.
func (c *ConstantDetector) NumStates() int { return int(types.RegimeCrisis) + 1 }

// StateNames returns the four external regime labels.
func (c *ConstantDetector) StateNames() []string {
	return []string{
		types.RegimeBull.String(),
		types.RegimeNeutral.String(),
		types.RegimeBear.String(),
		types.RegimeCrisis.String(),
	}
}
