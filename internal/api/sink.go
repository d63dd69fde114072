package api

import (
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

// broadcastSink implements engine.MetricsSink by pushing regime transitions
// to every WebSocket client and every other event to the clients subscribed
// to its channel, as they happen.
type broadcastSink struct {
	server *Server
}

func (b broadcastSink) OnSnapshot(s types.PortfolioSnapshot) {
	b.server.broadcastToSubscribers("portfolio", newEventMessage("portfolio:snapshot", s))
}

func (b broadcastSink) OnFill(f types.Fill, cost decimal.Decimal) {
	b.server.broadcastToSubscribers("fills", newEventMessage("fill", map[string]interface{}{
		"fill": f,
		"cost": cost,
	}))
}

func (b broadcastSink) OnTransition(t types.RegimeTransition) {
	b.server.broadcast(newEventMessage("regime:transition", t))
}

func (b broadcastSink) OnOrderRejected(o *types.Order, err error) {
	b.server.broadcastToSubscribers("rejections", newEventMessage("order:rejected", map[string]interface{}{
		"order": o,
		"error": err.Error(),
	}))
}

func (b broadcastSink) OnRegimeState(state types.RegimeState) {
	b.server.broadcastToSubscribers("regime", newEventMessage("regime:state", state))
}
