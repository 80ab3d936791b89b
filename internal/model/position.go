package model

import "time"

// Position is the simulator's single-unit holding.
// Size 0 implies EntryPrice == nil; Size 1 implies EntryPrice != nil.
type Position struct {
	Balance    float64  `json:"balance"`
	Size       int      `json:"size"`
	EntryPrice *float64 `json:"entry_price,omitempty"`
}

// Flat reports whether no unit is held.
func (p *Position) Flat() bool {
	return p.Size == 0
}

// TradeAction is the side of a simulated trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// Trade reasons recorded for audit/history display.
const (
	ReasonLowerTouch = "box lower touch"
	ReasonEdgeTouch  = "box edge touch"
	ReasonTakeProfit = "take profit"
	ReasonStopLoss   = "stop loss"
)

// TradeRecord is emitted on every simulator transition.
type TradeRecord struct {
	ID      string      `json:"id"`
	RunID   string      `json:"run_id"`
	Symbol  string      `json:"symbol"`
	Time    time.Time   `json:"time"`
	Action  TradeAction `json:"action"`
	Price   float64     `json:"price"`
	Balance float64     `json:"balance"` // balance after the transition
	Reason  string      `json:"reason"`
}
