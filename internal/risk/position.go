package risk

// PositionSide is the direction of an open trade.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// PositionStatus tracks a position through its lifecycle. CLOSED is
// terminal; a closed position is never reopened.
type PositionStatus string

const (
	StatusOpen            PositionStatus = "OPEN"
	StatusPartiallyClosed PositionStatus = "PARTIALLY_CLOSED"
	StatusClosed          PositionStatus = "CLOSED"
)

// Position is an open trade tracked by the engine and mirrored here for
// risk accounting.
type Position struct {
	ID               string         `json:"id"`
	Symbol           string         `json:"symbol"`
	Side             PositionSide   `json:"side"`
	EntryPrice       float64        `json:"entry_price"`
	Quantity         float64        `json:"quantity"`
	StopLoss         float64        `json:"stop_loss"`
	TakeProfit       []float64      `json:"take_profit"`
	TriggeredTPLevels []int         `json:"triggered_tp_levels,omitempty"`
	Status           PositionStatus `json:"status"`
	OpenTime         int64          `json:"open_time"`
	CloseTime        int64          `json:"close_time,omitempty"`
	RealizedPnl      float64        `json:"realized_pnl"`
	Fees             float64        `json:"fees"`
}

// Notional returns the position value at entry.
func (p *Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

// HasTriggeredLevel reports whether a partial-profit level already fired.
func (p *Position) HasTriggeredLevel(level int) bool {
	for _, l := range p.TriggeredTPLevels {
		if l == level {
			return true
		}
	}
	return false
}
