package smc

// ZoneType classifies a liquidity zone by the swing side it rests on.
type ZoneType string

const (
	ZoneHigh ZoneType = "high"
	ZoneLow  ZoneType = "low"
)

// BlockType classifies an order block.
type BlockType string

const (
	BlockBullish BlockType = "bullish"
	BlockBearish BlockType = "bearish"
)

// StructureType classifies a market structure point.
type StructureType string

const (
	StructureHH    StructureType = "HH"
	StructureHL    StructureType = "HL"
	StructureLH    StructureType = "LH"
	StructureLL    StructureType = "LL"
	StructureBOS   StructureType = "BOS"
	StructureCHOCH StructureType = "CHOCH"
)

// Direction is the directional bias of a structure or pattern.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// SignalType is the side of a trading signal.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// LiquidityZone is a swing high/low where resting orders accumulate.
type LiquidityZone struct {
	Type      ZoneType `json:"type"`
	Price     float64  `json:"price"`
	Strength  float64  `json:"strength"` // 0..1
	Timestamp int64    `json:"timestamp"`
}

// OrderBlock is a candle of aggressive institutional order flow. The
// analyzer always emits Mitigated=false; the flag is flipped externally
// when price later trades through the block's range.
type OrderBlock struct {
	Type      BlockType `json:"type"`
	Price     float64   `json:"price"`
	StartTime int64     `json:"start_time"`
	EndTime   int64     `json:"end_time"`
	Strength  float64   `json:"strength"` // 0..1
	Mitigated bool      `json:"mitigated"`
}

// FairValueGap is a three-candle price imbalance. Top >= Bottom always.
type FairValueGap struct {
	Top       float64 `json:"top"`
	Bottom    float64 `json:"bottom"`
	Midpoint  float64 `json:"midpoint"`
	Timestamp int64   `json:"timestamp"`
	Filled    bool    `json:"filled"`
}

// MarketStructure is a structural point (HH/HL/LH/LL) or break (BOS/CHOCH).
type MarketStructure struct {
	Type      StructureType `json:"type"`
	Price     float64       `json:"price"`
	Timestamp int64         `json:"timestamp"`
	Direction Direction     `json:"direction"`
}

// WashTradingActivity flags a volume anomaly suggesting artificial flow.
type WashTradingActivity struct {
	Type      string `json:"type"` // "volume_spike" or "high_vol_doji"
	Timestamp int64  `json:"timestamp"`
	Details   string `json:"details"`
	Severity  string `json:"severity"` // "high", "medium", "low"
}

// PremiumDiscountZone places the current price relative to the equilibrium
// of the recent trading range.
type PremiumDiscountZone struct {
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Equilibrium float64 `json:"equilibrium"`
	Status      string  `json:"status"` // "PREMIUM" or "DISCOUNT"
}

// SessionRange holds the high/low of a trading session.
type SessionRange struct {
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Label string  `json:"label"`
}

// SessionLiquidity holds per-session ranges for the last 24 hours.
type SessionLiquidity struct {
	Asia    *SessionRange `json:"asia,omitempty"`
	London  *SessionRange `json:"london,omitempty"`
	NewYork *SessionRange `json:"new_york,omitempty"`
}

// Analysis is the aggregate result of one analyzer pass. It is created
// fresh per call and must not be mutated by consumers.
type Analysis struct {
	LiquidityZones    []LiquidityZone       `json:"liquidity_zones"`
	OrderBlocks       []OrderBlock          `json:"order_blocks"`
	FairValueGaps     []FairValueGap        `json:"fair_value_gaps"`
	MarketStructures  []MarketStructure     `json:"market_structures"`
	BuySideLiquidity  []float64             `json:"buy_side_liquidity"`
	SellSideLiquidity []float64             `json:"sell_side_liquidity"`
	WashTrading       []WashTradingActivity `json:"wash_trading,omitempty"`
	PremiumDiscount   *PremiumDiscountZone  `json:"premium_discount,omitempty"`
	SessionLiquidity  *SessionLiquidity     `json:"session_liquidity,omitempty"`
}

// Signal is an ephemeral trade signal, consumed by the engine within one
// analysis tick.
type Signal struct {
	Type       SignalType `json:"type"`
	EntryPrice float64    `json:"entry_price"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit []float64  `json:"take_profit"`
	Confidence float64    `json:"confidence"` // 0..1
	Reason     string     `json:"reason"`
	Timeframe  string     `json:"timeframe"`
	Timestamp  int64      `json:"timestamp"`
}

// Params configures the analyzer thresholds. The zero value is not useful;
// use DefaultParams. Params is comparable so callers can detect config
// changes with ==.
type Params struct {
	MinLiquidityStrength  float64 `json:"min_liquidity_strength"`
	MinOrderBlockStrength float64 `json:"min_order_block_strength"`
	MinFvgSize            float64 `json:"min_fvg_size"`
	UseMarketStructure    bool    `json:"use_market_structure"`
	UseVolumeConfirmation bool    `json:"use_volume_confirmation"`
}

// DefaultParams returns the stock analyzer thresholds.
func DefaultParams() Params {
	return Params{
		MinLiquidityStrength:  0.7,
		MinOrderBlockStrength: 0.8,
		MinFvgSize:            0.002, // 0.2% minimum gap
		UseMarketStructure:    true,
		UseVolumeConfirmation: true,
	}
}
