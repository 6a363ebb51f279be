package risk

import (
	"sync"

	"github.com/rs/zerolog"
)

// TrailingConfig holds trailing stop settings. Trailing arms once a
// position is ActivationPercent in profit and then keeps the stop
// TrailingPercent behind the best price seen.
type TrailingConfig struct {
	Enabled           bool    `json:"enabled"`
	TrailingPercent   float64 `json:"trailing_percent"`
	ActivationPercent float64 `json:"activation_percent"`
}

// DefaultTrailingConfig trails one percent behind the water mark after a
// one percent profit.
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		TrailingPercent:   1.0,
		ActivationPercent: 1.0,
	}
}

// StopUpdate proposes a tighter stop for one position. Stops only move in
// the position's favor.
type StopUpdate struct {
	PositionID  string
	OldStopLoss float64
	NewStopLoss float64
}

type trailingState struct {
	highWaterMark float64
	lowWaterMark  float64
	activated     bool
}

// TrailingStopManager tracks price water marks per position and proposes
// stop adjustments. It never touches the exchange; callers apply updates.
type TrailingStopManager struct {
	mu     sync.Mutex
	config TrailingConfig
	states map[string]*trailingState
	log    zerolog.Logger
}

// NewTrailingStopManager creates an empty manager.
func NewTrailingStopManager(config TrailingConfig, logger zerolog.Logger) *TrailingStopManager {
	return &TrailingStopManager{
		config: config,
		states: make(map[string]*trailingState),
		log:    logger.With().Str("component", "trailing_stop").Logger(),
	}
}

// Track starts following a position. Tracking an already tracked position
// resets its water marks.
func (t *TrailingStopManager) Track(position *Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[position.ID] = &trailingState{
		highWaterMark: position.EntryPrice,
		lowWaterMark:  position.EntryPrice,
	}
}

// Untrack drops a position.
func (t *TrailingStopManager) Untrack(positionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, positionID)
}

// UpdatePrice advances the water marks and returns a stop improvement when
// trailing is armed and the computed stop beats the position's current one.
// Returns nil for untracked positions and for moves that would loosen the
// stop.
func (t *TrailingStopManager) UpdatePrice(position *Position, currentPrice float64) *StopUpdate {
	if !t.config.Enabled {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[position.ID]
	if !ok {
		return nil
	}

	if position.Side == SideLong {
		return t.updateLong(position, state, currentPrice)
	}
	return t.updateShort(position, state, currentPrice)
}

func (t *TrailingStopManager) updateLong(position *Position, state *trailingState, currentPrice float64) *StopUpdate {
	if currentPrice > state.highWaterMark {
		state.highWaterMark = currentPrice
	}

	profitPercent := (currentPrice - position.EntryPrice) / position.EntryPrice * 100
	if !state.activated && profitPercent >= t.config.ActivationPercent {
		state.activated = true
		t.log.Debug().Str("position_id", position.ID).Float64("profit_pct", profitPercent).Msg("trailing stop armed")
	}
	if !state.activated {
		return nil
	}

	newStop := state.highWaterMark * (1 - t.config.TrailingPercent/100)
	if newStop <= position.StopLoss {
		return nil
	}
	return &StopUpdate{
		PositionID:  position.ID,
		OldStopLoss: position.StopLoss,
		NewStopLoss: newStop,
	}
}

func (t *TrailingStopManager) updateShort(position *Position, state *trailingState, currentPrice float64) *StopUpdate {
	if currentPrice < state.lowWaterMark {
		state.lowWaterMark = currentPrice
	}

	profitPercent := (position.EntryPrice - currentPrice) / position.EntryPrice * 100
	if !state.activated && profitPercent >= t.config.ActivationPercent {
		state.activated = true
		t.log.Debug().Str("position_id", position.ID).Float64("profit_pct", profitPercent).Msg("trailing stop armed")
	}
	if !state.activated {
		return nil
	}

	newStop := state.lowWaterMark * (1 + t.config.TrailingPercent/100)
	if position.StopLoss > 0 && newStop >= position.StopLoss {
		return nil
	}
	return &StopUpdate{
		PositionID:  position.ID,
		OldStopLoss: position.StopLoss,
		NewStopLoss: newStop,
	}
}
