package events

import (
	"sync"
	"time"
)

// Type identifies an event kind. Each kind carries the matching payload
// struct below.
type Type string

const (
	TypeSignalGenerated Type = "SIGNAL_GENERATED"
	TypePositionOpened  Type = "POSITION_OPENED"
	TypePositionUpdated Type = "POSITION_UPDATED"
	TypePositionClosed  Type = "POSITION_CLOSED"
	TypeDriftDetected   Type = "DRIFT_DETECTED"
	TypeRegimeChanged   Type = "REGIME_CHANGED"
	TypeVolatilityAlert Type = "VOLATILITY_ALERT"
	TypeSystemPaused    Type = "SYSTEM_PAUSED"
	TypeSystemResumed   Type = "SYSTEM_RESUMED"
	TypeEngineStarted   Type = "ENGINE_STARTED"
	TypeEngineStopped   Type = "ENGINE_STOPPED"
	TypeError           Type = "ERROR"
)

// Payload marks the typed event payloads.
type Payload interface {
	eventType() Type
}

// SignalPayload describes a generated trading signal.
type SignalPayload struct {
	Strategy   string  `json:"strategy"`
	Symbol     string  `json:"symbol"`
	SignalType string  `json:"signal_type"`
	EntryPrice float64 `json:"entry_price"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (SignalPayload) eventType() Type { return TypeSignalGenerated }

// PositionPayload describes a position lifecycle change.
type PositionPayload struct {
	PositionID   string  `json:"position_id"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price,omitempty"`
	Quantity     float64 `json:"quantity"`
	RealizedPnl  float64 `json:"realized_pnl,omitempty"`
	Status       string  `json:"status"`
}

func (PositionPayload) eventType() Type { return TypePositionUpdated }

// DriftPayload describes a strategy drift observation.
type DriftPayload struct {
	Strategy string  `json:"strategy"`
	Symbol   string  `json:"symbol"`
	ZScore   float64 `json:"z_score"`
	Severity string  `json:"severity"`
}

func (DriftPayload) eventType() Type { return TypeDriftDetected }

// RegimePayload describes a market regime classification change.
type RegimePayload struct {
	Symbol string `json:"symbol"`
	Old    string `json:"old"`
	New    string `json:"new"`
}

func (RegimePayload) eventType() Type { return TypeRegimeChanged }

// VolatilityPayload describes a realtime volatility alert.
type VolatilityPayload struct {
	Symbol     string  `json:"symbol"`
	Volatility float64 `json:"volatility"`
	Threshold  float64 `json:"threshold"`
}

func (VolatilityPayload) eventType() Type { return TypeVolatilityAlert }

// SystemPayload describes an engine-level state change.
type SystemPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (SystemPayload) eventType() Type { return TypeSystemPaused }

// ErrorPayload carries a scoped failure.
type ErrorPayload struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Err     string `json:"error,omitempty"`
}

func (ErrorPayload) eventType() Type { return TypeError }

// Event is a typed system event.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// Subscriber handles published events. Each delivery runs on its own
// goroutine; subscribers must not assume ordering across events.
type Subscriber func(Event)

// Bus routes typed events to subscribers. A Bus is owned by the engine
// that creates it; there is no package-level instance.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[Type][]Subscriber),
	}
}

// Subscribe registers a subscriber for one event type.
func (b *Bus) Subscribe(eventType Type, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for every event.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish fans the event out without blocking the publisher.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal-generated event.
func (b *Bus) PublishSignal(p SignalPayload) {
	b.Publish(Event{Type: TypeSignalGenerated, Payload: p})
}

// PublishPosition publishes a position lifecycle event of the given type.
func (b *Bus) PublishPosition(t Type, p PositionPayload) {
	b.Publish(Event{Type: t, Payload: p})
}

// PublishDrift publishes a drift detection event.
func (b *Bus) PublishDrift(p DriftPayload) {
	b.Publish(Event{Type: TypeDriftDetected, Payload: p})
}

// PublishRegime publishes a regime change event.
func (b *Bus) PublishRegime(p RegimePayload) {
	b.Publish(Event{Type: TypeRegimeChanged, Payload: p})
}

// PublishVolatility publishes a volatility alert.
func (b *Bus) PublishVolatility(p VolatilityPayload) {
	b.Publish(Event{Type: TypeVolatilityAlert, Payload: p})
}

// PublishSystem publishes a pause/resume/start/stop event.
func (b *Bus) PublishSystem(t Type, reason string) {
	b.Publish(Event{Type: t, Payload: SystemPayload{Reason: reason}})
}

// PublishError publishes a scoped error event.
func (b *Bus) PublishError(source, message string, err error) {
	p := ErrorPayload{Source: source, Message: message}
	if err != nil {
		p.Err = err.Error()
	}
	b.Publish(Event{Type: TypeError, Payload: p})
}
