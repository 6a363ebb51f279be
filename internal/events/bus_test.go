package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusDeliversToTypeSubscribers(t *testing.T) {
	bus := NewBus()

	received := make(chan Event, 1)
	bus.Subscribe(TypeSignalGenerated, func(e Event) {
		received <- e
	})

	bus.PublishSignal(SignalPayload{Strategy: "smc-1h", Symbol: "BTCUSDT", SignalType: "BUY", Confidence: 0.8})

	select {
	case e := <-received:
		p, ok := e.Payload.(SignalPayload)
		if !ok {
			t.Fatalf("expected SignalPayload, got %T", e.Payload)
		}
		if p.Symbol != "BTCUSDT" || p.Confidence != 0.8 {
			t.Errorf("unexpected payload: %+v", p)
		}
		if e.Timestamp.IsZero() {
			t.Error("expected timestamp to be filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusDoesNotCrossDeliver(t *testing.T) {
	bus := NewBus()

	received := make(chan Event, 1)
	bus.Subscribe(TypeDriftDetected, func(e Event) {
		received <- e
	})

	bus.PublishSignal(SignalPayload{Symbol: "BTCUSDT"})

	select {
	case e := <-received:
		t.Fatalf("drift subscriber received %s event", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var types []Type
	done := make(chan struct{}, 3)
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.PublishSystem(TypeSystemPaused, "drift")
	bus.PublishSystem(TypeSystemResumed, "")
	bus.PublishError("engine", "tick failed", nil)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("missing event delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	seen := map[Type]bool{}
	for _, typ := range types {
		seen[typ] = true
	}
	if !seen[TypeSystemPaused] || !seen[TypeSystemResumed] || !seen[TypeError] {
		t.Errorf("expected all three event types, got %v", types)
	}
}

func TestBusPositionEvents(t *testing.T) {
	bus := NewBus()

	opened := make(chan Event, 1)
	closed := make(chan Event, 1)
	bus.Subscribe(TypePositionOpened, func(e Event) { opened <- e })
	bus.Subscribe(TypePositionClosed, func(e Event) { closed <- e })

	bus.PublishPosition(TypePositionOpened, PositionPayload{PositionID: "p1", Status: "OPEN"})
	bus.PublishPosition(TypePositionClosed, PositionPayload{PositionID: "p1", Status: "CLOSED", RealizedPnl: 42})

	select {
	case e := <-opened:
		if e.Payload.(PositionPayload).Status != "OPEN" {
			t.Errorf("unexpected open payload: %+v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("open event not delivered")
	}

	select {
	case e := <-closed:
		if e.Payload.(PositionPayload).RealizedPnl != 42 {
			t.Errorf("unexpected close payload: %+v", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("close event not delivered")
	}
}
