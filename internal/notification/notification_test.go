package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smc-trading-engine/internal/risk"
	"smc-trading-engine/internal/smc"
)

type recordingNotifier struct {
	name    string
	enabled bool
	sent    []*Notification
}

func (r *recordingNotifier) Send(n *Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) Name() string    { return r.name }
func (r *recordingNotifier) IsEnabled() bool { return r.enabled }

func TestManagerFansOutToEnabledProviders(t *testing.T) {
	m := NewManager()
	on := &recordingNotifier{name: "on", enabled: true}
	off := &recordingNotifier{name: "off", enabled: false}
	m.AddNotifier(on)
	m.AddNotifier(off)

	if err := m.SendText("hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(on.sent) != 1 {
		t.Errorf("enabled provider got %d messages, want 1", len(on.sent))
	}
	if len(off.sent) != 0 {
		t.Errorf("disabled provider got %d messages, want 0", len(off.sent))
	}
}

func TestNotifySignalFormatsMessage(t *testing.T) {
	m := NewManager()
	rec := &recordingNotifier{name: "rec", enabled: true}
	m.AddNotifier(rec)

	signal := &smc.Signal{
		Type:       smc.SignalBuy,
		EntryPrice: 100,
		StopLoss:   99,
		TakeProfit: []float64{102, 104},
		Confidence: 0.8,
		Reason:     "Liquidity Zone + Bullish Order Block",
	}
	if err := m.NotifySignal("BTCUSDT", signal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(rec.sent))
	}
	n := rec.sent[0]
	if n.Type != TypeSignal || n.Symbol != "BTCUSDT" || n.Price != 100 {
		t.Errorf("unexpected notification: %+v", n)
	}
	for _, want := range []string{"BUY BTCUSDT", "SL: 99.0000", "102.0000, 104.0000", "80%"} {
		if !strings.Contains(n.Message, want) {
			t.Errorf("message missing %q: %s", want, n.Message)
		}
	}
}

func TestNotifyPositionClosedComputesPercent(t *testing.T) {
	m := NewManager()
	rec := &recordingNotifier{name: "rec", enabled: true}
	m.AddNotifier(rec)

	pos := &risk.Position{
		ID:          "p1",
		Symbol:      "ETHUSDT",
		Side:        risk.SideLong,
		EntryPrice:  100,
		Quantity:    10,
		RealizedPnl: 50,
	}
	if err := m.NotifyPositionClosed(pos, 105, "take profit"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := rec.sent[0]
	if n.PnL != 50 || n.PnLPercent != 5 {
		t.Errorf("pnl = %f (%f%%), want 50 (5%%)", n.PnL, n.PnLPercent)
	}
	if !strings.Contains(n.Message, "take profit") {
		t.Errorf("message missing close reason: %s", n.Message)
	}
}

func TestTelegramNotifierPostsPayload(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer server.Close()

	n := NewTelegramNotifier(TelegramConfig{BotToken: "token", ChatID: "42", Enabled: true})
	n.apiBase = server.URL

	err := n.Send(&Notification{Title: "Test", Message: "body", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if payload["chat_id"] != "42" {
		t.Errorf("chat_id = %v, want 42", payload["chat_id"])
	}
	if text, _ := payload["text"].(string); !strings.Contains(text, "Test") {
		t.Errorf("unexpected text %q", text)
	}
}

func TestTelegramNotifierDisabledWithoutCredentials(t *testing.T) {
	n := NewTelegramNotifier(TelegramConfig{Enabled: true})
	if n.IsEnabled() {
		t.Error("notifier must stay disabled without token and chat id")
	}
	if err := n.Send(&Notification{Title: "x"}); err != nil {
		t.Errorf("disabled send must be a no-op, got %v", err)
	}
}

func TestDiscordNotifierBuildsEmbed(t *testing.T) {
	var payload struct {
		Embeds []struct {
			Title string  `json:"title"`
			Color float64 `json:"color"`
		} `json:"embeds"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewDiscordNotifier(DiscordConfig{WebhookURL: server.URL, Enabled: true})
	err := n.Send(&Notification{
		Type:      TypeTradeClose,
		Title:     "Trade Closed: BTCUSDT",
		Message:   "body",
		PnL:       -10,
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(payload.Embeds))
	}
	if payload.Embeds[0].Title != "Trade Closed: BTCUSDT" {
		t.Errorf("unexpected embed title %q", payload.Embeds[0].Title)
	}
	if int(payload.Embeds[0].Color) != 0xFF0000 {
		t.Errorf("losing trade embed color = %x, want ff0000", int(payload.Embeds[0].Color))
	}
}
