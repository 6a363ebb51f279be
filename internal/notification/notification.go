package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"smc-trading-engine/internal/risk"
	"smc-trading-engine/internal/smc"
)

// Type classifies a notification.
type Type string

const (
	TypeSignal     Type = "signal"
	TypeTradeOpen  Type = "trade_open"
	TypeTradeClose Type = "trade_close"
	TypeError      Type = "error"
	TypeInfo       Type = "info"
)

// Notification is one outgoing message.
type Notification struct {
	Type       Type
	Title      string
	Message    string
	Symbol     string
	Price      float64
	PnL        float64
	PnLPercent float64
	Timestamp  time.Time
	Extra      map[string]interface{}
}

// Notifier is a delivery provider.
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider.
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates an empty enabled manager.
func NewManager() *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		enabled:   true,
	}
}

// AddNotifier registers a delivery provider.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers to all enabled providers, returning the last error.
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendText delivers a plain info message.
func (m *Manager) SendText(message string) error {
	return m.Send(&Notification{
		Type:      TypeInfo,
		Title:     "Info",
		Message:   message,
		Timestamp: time.Now(),
	})
}

// NotifySignal announces a generated trading signal.
func (m *Manager) NotifySignal(symbol string, signal *smc.Signal) error {
	targets := make([]string, 0, len(signal.TakeProfit))
	for _, tp := range signal.TakeProfit {
		targets = append(targets, fmt.Sprintf("%.4f", tp))
	}

	return m.Send(&Notification{
		Type:  TypeSignal,
		Title: fmt.Sprintf("Signal: %s %s", signal.Type, symbol),
		Message: fmt.Sprintf("%s %s @ %.4f\nSL: %.4f | TP: %s\nConfidence: %.0f%%\nReason: %s",
			signal.Type, symbol, signal.EntryPrice, signal.StopLoss,
			strings.Join(targets, ", "), signal.Confidence*100, signal.Reason),
		Symbol:    symbol,
		Price:     signal.EntryPrice,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"side":        string(signal.Type),
			"stop_loss":   signal.StopLoss,
			"take_profit": signal.TakeProfit,
			"reason":      signal.Reason,
		},
	})
}

// NotifyPosition announces an opened position.
func (m *Manager) NotifyPosition(position *risk.Position) error {
	return m.Send(&Notification{
		Type:  TypeTradeOpen,
		Title: fmt.Sprintf("Trade Opened: %s", position.Symbol),
		Message: fmt.Sprintf("%s %s\nPrice: %.4f\nQuantity: %.8f\nStop: %.4f",
			position.Side, position.Symbol, position.EntryPrice, position.Quantity, position.StopLoss),
		Symbol:    position.Symbol,
		Price:     position.EntryPrice,
		Timestamp: time.Now(),
	})
}

// NotifyPositionClosed announces a closed position with its outcome.
func (m *Manager) NotifyPositionClosed(position *risk.Position, exitPrice float64, reason string) error {
	pnlPercent := 0.0
	if notional := position.EntryPrice * position.Quantity; notional != 0 {
		pnlPercent = position.RealizedPnl / notional * 100
	}

	return m.Send(&Notification{
		Type:  TypeTradeClose,
		Title: fmt.Sprintf("Trade Closed: %s", position.Symbol),
		Message: fmt.Sprintf("Entry: %.4f / Exit: %.4f\nP&L: %.4f (%.2f%%)\nReason: %s",
			position.EntryPrice, exitPrice, position.RealizedPnl, pnlPercent, reason),
		Symbol:     position.Symbol,
		Price:      exitPrice,
		PnL:        position.RealizedPnl,
		PnLPercent: pnlPercent,
		Timestamp:  time.Now(),
	})
}

// NotifyError announces a failure.
func (m *Manager) NotifyError(title, message string) error {
	return m.Send(&Notification{
		Type:      TypeError,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via the Telegram bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration.
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
	Enabled  bool   `json:"enabled"`
}

// NewTelegramNotifier creates a Telegram notifier. It stays disabled until
// both the token and the chat id are set.
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		apiBase:  "https://api.telegram.org",
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration.
type DiscordConfig struct {
	WebhookURL string `json:"webhook_url"`
	Enabled    bool   `json:"enabled"`
}

// NewDiscordNotifier creates a Discord webhook notifier.
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00
	if notification.Type == TypeError {
		color = 0xFF0000
	} else if notification.Type == TypeTradeClose && notification.PnL < 0 {
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}

	if notification.Symbol != "" {
		fields := []map[string]interface{}{
			{"name": "Symbol", "value": notification.Symbol, "inline": true},
		}
		if notification.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Price", "value": fmt.Sprintf("%.4f", notification.Price), "inline": true,
			})
		}
		if notification.PnL != 0 {
			fields = append(fields, map[string]interface{}{
				"name": "P&L", "value": fmt.Sprintf("%.4f (%.2f%%)", notification.PnL, notification.PnLPercent), "inline": true,
			})
		}
		embed["fields"] = fields
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}
