package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockpilot/broker"
	"stockpilot/journal"
)

// Telegram sends messages through the Bot API sendMessage endpoint.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	log    *slog.Logger
}

func NewTelegram(token, chatID string, log *slog.Logger) *Telegram {
	if log == nil {
		log = slog.Default()
	}
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// send posts one message. Failures are logged and swallowed.
func (t *Telegram) send(text string) {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	resp, err := t.client.PostForm(endpoint, url.Values{
		"chat_id": {t.chatID},
		"text":    {text},
	})
	if err != nil {
		t.log.Warn("telegram send failed", slog.String("error", err.Error()))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.log.Warn("telegram send rejected", slog.Int("status", resp.StatusCode))
	}
}

func (t *Telegram) NotifySignal(symbol string, m broker.Market, strategy, signal, detail string) {
	t.send(fmt.Sprintf("📊 Signal [%s/%s]\n%s: %s\n%s", m, symbol, strategy, signal, detail))
}

func (t *Telegram) NotifyOrder(symbol string, side broker.Side, qty int64, price float64, success bool, message string) {
	mark := "✅"
	if !success {
		mark = "❌"
	}
	t.send(fmt.Sprintf("%s Order %s %s x%d @ %.2f\n%s", mark, strings.ToUpper(string(side)), symbol, qty, price, message))
}

func (t *Telegram) NotifyError(msg string) {
	t.send("⚠️ " + msg)
}

func (t *Telegram) NotifySystem(msg string) {
	t.send("ℹ️ " + msg)
}

func (t *Telegram) NotifyDailySummary(d journal.DailySummary, positions []broker.Position) {
	var b strings.Builder
	fmt.Fprintf(&b, "📅 Daily summary %s\n", d.Date)
	fmt.Fprintf(&b, "Trades: %d (W %d / L %d)\n", d.TotalTrades, d.WinCount, d.LossCount)
	fmt.Fprintf(&b, "P&L: %+.0f\n", d.TotalPnL)
	if len(positions) > 0 {
		b.WriteString("Positions:\n")
		for _, p := range positions {
			fmt.Fprintf(&b, "  %s x%d (%+.1f%%)\n", p.Symbol, p.Qty, p.PnLPct)
		}
	}
	t.send(b.String())
}
