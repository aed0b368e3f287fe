package service

import (
	"fmt"
	"strings"

	"breakout_bot/internal/models"
)

var statusEmoji = map[models.HealthStatus]string{
	models.StatusStarting: "⏳",
	models.StatusRunning:  "🟢",
	models.StatusDegraded: "🟡",
	models.StatusFailed:   "🔴",
	models.StatusStopped:  "⚪️",
}

func formatEvent(ev models.Event) string {
	msg := ev.Message
	if msg == "" {
		msg = string(ev.Kind)
	}
	if ev.AccountID != "" && !strings.Contains(msg, ev.AccountID) {
		msg = "[" + ev.AccountID + "] " + msg
	}
	return msg
}

func formatAccounts(rows []models.AccountStatus) string {
	if len(rows) == 0 {
		return "📭 Аккаунтов нет"
	}
	var b strings.Builder
	b.WriteString("📊 Аккаунты:\n")
	for _, r := range rows {
		name := r.Name
		if name == "" {
			name = r.AccountID
		}
		fmt.Fprintf(&b, "%s %s: сделок %d, P&L %s, позиций %d",
			statusEmoji[r.Health.Status], name, r.Daily.TradeCount, money(r.Daily.RealizedPnL), r.Exposure.OpenPositions)
		if r.Daily.Halted {
			fmt.Fprintf(&b, ", стоп: %s", r.Daily.HaltReason)
		}
		if r.Health.RestartsToday > 0 {
			fmt.Fprintf(&b, ", рестартов %d", r.Health.RestartsToday)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFeed(s models.FeedStatus) string {
	switch s {
	case models.FeedRunning:
		return "📈 Поток котировок: работает"
	case models.FeedDegraded:
		return "📉 Поток котировок: деградировал"
	case models.FeedStopped:
		return "⛔️ Поток котировок: остановлен"
	default:
		return "⏳ Поток котировок: запускается"
	}
}

func money(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("$%.2f", v)
}
