package models

import "time"

type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
	StatusStopped  HealthStatus = "stopped"
)

type HealthRecord struct {
	LastHeartbeat       time.Time    `json:"last_heartbeat"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	RestartCount        int          `json:"restart_count"`
	RestartsToday       int          `json:"restarts_today"`
	RestartDay          string       `json:"restart_day"`
	Status              HealthStatus `json:"status"`
	LastError           string       `json:"last_error,omitempty"`
}

// Exposure открытый риск аккаунта на последнем шаге.
type Exposure struct {
	OpenPositions int     `json:"open_positions"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// AccountStatus строка таблицы здоровья оркестратора.
type AccountStatus struct {
	AccountID string       `json:"account_id"`
	Name      string       `json:"name"`
	Health    HealthRecord `json:"health"`
	Daily     DailyState   `json:"daily"`
	Exposure  Exposure     `json:"exposure"`
}

// CurrentLoss реализованный + нереализованный убыток дня, 0 если в плюсе.
func (s AccountStatus) CurrentLoss() float64 {
	pnl := s.Daily.RealizedPnL + s.Exposure.UnrealizedPnL
	if pnl >= 0 {
		return 0
	}
	return -pnl
}

type FeedStatus string

const (
	FeedStarting FeedStatus = "starting"
	FeedRunning  FeedStatus = "running"
	FeedDegraded FeedStatus = "degraded"
	FeedStopped  FeedStatus = "stopped"
)
