package models

import "time"

type EventKind string

const (
	EventStartup         EventKind = "startup"
	EventSignal          EventKind = "signal"
	EventEntry           EventKind = "entry"
	EventExit            EventKind = "exit"
	EventSelectionFailed EventKind = "selection_failed"
	EventOrderFailed     EventKind = "order_failed"
	EventRiskLimit       EventKind = "risk_limit"
	EventEmergencyStop   EventKind = "emergency_stop"
	EventNewDay          EventKind = "new_day"
	EventDegraded        EventKind = "degraded"
	EventFailed          EventKind = "failed"
	EventRestarted       EventKind = "restarted"
	EventFeedDegraded    EventKind = "feed_degraded"
	EventFeedRecovered   EventKind = "feed_recovered"
	EventGlobalEmergency EventKind = "global_emergency"
	EventShutdown        EventKind = "shutdown"
)

// Event уведомление наверх: в телеграм, логи, статус.
type Event struct {
	Kind      EventKind `json:"kind"`
	AccountID string    `json:"account_id,omitempty"`
	At        time.Time `json:"at"`
	Message   string    `json:"message"`

	Signal *Signal      `json:"signal,omitempty"`
	Trade  *ClosedTrade `json:"trade,omitempty"`
	Entry  *Position    `json:"entry,omitempty"`
}
