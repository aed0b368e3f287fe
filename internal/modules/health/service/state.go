package service

import (
	"sync"
	"sync/atomic"
	"time"

	"breakout_bot/internal/models"
)

// StatusSource оркестратор: строки аккаунтов и статус фида.
type StatusSource interface {
	Accounts() []models.AccountStatus
	FeedStatus() models.FeedStatus
	Stopping() bool
}

// Status то, что отдают /healthz, /accounts и /ws/status.
type Status struct {
	Ready     bool                   `json:"ready"`
	Stopping  bool                   `json:"stopping"`
	UptimeSec int64                  `json:"uptime_sec"`
	Feed      models.FeedStatus      `json:"feed"`
	Accounts  []models.AccountStatus `json:"accounts"`
	At        time.Time              `json:"at"`
}

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	mu     sync.RWMutex
	source StatusSource
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }

// Ready процесс запущен и фид не остановлен.
func (s *State) Ready() bool {
	if !s.ready.Load() {
		return false
	}
	src := s.Source()
	if src == nil {
		return false
	}
	return !src.Stopping() && src.FeedStatus() != models.FeedStopped
}

func (s *State) SetSource(src StatusSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

func (s *State) Source() StatusSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func (s *State) Snapshot(now time.Time) Status {
	st := Status{
		Ready:     s.Ready(),
		UptimeSec: int64(s.Uptime().Seconds()),
		Feed:      models.FeedStarting,
		Accounts:  []models.AccountStatus{},
		At:        now,
	}
	if src := s.Source(); src != nil {
		st.Stopping = src.Stopping()
		st.Feed = src.FeedStatus()
		if rows := src.Accounts(); rows != nil {
			st.Accounts = rows
		}
	}
	return st
}
