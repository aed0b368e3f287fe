package orchestrator

import (
	"sync"

	"breakout_bot/internal/models"
)

// HealthTable строки статуса аккаунтов. Блокировка только на чтение/запись одной строки.
type HealthTable struct {
	mu    sync.RWMutex
	order []string
	rows  map[string]models.AccountStatus
}

func NewHealthTable() *HealthTable {
	return &HealthTable{rows: make(map[string]models.AccountStatus)}
}

// UpdateStatus строка от процессора. Счётчики рестартов ведёт оркестратор, их не трогаем.
func (t *HealthTable) UpdateStatus(st models.AccountStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.rows[st.AccountID]
	if !ok {
		t.order = append(t.order, st.AccountID)
	}
	st.Health.RestartsToday = prev.Health.RestartsToday
	st.Health.RestartDay = prev.Health.RestartDay
	t.rows[st.AccountID] = st
}

func (t *HealthTable) Get(id string) (models.AccountStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.rows[id]
	return st, ok
}

// All строки в порядке регистрации аккаунтов.
func (t *HealthTable) All() []models.AccountStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.AccountStatus, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.rows[id])
	}
	return out
}

// RestartsToday сколько рестартов уже было в торговый день dayID.
func (t *HealthTable) RestartsToday(id, dayID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.rows[id].Health
	if h.RestartDay != dayID {
		return 0
	}
	return h.RestartsToday
}

// NoteRestart увеличивает дневной счётчик, со сменой дня счёт начинается заново.
func (t *HealthTable) NoteRestart(id, dayID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.rows[id]
	if !ok {
		t.order = append(t.order, id)
		st.AccountID = id
	}
	if st.Health.RestartDay != dayID {
		st.Health.RestartDay = dayID
		st.Health.RestartsToday = 0
	}
	st.Health.RestartsToday++
	t.rows[id] = st
	return st.Health.RestartsToday
}

// SetStatus меняет только статус и ошибку строки.
func (t *HealthTable) SetStatus(id string, status models.HealthStatus, lastErr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.rows[id]
	if !ok {
		t.order = append(t.order, id)
		st.AccountID = id
	}
	st.Health.Status = status
	if lastErr != "" {
		st.Health.LastError = lastErr
	}
	t.rows[id] = st
}
