package feed

import (
	"sync/atomic"

	"breakout_bot/internal/models"
)

// subscriber ограниченная очередь одного потребителя. Пишет только цикл фида.
type subscriber struct {
	id    string
	ch    chan models.MarketSnapshot
	drops atomic.Uint64
}

func newSubscriber(id string, size int) *subscriber {
	return &subscriber{id: id, ch: make(chan models.MarketSnapshot, size)}
}

// offer никогда не блокирует. Если очередь полна, выкидываем самый старый снапшот.
// Возвращает true, если что-то было выброшено.
func (s *subscriber) offer(snap models.MarketSnapshot) bool {
	select {
	case s.ch <- snap:
		return false
	default:
	}

	dropped := false
	select {
	case <-s.ch:
		dropped = true
	default:
	}

	select {
	case s.ch <- snap:
	default:
		// потребитель успел освободить место и его снова заняли, теряем текущий
		dropped = true
	}
	if dropped {
		s.drops.Add(1)
	}
	return dropped
}

func (s *subscriber) depth() int { return len(s.ch) }
