package engine

import "time"

type point struct {
	seq   uint64
	at    time.Time
	price float64
}

// RollingWindow цены за последние span. High/Low через монотонные деки, O(1) амортизированно.
type RollingWindow struct {
	span time.Duration
	seq  uint64

	points []point
	maxQ   []point // цены по убыванию
	minQ   []point // цены по возрастанию
	sum    float64
}

func NewRollingWindow(span time.Duration) *RollingWindow {
	return &RollingWindow{span: span}
}

// Push добавляет точку и выкидывает всё старше at-span. Время должно расти.
func (w *RollingWindow) Push(at time.Time, price float64) {
	w.seq++
	p := point{seq: w.seq, at: at, price: price}

	w.points = append(w.points, p)
	w.sum += price

	for len(w.maxQ) > 0 && w.maxQ[len(w.maxQ)-1].price <= price {
		w.maxQ = w.maxQ[:len(w.maxQ)-1]
	}
	w.maxQ = append(w.maxQ, p)

	for len(w.minQ) > 0 && w.minQ[len(w.minQ)-1].price >= price {
		w.minQ = w.minQ[:len(w.minQ)-1]
	}
	w.minQ = append(w.minQ, p)

	w.evict(at)
}

func (w *RollingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.span)
	for len(w.points) > 0 && w.points[0].at.Before(cutoff) {
		old := w.points[0]
		w.points = w.points[1:]
		w.sum -= old.price
		if len(w.maxQ) > 0 && w.maxQ[0].seq == old.seq {
			w.maxQ = w.maxQ[1:]
		}
		if len(w.minQ) > 0 && w.minQ[0].seq == old.seq {
			w.minQ = w.minQ[1:]
		}
	}
}

func (w *RollingWindow) Len() int { return len(w.points) }

func (w *RollingWindow) High() float64 {
	if len(w.maxQ) == 0 {
		return 0
	}
	return w.maxQ[0].price
}

func (w *RollingWindow) Low() float64 {
	if len(w.minQ) == 0 {
		return 0
	}
	return w.minQ[0].price
}

// First самая старая цена в окне.
func (w *RollingWindow) First() float64 {
	if len(w.points) == 0 {
		return 0
	}
	return w.points[0].price
}

// Previous цена перед последней точкой.
func (w *RollingWindow) Previous() float64 {
	if len(w.points) < 2 {
		return 0
	}
	return w.points[len(w.points)-2].price
}

func (w *RollingWindow) Mean() float64 {
	if len(w.points) == 0 {
		return 0
	}
	return w.sum / float64(len(w.points))
}

// Oldest время самой старой точки.
func (w *RollingWindow) Oldest() time.Time {
	if len(w.points) == 0 {
		return time.Time{}
	}
	return w.points[0].at
}
