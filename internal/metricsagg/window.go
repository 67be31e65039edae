package metricsagg

import (
	list "github.com/bahlo/generic-list-go"
)

// window is a bounded FIFO of float64 readings, backed by a generic
// doubly-linked list so eviction of the oldest reading is O(1).
type window struct {
	l        *list.List[float64]
	capacity int
}

func newWindow(capacity int) *window {
	return &window{l: list.New[float64](), capacity: capacity}
}

func (w *window) push(v float64) {
	w.l.PushBack(v)
	if w.l.Len() > w.capacity {
		w.l.Remove(w.l.Front())
	}
}

func (w *window) values() []float64 {
	out := make([]float64, 0, w.l.Len())
	for e := w.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value)
	}
	return out
}

func (w *window) len() int {
	return w.l.Len()
}
