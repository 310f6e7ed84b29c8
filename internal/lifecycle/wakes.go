package lifecycle

import (
	"container/heap"
	"time"
)

type wake struct {
	eventID int64
	due     time.Time
	index   int
}

// wakeHeap is a min-heap of per-event wake times. Each live event has at
// most one entry; byEvent finds it for updates.
type wakeHeap struct {
	items   []*wake
	byEvent map[int64]*wake
}

func newWakeHeap() *wakeHeap {
	return &wakeHeap{byEvent: map[int64]*wake{}}
}

func (h *wakeHeap) Len() int           { return len(h.items) }
func (h *wakeHeap) Less(i, j int) bool { return h.items[i].due.Before(h.items[j].due) }
func (h *wakeHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *wakeHeap) Push(x any) {
	w := x.(*wake)
	w.index = len(h.items)
	h.items = append(h.items, w)
	h.byEvent[w.eventID] = w
}

func (h *wakeHeap) Pop() any {
	old := h.items
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	delete(h.byEvent, w.eventID)
	return w
}

func (h *wakeHeap) set(eventID int64, due time.Time) {
	if w, ok := h.byEvent[eventID]; ok {
		w.due = due
		heap.Fix(h, w.index)
		return
	}
	heap.Push(h, &wake{eventID: eventID, due: due})
}

func (h *wakeHeap) remove(eventID int64) {
	if w, ok := h.byEvent[eventID]; ok {
		heap.Remove(h, w.index)
	}
}

// popDue removes and returns every event due at or before now, earliest first.
func (h *wakeHeap) popDue(now time.Time) []int64 {
	var ids []int64
	for h.Len() > 0 && !h.items[0].due.After(now) {
		ids = append(ids, heap.Pop(h).(*wake).eventID)
	}
	return ids
}

func (h *wakeHeap) next() (time.Time, bool) {
	if h.Len() == 0 {
		return time.Time{}, false
	}
	return h.items[0].due, true
}
