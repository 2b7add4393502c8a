package sandbox

import (
	"container/heap"
	"context"
	"time"

	"github.com/dop251/goja"
)

// drainHorizon bounds how far virtual time advances during a drain, so
// intervals registered by the bundle do not run forever.
const drainHorizon = 5 * time.Second

type timer struct {
	id       int64
	due      time.Duration
	interval time.Duration
	fn       goja.Callable
	args     []goja.Value
	index    int
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due == h[j].due {
		return h[i].id < h[j].id
	}
	return h[i].due < h[j].due
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	t.index = -1
	return t
}

// timerQueue runs setTimeout/setInterval callbacks in virtual time. Nothing
// sleeps: firing a timer advances the virtual clock to its due time.
type timerQueue struct {
	heap    timerHeap
	byID    map[int64]*timer
	nextID  int64
	elapsed time.Duration
	budget  int
	fired   int
}

func newTimerQueue(budget int) *timerQueue {
	return &timerQueue{
		byID:   make(map[int64]*timer),
		budget: budget,
	}
}

// Elapsed returns the virtual time consumed so far
func (q *timerQueue) Elapsed() time.Duration {
	return q.elapsed
}

// Len returns the number of pending timers
func (q *timerQueue) Len() int {
	return len(q.heap)
}

// Add schedules fn and returns its id. Non-callable handlers are accepted and ignored.
func (q *timerQueue) Add(fn goja.Value, delay float64, repeat bool, args []goja.Value) int64 {
	q.nextID++
	id := q.nextID

	call, ok := goja.AssertFunction(fn)
	if !ok {
		return id
	}

	d := time.Duration(delay * float64(time.Millisecond))
	if d < 0 {
		d = 0
	}
	t := &timer{id: id, due: q.elapsed + d, fn: call, args: args}
	if repeat {
		t.interval = max(d, time.Millisecond)
	}

	heap.Push(&q.heap, t)
	q.byID[id] = t
	return id
}

// Remove cancels a pending timer
func (q *timerQueue) Remove(id int64) {
	t, ok := q.byID[id]
	if !ok {
		return
	}
	delete(q.byID, id)
	if t.index >= 0 {
		heap.Remove(&q.heap, t.index)
	}
}

// RunNext fires the earliest timer. It reports false when nothing is
// pending or the budget is spent.
func (q *timerQueue) RunNext() (bool, error) {
	if len(q.heap) == 0 || q.fired >= q.budget {
		return false, nil
	}

	t := heap.Pop(&q.heap).(*timer)
	if t.due > q.elapsed {
		q.elapsed = t.due
	}
	if t.interval > 0 {
		t.due = q.elapsed + t.interval
		heap.Push(&q.heap, t)
	} else {
		delete(q.byID, t.id)
	}

	q.fired++
	_, err := t.fn(goja.Undefined(), t.args...)
	return true, err
}

// Drain fires timers until none are due within the horizon
func (q *timerQueue) Drain(ctx context.Context) error {
	limit := q.elapsed + drainHorizon
	for len(q.heap) > 0 && q.heap[0].due <= limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		ran, err := q.RunNext()
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
	return nil
}

// Clear drops every pending timer
func (q *timerQueue) Clear() {
	q.heap = nil
	q.byID = make(map[int64]*timer)
}
