package sandbox

import (
	"math"
	"sync"
	"time"
)

// minInterval keeps a zero-period interval from firing forever at one
// instant.
const minInterval = time.Millisecond

// MaxDelay caps a timer delay. A timer this far out never comes due within
// any drain budget, and the clock arithmetic stays clear of overflow.
const MaxDelay = time.Duration(math.MaxInt64 / 4)

// Millis converts a delay given in script milliseconds, clamped to
// [0, MaxDelay].
func Millis(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	if ms >= int64(MaxDelay/time.Millisecond) {
		return MaxDelay
	}
	return time.Duration(ms) * time.Millisecond
}

// TimerQueue is a virtual clock for setTimeout/setInterval. Nothing sleeps:
// Drain advances the clock straight to the next due callback.
type TimerQueue struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	nextID int64
	timers map[int64]*timer
}

type timer struct {
	id    int64
	due   time.Duration
	every time.Duration
	seq   uint64
	fn    func() error
}

// NewTimerQueue creates an empty queue at virtual time zero.
func NewTimerQueue() *TimerQueue {
	return &TimerQueue{timers: make(map[int64]*timer)}
}

// Schedule registers fn to run delay after the current virtual time and
// returns its id. Repeating timers re-arm with the same delay.
func (q *TimerQueue) Schedule(delay time.Duration, repeat bool, fn func() error) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	if delay > MaxDelay {
		delay = MaxDelay
	}
	q.nextID++
	q.seq++
	t := &timer{id: q.nextID, due: q.now + delay, seq: q.seq, fn: fn}
	if repeat {
		t.every = delay
		if t.every < minInterval {
			t.every = minInterval
		}
	}
	q.timers[t.id] = t
	return t.id
}

// Cancel removes a pending timer. Unknown ids are ignored.
func (q *TimerQueue) Cancel(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.timers, id)
}

// Pending returns the number of scheduled timers.
func (q *TimerQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Now returns the current virtual time.
func (q *TimerQueue) Now() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.now
}

// Drain runs due callbacks in order of due time, then registration order,
// until nothing is due within budget of the starting time or maxFires
// callbacks have run. Callbacks may schedule or cancel timers. The first
// callback error stops the drain and is returned.
func (q *TimerQueue) Drain(budget time.Duration, maxFires int) (int, error) {
	q.mu.Lock()
	limit := q.now + budget
	q.mu.Unlock()

	fired := 0
	for maxFires <= 0 || fired < maxFires {
		t := q.pop(limit)
		if t == nil {
			break
		}
		fired++
		if err := t.fn(); err != nil {
			return fired, err
		}
	}

	q.mu.Lock()
	if q.now < limit {
		q.now = limit
	}
	q.mu.Unlock()
	return fired, nil
}

// pop takes the earliest timer due at or before limit and advances the
// clock to it.
func (q *TimerQueue) pop(limit time.Duration) *timer {
	q.mu.Lock()
	defer q.mu.Unlock()

	var next *timer
	for _, t := range q.timers {
		if t.due > limit {
			continue
		}
		if next == nil || t.due < next.due || (t.due == next.due && t.seq < next.seq) {
			next = t
		}
	}
	if next == nil {
		return nil
	}

	q.now = next.due
	if next.every > 0 {
		q.seq++
		q.timers[next.id] = &timer{id: next.id, due: next.due + next.every, every: next.every, seq: q.seq, fn: next.fn}
	} else {
		delete(q.timers, next.id)
	}
	return next
}
