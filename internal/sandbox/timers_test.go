package sandbox

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerQueueOrder(t *testing.T) {
	q := NewTimerQueue()
	var got []string
	push := func(s string) func() error {
		return func() error { got = append(got, s); return nil }
	}

	q.Schedule(30*time.Millisecond, false, push("c"))
	q.Schedule(10*time.Millisecond, false, push("a"))
	q.Schedule(10*time.Millisecond, false, push("b"))
	q.Schedule(-5*time.Millisecond, false, push("first"))

	fired, err := q.Drain(time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, fired)
	assert.Equal(t, []string{"first", "a", "b", "c"}, got)
	assert.Equal(t, time.Second, q.Now())
	assert.Zero(t, q.Pending())
}

func TestTimerQueueNested(t *testing.T) {
	q := NewTimerQueue()
	var at []time.Duration

	q.Schedule(100*time.Millisecond, false, func() error {
		at = append(at, q.Now())
		q.Schedule(100*time.Millisecond, false, func() error {
			at = append(at, q.Now())
			return nil
		})
		return nil
	})

	fired, err := q.Drain(time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, fired)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, at)
}

func TestTimerQueueCancelAndBudget(t *testing.T) {
	q := NewTimerQueue()
	calls := 0
	count := func() error { calls++; return nil }

	id := q.Schedule(time.Millisecond, false, count)
	q.Schedule(2*time.Second, false, count)
	q.Cancel(id)
	q.Cancel(999)

	fired, err := q.Drain(time.Second, 0)
	require.NoError(t, err)
	assert.Zero(t, fired)
	assert.Equal(t, 1, q.Pending())

	fired, err = q.Drain(time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, calls)
}

func TestTimerQueueInterval(t *testing.T) {
	q := NewTimerQueue()
	calls := 0
	var id int64
	id = q.Schedule(100*time.Millisecond, true, func() error {
		calls++
		if calls == 3 {
			q.Cancel(id)
		}
		return nil
	})

	fired, err := q.Drain(10*time.Second, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, fired)
	assert.Zero(t, q.Pending())
}

func TestTimerQueueError(t *testing.T) {
	q := NewTimerQueue()
	boom := errors.New("boom")
	q.Schedule(0, false, func() error { return boom })
	q.Schedule(1, false, func() error { return nil })

	fired, err := q.Drain(time.Second, 0)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, q.Pending())
}

func TestMillis(t *testing.T) {
	tests := []struct {
		ms   int64
		want time.Duration
	}{
		{ms: -10, want: 0},
		{ms: 0, want: 0},
		{ms: 250, want: 250 * time.Millisecond},
		{ms: 1e16, want: MaxDelay},
		{ms: math.MaxInt64, want: MaxDelay},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Millis(tt.ms), "ms %d", tt.ms)
	}
}
