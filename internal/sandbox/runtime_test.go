package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/cfshim/internal/shim"
)

func newRuntime(t *testing.T, mutate func(*Config)) *Runtime {
	t.Helper()
	config := DefaultConfig()
	if mutate != nil {
		mutate(&config)
	}
	runtime, err := New(config, nil)
	require.NoError(t, err)
	t.Cleanup(func() { runtime.Close() })
	return runtime
}

func TestRuntimeExecution(t *testing.T) {
	runtime := newRuntime(t, nil)

	tests := []struct {
		name   string
		script string
		want   interface{}
	}{
		{name: "simple return", script: "42", want: int64(42)},
		{name: "string operations", script: "'hello'.toUpperCase()", want: "HELLO"},
		{name: "undefined is nil", script: "void 0", want: nil},
		{name: "window global", script: "window === this", want: true},
		{name: "atob", script: "atob('SGVsbG8=')", want: "Hello"},
		{name: "plain object", script: "({a: 1, b: [true]})", want: map[string]interface{}{"a": int64(1), "b": []interface{}{true}}},
		{name: "infinity", script: "1/0", want: "Infinity"},
		{name: "nan", script: "0/0", want: "NaN"},
		{name: "object with method", script: "({f: function () {}})", want: "[object Object]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := runtime.Execute(context.Background(), tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Value)
		})
	}
}

func TestRuntimeSecurity(t *testing.T) {
	runtime := newRuntime(t, nil)

	for _, script := range []string{"require('fs')", "process.exit(1)", "module.exports = 1"} {
		t.Run(script, func(t *testing.T) {
			_, err := runtime.Execute(context.Background(), script)
			assert.Error(t, err)
		})
	}
}

func TestRuntimeConsole(t *testing.T) {
	runtime := newRuntime(t, nil)

	result, err := runtime.Execute(context.Background(), `console.log('a', 1); console.warn('b')`)
	require.NoError(t, err)
	require.Len(t, result.Console, 2)
	assert.Equal(t, LogEntry{Level: "log", Message: "a 1", Time: result.Console[0].Time}, result.Console[0])
	assert.Equal(t, "warn", result.Console[1].Level)

	result, err = runtime.Execute(context.Background(), `1`)
	require.NoError(t, err)
	assert.Empty(t, result.Console)
}

func TestRuntimeTimeout(t *testing.T) {
	runtime := newRuntime(t, func(c *Config) { c.Timeout = 50 * time.Millisecond })

	start := time.Now()
	_, err := runtime.Execute(context.Background(), `while (true) {}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecutionTimeout), err.Error())
	assert.Less(t, time.Since(start), 2*time.Second)

	result, err := runtime.Execute(context.Background(), `'recovered'`)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Value)
}

func TestRuntimeContextCancel(t *testing.T) {
	runtime := newRuntime(t, func(c *Config) { c.Timeout = 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := runtime.Execute(ctx, `for (;;) {}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err.Error())
}

func TestRuntimeTimers(t *testing.T) {
	runtime := newRuntime(t, nil)

	start := time.Now()
	result, err := runtime.Execute(context.Background(), `
		var order = [];
		setTimeout(function () { order.push('late') }, 4000);
		setTimeout(function (x) { order.push(x) }, 10, 'early');
		setTimeout("order.push('source')", 20);
		var cancelled = setTimeout(function () { order.push('never') }, 5);
		clearTimeout(cancelled);
		0
	`)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 3, result.TimersFired)

	result, err = runtime.Execute(context.Background(), `order.join(',')`)
	require.NoError(t, err)
	assert.Equal(t, "early,source,late", result.Value)
}

func TestRuntimeTimerBudget(t *testing.T) {
	runtime := newRuntime(t, func(c *Config) { c.TimerBudget = time.Second })

	result, err := runtime.Execute(context.Background(), `
		var fired = false;
		setTimeout(function () { fired = true }, 3000);
	`)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TimersFired)
	assert.Equal(t, 1, runtime.PendingTimers())

	// The clock keeps advancing across calls: 2s, then 3s fires the timer.
	result, err = runtime.Execute(context.Background(), `0`)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TimersFired)
	result, err = runtime.Execute(context.Background(), `0`)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TimersFired)

	result, err = runtime.Execute(context.Background(), `fired`)
	require.NoError(t, err)
	assert.Equal(t, true, result.Value)
}

func TestRuntimeHugeDelayNeverFires(t *testing.T) {
	runtime := newRuntime(t, nil)

	result, err := runtime.Execute(context.Background(), `
		var fired = false;
		setTimeout(function () { fired = true }, 1e16);
		setTimeout(function () { fired = true }, Infinity);
		fired
	`)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TimersFired)
	assert.Equal(t, 2, runtime.PendingTimers())
	assert.Equal(t, false, result.Value)
}

func TestRuntimeIntervalBounded(t *testing.T) {
	runtime := newRuntime(t, func(c *Config) { c.MaxTimerFires = 25 })

	result, err := runtime.Execute(context.Background(), `
		var n = 0;
		setInterval(function () { n++ }, 0);
	`)
	require.NoError(t, err)
	assert.Equal(t, 25, result.TimersFired)
}

func TestRuntimeTimerErrorDoesNotAbort(t *testing.T) {
	runtime := newRuntime(t, nil)

	result, err := runtime.Execute(context.Background(), `
		var ok = false;
		setTimeout(function () { throw new Error('boom') }, 1);
		setTimeout(function () { ok = true }, 2);
	`)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TimersFired)
	require.NotEmpty(t, result.Console)
	assert.Equal(t, "error", result.Console[0].Level)
	assert.Contains(t, result.Console[0].Message, "boom")
}

func TestRuntimeCookieAndReset(t *testing.T) {
	runtime := newRuntime(t, nil)
	require.NoError(t, runtime.Reset(shim.Config{Domain: "example.com", UserAgent: "UA/1"}))

	result, err := runtime.Execute(context.Background(), `
		document.cookie = 'cf_clearance=1';
		navigator.userAgent + ' ' + document.createElement('a').firstChild.href
	`)
	require.NoError(t, err)
	assert.Equal(t, "UA/1 https://example.com/", result.Value)
	assert.Equal(t, "cf_clearance=1", result.Cookie)
	assert.Equal(t, "cf_clearance=1", runtime.Environment().Document.Cookie)

	require.NoError(t, runtime.Reset(shim.Config{}))
	result, err = runtime.Execute(context.Background(), `typeof order + document.cookie`)
	require.NoError(t, err)
	assert.Equal(t, "undefined", result.Value)
}

func TestRuntimeClosed(t *testing.T) {
	runtime := newRuntime(t, nil)
	require.NoError(t, runtime.Close())

	_, err := runtime.Execute(context.Background(), `1`)
	assert.ErrorIs(t, err, ErrClosed)
}
