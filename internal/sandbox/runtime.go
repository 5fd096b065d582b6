package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/shim"
)

// Runtime wraps a goja VM carrying the browser shim, a console capture and
// a virtual timer queue.
type Runtime struct {
	vm      *goja.Runtime
	config  Config
	binding *shim.GojaBinding
	timers  *TimerQueue
	logger  *logging.Logger
	mu      sync.Mutex

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex
}

// New creates a new sandboxed runtime
func New(config Config, logger *logging.Logger) (*Runtime, error) {
	r := &Runtime{
		config: config,
		logger: logging.OrNop(logger).Named("sandbox"),
	}
	if err := r.init(config.Shim); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) init(cfg shim.Config) error {
	vm := goja.New()
	if r.config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}

	r.vm = vm
	r.config.Shim = cfg
	r.timers = NewTimerQueue()
	r.console = []LogEntry{}
	return r.setupGlobals()
}

// Execute runs a script, then drains timers it scheduled within the
// configured virtual budget. The wall-clock timeout and ctx both interrupt
// the VM.
func (r *Runtime) Execute(ctx context.Context, script string) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vm == nil {
		return nil, ErrClosed
	}

	start := time.Now()
	result := &Result{}

	r.consoleMu.Lock()
	r.console = []LogEntry{}
	r.consoleMu.Unlock()

	stop := r.watch(ctx)
	val, err := r.vm.RunString(script)
	if err == nil {
		result.TimersFired, err = r.timers.Drain(r.config.TimerBudget, r.config.MaxTimerFires)
	}
	stop()

	r.binding.Sync()
	result.Duration = time.Since(start)
	result.Cookie = r.binding.Environment().Document.Cookie

	r.consoleMu.Lock()
	result.Console = append([]LogEntry{}, r.console...)
	r.consoleMu.Unlock()

	if err != nil {
		err = classify(err)
		result.Error = err
		return result, err
	}

	result.Value = r.exportValue(val)
	return result, nil
}

// watch interrupts the VM when the timeout elapses or ctx ends. The returned
// func stops the watchdog and clears any interrupt it raised.
func (r *Runtime) watch(ctx context.Context) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup

	var expired <-chan time.Time
	var timer *time.Timer
	if r.config.Timeout > 0 {
		timer = time.NewTimer(r.config.Timeout)
		expired = timer.C
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-expired:
			r.vm.Interrupt(ErrExecutionTimeout)
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		if timer != nil {
			timer.Stop()
		}
		r.vm.ClearInterrupt()
	}
}

// classify unwraps goja interrupts into the error that raised them.
func classify(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("sandbox: interrupted: %w", cause)
		}
		return fmt.Errorf("sandbox: interrupted: %v", interrupted.Value())
	}
	return fmt.Errorf("%w: %w", ErrScript, err)
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("sandbox: remove %s: %w", name, err)
		}
	}

	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, level := range []string{"log", "warn", "error", "info", "debug"} {
			if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
				return fmt.Errorf("sandbox: console.%s: %w", level, err)
			}
		}
		if err := r.vm.Set("console", console); err != nil {
			return fmt.Errorf("sandbox: console: %w", err)
		}
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    r.schedule(false),
		"setInterval":   r.schedule(true),
		"clearTimeout":  r.cancel,
		"clearInterval": r.cancel,
	} {
		if err := r.vm.Set(name, fn); err != nil {
			return fmt.Errorf("sandbox: %s: %w", name, err)
		}
	}

	binding, err := shim.InstallGoja(r.vm, shim.New(r.config.Shim))
	if err != nil {
		return err
	}
	r.binding = binding
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.record(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (r *Runtime) record(level, msg string) {
	r.consoleMu.Lock()
	r.console = append(r.console, LogEntry{
		Level:   level,
		Message: msg,
		Time:    time.Now(),
	})
	r.consoleMu.Unlock()
}

// schedule backs setTimeout and setInterval. The callback may be a function
// or a source string; extra arguments are passed through.
func (r *Runtime) schedule(repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		delay := Millis(call.Argument(1).ToInteger())

		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}

		var run func() error
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			run = func() error {
				_, err := fn(goja.Undefined(), args...)
				return err
			}
		} else {
			src := call.Argument(0).String()
			run = func() error {
				_, err := r.vm.RunString(src)
				return err
			}
		}

		id := r.timers.Schedule(delay, repeat, func() error {
			return r.timerError(run())
		})
		return r.vm.ToValue(id)
	}
}

func (r *Runtime) cancel(call goja.FunctionCall) goja.Value {
	r.timers.Cancel(call.Argument(0).ToInteger())
	return goja.Undefined()
}

// timerError keeps a throwing callback from aborting the drain. Interrupts
// still propagate.
func (r *Runtime) timerError(err error) error {
	if err == nil {
		return nil
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return err
	}
	r.logger.Debug("timer callback failed", zap.Error(err))
	r.record("error", err.Error())
	return nil
}

// exportValue converts a completion value to Go. Anything JSON cannot
// carry (NaN, Infinity, functions, objects holding them) falls back to the
// value's JS string form.
func (r *Runtime) exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	exported := val.Export()
	switch v := exported.(type) {
	case bool, int64, string:
		return v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return val.String()
		}
		return v
	}
	if _, err := sonic.ConfigStd.Marshal(exported); err != nil {
		return val.String()
	}
	return exported
}

// Environment returns the shim state as of the last Execute.
func (r *Runtime) Environment() *shim.Environment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.binding == nil {
		return nil
	}
	return r.binding.Environment()
}

// PendingTimers returns how many timers are still scheduled.
func (r *Runtime) PendingTimers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timers == nil {
		return 0
	}
	return r.timers.Pending()
}

// Reset discards all script state and installs a fresh shim for cfg.
func (r *Runtime) Reset(cfg shim.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.init(cfg)
}

// Close releases resources
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vm = nil
	r.binding = nil
	r.timers = nil
	r.console = nil
	return nil
}
