package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robertkrimen/otto"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/cfshim/internal/infrastructure/logging"
	"github.com/GriffinCanCode/cfshim/internal/sandbox"
	"github.com/GriffinCanCode/cfshim/internal/shim"
)

// halt is panicked into the otto VM by the watchdog.
type halt struct{ err error }

// Otto runs scripts in a fresh otto VM per call. otto has no event loop, so
// setTimeout is backed by the sandbox's virtual timer queue.
type Otto struct {
	config sandbox.Config
	logger *logging.Logger
}

// NewOtto creates an otto engine.
func NewOtto(opts Options) *Otto {
	opts = opts.withDefaults()
	return &Otto{config: opts.Sandbox, logger: opts.Logger.Named("engine.otto")}
}

func (o *Otto) Name() string { return "otto" }

func (o *Otto) Eval(ctx context.Context, script string) (string, error) {
	var out string
	err := o.run(ctx, shim.Config{}, func(s *ottoSession) error {
		v, err := s.exec(script)
		if err != nil {
			return err
		}
		if v.IsDefined() && !v.IsNull() {
			out = v.String()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("engine: otto eval: %w", err)
	}
	return out, nil
}

func (o *Otto) Solve(ctx context.Context, job Job) (string, error) {
	var answer string
	err := o.run(ctx, job.shimConfig(), func(s *ottoSession) error {
		for i, script := range job.Scripts {
			if _, err := s.exec(script); err != nil {
				o.logger.Warn("challenge script failed", zap.Int("index", i), zap.String("domain", job.Domain), zap.Error(err))
			}
		}
		v, err := s.exec(job.answerExpr())
		if err != nil {
			return err
		}
		if v.IsString() {
			answer = v.String()
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("engine: otto solve: %w", err)
	}
	if answer == "" {
		return "", ErrNoAnswer
	}
	return answer, nil
}

func (o *Otto) Close() error { return nil }

// ottoSession is one VM plus its timer queue.
type ottoSession struct {
	vm     *otto.Otto
	timers *sandbox.TimerQueue
	config sandbox.Config
	logger *logging.Logger
}

// exec runs src, then drains timers it scheduled.
func (s *ottoSession) exec(src string) (otto.Value, error) {
	v, err := s.vm.Run(src)
	if err != nil {
		return otto.UndefinedValue(), err
	}
	if _, err := s.timers.Drain(s.config.TimerBudget, s.config.MaxTimerFires); err != nil {
		return otto.UndefinedValue(), err
	}
	return v, nil
}

// run builds a VM for cfg and calls fn under the watchdog. A timeout or ctx
// cancellation aborts the VM at its next instruction.
func (o *Otto) run(ctx context.Context, cfg shim.Config, fn func(*ottoSession) error) (err error) {
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	s := &ottoSession{vm: vm, timers: sandbox.NewTimerQueue(), config: o.config, logger: o.logger}
	if err := s.install(cfg); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)

	var expired <-chan time.Time
	if o.config.Timeout > 0 {
		timer := time.NewTimer(o.config.Timeout)
		defer timer.Stop()
		expired = timer.C
	}
	go func() {
		var cause error
		select {
		case <-expired:
			cause = sandbox.ErrExecutionTimeout
		case <-ctx.Done():
			cause = ctx.Err()
		case <-done:
			return
		}
		select {
		case vm.Interrupt <- func() { panic(halt{err: cause}) }:
		default:
		}
	}()

	defer func() {
		if caught := recover(); caught != nil {
			h, ok := caught.(halt)
			if !ok {
				panic(caught)
			}
			err = h.err
		}
	}()

	return fn(s)
}

func (s *ottoSession) install(cfg shim.Config) error {
	if _, err := shim.InstallOtto(s.vm, shim.New(cfg)); err != nil {
		return err
	}

	console, err := s.vm.Object("({})")
	if err != nil {
		return fmt.Errorf("engine: otto console: %w", err)
	}
	logFn := func(call otto.FunctionCall) otto.Value {
		s.logger.Debug("console", zap.String("message", call.Argument(0).String()))
		return otto.UndefinedValue()
	}
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		if err := console.Set(level, logFn); err != nil {
			return fmt.Errorf("engine: otto console.%s: %w", level, err)
		}
	}

	for name, fn := range map[string]interface{}{
		"console":       console.Value(),
		"setTimeout":    s.schedule(false),
		"setInterval":   s.schedule(true),
		"clearTimeout":  s.cancel,
		"clearInterval": s.cancel,
	} {
		if err := s.vm.Set(name, fn); err != nil {
			return fmt.Errorf("engine: otto %s: %w", name, err)
		}
	}
	return nil
}

func (s *ottoSession) schedule(repeat bool) func(otto.FunctionCall) otto.Value {
	return func(call otto.FunctionCall) otto.Value {
		ms, _ := call.Argument(1).ToInteger()

		var args []interface{}
		if len(call.ArgumentList) > 2 {
			for _, a := range call.ArgumentList[2:] {
				args = append(args, a)
			}
		}

		target := call.Argument(0)
		run := func() error {
			var err error
			if target.IsFunction() {
				_, err = target.Call(otto.UndefinedValue(), args...)
			} else {
				_, err = s.vm.Run(target.String())
			}
			if err != nil {
				s.logger.Debug("timer callback failed", zap.Error(err))
			}
			return nil
		}

		id := s.timers.Schedule(sandbox.Millis(ms), repeat, run)
		v, err := s.vm.ToValue(id)
		if err != nil {
			return otto.UndefinedValue()
		}
		return v
	}
}

func (s *ottoSession) cancel(call otto.FunctionCall) otto.Value {
	if id, err := call.Argument(0).ToInteger(); err == nil {
		s.timers.Cancel(id)
	}
	return otto.UndefinedValue()
}
