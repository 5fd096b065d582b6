package sandbox

import (
	"context"
	"time"

	"github.com/GriffinCanCode/cfshim/internal/shim"
)

// Config defines sandbox configuration
type Config struct {
	Timeout          time.Duration // Wall-clock limit per Execute
	MaxCallStackSize int           // goja call stack limit, 0 keeps the engine default
	EnableConsole    bool          // Capture console.log/warn/error/info
	TimerBudget      time.Duration // Virtual time drained after each script
	MaxTimerFires    int           // Upper bound on timer callbacks per Execute
	Shim             shim.Config   // Browser globals installed into every VM
}

// Result holds execution result
type Result struct {
	Value       interface{}   // Return value
	Console     []LogEntry    // Console output
	Cookie      string        // document.cookie after the run
	TimersFired int           // Timer callbacks run while draining
	Duration    time.Duration // Execution time
	Error       error         // Execution error
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info
	Message string    // Log message
	Time    time.Time // Timestamp
}

// Sandbox defines the JavaScript execution interface
type Sandbox interface {
	Execute(ctx context.Context, script string) (*Result, error)
	Reset(cfg shim.Config) error
	Close() error
}

// DefaultConfig returns the configuration used for challenge scripts.
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		MaxCallStackSize: 1024,
		EnableConsole:    true,
		TimerBudget:      5 * time.Second,
		MaxTimerFires:    10000,
	}
}
