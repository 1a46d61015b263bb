package sandbox

import (
	"errors"
	"time"

	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
)

var (
	// ErrTimeout is returned when a script exceeds Config.Timeout.
	ErrTimeout = errors.New("sandbox: execution timeout exceeded")
	// ErrNoDocument is returned by script operations before the first load.
	ErrNoDocument = browser.ErrNoDocument
	// ErrBlocked is reported for navigations to ad-blocked hosts.
	ErrBlocked = errors.New("sandbox: blocked by content filter")
	// ErrUnsupportedScheme is reported for URLs the sandbox cannot fetch.
	ErrUnsupportedScheme = errors.New("sandbox: unsupported scheme")
)

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration // Per-entry execution timeout
	MaxCallStack  int           // Maximum JS call stack depth
	EnableConsole bool          // Capture console.log/warn/error
	// RunPageScripts evaluates inline page scripts. Failures are logged
	// and do not fail the load.
	RunPageScripts bool
	PoolSize       int // Warm runtimes kept for new pages
}

// Result holds execution result
type Result struct {
	Value    interface{}   // Return value
	Console  []LogEntry    // Console output
	Duration time.Duration // Execution time
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		MaxCallStack:  1024,
		EnableConsole: true,
		PoolSize:      4,
	}
}
