package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// Runtime wraps goja VM with security controls. A Runtime is not safe for
// concurrent use; the owning page serialises access.
type Runtime struct {
	vm     *goja.Runtime
	config Config

	consoleMu sync.Mutex
	console   []LogEntry

	depth int
}

// New creates a new sandboxed runtime
func New(config Config) (*Runtime, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	r := &Runtime{config: config}
	if err := r.setupGlobals(goja.New()); err != nil {
		return nil, err
	}
	return r, nil
}

// VM exposes the underlying goja runtime for host object installation.
func (r *Runtime) VM() *goja.Runtime {
	return r.vm
}

// Execute runs JavaScript code with timeout and resource limits
func (r *Runtime) Execute(ctx context.Context, script string) (*Result, error) {
	start := time.Now()
	r.resetConsole()

	val, err := r.guard(ctx, func() (goja.Value, error) {
		return r.vm.RunString(script)
	})

	result := &Result{
		Console:  r.Console(),
		Duration: time.Since(start),
	}
	if err != nil {
		return result, err
	}
	result.Value = exportValue(val)
	return result, nil
}

// Call invokes a JS function under the same limits as Execute.
func (r *Runtime) Call(ctx context.Context, fn goja.Callable, this goja.Value, args ...goja.Value) (goja.Value, error) {
	if this == nil {
		this = goja.Undefined()
	}
	return r.guard(ctx, func() (goja.Value, error) {
		return fn(this, args...)
	})
}

// guard interrupts the VM when ctx ends or the timeout passes.
func (r *Runtime) guard(ctx context.Context, run func() (goja.Value, error)) (goja.Value, error) {
	if r.vm == nil {
		return nil, errors.New("sandbox: runtime closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.depth > 0 {
		// Already inside a guarded entry; the outer guard enforces limits.
		return run()
	}
	r.depth++
	defer func() { r.depth-- }()

	timer := time.NewTimer(r.config.Timeout)
	defer timer.Stop()
	done := make(chan struct{})
	exited := make(chan struct{})

	vm := r.vm
	go func() {
		defer close(exited)
		select {
		case <-timer.C:
			vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := run()
	close(done)
	<-exited
	vm.ClearInterrupt()

	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return nil, cause
			}
		}
		return nil, fmt.Errorf("script error: %w", err)
	}
	return val, nil
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals(vm *goja.Runtime) error {
	if r.config.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(r.config.MaxCallStack)
	}
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	// Remove Node-style globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "warn", "error", "info", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	r.vm = vm
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !r.config.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()
		return goja.Undefined()
	}
}

// Console returns console output since the last Execute.
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry{}, r.console...)
}

func (r *Runtime) resetConsole() {
	r.consoleMu.Lock()
	r.console = r.console[:0]
	r.consoleMu.Unlock()
}

func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// Reset replaces the VM with a fresh one.
func (r *Runtime) Reset() error {
	r.resetConsole()
	return r.setupGlobals(goja.New())
}

// Close releases resources
func (r *Runtime) Close() error {
	r.vm = nil
	r.consoleMu.Lock()
	r.console = nil
	r.consoleMu.Unlock()
	return nil
}
