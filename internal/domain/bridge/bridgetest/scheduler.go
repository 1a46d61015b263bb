// Package bridgetest provides test doubles for the bridge package.
package bridgetest

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
)

// Scheduler is a bridge.Scheduler whose timers only fire when told to.
type Scheduler struct {
	mu     sync.Mutex
	timers []*timer
}

type timer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *timer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

// AfterFunc records f without running it.
func (s *Scheduler) AfterFunc(d time.Duration, f func()) bridge.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &timer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// LastDelay returns the delay of the most recently armed timer.
func (s *Scheduler) LastDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return 0
	}
	return s.timers[len(s.timers)-1].delay
}

// Fire runs every armed timer once and reports how many ran.
func (s *Scheduler) Fire() int {
	s.mu.Lock()
	var due []*timer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.timers = nil
	s.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// Endpoint records injections and commands. Echo makes it answer
// verification requests through the session that owns it.
type Endpoint struct {
	mu       sync.Mutex
	injects  int
	commands []bridge.Command

	InjectErr error
	SendErr   error
	// Echo, when set, receives the verification reply.
	Echo func(ctx context.Context, raw []byte)
}

// Inject counts the injection.
func (e *Endpoint) Inject(ctx context.Context, script string) error {
	e.mu.Lock()
	e.injects++
	err := e.InjectErr
	e.mu.Unlock()
	return err
}

// Send decodes and records the command.
func (e *Endpoint) Send(ctx context.Context, payload []byte) error {
	cmd, err := bridge.DecodeCommand(payload)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.commands = append(e.commands, cmd)
	sendErr, echo := e.SendErr, e.Echo
	e.mu.Unlock()
	if sendErr != nil {
		return sendErr
	}
	if cmd.Op == bridge.OpVerifyInjection && echo != nil {
		echo(ctx, []byte(`{"type":"injectionVerification","success":true}`))
	}
	return nil
}

// Injections returns how many times Inject was called.
func (e *Endpoint) Injections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.injects
}

// Commands returns the commands sent so far.
func (e *Endpoint) Commands() []bridge.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bridge.Command(nil), e.commands...)
}
