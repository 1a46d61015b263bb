package bridge

import (
	"context"
	"sync"
	"time"
)

// InjectionState is the handshake state for one surface.
type InjectionState int

const (
	NotInjected InjectionState = iota
	Injecting
	RetryPending
	Verified
	Failed
)

func (s InjectionState) String() string {
	switch s {
	case NotInjected:
		return "not_injected"
	case Injecting:
		return "injecting"
	case RetryPending:
		return "retry_pending"
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s InjectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. Tests substitute a manual scheduler.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on wall-clock time.
var RealScheduler Scheduler = realScheduler{}

// Injector performs the side effects the handshake asks for.
type Injector interface {
	Inject(ctx context.Context) error
	RequestVerification(ctx context.Context) error
}

// HandshakeConfig tunes the handshake.
type HandshakeConfig struct {
	VerifyDelay time.Duration
	MaxRetries  int
}

// DefaultHandshakeConfig waits 500ms before asking for verification and
// allows three re-injections.
func DefaultHandshakeConfig() HandshakeConfig {
	return HandshakeConfig{VerifyDelay: 500 * time.Millisecond, MaxRetries: 3}
}

// Transition describes one state change.
type Transition struct {
	From    InjectionState
	To      InjectionState
	Attempt int
	Err     error
}

// Handshake infers whether the instrumentation script is running.
//
// Each page load injects the script and, after VerifyDelay, asks the page
// to echo. Once asked, every real event that arrives before the echo means
// the script did not answer, so it is injected again. The re-injection that
// spends the last of MaxRetries moves the handshake to Failed, where it
// stays until the next page load.
type Handshake struct {
	cfg      HandshakeConfig
	injector Injector
	sched    Scheduler
	observer func(Transition)

	mu         sync.Mutex
	state      InjectionState
	attempts   int
	awaiting   bool
	timer      Timer
	generation uint64
	closed     bool
}

// NewHandshake creates a handshake in NotInjected. observer, if non-nil,
// is called outside the lock for every transition.
func NewHandshake(cfg HandshakeConfig, injector Injector, sched Scheduler, observer func(Transition)) *Handshake {
	if sched == nil {
		sched = RealScheduler
	}
	if cfg.VerifyDelay <= 0 {
		cfg.VerifyDelay = DefaultHandshakeConfig().VerifyDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Handshake{cfg: cfg, injector: injector, sched: sched, observer: observer}
}

// State returns the current state.
func (h *Handshake) State() InjectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Attempts returns how many re-injections this page load has used.
func (h *Handshake) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// Degraded reports whether the retry budget is spent.
func (h *Handshake) Degraded() bool {
	return h.State() == Failed
}

// PageLoaded restarts the handshake for a freshly loaded page.
func (h *Handshake) PageLoaded(ctx context.Context) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.stopTimerLocked()
	h.generation++
	gen := h.generation
	h.attempts = 0
	h.awaiting = false
	var ts []Transition
	ts = h.setLocked(ts, NotInjected, nil)
	ts = h.setLocked(ts, Injecting, nil)
	h.mu.Unlock()
	h.emit(ts)

	err := h.injector.Inject(ctx)

	h.mu.Lock()
	if gen == h.generation && h.state == Injecting && !h.closed {
		h.scheduleLocked(gen)
	}
	h.mu.Unlock()
	if err != nil {
		h.emit([]Transition{{From: Injecting, To: Injecting, Err: err}})
	}
}

// Observe feeds an inbound message into the handshake.
func (h *Handshake) Observe(ctx context.Context, msg Message) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}

	if msg.Type == TypeInjectionVerification && msg.Success {
		var ts []Transition
		if h.state == Injecting || h.state == RetryPending {
			h.stopTimerLocked()
			h.awaiting = false
			ts = h.setLocked(ts, Verified, nil)
		}
		h.mu.Unlock()
		h.emit(ts)
		return
	}

	if h.state != Injecting || !h.awaiting {
		h.mu.Unlock()
		return
	}

	// The echo stays outstanding until it arrives or the page reloads, so
	// every further real event is another miss.
	h.stopTimerLocked()
	if h.attempts >= h.cfg.MaxRetries {
		ts := h.setLocked(nil, Failed, nil)
		h.mu.Unlock()
		h.emit(ts)
		return
	}
	h.attempts++
	gen := h.generation
	exhausted := h.attempts >= h.cfg.MaxRetries
	ts := h.setLocked(nil, RetryPending, nil)
	h.mu.Unlock()
	h.emit(ts)

	err := h.injector.Inject(ctx)

	h.mu.Lock()
	if gen != h.generation || h.closed || h.state != RetryPending {
		h.mu.Unlock()
		return
	}
	if exhausted {
		ts = h.setLocked(nil, Failed, err)
	} else {
		ts = h.setLocked(nil, Injecting, err)
		h.scheduleLocked(gen)
	}
	h.mu.Unlock()
	h.emit(ts)
}

// Close cancels pending timers. Later calls are ignored.
func (h *Handshake) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.stopTimerLocked()
}

func (h *Handshake) scheduleLocked(gen uint64) {
	h.stopTimerLocked()
	h.timer = h.sched.AfterFunc(h.cfg.VerifyDelay, func() { h.requestVerification(gen) })
}

func (h *Handshake) requestVerification(gen uint64) {
	h.mu.Lock()
	if gen != h.generation || h.closed || h.state != Injecting {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	h.awaiting = true
	h.mu.Unlock()

	// The surface may answer synchronously, so the lock is not held here.
	if err := h.injector.RequestVerification(context.Background()); err != nil {
		h.emit([]Transition{{From: Injecting, To: Injecting, Err: err}})
	}
}

func (h *Handshake) stopTimerLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *Handshake) setLocked(ts []Transition, to InjectionState, err error) []Transition {
	ts = append(ts, Transition{From: h.state, To: to, Attempt: h.attempts, Err: err})
	h.state = to
	return ts
}

func (h *Handshake) emit(ts []Transition) {
	if h.observer == nil {
		return
	}
	for _, t := range ts {
		h.observer(t)
	}
}
