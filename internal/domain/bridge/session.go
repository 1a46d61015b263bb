package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/monitoring"
)

// ErrSessionClosed is returned by Send after Close.
var ErrSessionClosed = errors.New("bridge: session closed")

// Endpoint is the host side of one content surface.
type Endpoint interface {
	// Inject evaluates script in the page.
	Inject(ctx context.Context, script string) error
	// Send hands an encoded Command to the in-page dispatcher.
	Send(ctx context.Context, payload []byte) error
}

// Handler receives parsed inbound messages.
type Handler interface {
	OnFavicon(ctx context.Context, url string)
	OnContextMenu(ctx context.Context, menu ContextMenu)
	OnVideo(ctx context.Context, kind MessageType, ev VideoEvent)
	OnNewTab(ctx context.Context, url string)
	OnCookies(ctx context.Context, cookies []Cookie)
	OnLocalStorage(ctx context.Context, items map[string]string)
	OnInjectionState(state InjectionState)
}

// NopHandler ignores every message. Embed it to implement part of Handler.
type NopHandler struct{}

func (NopHandler) OnFavicon(context.Context, string) {}
func (NopHandler) OnContextMenu(context.Context, ContextMenu) {}
func (NopHandler) OnVideo(context.Context, MessageType, VideoEvent) {}
func (NopHandler) OnNewTab(context.Context, string) {}
func (NopHandler) OnCookies(context.Context, []Cookie) {}
func (NopHandler) OnLocalStorage(context.Context, map[string]string) {}
func (NopHandler) OnInjectionState(InjectionState) {}

// Session is the bridge for one surface instance: it parses inbound
// frames, drives the injection handshake and encodes outbound commands.
type Session struct {
	endpoint  Endpoint
	handler   Handler
	handshake *Handshake
	script    string

	cfg     HandshakeConfig
	sched   Scheduler
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu     sync.RWMutex
	closed bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithHandshakeConfig overrides the verification delay and retry budget.
func WithHandshakeConfig(cfg HandshakeConfig) SessionOption {
	return func(s *Session) { s.cfg = cfg }
}

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(sched Scheduler) SessionOption {
	return func(s *Session) { s.sched = sched }
}

// WithScript replaces the injected instrumentation.
func WithScript(script string) SessionOption {
	return func(s *Session) { s.script = script }
}

// NewSession binds a handler to an endpoint.
func NewSession(endpoint Endpoint, handler Handler, opts ...SessionOption) *Session {
	if handler == nil {
		handler = NopHandler{}
	}
	s := &Session{
		endpoint: endpoint,
		handler:  handler,
		script:   Script(),
		cfg:      DefaultHandshakeConfig(),
		sched:    RealScheduler,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Component("bridge")
	s.handshake = NewHandshake(s.cfg, sessionInjector{s}, s.sched, s.observe)
	return s
}

// PageLoaded restarts the handshake after a completed navigation.
func (s *Session) PageLoaded(ctx context.Context) {
	if s.isClosed() {
		return
	}
	s.handshake.PageLoaded(ctx)
}

// Receive handles one raw inbound frame. Malformed frames are logged and
// dropped; the returned error is informational.
func (s *Session) Receive(ctx context.Context, raw []byte) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	msg, err := Parse(raw)
	if err != nil {
		s.metrics.RecordBridgeMalformed()
		s.logger.Warn("Dropping bridge message",
			zap.Error(err),
			zap.Int("size", len(raw)))
		return err
	}
	s.metrics.RecordBridgeMessage(string(msg.Type))

	s.handshake.Observe(ctx, msg)
	s.dispatch(ctx, msg)
	return nil
}

func (s *Session) dispatch(ctx context.Context, msg Message) {
	switch {
	case msg.Type == TypeFavicon:
		s.handler.OnFavicon(ctx, msg.Favicon)
	case msg.Type == TypeContextMenu:
		s.handler.OnContextMenu(ctx, *msg.ContextMenu)
	case msg.Type.IsVideo():
		s.handler.OnVideo(ctx, msg.Type, *msg.Video)
	case msg.Type == TypeNewTab:
		s.handler.OnNewTab(ctx, msg.NewTabURL)
	case msg.Type == TypeCookies:
		s.handler.OnCookies(ctx, msg.Cookies)
	case msg.Type == TypeLocalStorage:
		s.handler.OnLocalStorage(ctx, msg.LocalStorage)
	}
}

// Send delivers a command to the page.
func (s *Session) Send(ctx context.Context, cmd Command) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	payload, err := cmd.Encode()
	if err == nil {
		err = s.endpoint.Send(ctx, payload)
	}
	s.metrics.RecordCommand(string(cmd.Op), err)
	if err != nil {
		s.logger.Debug("Command failed", zap.String("op", string(cmd.Op)), zap.Error(err))
		return fmt.Errorf("send %s: %w", cmd.Op, err)
	}
	return nil
}

// State returns the handshake state.
func (s *Session) State() InjectionState {
	return s.handshake.State()
}

// Degraded reports whether the instrumentation could not be verified.
func (s *Session) Degraded() bool {
	return s.handshake.Degraded()
}

// Attempts returns the re-injections used since the last page load.
func (s *Session) Attempts() int {
	return s.handshake.Attempts()
}

// Close stops the handshake. Later frames are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.handshake.Close()
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) observe(t Transition) {
	if t.Err != nil {
		s.logger.Warn("Injection error",
			zap.Stringer("state", t.To),
			zap.Int("attempt", t.Attempt),
			zap.Error(t.Err))
	}
	if t.From == t.To {
		return
	}
	s.logger.Debug("Injection state",
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
		zap.Int("attempt", t.Attempt))
	switch t.To {
	case RetryPending, Verified, Failed:
		s.metrics.RecordInjection(t.To.String())
	}
	if t.To == Failed {
		s.logger.Warn("Instrumentation unverified, page features limited", zap.Int("attempts", t.Attempt))
	}
	s.handler.OnInjectionState(t.To)
}

type sessionInjector struct{ s *Session }

func (i sessionInjector) Inject(ctx context.Context) error {
	return i.s.endpoint.Inject(ctx, i.s.script)
}

func (i sessionInjector) RequestVerification(ctx context.Context) error {
	return i.s.Send(ctx, VerifyInjection())
}
