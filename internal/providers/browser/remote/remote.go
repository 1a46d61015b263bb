// Package remote attaches a content surface that lives on a device, such
// as a mobile webview, over a websocket. The host drives it with frames
// and the device reports load events and bridge messages back.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/id"
)

// MaxQueued bounds the frames held for a detached surface.
const MaxQueued = 256

var (
	// ErrQueueFull is returned when a detached surface has too much
	// pending output.
	ErrQueueFull = errors.New("remote: outbound queue full")
	// ErrUnknownTab is returned by Attach for tabs without a surface.
	ErrUnknownTab = errors.New("remote: no surface for tab")
)

// Conn is the subset of *websocket.Conn the surface uses.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Factory creates remote surfaces and finds them again by tab id when a
// device connects.
type Factory struct {
	logger *logging.Logger

	mu       sync.Mutex
	surfaces map[string]*Surface
}

// NewFactory creates an empty factory.
func NewFactory(logger *logging.Logger) *Factory {
	return &Factory{
		logger:   logging.OrNop(logger).Component("remote"),
		surfaces: make(map[string]*Surface),
	}
}

// NewSurface implements browser.Factory.
func (f *Factory) NewSurface(ctx context.Context, events browser.Events, opts browser.Options) (browser.Surface, error) {
	s := &Surface{
		id:      id.NewInstanceID(),
		tabID:   opts.TabID,
		events:  events,
		factory: f,
		logger:  f.logger.With(logging.TabID(opts.TabID)),
	}
	f.mu.Lock()
	if old, ok := f.surfaces[opts.TabID]; ok {
		f.mu.Unlock()
		_ = old.Close()
		f.mu.Lock()
	}
	f.surfaces[opts.TabID] = s
	f.mu.Unlock()
	return s, nil
}

// Surface returns the live surface for a tab.
func (f *Factory) Surface(tabID string) (*Surface, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.surfaces[tabID]
	return s, ok
}

// Attach binds conn to the tab's surface and serves it until the
// connection ends.
func (f *Factory) Attach(ctx context.Context, tabID string, conn Conn) error {
	s, ok := f.Surface(tabID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
	}
	return s.Attach(ctx, conn)
}

func (f *Factory) forget(s *Surface) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.surfaces[s.tabID] == s {
		delete(f.surfaces, s.tabID)
	}
}

// Surface forwards operations to an attached device.
type Surface struct {
	id      string
	tabID   string
	events  browser.Events
	factory *Factory
	logger  *logging.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	conn         Conn
	queue        []Frame
	canGoBack    bool
	canGoForward bool
	closed       bool
}

// ID returns the surface instance id.
func (s *Surface) ID() string { return s.id }

// Attached reports whether a device is connected.
func (s *Surface) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Attach flushes queued frames to conn and reads device frames until the
// connection fails or ctx ends. A second Attach replaces the first
// connection.
func (s *Surface) Attach(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrClosed
	}
	prev := s.conn
	s.conn = conn
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	s.logger.Info("Device attached", zap.Int("queued", len(queued)))
	for _, f := range queued {
		if err := s.write(conn, f); err != nil {
			s.detach(conn)
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			s.detach(conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Debug("Device detached", zap.Error(err))
			return nil
		}
		s.handle(conn, f)
	}
}

func (s *Surface) detach(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

func (s *Surface) handle(conn Conn, f Frame) {
	switch f.Kind {
	case KindLoadStart:
		s.events.OnLoadStart(f.URL)
	case KindLoadEnd:
		s.mu.Lock()
		s.canGoBack, s.canGoForward = f.CanGoBack, f.CanGoForward
		s.mu.Unlock()
		s.events.OnLoadEnd(browser.LoadInfo{
			URL:          f.URL,
			Title:        f.Title,
			CanGoBack:    f.CanGoBack,
			CanGoForward: f.CanGoForward,
		})
	case KindLoadError:
		s.events.OnLoadError(f.URL, errors.New(f.Error))
	case KindMessage:
		s.events.OnMessage([]byte(f.Data))
	case KindShouldStart:
		allow := s.events.ShouldStartLoad(browser.NavigationRequest{
			URL:    f.URL,
			Target: f.Target,
			Type:   browser.NavigationType(f.NavType),
		})
		if err := s.write(conn, Frame{Kind: KindDecision, Seq: f.Seq, Allow: allow}); err != nil {
			s.logger.Debug("Decision not delivered", zap.Error(err))
		}
	default:
		s.logger.Warn("Unknown device frame", zap.String("kind", f.Kind))
	}
}

func (s *Surface) write(conn Conn, f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// post sends f now or queues it until a device attaches.
func (s *Surface) post(f Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrClosed
	}
	conn := s.conn
	if conn == nil {
		if len(s.queue) >= MaxQueued {
			s.mu.Unlock()
			return ErrQueueFull
		}
		s.queue = append(s.queue, f)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.write(conn, f); err != nil {
		s.detach(conn)
		return fmt.Errorf("write %s frame: %w", f.Kind, err)
	}
	return nil
}

// Load asks the device to navigate.
func (s *Surface) Load(ctx context.Context, url string) error {
	return s.post(Frame{Kind: KindLoad, URL: url})
}

// Reload asks the device to reload.
func (s *Surface) Reload(ctx context.Context) error {
	return s.post(Frame{Kind: KindReload})
}

// GoBack asks the device to go back.
func (s *Surface) GoBack(ctx context.Context) error {
	if !s.CanGoBack() {
		return browser.ErrNoHistory
	}
	return s.post(Frame{Kind: KindBack})
}

// GoForward asks the device to go forward.
func (s *Surface) GoForward(ctx context.Context) error {
	if !s.CanGoForward() {
		return browser.ErrNoHistory
	}
	return s.post(Frame{Kind: KindForward})
}

// CanGoBack reports the device's last known history state.
func (s *Surface) CanGoBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canGoBack
}

// CanGoForward reports the device's last known history state.
func (s *Surface) CanGoForward() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canGoForward
}

// Inject asks the device to evaluate script.
func (s *Surface) Inject(ctx context.Context, script string) error {
	return s.post(Frame{Kind: KindInject, Script: script})
}

// Send forwards a command payload to the page dispatcher.
func (s *Surface) Send(ctx context.Context, payload []byte) error {
	return s.post(Frame{Kind: KindSend, Data: string(payload)})
}

// Close tells the device the tab is gone and drops the connection.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.queue = nil
	s.mu.Unlock()

	s.factory.forget(s)
	if conn == nil {
		return nil
	}
	_ = s.write(conn, Frame{Kind: KindClose})
	return conn.Close()
}
