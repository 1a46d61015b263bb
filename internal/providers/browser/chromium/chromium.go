// Package chromium drives a real Chromium page through the DevTools
// protocol. It is the surface used when the shell renders with a browser
// engine rather than the sandbox.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/adblock"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/id"
)

// bindingName is the page global the bridge shim posts through.
const bindingName = "__shellBridgePost"

// loadSettle bounds how long a host navigation waits for the page's own
// load event after WaitLoad returns.
const loadSettle = 5 * time.Second

// bridgeShim gives pages the same window.__shellBridge the sandbox
// installs, forwarding to the DevTools binding.
const bridgeShim = `() => {
  window.__shellBridge = {
    postMessage: function (m) { window.` + bindingName + `(String(m)); }
  };
}`

// Config controls how the browser is found and how pages are emulated.
type Config struct {
	ControlURL        string // connect to a running browser instead of launching
	Bin               string // browser binary; empty lets the launcher find one
	Headless          bool
	NavigationTimeout time.Duration
	Width             int
	Height            int
	ScaleFactor       float64
}

// DefaultConfig emulates a phone-sized touch screen.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		NavigationTimeout: 30 * time.Second,
		Width:             390,
		Height:            844,
		ScaleFactor:       3,
	}
}

// Factory owns one browser process and opens a page per surface.
type Factory struct {
	cfg    Config
	filter *adblock.Filter
	logger *logging.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewFactory creates a factory. The browser starts on the first surface.
func NewFactory(cfg Config, filter *adblock.Filter, logger *logging.Logger) *Factory {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultConfig().NavigationTimeout
	}
	if filter == nil {
		filter = adblock.Default()
	}
	return &Factory{cfg: cfg, filter: filter, logger: logging.OrNop(logger).Component("chromium")}
}

func (f *Factory) connect(ctx context.Context) (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	controlURL := f.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(f.cfg.Headless)
		if f.cfg.Bin != "" {
			l = l.Bin(f.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		f.launcher = l
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	f.browser = b
	f.logger.Info("Browser connected", zap.String("control_url", controlURL))
	return b, nil
}

// NewSurface implements browser.Factory.
func (f *Factory) NewSurface(ctx context.Context, events browser.Events, opts browser.Options) (browser.Surface, error) {
	b, err := f.connect(ctx)
	if err != nil {
		return nil, err
	}
	var incognito *rod.Browser
	if opts.Private {
		if incognito, err = b.Incognito(); err != nil {
			return nil, fmt.Errorf("incognito context: %w", err)
		}
		b = incognito
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		if incognito != nil {
			_ = incognito.Close()
		}
		return nil, fmt.Errorf("create page: %w", err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Surface{
		id:        id.NewInstanceID(),
		page:      page,
		incognito: incognito,
		events:    events,
		cfg:       f.cfg,
		cancel:    cancel,
		logger:    f.logger.With(logging.TabID(opts.TabID)),
	}
	s.nav = newNavTracker(events, func() (browser.LoadInfo, error) { return s.loadInfo(sctx) })
	if err := s.setup(sctx, opts, f.filter); err != nil {
		cancel()
		_ = page.Close()
		if incognito != nil {
			_ = incognito.Close()
		}
		return nil, err
	}
	return s, nil
}

// Close shuts the browser down.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.browser != nil {
		err = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher = nil
	}
	return err
}

// Surface is one Chromium page. A private surface owns its incognito
// browser context.
type Surface struct {
	id        string
	page      *rod.Page
	incognito *rod.Browser
	events    browser.Events
	nav       *navTracker
	cfg       Config
	logger    *logging.Logger
	cancel    context.CancelFunc

	mu         sync.Mutex
	closed     bool
	stopExpose func() error
	router     *rod.HijackRouter
}

func (s *Surface) setup(ctx context.Context, opts browser.Options, filter *adblock.Filter) error {
	page := s.page
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.Width,
		Height:            s.cfg.Height,
		DeviceScaleFactor: s.cfg.ScaleFactor,
		Mobile:            true,
	}).Call(page); err != nil {
		s.logger.Warn("Failed to set viewport", zap.Error(err))
	}
	_ = proto.EmulationSetTouchEmulationEnabled{Enabled: true}.Call(page)
	if opts.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}).Call(page); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	stop, err := page.Expose(bindingName, func(j gson.JSON) (interface{}, error) {
		s.events.OnMessage([]byte(j.Str()))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("expose bridge: %w", err)
	}
	s.stopExpose = stop
	if _, err := page.EvalOnNewDocument("(" + bridgeShim + ")()"); err != nil {
		return fmt.Errorf("install bridge shim: %w", err)
	}

	if opts.BlockAds {
		router := page.HijackRequests()
		if err := router.Add("*", "", func(h *rod.Hijack) {
			if filter.BlocksHost(h.Request.URL().Hostname()) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
			h.ContinueRequest(&proto.FetchContinueRequest{})
		}); err != nil {
			return fmt.Errorf("install ad filter: %w", err)
		}
		go router.Run()
		s.router = router
	}

	if err := (proto.PageEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable page events: %w", err)
	}
	main := page.FrameID
	go page.Context(ctx).EachEvent(
		s.nav.frameNavigated,
		s.nav.loadFired,
		func(e *proto.PageNavigatedWithinDocument) { s.nav.withinDocument(main, e) },
	)()
	go page.Context(ctx).EachEvent(func(e *proto.PageWindowOpen) {
		req := browser.NavigationRequest{URL: e.URL, Target: "_blank", Type: browser.NavigationOther}
		if s.events.ShouldStartLoad(req) {
			if err := s.Load(ctx, e.URL); err != nil {
				s.logger.Debug("Window open failed", logging.URL(e.URL), zap.Error(err))
			}
		}
	})()
	return nil
}

// ID returns the surface instance id.
func (s *Surface) ID() string { return s.id }

func (s *Surface) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrClosed
	}
	return nil
}

// run performs a navigation step. Start and end are reported by the page
// event stream; run reports failures and ends a load the stream missed.
func (s *Surface) run(ctx context.Context, url string, step func(p *rod.Page) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.nav.reset()
	p := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout)
	err := step(p)
	if err == nil {
		err = p.WaitLoad()
	}
	if err != nil {
		s.events.OnLoadError(url, err)
		return err
	}

	timer := time.NewTimer(loadSettle)
	defer timer.Stop()
	select {
	case <-s.nav.loaded:
	case <-timer.C:
		s.logger.Debug("No load event after navigation", logging.URL(url))
		s.nav.finish(true)
	}
	return nil
}

// Load navigates to url.
func (s *Surface) Load(ctx context.Context, url string) error {
	return s.run(ctx, url, func(p *rod.Page) error { return p.Navigate(url) })
}

// Reload reloads the current page.
func (s *Surface) Reload(ctx context.Context) error {
	return s.run(ctx, s.currentURL(), func(p *rod.Page) error { return p.Reload() })
}

// GoBack moves back in history.
func (s *Surface) GoBack(ctx context.Context) error {
	if !s.CanGoBack() {
		return browser.ErrNoHistory
	}
	return s.run(ctx, s.currentURL(), func(p *rod.Page) error { return p.NavigateBack() })
}

// GoForward moves forward in history.
func (s *Surface) GoForward(ctx context.Context) error {
	if !s.CanGoForward() {
		return browser.ErrNoHistory
	}
	return s.run(ctx, s.currentURL(), func(p *rod.Page) error { return p.NavigateForward() })
}

func (s *Surface) history() (*proto.PageGetNavigationHistoryResult, error) {
	return proto.PageGetNavigationHistory{}.Call(s.page)
}

// CanGoBack reports whether there is an earlier history entry.
func (s *Surface) CanGoBack() bool {
	h, err := s.history()
	return err == nil && h.CurrentIndex > 0
}

// CanGoForward reports whether there is a later history entry.
func (s *Surface) CanGoForward() bool {
	h, err := s.history()
	return err == nil && h.CurrentIndex < len(h.Entries)-1
}

func (s *Surface) currentURL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *Surface) loadInfo(ctx context.Context) (browser.LoadInfo, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return browser.LoadInfo{}, err
	}
	h, err := s.history()
	if err != nil {
		return browser.LoadInfo{}, err
	}
	return browser.LoadInfo{
		URL:          info.URL,
		Title:        info.Title,
		CanGoBack:    h.CurrentIndex > 0,
		CanGoForward: h.CurrentIndex < len(h.Entries)-1,
	}, nil
}

// Inject evaluates script as a top-level expression.
func (s *Surface) Inject(ctx context.Context, script string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := proto.RuntimeEvaluate{Expression: script, ReturnByValue: true}.Call(s.page.Context(ctx))
	if err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("inject: %s", res.ExceptionDetails.Text)
	}
	return nil
}

// Send passes payload to the page dispatcher as a string argument.
func (s *Surface) Send(ctx context.Context, payload []byte) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.page.Context(ctx).Evaluate(rod.Eval(
		`(p) => { if (window.__shell && window.__shell.dispatch) { window.__shell.dispatch(p); } }`,
		string(payload),
	))
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close closes the page.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	var errs []error
	if s.router != nil {
		errs = append(errs, s.router.Stop())
	}
	if s.stopExpose != nil {
		errs = append(errs, s.stopExpose())
	}
	errs = append(errs, s.page.Close())
	if s.incognito != nil {
		errs = append(errs, s.incognito.Close())
	}
	return errors.Join(errs...)
}
