package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/adblock"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/http/client"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/id"
)

// LongPressHold is how long LongPress keeps the touch down.
const LongPressHold = 600 * time.Millisecond

// Factory builds sandbox surfaces that share a runtime pool, an HTTP
// client and, for non-private tabs, localStorage.
type Factory struct {
	client  *client.Client
	filter  *adblock.Filter
	pool    *Pool
	config  Config
	origins *Origins
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithConfig replaces the runtime configuration.
func WithConfig(cfg Config) FactoryOption {
	return func(f *Factory) { f.config = cfg }
}

// WithFilter replaces the ad-block filter.
func WithFilter(filter *adblock.Filter) FactoryOption {
	return func(f *Factory) { f.filter = filter }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) FactoryOption {
	return func(f *Factory) { f.metrics = m }
}

// NewFactory creates a factory fetching through c.
func NewFactory(c *client.Client, opts ...FactoryOption) (*Factory, error) {
	f := &Factory{
		client:  c,
		config:  DefaultConfig(),
		origins: NewOrigins(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.filter == nil {
		f.filter = adblock.Default()
	}
	f.logger = logging.OrNop(f.logger).Component("sandbox")

	pool, err := NewPool(f.config, f.config.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create runtime pool: %w", err)
	}
	f.pool = pool
	return f, nil
}

// New creates a surface.
func (f *Factory) New(ctx context.Context, events browser.Events, opts browser.Options) (*Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &Surface{
		id:        id.NewInstanceID(),
		factory:   f,
		events:    events,
		opts:      opts,
		client:    f.client,
		origins:   f.origins,
		userAgent: opts.UserAgent,
	}
	if opts.Private {
		s.client = f.client.Fork(nil)
		s.origins = NewOrigins()
	}
	if s.userAgent == "" {
		s.userAgent = s.client.UserAgent()
	}
	s.logger = f.logger.With(logging.SurfaceID(s.id), logging.TabID(opts.TabID))
	return s, nil
}

// NewSurface implements browser.Factory.
func (f *Factory) NewSurface(ctx context.Context, events browser.Events, opts browser.Options) (browser.Surface, error) {
	return f.New(ctx, events, opts)
}

// Close releases the runtime pool.
func (f *Factory) Close() error {
	return f.pool.Close()
}

// Surface is a headless content surface: pages are fetched, parsed and
// given a script runtime with a minimal DOM. Time inside the page is
// virtual and moves only through Advance and the interaction helpers.
type Surface struct {
	id        string
	factory   *Factory
	events    browser.Events
	opts      browser.Options
	client    *client.Client
	origins   *Origins
	userAgent string
	logger    *logging.Logger

	mu      sync.Mutex
	page    *page
	history browser.History
	seq     uint64
	closed  bool
}

// ID returns the surface instance id.
func (s *Surface) ID() string { return s.id }

// Load navigates to rawURL, adding a history entry.
func (s *Surface) Load(ctx context.Context, rawURL string) error {
	return s.navigate(ctx, rawURL, true)
}

// Reload loads the current entry again.
func (s *Surface) Reload(ctx context.Context) error {
	s.mu.Lock()
	current, ok := s.history.Current()
	s.mu.Unlock()
	if !ok {
		return ErrNoDocument
	}
	return s.navigate(ctx, current, false)
}

// GoBack loads the previous history entry.
func (s *Surface) GoBack(ctx context.Context) error {
	s.mu.Lock()
	target, ok := s.history.Back()
	s.mu.Unlock()
	if !ok {
		return browser.ErrNoHistory
	}
	return s.navigate(ctx, target, false)
}

// GoForward loads the next history entry.
func (s *Surface) GoForward(ctx context.Context) error {
	s.mu.Lock()
	target, ok := s.history.Forward()
	s.mu.Unlock()
	if !ok {
		return browser.ErrNoHistory
	}
	return s.navigate(ctx, target, false)
}

// CanGoBack reports whether GoBack would move.
func (s *Surface) CanGoBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanGoBack()
}

// CanGoForward reports whether GoForward would move.
func (s *Surface) CanGoForward() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanGoForward()
}

func (s *Surface) navigate(ctx context.Context, rawURL string, push bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrClosed
	}
	s.seq++
	seq := s.seq
	referer := ""
	if s.page != nil {
		referer = s.page.url.String()
	}
	s.mu.Unlock()

	s.events.OnLoadStart(rawURL)

	doc, err := s.fetchDocument(ctx, rawURL, referer)
	if err != nil {
		if s.isCurrent(seq) {
			s.logger.Debug("Load failed", logging.URL(rawURL), zap.Error(err))
			s.events.OnLoadError(rawURL, err)
		}
		return err
	}

	s.mu.Lock()
	if s.closed || seq != s.seq {
		s.mu.Unlock()
		return nil
	}
	rt, err := s.factory.pool.Acquire()
	if err == nil {
		var p *page
		p, err = newPage(pageConfig{
			rt:        rt,
			dom:       doc.dom,
			url:       doc.url,
			jar:       s.client.Jar(),
			local:     s.origins.For(originOf(doc.url)),
			userAgent: s.userAgent,
			logger:    s.logger,
		})
		if err != nil {
			_ = s.factory.pool.Release(rt)
		} else {
			old := s.page
			s.page = p
			if old != nil {
				_ = s.factory.pool.Release(old.rt)
			}
		}
	}
	if err != nil {
		s.mu.Unlock()
		s.events.OnLoadError(rawURL, err)
		return err
	}

	p := s.page
	if push {
		s.history.Push(doc.url.String())
	} else {
		s.history.Replace(doc.url.String())
	}
	for _, src := range inlineScripts(doc.dom) {
		if _, err := p.eval(ctx, src); err != nil {
			s.logger.Debug("Page script failed", logging.URL(doc.url.String()), zap.Error(err))
		}
	}
	p.advance(ctx, 0)
	info := browser.LoadInfo{
		URL:          doc.url.String(),
		Title:        doc.dom.Title(),
		CanGoBack:    s.history.CanGoBack(),
		CanGoForward: s.history.CanGoForward(),
	}
	out, navs := p.drain(), p.takeNavigations()
	s.mu.Unlock()

	s.logger.Debug("Page loaded",
		logging.URL(info.URL),
		zap.Int("status", doc.status),
		zap.String("charset", doc.charset),
		zap.Int("blocked", doc.blocked))
	s.deliver(ctx, out, navs)
	s.events.OnLoadEnd(info)
	return nil
}

func (s *Surface) isCurrent(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && seq == s.seq
}

func originOf(u *url.URL) string {
	if u.Scheme == "http" || u.Scheme == "https" {
		return u.Scheme + "://" + u.Host
	}
	return "null"
}

// withPage runs fn against the current page, then delivers whatever the
// page posted once the lock is released.
func (s *Surface) withPage(ctx context.Context, fn func(p *page) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrClosed
	}
	p := s.page
	if p == nil {
		s.mu.Unlock()
		return ErrNoDocument
	}
	err := fn(p)
	out, navs := p.drain(), p.takeNavigations()
	s.mu.Unlock()

	s.deliver(ctx, out, navs)
	return err
}

func (s *Surface) deliver(ctx context.Context, out []string, navs []browser.NavigationRequest) {
	for _, msg := range out {
		s.events.OnMessage([]byte(msg))
	}
	for _, req := range navs {
		if !s.events.ShouldStartLoad(req) {
			continue
		}
		if err := s.Load(ctx, req.URL); err != nil {
			s.logger.Debug("Page navigation failed", logging.URL(req.URL), zap.Error(err))
		}
	}
}

// Inject evaluates script in the current page.
func (s *Surface) Inject(ctx context.Context, script string) error {
	_, err := s.Eval(ctx, script)
	return err
}

// Eval evaluates script and returns its result.
func (s *Surface) Eval(ctx context.Context, script string) (*Result, error) {
	var res *Result
	err := s.withPage(ctx, func(p *page) error {
		var err error
		res, err = p.eval(ctx, script)
		return err
	})
	return res, err
}

// Send passes payload to window.__shell.dispatch. Pages without the
// dispatcher ignore it.
func (s *Surface) Send(ctx context.Context, payload []byte) error {
	return s.withPage(ctx, func(p *page) error {
		shell := p.vm.GlobalObject().Get("__shell")
		if shell == nil || goja.IsUndefined(shell) || goja.IsNull(shell) {
			return nil
		}
		obj := shell.ToObject(p.vm)
		dispatch, ok := goja.AssertFunction(obj.Get("dispatch"))
		if !ok {
			return nil
		}
		_, err := p.rt.Call(ctx, dispatch, obj, p.vm.ToValue(string(payload)))
		p.settle(ctx)
		return err
	})
}

// Close discards the page. Later calls return browser.ErrClosed.
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	p := s.page
	s.page = nil
	s.mu.Unlock()

	if p != nil {
		return s.factory.pool.Release(p.rt)
	}
	return nil
}

// Interaction helpers.

func (p *page) find(selector string) (*html.Node, error) {
	nodes := p.dom.Query(selector)
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no element matches %q", selector)
	}
	return nodes[0], nil
}

func (p *page) touches(target *html.Node, x, y float64) func(*goja.Object) {
	return func(ev *goja.Object) {
		var items []interface{}
		if target != nil {
			items = append(items, p.vm.ToValue(map[string]interface{}{
				"clientX": x,
				"clientY": y,
				"target":  p.wrap(target),
			}))
		}
		_ = ev.Set("touches", p.vm.NewArray(items...))
	}
}

// TouchStart puts a finger down on the first element matching selector.
func (s *Surface) TouchStart(ctx context.Context, selector string, x, y float64) error {
	return s.withPage(ctx, func(p *page) error {
		n, err := p.find(selector)
		if err != nil {
			return err
		}
		p.touchTarget = n
		p.dispatch(ctx, n, "touchstart", p.touches(n, x, y))
		return nil
	})
}

// TouchMove moves the active touch.
func (s *Surface) TouchMove(ctx context.Context, x, y float64) error {
	return s.withPage(ctx, func(p *page) error {
		if p.touchTarget == nil {
			return fmt.Errorf("no active touch")
		}
		p.dispatch(ctx, p.touchTarget, "touchmove", p.touches(p.touchTarget, x, y))
		return nil
	})
}

// TouchEnd lifts the active touch.
func (s *Surface) TouchEnd(ctx context.Context) error {
	return s.withPage(ctx, func(p *page) error {
		if p.touchTarget == nil {
			return nil
		}
		n := p.touchTarget
		p.touchTarget = nil
		p.dispatch(ctx, n, "touchend", p.touches(nil, 0, 0))
		return nil
	})
}

// Advance moves the page clock forward, firing due timers.
func (s *Surface) Advance(ctx context.Context, d time.Duration) error {
	return s.withPage(ctx, func(p *page) error {
		p.advance(ctx, d)
		return nil
	})
}

// LongPress holds a touch on selector for LongPressHold.
func (s *Surface) LongPress(ctx context.Context, selector string, x, y float64) error {
	if err := s.TouchStart(ctx, selector, x, y); err != nil {
		return err
	}
	if err := s.Advance(ctx, LongPressHold); err != nil {
		return err
	}
	return s.TouchEnd(ctx)
}

// Click dispatches a click on selector. An unprevented click on a link
// becomes a navigation request.
func (s *Surface) Click(ctx context.Context, selector string) error {
	return s.withPage(ctx, func(p *page) error {
		n, err := p.find(selector)
		if err != nil {
			return err
		}
		if p.dispatch(ctx, n, "click", nil) {
			return nil
		}
		a := enclosingAnchor(n)
		if a == nil {
			return nil
		}
		href, _ := Attr(a, "href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return nil
		}
		target, _ := Attr(a, "target")
		p.navs = append(p.navs, browser.NavigationRequest{
			URL:    p.dom.Resolve(href),
			Target: target,
			Type:   browser.NavigationClick,
		})
		return nil
	})
}

func enclosingAnchor(n *html.Node) *html.Node {
	for level := 0; n != nil && level <= 4; level++ {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			return n
		}
		n = n.Parent
	}
	return nil
}

// Select sets the text window.getSelection reports.
func (s *Surface) Select(ctx context.Context, text string) error {
	return s.withPage(ctx, func(p *page) error {
		p.selection = text
		return nil
	})
}

// AppendHead appends markup to <head>, as a page script would.
func (s *Surface) AppendHead(ctx context.Context, fragment string) error {
	return s.withPage(ctx, func(p *page) error {
		if err := p.dom.AppendHTML(p.dom.Head(), fragment); err != nil {
			return err
		}
		p.settle(ctx)
		return nil
	})
}

// Play starts the media element matching selector.
func (s *Surface) Play(ctx context.Context, selector string) error {
	return s.media(ctx, selector, func(p *page, n *html.Node, st *mediaState) {
		if st.paused {
			st.paused = false
			p.dispatch(ctx, n, "play", nil)
		}
	})
}

// End finishes playback of the media element matching selector.
func (s *Surface) End(ctx context.Context, selector string) error {
	return s.media(ctx, selector, func(p *page, n *html.Node, st *mediaState) {
		st.paused = true
		p.dispatch(ctx, n, "ended", nil)
	})
}

func (s *Surface) media(ctx context.Context, selector string, fn func(*page, *html.Node, *mediaState)) error {
	return s.withPage(ctx, func(p *page) error {
		n, err := p.find(selector)
		if err != nil {
			return err
		}
		if !IsMedia(n) {
			return fmt.Errorf("%q is not a media element", selector)
		}
		fn(p, n, p.mediaState(n))
		return nil
	})
}

// LocalStorage returns the current page's storage items.
func (s *Surface) LocalStorage() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return map[string]string{}
	}
	return s.page.local.Snapshot()
}

// HTML renders the current document.
func (s *Surface) HTML() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return "", ErrNoDocument
	}
	return s.page.dom.HTML()
}

// URL returns the current page URL.
func (s *Surface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return ""
	}
	return s.page.url.String()
}
