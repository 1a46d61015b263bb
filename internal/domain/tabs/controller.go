package tabs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

// Downloader starts background downloads.
type Downloader interface {
	Start(ctx context.Context, rawURL, name string) (string, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithDownloader enables the save and download context actions.
func WithDownloader(d Downloader) Option {
	return func(c *Controller) { c.downloads = d }
}

// WithUserAgent sets the user agent new surfaces report.
func WithUserAgent(ua string) Option {
	return func(c *Controller) { c.userAgent = ua }
}

// WithSessionOptions is applied to every bridge session the controller
// creates.
func WithSessionOptions(opts ...bridge.SessionOption) Option {
	return func(c *Controller) { c.sessionOpts = append(c.sessionOpts, opts...) }
}

// runtime is the live side of one tab. Fields are guarded by Controller.mu.
type runtime struct {
	tabID   string
	private bool
	surface browser.Surface
	session *bridge.Session

	state   LoadState
	current string
	favicon string
	menu    *bridge.ContextMenu
	video   *Video
	storage Storage
	closed  bool
}

// Controller keeps content surfaces in step with the tabs in a session
// store. Tabs are materialised lazily: a surface is created when a tab
// becomes active or starts loading, and destroyed when the tab is closed.
//
// The controller never holds its lock while calling the store or a
// surface, so store listeners and surface events may re-enter it.
type Controller struct {
	store       *session.Store
	factory     browser.Factory
	downloads   Downloader
	userAgent   string
	sessionOpts []bridge.SessionOption
	logger      *logging.Logger
	metrics     *monitoring.Metrics

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu     sync.Mutex
	tabs   map[string]*runtime
	closed bool

	noticeMu     sync.RWMutex
	listeners    map[uint64]func(Notice)
	nextListener uint64
}

// New creates a controller and subscribes it to store.
func New(store *session.Store, factory browser.Factory, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		factory:   factory,
		tabs:      make(map[string]*runtime),
		listeners: make(map[uint64]func(Notice)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).Component("tabs")
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.unsubscribe = store.Subscribe(c.onChange)
	return c
}

// Bootstrap opens the home page when there are no tabs, and otherwise
// materialises the active tab.
func (c *Controller) Bootstrap(ctx context.Context) error {
	if len(c.store.Tabs()) == 0 {
		tabID := c.store.AddTab(c.homePage(), false)
		return c.materialize(ctx, tabID)
	}
	active, ok := c.store.ActiveTab()
	if !ok {
		return nil
	}
	return c.materialize(ctx, active.ID)
}

// Subscribe registers fn for every subsequent notice. The returned func
// removes it.
func (c *Controller) Subscribe(fn func(Notice)) func() {
	c.noticeMu.Lock()
	key := c.nextListener
	c.nextListener++
	c.listeners[key] = fn
	c.noticeMu.Unlock()

	return func() {
		c.noticeMu.Lock()
		delete(c.listeners, key)
		c.noticeMu.Unlock()
	}
}

func (c *Controller) notify(n Notice) {
	c.noticeMu.RLock()
	fns := make([]func(Notice), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.noticeMu.RUnlock()

	for _, fn := range fns {
		fn(n)
	}
}

// Close releases every surface and stops reacting to the store.
func (c *Controller) Close() error {
	c.unsubscribe()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ids := make([]string, 0, len(c.tabs))
	for tabID := range c.tabs {
		ids = append(ids, tabID)
	}
	c.mu.Unlock()

	var errs []error
	for _, tabID := range ids {
		if err := c.release(tabID); err != nil {
			errs = append(errs, err)
		}
	}
	c.cancel()
	return errors.Join(errs...)
}

// ============================================================================
// Store reconciliation
// ============================================================================

func (c *Controller) onChange(ch session.Change) {
	switch ch.Kind {
	case session.ChangeTabs:
		if ch.ID == "" {
			c.reconcile()
			return
		}
		c.syncTab(ch.ID)

	case session.ChangeActiveTab:
		if ch.ID == "" {
			return
		}
		if _, ok := c.store.Tab(ch.ID); !ok {
			return
		}
		if err := c.materialize(c.ctx, ch.ID); err != nil {
			c.logger.Warn("Failed to open tab", logging.TabID(ch.ID), zap.Error(err))
		}

	case session.ChangeRestored:
		c.reconcile()
	}
}

// syncTab applies the store's view of one tab to its surface.
func (c *Controller) syncTab(tabID string) {
	tab, ok := c.store.Tab(tabID)
	if !ok {
		if err := c.release(tabID); err != nil {
			c.logger.Debug("Surface close failed", logging.TabID(tabID), zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	rt := c.tabs[tabID]
	if rt == nil {
		c.mu.Unlock()
		if tab.IsLoading || tabID == c.store.ActiveTabID() {
			if err := c.materialize(c.ctx, tabID); err != nil {
				c.logger.Warn("Failed to open tab", logging.TabID(tabID), zap.Error(err))
			}
		}
		return
	}
	surf := rt.surface
	if surf == nil {
		// Still being created; the creator loads the latest url.
		c.mu.Unlock()
		return
	}

	switch {
	case tab.ReloadRequested:
		rt.state = StateLoading
		current := rt.current
		c.mu.Unlock()
		// The flag is cleared before reloading so the load's own updates
		// do not observe it again.
		c.store.UpdateTab(tabID, types.TabPatch{ReloadRequested: types.Ptr(false)})
		c.reload(surf, tabID, current)

	case tab.IsLoading && (tab.URL != rt.current || rt.state != StateLoading):
		rt.current = tab.URL
		rt.state = StateLoading
		c.mu.Unlock()
		c.load(surf, tabID, tab.URL)

	default:
		c.mu.Unlock()
	}
}

// reconcile releases surfaces whose tabs are gone.
func (c *Controller) reconcile() {
	c.mu.Lock()
	var stale []string
	for tabID := range c.tabs {
		if _, ok := c.store.Tab(tabID); !ok {
			stale = append(stale, tabID)
		}
	}
	c.mu.Unlock()

	for _, tabID := range stale {
		if err := c.release(tabID); err != nil {
			c.logger.Debug("Surface close failed", logging.TabID(tabID), zap.Error(err))
		}
	}
}

// materialize creates the surface and bridge session of a tab and loads
// its url. It is a no-op for tabs that already have one.
func (c *Controller) materialize(ctx context.Context, tabID string) error {
	tab, ok := c.store.Tab(tabID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return browser.ErrClosed
	}
	if _, exists := c.tabs[tabID]; exists {
		c.mu.Unlock()
		return nil
	}
	rt := &runtime{tabID: tabID, private: tab.Private, state: StateIdle}
	c.tabs[tabID] = rt
	c.mu.Unlock()

	opts := browser.Options{
		TabID:     tabID,
		Private:   tab.Private,
		BlockAds:  c.store.Settings().BlockAds,
		UserAgent: c.userAgent,
	}
	surf, err := c.factory.NewSurface(ctx, &tabEvents{c: c, rt: rt}, opts)
	if err != nil {
		c.mu.Lock()
		if c.tabs[tabID] == rt {
			delete(c.tabs, tabID)
		}
		c.mu.Unlock()
		c.store.UpdateTab(tabID, types.TabPatch{IsLoading: types.Ptr(false), Error: types.Ptr(true)})
		return fmt.Errorf("create surface for %s: %w", tabID, err)
	}

	sessOpts := append([]bridge.SessionOption{
		bridge.WithLogger(c.logger),
		bridge.WithMetrics(c.metrics),
	}, c.sessionOpts...)
	sess := bridge.NewSession(surf, &tabHandler{c: c, rt: rt}, sessOpts...)

	tab, ok = c.store.Tab(tabID)
	c.mu.Lock()
	if rt.closed || !ok {
		c.mu.Unlock()
		sess.Close()
		return surf.Close()
	}
	rt.surface = surf
	rt.session = sess
	rt.current = tab.URL
	rt.state = StateLoading
	open := len(c.tabs)
	c.mu.Unlock()

	c.metrics.SetTabsOpen(open)
	c.logger.Info("Tab opened",
		logging.TabID(tabID),
		zap.String("surface_id", surf.ID()),
		zap.Bool("private", tab.Private))

	c.load(surf, tabID, tab.URL)
	return nil
}

// release closes the surface and session of a tab.
func (c *Controller) release(tabID string) error {
	c.mu.Lock()
	rt := c.tabs[tabID]
	if rt == nil {
		c.mu.Unlock()
		return nil
	}
	delete(c.tabs, tabID)
	rt.closed = true
	surf, sess := rt.surface, rt.session
	open := len(c.tabs)
	c.mu.Unlock()

	c.metrics.SetTabsOpen(open)
	if sess != nil {
		sess.Close()
	}
	if surf == nil {
		return nil
	}
	c.logger.Debug("Tab released", logging.TabID(tabID))
	return surf.Close()
}

func (c *Controller) load(surf browser.Surface, tabID, rawURL string) {
	if err := surf.Load(c.ctx, session.NormalizeURL(rawURL)); err != nil {
		c.logger.Debug("Load returned error", logging.TabID(tabID), zap.Error(err))
	}
}

// reload reloads the surface, loading fallback when it has no page yet.
func (c *Controller) reload(surf browser.Surface, tabID, fallback string) {
	err := surf.Reload(c.ctx)
	if errors.Is(err, browser.ErrNoDocument) && fallback != "" {
		c.load(surf, tabID, fallback)
		return
	}
	if err != nil {
		c.logger.Debug("Reload returned error", logging.TabID(tabID), zap.Error(err))
	}
}

// ============================================================================
// Lookups
// ============================================================================

func (c *Controller) homePage() string {
	settings := c.store.Settings()
	if settings.HomePage != "" {
		return settings.HomePage
	}
	return session.EngineHome(settings.SearchEngine)
}

func (c *Controller) checkTab(tabID string) (types.Tab, error) {
	tab, ok := c.store.Tab(tabID)
	if !ok {
		return types.Tab{}, fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
	}
	return tab, nil
}

// live returns the runtime of a materialised tab.
func (c *Controller) live(tabID string) (*runtime, error) {
	if _, err := c.checkTab(tabID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rt := c.tabs[tabID]
	if rt == nil || rt.surface == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotMaterialized, tabID)
	}
	return rt, nil
}

func (c *Controller) send(ctx context.Context, tabID string, cmd bridge.Command) error {
	rt, err := c.live(tabID)
	if err != nil {
		return err
	}
	return rt.session.Send(ctx, cmd)
}

// Status reports the controller's view of a tab.
func (c *Controller) Status(tabID string) (Status, error) {
	if _, err := c.checkTab(tabID); err != nil {
		return Status{}, err
	}
	c.mu.Lock()
	rt := c.tabs[tabID]
	if rt == nil || rt.surface == nil {
		c.mu.Unlock()
		return Status{TabID: tabID, State: StateIdle, Injection: bridge.NotInjected}, nil
	}
	st := Status{
		TabID:        tabID,
		Materialized: true,
		State:        rt.state,
	}
	if rt.menu != nil {
		menu := *rt.menu
		st.ContextMenu = &menu
	}
	if rt.video != nil {
		video := *rt.video
		st.Video = &video
	}
	surf, sess := rt.surface, rt.session
	c.mu.Unlock()

	st.CanGoBack = surf.CanGoBack()
	st.CanGoForward = surf.CanGoForward()
	st.Injection = sess.State()
	st.Attempts = sess.Attempts()
	st.Degraded = sess.Degraded()
	return st, nil
}

// Open reports how many tabs have a live surface.
func (c *Controller) Open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tabs)
}
