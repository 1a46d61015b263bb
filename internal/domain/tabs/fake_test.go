package tabs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge/bridgetest"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/tabs"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

var errLoad = errors.New("connection refused")

// fakeFactory builds in-memory surfaces that finish every load at once.
type fakeFactory struct {
	mu       sync.Mutex
	surfaces []*fakeSurface
	titles   map[string]string
	failing  map[string]bool
	err      error
	echo     bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{titles: map[string]string{}, failing: map[string]bool{}}
}

func (f *fakeFactory) NewSurface(ctx context.Context, events browser.Events, opts browser.Options) (browser.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSurface{
		id:      fmt.Sprintf("surface-%d", len(f.surfaces)+1),
		factory: f,
		events:  events,
		opts:    opts,
	}
	f.surfaces = append(f.surfaces, s)
	return s, nil
}

func (f *fakeFactory) surface(tabID string) *fakeSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.surfaces) - 1; i >= 0; i-- {
		if f.surfaces[i].opts.TabID == tabID {
			return f.surfaces[i]
		}
	}
	return nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.surfaces)
}

func (f *fakeFactory) setFailing(url string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[url] = failing
}

type fakeSurface struct {
	id      string
	factory *fakeFactory
	events  browser.Events
	opts    browser.Options

	mu       sync.Mutex
	history  browser.History
	loads    []string
	reloads  int
	injects  int
	commands []bridge.Command
	closed   bool
}

func (s *fakeSurface) ID() string { return s.id }

func (s *fakeSurface) Load(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return browser.ErrClosed
	}
	s.loads = append(s.loads, url)
	s.mu.Unlock()
	return s.navigate(url, true)
}

func (s *fakeSurface) navigate(url string, push bool) error {
	s.events.OnLoadStart(url)

	s.factory.mu.Lock()
	failing, title := s.factory.failing[url], s.factory.titles[url]
	s.factory.mu.Unlock()
	if failing {
		s.events.OnLoadError(url, errLoad)
		return errLoad
	}

	s.mu.Lock()
	if push {
		s.history.Push(url)
	}
	info := browser.LoadInfo{
		URL:          url,
		Title:        title,
		CanGoBack:    s.history.CanGoBack(),
		CanGoForward: s.history.CanGoForward(),
	}
	s.mu.Unlock()
	s.events.OnLoadEnd(info)
	return nil
}

func (s *fakeSurface) Reload(ctx context.Context) error {
	s.mu.Lock()
	current, ok := s.history.Current()
	if ok {
		s.reloads++
	}
	s.mu.Unlock()
	if !ok {
		return browser.ErrNoDocument
	}
	return s.navigate(current, false)
}

func (s *fakeSurface) GoBack(ctx context.Context) error {
	s.mu.Lock()
	target, ok := s.history.Back()
	s.mu.Unlock()
	if !ok {
		return browser.ErrNoHistory
	}
	return s.navigate(target, false)
}

func (s *fakeSurface) GoForward(ctx context.Context) error {
	s.mu.Lock()
	target, ok := s.history.Forward()
	s.mu.Unlock()
	if !ok {
		return browser.ErrNoHistory
	}
	return s.navigate(target, false)
}

func (s *fakeSurface) CanGoBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanGoBack()
}

func (s *fakeSurface) CanGoForward() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanGoForward()
}

func (s *fakeSurface) Inject(ctx context.Context, script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injects++
	return nil
}

func (s *fakeSurface) Send(ctx context.Context, payload []byte) error {
	cmd, err := bridge.DecodeCommand(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()

	s.factory.mu.Lock()
	echo := s.factory.echo
	s.factory.mu.Unlock()
	if cmd.Op == bridge.OpVerifyInjection && echo {
		s.events.OnMessage([]byte(`{"type":"injectionVerification","success":true}`))
	}
	return nil
}

func (s *fakeSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// post delivers a frame as if the page had sent it.
func (s *fakeSurface) post(raw string) {
	s.events.OnMessage([]byte(raw))
}

func (s *fakeSurface) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSurface) loaded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loads...)
}

func (s *fakeSurface) injections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.injects
}

func (s *fakeSurface) sent() []bridge.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bridge.Command(nil), s.commands...)
}

func (s *fakeSurface) ops() []bridge.Op {
	var ops []bridge.Op
	for _, cmd := range s.sent() {
		ops = append(ops, cmd.Op)
	}
	return ops
}

// noticeLog records controller notices.
type noticeLog struct {
	mu      sync.Mutex
	notices []tabs.Notice
}

func (l *noticeLog) add(n tabs.Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *noticeLog) of(kind tabs.NoticeKind) []tabs.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []tabs.Notice
	for _, n := range l.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fakeDownloader struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (d *fakeDownloader) Start(ctx context.Context, rawURL, name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.started = append(d.started, rawURL)
	return fmt.Sprintf("dl-%d", len(d.started)), nil
}

type fixture struct {
	store   *session.Store
	factory *fakeFactory
	sched   *bridgetest.Scheduler
	ctrl    *tabs.Controller
	notices *noticeLog
}

func newFixture(t *testing.T, opts ...tabs.Option) *fixture {
	t.Helper()
	f := &fixture{
		store:   session.New(),
		factory: newFakeFactory(),
		sched:   &bridgetest.Scheduler{},
		notices: &noticeLog{},
	}
	opts = append([]tabs.Option{tabs.WithSessionOptions(bridge.WithScheduler(f.sched))}, opts...)
	f.ctrl = tabs.New(f.store, f.factory, opts...)
	f.ctrl.Subscribe(f.notices.add)
	t.Cleanup(func() { _ = f.ctrl.Close() })
	return f
}

// boot starts the controller and returns the home tab.
func (f *fixture) boot(t *testing.T) types.Tab {
	t.Helper()
	require.NoError(t, f.ctrl.Bootstrap(context.Background()))
	tab, ok := f.store.ActiveTab()
	require.True(t, ok)
	return tab
}

func (f *fixture) tab(t *testing.T, tabID string) types.Tab {
	t.Helper()
	tab, ok := f.store.Tab(tabID)
	require.True(t, ok, "tab %s", tabID)
	return tab
}
