package http_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	apihttp "github.com/GriffinCanCode/AgentOS/shell/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge/bridgetest"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/tabs"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/downloads"
)

// page is a surface that finishes every load at once.
type page struct {
	events browser.Events

	mu     sync.Mutex
	url    string
	sent   []bridge.Command
	closed bool
}

func (p *page) ID() string { return "page" }

func (p *page) Load(ctx context.Context, rawURL string) error {
	p.events.OnLoadStart(rawURL)
	p.mu.Lock()
	p.url = rawURL
	p.mu.Unlock()
	p.events.OnLoadEnd(browser.LoadInfo{URL: rawURL, Title: "Page " + rawURL})
	return nil
}

func (p *page) Reload(ctx context.Context) error {
	p.mu.Lock()
	current := p.url
	p.mu.Unlock()
	if current == "" {
		return browser.ErrNoDocument
	}
	return p.Load(ctx, current)
}

func (p *page) GoBack(ctx context.Context) error    { return browser.ErrNoHistory }
func (p *page) GoForward(ctx context.Context) error { return browser.ErrNoHistory }
func (p *page) CanGoBack() bool                     { return false }
func (p *page) CanGoForward() bool                  { return false }

func (p *page) Inject(ctx context.Context, script string) error { return nil }

func (p *page) Send(ctx context.Context, payload []byte) error {
	cmd, err := bridge.DecodeCommand(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sent = append(p.sent, cmd)
	p.mu.Unlock()
	return nil
}

func (p *page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *page) post(raw string) { p.events.OnMessage([]byte(raw)) }

func (p *page) commands() []bridge.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bridge.Command(nil), p.sent...)
}

// fakeDownloads records downloads in the store without fetching.
type fakeDownloads struct {
	store *session.Store

	mu       sync.Mutex
	started  []string
	canceled []string
}

func (d *fakeDownloads) Start(ctx context.Context, rawURL, name string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", downloads.ErrInvalidURL, rawURL)
	}
	if name == "" {
		name = "file"
	}
	d.mu.Lock()
	d.started = append(d.started, rawURL)
	d.mu.Unlock()
	return d.store.AddDownload(name, rawURL), nil
}

func (d *fakeDownloads) Cancel(downloadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canceled = append(d.canceled, downloadID)
	return true
}

type fixture struct {
	store     *session.Store
	ctrl      *tabs.Controller
	downloads *fakeDownloads
	router    *gin.Engine

	mu    sync.Mutex
	pages map[string]*page
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{store: session.New(), pages: map[string]*page{}}
	f.downloads = &fakeDownloads{store: f.store}
	factory := browser.FactoryFunc(func(ctx context.Context, events browser.Events, opts browser.Options) (browser.Surface, error) {
		p := &page{events: events}
		f.mu.Lock()
		f.pages[opts.TabID] = p
		f.mu.Unlock()
		return p, nil
	})
	f.ctrl = tabs.New(f.store, factory,
		tabs.WithDownloader(f.downloads),
		tabs.WithSessionOptions(bridge.WithScheduler(&bridgetest.Scheduler{})),
	)
	t.Cleanup(func() { _ = f.ctrl.Close() })
	require.NoError(t, f.ctrl.Bootstrap(context.Background()))

	f.router = gin.New()
	apihttp.NewHandlers(f.store, f.ctrl, f.downloads, nil, nil).Register(f.router)
	return f
}

func (f *fixture) page(t *testing.T, tabID string) *page {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[tabID]
	require.True(t, ok, "no surface for %s", tabID)
	return p
}

func (f *fixture) activeTab(t *testing.T) string {
	t.Helper()
	tabID := f.store.ActiveTabID()
	require.NotEmpty(t, tabID)
	return tabID
}

// do sends a request with an optional JSON body and decodes the response
// into out when out is non-nil.
func (f *fixture) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if out != nil && w.Code < http.StatusBadRequest {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}
