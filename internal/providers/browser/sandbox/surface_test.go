package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge/bridgetest"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/http/client"
)

var testPages = map[string]string{
	"/": `<html><head><title>Home</title><link rel="icon" href="/icons/home.png"></head><body>
		<a id="story" href="/story">Story <b>one</b></a>
		<a id="popup" href="/popup" target="_blank">Popup</a>
		<img id="pic" src="/pic.png" alt="A picture">
		<p id="para">Some text</p>
	</body></html>`,
	"/story": `<html><head><title>Story</title></head><body><p>Once.</p></body></html>`,
	"/video": `<html><head><title>Clip</title></head><body>
		<section><div><div><div><video id="clip" src="/clip.mp4"></video></div></div></div></section>
	</body></html>`,
	"/ads": `<html><head><title>Ads</title></head><body>
		<img id="banner" src="https://ads.example.com/banner.png"><img id="photo" src="/photo.png">
	</body></html>`,
	"/scripted": `<html><head><title>Scripted</title>
		<script>localStorage.setItem('seen', 'yes'); setTimeout(function () { document.body.setAttribute('data-ready', '1'); }, 0);</script>
	</head><body></body></html>`,
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Cookie</title></head><body></body></html>`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<html><head><title>Not found</title></head></html>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		page, ok := testPages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type recordingEvents struct {
	mu       sync.Mutex
	starts   []string
	ends     []browser.LoadInfo
	failures []error
	messages []bridge.Message
	requests []browser.NavigationRequest
	allow    bool
	onMsg    func(raw []byte)
}

func (e *recordingEvents) OnLoadStart(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts = append(e.starts, url)
}

func (e *recordingEvents) OnLoadEnd(info browser.LoadInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ends = append(e.ends, info)
}

func (e *recordingEvents) OnLoadError(url string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, err)
}

func (e *recordingEvents) OnMessage(raw []byte) {
	e.mu.Lock()
	if msg, err := bridge.Parse(raw); err == nil {
		e.messages = append(e.messages, msg)
	}
	fn := e.onMsg
	e.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

func (e *recordingEvents) ShouldStartLoad(req browser.NavigationRequest) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return e.allow
}

func (e *recordingEvents) byType(t bridge.MessageType) []bridge.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []bridge.Message
	for _, m := range e.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (e *recordingEvents) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = nil
	e.requests = nil
}

type fixture struct {
	srv     *httptest.Server
	factory *Factory
	surface *Surface
	events  *recordingEvents
}

func newFixture(t *testing.T, opts browser.Options, factoryOpts ...FactoryOption) *fixture {
	t.Helper()
	srv := newTestServer(t)
	cfg := client.DefaultConfig()
	cfg.RetryMax = 0
	factory, err := NewFactory(client.NewClient(cfg), factoryOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = factory.Close() })

	events := &recordingEvents{}
	s, err := factory.New(context.Background(), events, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{srv: srv, factory: factory, surface: s, events: events}
}

func (f *fixture) load(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, f.surface.Load(context.Background(), f.srv.URL+path))
}

func (f *fixture) instrument(t *testing.T) {
	t.Helper()
	require.NoError(t, f.surface.Inject(context.Background(), bridge.Script()))
}

func (f *fixture) send(t *testing.T, cmd bridge.Command) {
	t.Helper()
	payload, err := cmd.Encode()
	require.NoError(t, err)
	require.NoError(t, f.surface.Send(context.Background(), payload))
}

func TestSurfaceLoad(t *testing.T) {
	f := newFixture(t, browser.Options{TabID: "tab-1"})
	f.load(t, "/")

	require.Len(t, f.events.ends, 1)
	info := f.events.ends[0]
	assert.Equal(t, f.srv.URL+"/", info.URL)
	assert.Equal(t, "Home", info.Title)
	assert.False(t, info.CanGoBack)
	assert.Equal(t, []string{f.srv.URL + "/"}, f.events.starts)
	assert.Empty(t, f.events.messages, "nothing is posted before instrumentation")
	assert.Equal(t, f.srv.URL+"/", f.surface.URL())
}

func TestSurfaceHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, browser.Options{})
	f.load(t, "/")
	f.load(t, "/story")
	assert.True(t, f.surface.CanGoBack())

	require.NoError(t, f.surface.GoBack(ctx))
	assert.Equal(t, f.srv.URL+"/", f.surface.URL())
	assert.True(t, f.surface.CanGoForward())

	require.NoError(t, f.surface.GoForward(ctx))
	assert.Equal(t, f.srv.URL+"/story", f.surface.URL())
	assert.ErrorIs(t, f.surface.GoForward(ctx), browser.ErrNoHistory)

	require.NoError(t, f.surface.Reload(ctx))
	assert.Equal(t, f.srv.URL+"/story", f.surface.URL())
	assert.True(t, f.surface.CanGoBack())
}

func TestSurfaceLoadErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unsupported scheme", func(t *testing.T) {
		f := newFixture(t, browser.Options{})
		err := f.surface.Load(ctx, "ftp://example.com/file")
		assert.ErrorIs(t, err, ErrUnsupportedScheme)
		require.Len(t, f.events.failures, 1)
		assert.ErrorIs(t, f.events.failures[0], ErrUnsupportedScheme)
	})

	t.Run("blocked host", func(t *testing.T) {
		f := newFixture(t, browser.Options{BlockAds: true})
		err := f.surface.Load(ctx, "http://ads.example.com/")
		assert.ErrorIs(t, err, ErrBlocked)
		assert.Empty(t, f.events.ends)
	})

	t.Run("client errors still render", func(t *testing.T) {
		f := newFixture(t, browser.Options{})
		f.load(t, "/missing")
		require.Len(t, f.events.ends, 1)
		assert.Equal(t, "Not found", f.events.ends[0].Title)
	})

	t.Run("closed surface", func(t *testing.T) {
		f := newFixture(t, browser.Options{})
		require.NoError(t, f.surface.Close())
		assert.ErrorIs(t, f.surface.Load(ctx, f.srv.URL+"/"), browser.ErrClosed)
		assert.ErrorIs(t, f.surface.Inject(ctx, "1"), browser.ErrClosed)
	})

	t.Run("script before load", func(t *testing.T) {
		f := newFixture(t, browser.Options{})
		assert.ErrorIs(t, f.surface.Inject(ctx, "1"), ErrNoDocument)
	})
}

func TestSurfaceBlocksAds(t *testing.T) {
	f := newFixture(t, browser.Options{BlockAds: true})
	f.load(t, "/ads")

	markup, err := f.surface.HTML()
	require.NoError(t, err)
	assert.NotContains(t, markup, "ads.example.com")
	assert.Contains(t, markup, "/photo.png")
}

func TestSurfacePageScripts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunPageScripts = true
	f := newFixture(t, browser.Options{}, WithConfig(cfg))
	f.load(t, "/scripted")

	assert.Equal(t, map[string]string{"seen": "yes"}, f.surface.LocalStorage())
	markup, err := f.surface.HTML()
	require.NoError(t, err)
	assert.Contains(t, markup, `data-ready="1"`)
}

func TestSurfaceStripsPageScriptsByDefault(t *testing.T) {
	f := newFixture(t, browser.Options{})
	f.load(t, "/scripted")
	assert.Empty(t, f.surface.LocalStorage())
}

func TestInstrumentationFavicon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, browser.Options{})
	f.load(t, "/")
	f.instrument(t)

	favicons := f.events.byType(bridge.TypeFavicon)
	require.Len(t, favicons, 1)
	assert.Equal(t, f.srv.URL+"/icons/home.png", favicons[0].Favicon)

	// Re-injection announces again without installing twice.
	f.instrument(t)
	assert.Len(t, f.events.byType(bridge.TypeFavicon), 2)

	f.load(t, "/story")
	f.events.reset()
	f.instrument(t)
	favicons = f.events.byType(bridge.TypeFavicon)
	require.Len(t, favicons, 1)
	assert.Equal(t, f.srv.URL+"/favicon.ico", favicons[0].Favicon)

	require.NoError(t, f.surface.AppendHead(ctx, `<link rel="shortcut icon" href="/late.png">`))
	favicons = f.events.byType(bridge.TypeFavicon)
	require.Len(t, favicons, 2)
	assert.Equal(t, f.srv.URL+"/late.png", favicons[1].Favicon)

	// Unrelated head changes do not repeat the same favicon.
	require.NoError(t, f.surface.AppendHead(ctx, `<meta name="x" content="y">`))
	assert.Len(t, f.events.byType(bridge.TypeFavicon), 2)
}

func TestInstrumentationLongPress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, browser.Options{})
	f.load(t, "/")
	f.instrument(t)

	t.Run("link", func(t *testing.T) {
		f.events.reset()
		require.NoError(t, f.surface.LongPress(ctx, "#story b", 40, 120))
		menus := f.events.byType(bridge.TypeContextMenu)
		require.Len(t, menus, 1)
		menu := menus[0].ContextMenu
		assert.Equal(t, bridge.ContextOther, menu.Type, "the bold child is not itself a link")

		f.events.reset()
		require.NoError(t, f.surface.LongPress(ctx, "#story", 40, 120))
		menus = f.events.byType(bridge.TypeContextMenu)
		require.Len(t, menus, 1)
		menu = menus[0].ContextMenu
		assert.Equal(t, bridge.ContextLink, menu.Type)
		assert.Equal(t, f.srv.URL+"/story", menu.Href)
		assert.Equal(t, "Story one", menu.Text)
		require.NotNil(t, menu.X)
		assert.Equal(t, 40.0, *menu.X)
		assert.Equal(t, 120.0, *menu.Y)
	})

	t.Run("image", func(t *testing.T) {
		f.events.reset()
		require.NoError(t, f.surface.LongPress(ctx, "#pic", 5, 5))
		menus := f.events.byType(bridge.TypeContextMenu)
		require.Len(t, menus, 1)
		assert.Equal(t, bridge.ContextImage, menus[0].ContextMenu.Type)
		assert.Equal(t, f.srv.URL+"/pic.png", menus[0].ContextMenu.Src)
		assert.Equal(t, "A picture", menus[0].ContextMenu.Title)
	})

	t.Run("selected text", func(t *testing.T) {
		f.events.reset()
		require.NoError(t, f.surface.Select(ctx, "Some text"))
		require.NoError(t, f.surface.LongPress(ctx, "#para", 5, 5))
		menus := f.events.byType(bridge.TypeContextMenu)
		require.Len(t, menus, 1)
		assert.Equal(t, bridge.ContextText, menus[0].ContextMenu.Type)
		assert.Equal(t, "Some text", menus[0].ContextMenu.Text)
		require.NoError(t, f.surface.Select(ctx, ""))
	})

	t.Run("short press", func(t *testing.T) {
		f.events.reset()
		require.NoError(t, f.surface.TouchStart(ctx, "#story", 0, 0))
		require.NoError(t, f.surface.Advance(ctx, 300*time.Millisecond))
		require.NoError(t, f.surface.TouchEnd(ctx))
		require.NoError(t, f.surface.Advance(ctx, time.Second))
		assert.Empty(t, f.events.byType(bridge.TypeContextMenu))
	})

	t.Run("finger moved", func(t *testing.T) {
		f.events.reset()
		require.NoError(t, f.surface.TouchStart(ctx, "#story", 0, 0))
		require.NoError(t, f.surface.TouchMove(ctx, 4, 4))
		require.NoError(t, f.surface.TouchMove(ctx, 30, 0))
		require.NoError(t, f.surface.Advance(ctx, time.Second))
		require.NoError(t, f.surface.TouchEnd(ctx))
		assert.Empty(t, f.events.byType(bridge.TypeContextMenu))
	})
}

func TestInstrumentationVideo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, browser.Options{})
	f.load(t, "/video")
	f.instrument(t)
	src := f.srv.URL + "/clip.mp4"

	require.NoError(t, f.surface.LongPress(ctx, "#clip", 1, 1))
	menus := f.events.byType(bridge.TypeContextMenu)
	require.Len(t, menus, 1)
	assert.Equal(t, bridge.ContextVideo, menus[0].ContextMenu.Type)
	assert.Equal(t, src, menus[0].ContextMenu.VideoURL)
	assert.Equal(t, "Clip", menus[0].ContextMenu.Title)

	require.NoError(t, f.surface.Play(ctx, "#clip"))
	require.NoError(t, f.surface.End(ctx, "#clip"))
	plays := f.events.byType(bridge.TypeVideoPlay)
	require.Len(t, plays, 1)
	assert.Equal(t, src, plays[0].Video.URL)
	assert.Len(t, f.events.byType(bridge.TypeVideoEnded), 1)

	f.events.reset()
	f.send(t, bridge.PlayVideo(src))
	f.send(t, bridge.SeekVideo(src, 12.5))
	f.send(t, bridge.PauseVideo(src))
	assert.Len(t, f.events.byType(bridge.TypeVideoPlay), 1)
	updates := f.events.byType(bridge.TypeVideoTimeUpdate)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Video.CurrentTime)
	assert.Equal(t, 12.5, *updates[0].Video.CurrentTime)
	assert.Len(t, f.events.byType(bridge.TypeVideoPause), 1)
}

func TestInstrumentationNewTab(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, browser.Options{})
	f.load(t, "/")

	// Without instrumentation the click becomes a navigation request.
	require.NoError(t, f.surface.Click(ctx, "#popup"))
	require.Len(t, f.events.requests, 1)
	assert.Equal(t, browser.NavigationRequest{
		URL: f.srv.URL + "/popup", Target: "_blank", Type: browser.NavigationClick,
	}, f.events.requests[0])

	f.instrument(t)
	f.events.reset()
	require.NoError(t, f.surface.Click(ctx, "#popup"))
	tabs := f.events.byType(bridge.TypeNewTab)
	require.Len(t, tabs, 1)
	assert.Equal(t, f.srv.URL+"/popup", tabs[0].NewTabURL)
	assert.Empty(t, f.events.requests)

	f.events.reset()
	_, err := f.surface.Eval(ctx, `window.open('/other')`)
	require.NoError(t, err)
	tabs = f.events.byType(bridge.TypeNewTab)
	require.Len(t, tabs, 1)
	assert.Equal(t, f.srv.URL+"/other", tabs[0].NewTabURL)
}

func TestClickNavigatesWhenAllowed(t *testing.T) {
	f := newFixture(t, browser.Options{})
	f.events.allow = true
	f.load(t, "/")
	f.instrument(t)

	require.NoError(t, f.surface.Click(context.Background(), "#story"))
	require.Len(t, f.events.ends, 2)
	assert.Equal(t, "Story", f.events.ends[1].Title)
	assert.True(t, f.events.ends[1].CanGoBack)
}

func TestInstrumentationStorage(t *testing.T) {
	f := newFixture(t, browser.Options{})
	f.load(t, "/")

	// Commands to an uninstrumented page are dropped.
	f.send(t, bridge.ListStorage())
	assert.Empty(t, f.events.messages)

	f.instrument(t)
	f.send(t, bridge.SetStorageItem("theme", "dark"))
	f.send(t, bridge.SetStorageItem("lang", `"fr"; alert(1)`))
	reports := f.events.byType(bridge.TypeLocalStorage)
	require.Len(t, reports, 2)
	assert.Equal(t, map[string]string{"theme": "dark", "lang": `"fr"; alert(1)`}, reports[1].LocalStorage)
	assert.Equal(t, reports[1].LocalStorage, f.surface.LocalStorage())

	f.send(t, bridge.RemoveStorageItem("theme"))
	f.send(t, bridge.ClearStorage())
	reports = f.events.byType(bridge.TypeLocalStorage)
	require.Len(t, reports, 4)
	assert.Equal(t, map[string]string{"lang": `"fr"; alert(1)`}, reports[2].LocalStorage)
	assert.Empty(t, reports[3].LocalStorage)
}

func TestInstrumentationCookies(t *testing.T) {
	f := newFixture(t, browser.Options{})
	f.load(t, "/cookie")
	f.instrument(t)

	names := func() map[string]string {
		reports := f.events.byType(bridge.TypeCookies)
		require.NotEmpty(t, reports)
		out := map[string]string{}
		for _, c := range reports[len(reports)-1].Cookies {
			out[c.Name] = c.Value
		}
		return out
	}

	f.send(t, bridge.ListCookies())
	assert.Equal(t, map[string]string{"session": "abc"}, names())

	f.send(t, bridge.SetCookie("greeting", "hello world"))
	assert.Equal(t, map[string]string{"session": "abc", "greeting": "hello world"}, names())

	f.send(t, bridge.SetCookie("bad name", "x"))
	assert.NotContains(t, names(), "bad name")

	f.send(t, bridge.DeleteCookie("greeting"))
	assert.Equal(t, map[string]string{"session": "abc"}, names())

	f.send(t, bridge.ClearCookies())
	assert.Empty(t, names())
}

func TestPrivateSurfaceIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, browser.Options{})
	f.load(t, "/cookie")
	f.instrument(t)
	f.send(t, bridge.SetStorageItem("k", "v"))

	private, err := f.factory.New(ctx, &recordingEvents{}, browser.Options{Private: true})
	require.NoError(t, err)
	defer private.Close()
	require.NoError(t, private.Load(ctx, f.srv.URL+"/"))
	assert.Empty(t, private.LocalStorage())
	res, err := private.Eval(ctx, "document.cookie")
	require.NoError(t, err)
	assert.Equal(t, "", res.Value)

	shared, err := f.factory.New(ctx, &recordingEvents{}, browser.Options{})
	require.NoError(t, err)
	defer shared.Close()
	require.NoError(t, shared.Load(ctx, f.srv.URL+"/"))
	assert.Equal(t, map[string]string{"k": "v"}, shared.LocalStorage())
}

func TestSessionHandshakeOverSurface(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, browser.Options{})
	sched := &bridgetest.Scheduler{}
	session := bridge.NewSession(f.surface, nil, bridge.WithScheduler(sched))
	defer session.Close()
	f.events.onMsg = func(raw []byte) { _ = session.Receive(ctx, raw) }

	f.load(t, "/")
	session.PageLoaded(ctx)
	assert.Equal(t, bridge.Injecting, session.State())
	require.Equal(t, 1, sched.Pending())

	sched.Fire()
	assert.Equal(t, bridge.Verified, session.State())
	assert.Len(t, f.events.byType(bridge.TypeInjectionVerification), 1)
}

func TestSessionHandshakeDegradesWithoutScript(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, browser.Options{})
	sched := &bridgetest.Scheduler{}
	// An inert script never installs the dispatcher, so echoes never come.
	session := bridge.NewSession(f.surface, nil,
		bridge.WithScheduler(sched),
		bridge.WithScript(`window.__shellBridge.postMessage(JSON.stringify({type: 'favicon', favicon: '/x.png'}))`))
	defer session.Close()
	f.events.onMsg = func(raw []byte) { _ = session.Receive(ctx, raw) }

	f.load(t, "/")
	session.PageLoaded(ctx)
	for i := 0; i < 3; i++ {
		sched.Fire()
		// The next real event shows the verification went unanswered.
		_, err := f.surface.Eval(ctx, `window.__shellBridge.postMessage(JSON.stringify({type: 'favicon', favicon: '/y.png'}))`)
		require.NoError(t, err)
	}
	assert.Equal(t, bridge.Failed, session.State())
	assert.True(t, session.Degraded())
}
