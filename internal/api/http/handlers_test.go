package http_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/tabs"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

const linkMenu = `{"type":"contextMenu","payload":{"type":"link","href":"https://story.example/1","text":"Story"}}`

func TestHealth(t *testing.T) {
	f := newFixture(t)

	var body struct {
		Status string `json:"status"`
		Tabs   struct {
			Open         int `json:"open"`
			Materialized int `json:"materialized"`
		} `json:"tabs"`
	}
	w := f.do(t, http.MethodGet, "/health", nil, &body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 1, body.Tabs.Open)
	assert.Equal(t, 1, body.Tabs.Materialized)
}

func TestState(t *testing.T) {
	f := newFixture(t)

	var state session.State
	w := f.do(t, http.MethodGet, "/api/state", nil, &state)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, state.Tabs, 1)
	assert.Equal(t, state.Tabs[0].ID, state.ActiveTabID)
	assert.Equal(t, "https://www.google.com", state.Tabs[0].URL)
	assert.Len(t, state.History, 1, "the home page load is recorded")
}

func TestCreateTab(t *testing.T) {
	f := newFixture(t)

	var tab types.Tab
	w := f.do(t, http.MethodPost, "/api/tabs", map[string]any{"url": "https://example.com", "private": true}, &tab)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, tab.ID)
	assert.True(t, tab.Private)
	assert.Equal(t, tab.ID, f.store.ActiveTabID())

	w = f.do(t, http.MethodPost, "/api/tabs", nil, &tab)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "https://www.google.com", tab.URL, "blank url opens the home page")

	var list struct {
		Tabs        []types.Tab `json:"tabs"`
		ActiveTabID string      `json:"activeTabId"`
	}
	f.do(t, http.MethodGet, "/api/tabs", nil, &list)
	assert.Len(t, list.Tabs, 3)
	assert.Equal(t, tab.ID, list.ActiveTabID)
}

func TestUnknownTab(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodDelete, "/api/tabs/nope", nil},
		{http.MethodGet, "/api/tabs/nope/status", nil},
		{http.MethodPost, "/api/tabs/nope/activate", nil},
		{http.MethodPost, "/api/tabs/nope/navigate", map[string]string{"input": "example.com"}},
		{http.MethodPost, "/api/tabs/nope/reload", nil},
		{http.MethodPost, "/api/tabs/nope/bookmark", nil},
		{http.MethodGet, "/api/tabs/nope/video", nil},
		{http.MethodPost, "/api/tabs/nope/storage/inspect", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
		})
	}
}

func TestTabLifecycle(t *testing.T) {
	f := newFixture(t)
	first := f.activeTab(t)

	var created types.Tab
	f.do(t, http.MethodPost, "/api/tabs", map[string]any{"url": "https://example.com"}, &created)

	w := f.do(t, http.MethodPost, "/api/tabs/"+first+"/activate", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, f.store.ActiveTabID())

	var status tabs.Status
	w = f.do(t, http.MethodGet, "/api/tabs/"+created.ID+"/status", nil, &status)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, status.Materialized)
	assert.Equal(t, tabs.StateLoaded, status.State)

	w = f.do(t, http.MethodDelete, "/api/tabs/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := f.store.Tab(created.ID)
	assert.False(t, ok)
}

func TestNavigate(t *testing.T) {
	f := newFixture(t)
	tabID := f.activeTab(t)

	var body struct {
		URL string `json:"url"`
	}
	w := f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/navigate", map[string]string{"input": "golang tutorials"}, &body)
	require.Equal(t, http.StatusOK, w.Code)
	want := session.ResolveInput("golang tutorials", types.EngineGoogle)
	assert.Equal(t, want, body.URL)

	tab, _ := f.store.Tab(tabID)
	assert.Equal(t, want, tab.URL)
	assert.False(t, tab.IsLoading)

	w = f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/navigate", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "input is required")

	w = f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/navigate", map[string]string{"input": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "blank input")
}

func TestReloadAndHome(t *testing.T) {
	f := newFixture(t)
	tabID := f.activeTab(t)
	f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/navigate", map[string]string{"input": "example.com"}, nil)

	w := f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/reload", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tab, _ := f.store.Tab(tabID)
	assert.False(t, tab.ReloadRequested)

	w = f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/home", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	tab, _ = f.store.Tab(tabID)
	assert.Equal(t, "https://www.google.com", tab.URL)
}

func TestSurfaceHistory(t *testing.T) {
	f := newFixture(t)
	tabID := f.activeTab(t)

	w := f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/back", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/forward", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBack(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/tabs", map[string]any{"url": "https://example.com"}, nil)

	var body struct {
		Result tabs.BackResult `json:"result"`
	}
	f.do(t, http.MethodPost, "/api/back", nil, &body)
	assert.Equal(t, tabs.BackClosedTab, body.Result)
	assert.Len(t, f.store.Tabs(), 1)

	f.do(t, http.MethodPost, "/api/back", nil, &body)
	assert.Equal(t, tabs.BackExit, body.Result)
	assert.Len(t, f.store.Tabs(), 1)
}

func TestBookmarks(t *testing.T) {
	f := newFixture(t)
	tabID := f.activeTab(t)

	var toggled struct {
		Bookmarked bool `json:"bookmarked"`
	}
	f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/bookmark", nil, &toggled)
	assert.True(t, toggled.Bookmarked)

	var list struct {
		Bookmarks []types.Bookmark `json:"bookmarks"`
	}
	f.do(t, http.MethodGet, "/api/bookmarks", nil, &list)
	require.Len(t, list.Bookmarks, 1)
	assert.Equal(t, "https://www.google.com", list.Bookmarks[0].URL)

	f.do(t, http.MethodPost, "/api/tabs/"+tabID+"/bookmark", nil, &toggled)
	assert.False(t, toggled.Bookmarked)
	assert.Empty(t, f.store.Bookmarks())

	var created struct {
		ID string `json:"id"`
	}
	w := f.do(t, http.MethodPost, "/api/bookmarks", map[string]string{"url": "https://go.dev"}, &created)
	require.Equal(t, http.StatusCreated, w.Code)
	b, ok := f.store.BookmarkByURL("https://go.dev")
	require.True(t, ok)
	assert.Equal(t, "https://go.dev", b.Title, "title defaults to the url")

	w = f.do(t, http.MethodPost, "/api/bookmarks", map[string]string{"title": "no url"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.do(t, http.MethodDelete, "/api/bookmarks/"+created.ID, nil, nil)
	assert.Empty(t, f.store.Bookmarks())
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	docs := f.store.AddToHistory("https://go.dev/doc", "Documentation", "")
	f.store.AddToHistory("https://example.com", "Example", "")

	var sugg struct {
		Suggestions []types.HistoryItem `json:"suggestions"`
	}
	w := f.do(t, http.MethodGet, "/api/history/suggest?q=go.dev", nil, &sugg)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, sugg.Suggestions)
	assert.Equal(t, "https://go.dev/doc", sugg.Suggestions[0].URL)

	f.do(t, http.MethodGet, "/api/history/suggest?q=", nil, &sugg)
	assert.Empty(t, sugg.Suggestions)

	w = f.do(t, http.MethodGet, "/api/history/suggest?q=go&limit=zero", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.do(t, http.MethodDelete, "/api/history/"+docs, nil, nil)
	var list struct {
		History []types.HistoryItem `json:"history"`
	}
	f.do(t, http.MethodGet, "/api/history", nil, &list)
	for _, item := range list.History {
		assert.NotEqual(t, docs, item.ID)
	}

	f.do(t, http.MethodDelete, "/api/history", nil, nil)
	assert.Empty(t, f.store.History())
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"toggle", map[string]any{"darkMode": false, "blockAds": true}, http.StatusOK},
		{"unknown engine", map[string]any{"searchEngine": "altavista"}, http.StatusBadRequest},
		{"bad home page", map[string]any{"homePage": "not a url"}, http.StatusBadRequest},
		{"home page", map[string]any{"homePage": "https://news.example"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPatch, "/api/settings", tt.body, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	var settings types.BrowserSettings
	f.do(t, http.MethodGet, "/api/settings", nil, &settings)
	assert.False(t, settings.DarkMode)
	assert.True(t, settings.BlockAds)
	assert.Equal(t, "https://news.example", settings.HomePage)
	assert.Equal(t, types.EngineGoogle, settings.SearchEngine)
}

func TestSelectSearchEngine(t *testing.T) {
	f := newFixture(t)

	var settings types.BrowserSettings
	w := f.do(t, http.MethodPut, "/api/settings/search-engine", map[string]string{"engine": "duckduckgo"}, &settings)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.EngineDuckDuckGo, settings.SearchEngine)
	assert.Equal(t, session.EngineHome(types.EngineDuckDuckGo), settings.HomePage, "home page follows the engine")

	w = f.do(t, http.MethodPut, "/api/settings/search-engine", map[string]string{"engine": "altavista"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloads(t *testing.T) {
	f := newFixture(t)

	var started struct {
		ID string `json:"id"`
	}
	w := f.do(t, http.MethodPost, "/api/downloads", map[string]string{"url": "https://files.example/a.zip"}, &started)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.NotEmpty(t, started.ID)

	w = f.do(t, http.MethodPost, "/api/downloads", map[string]string{"url": "nothing"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPost, "/api/downloads", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var list struct {
		Downloads []types.DownloadItem `json:"downloads"`
	}
	f.do(t, http.MethodGet, "/api/downloads", nil, &list)
	require.Len(t, list.Downloads, 1)
	assert.Equal(t, types.DownloadInProgress, list.Downloads[0].Status)

	f.do(t, http.MethodDelete, "/api/downloads/"+started.ID, nil, nil)
	assert.Empty(t, f.store.Downloads())
	assert.Equal(t, []string{started.ID}, f.downloads.canceled)

	f.do(t, http.MethodPost, "/api/downloads", map[string]string{"url": "https://files.example/b.zip"}, &started)
	done := f.store.AddDownload("old.zip", "https://files.example/old.zip")
	f.store.UpdateDownload(done, types.DownloadPatch{Status: types.Ptr(types.DownloadCompleted)})

	f.do(t, http.MethodDelete, "/api/downloads", nil, nil)
	assert.Empty(t, f.store.Downloads())
	assert.NotContains(t, f.downloads.canceled, done, "finished downloads are not canceled")
	assert.Contains(t, f.downloads.canceled, started.ID)
}

func TestFavicons(t *testing.T) {
	f := newFixture(t)
	f.store.UpdateFavicon("example.com", "https://example.com/icon.png")

	var body struct {
		Favicon string `json:"favicon"`
	}
	w := f.do(t, http.MethodGet, "/api/favicons/example.com", nil, &body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://example.com/icon.png", body.Favicon)

	w = f.do(t, http.MethodGet, "/api/favicons/unknown.example", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var all struct {
		Favicons map[string]string `json:"favicons"`
	}
	f.do(t, http.MethodGet, "/api/favicons", nil, &all)
	assert.Contains(t, all.Favicons, "example.com")
}

func TestContextMenu(t *testing.T) {
	f := newFixture(t)
	tabID := f.activeTab(t)
	base := "/api/tabs/" + tabID + "/context-menu"

	w := f.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "no menu open")

	f.page(t, tabID).post(linkMenu)
	var menu bridge.ContextMenu
	w = f.do(t, http.MethodGet, base, nil, &menu)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://story.example/1", menu.Href)

	w = f.do(t, http.MethodPost, base+"/fly", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, base+"/openInNewTab", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.store.Tabs(), 2)
	active, _ := f.store.ActiveTab()
	assert.Equal(t, "https://story.example/1", active.URL)

	w = f.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "the action closed the menu")

	f.page(t, tabID).post(linkMenu)
	f.do(t, http.MethodDelete, base, nil, nil)
	w = f.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestVideo(t *testing.T) {
	f := newFixture(t)
	tabID := f.activeTab(t)
	base := "/api/tabs/" + tabID + "/video"

	w := f.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.page(t, tabID).post(`{"type":"videoPlay","data":{"url":"https://cdn.example/a.mp4","title":"A"}}`)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/seek", map[string]float64{"seconds": 12}, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/mute", map[string]bool{"muted": true}, nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/pause", nil, nil).Code)

	var v tabs.Video
	f.do(t, http.MethodGet, base, nil, &v)
	assert.Equal(t, "https://cdn.example/a.mp4", v.URL)
	assert.Equal(t, 12.0, v.CurrentTime)
	assert.True(t, v.Muted)
	assert.False(t, v.Playing)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/close", nil, nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodGet, base, nil, nil).Code)

	var ops []bridge.Op
	for _, cmd := range f.page(t, tabID).commands() {
		ops = append(ops, cmd.Op)
	}
	assert.Contains(t, ops, bridge.OpSeekVideo)
	assert.Contains(t, ops, bridge.OpSetMuted)
	assert.Contains(t, ops, bridge.OpPauseVideo)
}

func TestStorageInspector(t *testing.T) {
	f := newFixture(t)
	tabID := f.activeTab(t)
	base := "/api/tabs/" + tabID + "/storage"

	w := f.do(t, http.MethodPost, base+"/inspect", nil, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	f.page(t, tabID).post(`{"type":"localStorageData","data":{"theme":"dark"}}`)
	var snapshot tabs.Storage
	f.do(t, http.MethodGet, base, nil, &snapshot)
	assert.Equal(t, "dark", snapshot.LocalStorage["theme"])

	calls := []struct {
		method string
		path   string
		body   any
		op     bridge.Op
	}{
		{http.MethodPut, base + "/local/theme", map[string]string{"value": "light"}, bridge.OpSetStorageItem},
		{http.MethodDelete, base + "/local/theme", nil, bridge.OpRemoveStorageItem},
		{http.MethodDelete, base + "/local", nil, bridge.OpClearStorage},
		{http.MethodPut, base + "/cookies/sid", map[string]string{"value": "abc"}, bridge.OpSetCookie},
		{http.MethodDelete, base + "/cookies/sid", nil, bridge.OpDeleteCookie},
		{http.MethodDelete, base + "/cookies", nil, bridge.OpClearCookies},
	}
	for _, call := range calls {
		w := f.do(t, call.method, call.path, call.body, nil)
		require.Equal(t, http.StatusOK, w.Code, "%s %s", call.method, call.path)
		cmds := f.page(t, tabID).commands()
		assert.Equal(t, call.op, cmds[len(cmds)-1].Op)
	}
}
