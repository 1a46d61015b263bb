package session

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

const newTabTitle = "New Tab"

// ChangeKind names the collection a mutation touched.
type ChangeKind string

const (
	ChangeTabs      ChangeKind = "tabs"
	ChangeActiveTab ChangeKind = "activeTab"
	ChangeBookmarks ChangeKind = "bookmarks"
	ChangeHistory   ChangeKind = "history"
	ChangeSettings  ChangeKind = "settings"
	ChangeDownloads ChangeKind = "downloads"
	ChangeFavicons  ChangeKind = "favicons"
	ChangeRestored  ChangeKind = "restored"
)

// Change describes one mutation. ID is the affected entity when there is one.
type Change struct {
	Kind ChangeKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

// State is a full copy of the store contents. ActiveTabID is "" for none.
type State struct {
	Tabs        []types.Tab           `json:"tabs"`
	ActiveTabID string                `json:"activeTabId"`
	Bookmarks   []types.Bookmark      `json:"bookmarks"`
	History     []types.HistoryItem   `json:"history"`
	Settings    types.BrowserSettings `json:"settings"`
	Downloads   []types.DownloadItem  `json:"downloads"`
	Favicons    map[string]string     `json:"favicons"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Tabs = append([]types.Tab(nil), s.Tabs...)
	out.Bookmarks = append([]types.Bookmark(nil), s.Bookmarks...)
	out.History = append([]types.HistoryItem(nil), s.History...)
	out.Downloads = append([]types.DownloadItem(nil), s.Downloads...)
	out.Favicons = make(map[string]string, len(s.Favicons))
	for k, v := range s.Favicons {
		out.Favicons[k] = v
	}
	return out
}

// DefaultSettings returns the settings a fresh install starts with.
func DefaultSettings() types.BrowserSettings {
	return types.BrowserSettings{
		SearchEngine: types.EngineGoogle,
		HomePage:     "https://www.google.com",
		BlockAds:     false,
		DarkMode:     true,
		ClearOnExit:  false,
	}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for createdAt/visitedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs overrides the id generator.
func WithIDs(gen *id.Generator) Option {
	return func(s *Store) { s.ids = gen }
}

// WithSettings replaces the initial settings.
func WithSettings(settings types.BrowserSettings) Option {
	return func(s *Store) { s.state.Settings = settings }
}

// Store is the session state container. It is safe for concurrent use;
// listeners run after the write lock is released and may mutate the store.
type Store struct {
	mu    sync.RWMutex
	state State

	now func() time.Time
	ids *id.Generator

	listenersMu  sync.RWMutex
	listeners    map[uint64]func(Change)
	nextListener uint64
}

// New creates an empty store with default settings.
func New(opts ...Option) *Store {
	s := &Store{
		state: State{
			Settings: DefaultSettings(),
			Favicons: map[string]string{},
		},
		now:       time.Now,
		ids:       id.Default(),
		listeners: make(map[uint64]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for every subsequent change. The returned func
// removes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.listenersMu.Lock()
	key := s.nextListener
	s.nextListener++
	s.listeners[key] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, key)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(changes ...Change) {
	s.listenersMu.RLock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// mutate runs fn under the write lock and then publishes what it reports.
func (s *Store) mutate(fn func(st *State) []Change) {
	s.mu.Lock()
	changes := fn(&s.state)
	s.mu.Unlock()

	if len(changes) > 0 {
		s.notify(changes...)
	}
}

func (s *Store) millis() int64 {
	return s.now().UnixMilli()
}

// ============================================================================
// Reads
// ============================================================================

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Tabs returns the tabs in insertion order.
func (s *Store) Tabs() []types.Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Tab(nil), s.state.Tabs...)
}

// Tab looks a tab up by id.
func (s *Store) Tab(tabID string) (types.Tab, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexTab(s.state.Tabs, tabID); i >= 0 {
		return s.state.Tabs[i], true
	}
	return types.Tab{}, false
}

// ActiveTabID returns the raw active id, which may name a closed tab.
func (s *Store) ActiveTabID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ActiveTabID
}

// ActiveTab resolves the active id. An id naming no tab means no active tab.
func (s *Store) ActiveTab() (types.Tab, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexTab(s.state.Tabs, s.state.ActiveTabID); i >= 0 {
		return s.state.Tabs[i], true
	}
	return types.Tab{}, false
}

// Bookmarks returns bookmarks in insertion order.
func (s *Store) Bookmarks() []types.Bookmark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Bookmark(nil), s.state.Bookmarks...)
}

// BookmarkByURL finds the first bookmark whose url equals rawURL.
func (s *Store) BookmarkByURL(rawURL string) (types.Bookmark, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.state.Bookmarks {
		if b.URL == rawURL {
			return b, true
		}
	}
	return types.Bookmark{}, false
}

// History returns history newest-first.
func (s *Store) History() []types.HistoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.HistoryItem(nil), s.state.History...)
}

// Settings returns the settings record.
func (s *Store) Settings() types.BrowserSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settings
}

// Downloads returns downloads newest-first.
func (s *Store) Downloads() []types.DownloadItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.DownloadItem(nil), s.state.Downloads...)
}

// Download looks a download up by id.
func (s *Store) Download(downloadID string) (types.DownloadItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.state.Downloads {
		if d.ID == downloadID {
			return d, true
		}
	}
	return types.DownloadItem{}, false
}

// Favicon returns the cached favicon for a hostname.
func (s *Store) Favicon(hostname string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fav, ok := s.state.Favicons[hostname]
	return fav, ok
}

// Favicons returns a copy of the favicon cache.
func (s *Store) Favicons() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.state.Favicons))
	for k, v := range s.state.Favicons {
		out[k] = v
	}
	return out
}

// ============================================================================
// Tabs
// ============================================================================

// AddTab appends a tab for rawURL and makes it active. The url is stored
// as given.
func (s *Store) AddTab(rawURL string, private bool) string {
	tabID := s.ids.GenerateWithPrefix(id.TabPrefix)
	s.mutate(func(st *State) []Change {
		st.Tabs = append(st.Tabs, types.Tab{
			ID:        tabID,
			URL:       rawURL,
			Title:     newTabTitle,
			IsLoading: true,
			Private:   private,
		})
		st.ActiveTabID = tabID
		return []Change{{Kind: ChangeTabs, ID: tabID}, {Kind: ChangeActiveTab, ID: tabID}}
	})
	return tabID
}

// CloseTab removes a tab. Closing the active tab activates the last
// remaining tab, or none.
func (s *Store) CloseTab(tabID string) {
	s.mutate(func(st *State) []Change {
		i := indexTab(st.Tabs, tabID)
		if i < 0 {
			return nil
		}
		st.Tabs = append(st.Tabs[:i:i], st.Tabs[i+1:]...)

		changes := []Change{{Kind: ChangeTabs, ID: tabID}}
		if st.ActiveTabID == tabID {
			st.ActiveTabID = ""
			if n := len(st.Tabs); n > 0 {
				st.ActiveTabID = st.Tabs[n-1].ID
			}
			changes = append(changes, Change{Kind: ChangeActiveTab, ID: st.ActiveTabID})
		}
		return changes
	})
}

// SetActiveTab sets the active id without checking that the tab exists.
func (s *Store) SetActiveTab(tabID string) {
	s.mutate(func(st *State) []Change {
		st.ActiveTabID = tabID
		return []Change{{Kind: ChangeActiveTab, ID: tabID}}
	})
}

// UpdateTab merges patch into the tab. Unknown ids are ignored.
func (s *Store) UpdateTab(tabID string, patch types.TabPatch) {
	s.mutate(func(st *State) []Change {
		i := indexTab(st.Tabs, tabID)
		if i < 0 {
			return nil
		}
		patch.Apply(&st.Tabs[i])
		return []Change{{Kind: ChangeTabs, ID: tabID}}
	})
}

// NavigateTo points a tab at a normalised url and marks it loading.
func (s *Store) NavigateTo(tabID, rawURL string) {
	s.UpdateTab(tabID, types.TabPatch{
		URL:       types.Ptr(NormalizeURL(rawURL)),
		IsLoading: types.Ptr(true),
	})
}

// RequestReload raises the one-shot reload flag on a tab.
func (s *Store) RequestReload(tabID string) {
	s.UpdateTab(tabID, types.TabPatch{ReloadRequested: types.Ptr(true)})
}

// ============================================================================
// Bookmarks
// ============================================================================

// AddBookmark appends a bookmark. Duplicate urls are accepted.
func (s *Store) AddBookmark(rawURL, title, favicon string) string {
	bookmarkID := s.ids.GenerateWithPrefix(id.BookmarkPrefix)
	created := s.millis()
	s.mutate(func(st *State) []Change {
		st.Bookmarks = append(st.Bookmarks, types.Bookmark{
			ID:        bookmarkID,
			URL:       rawURL,
			Title:     title,
			Favicon:   favicon,
			CreatedAt: created,
		})
		return []Change{{Kind: ChangeBookmarks, ID: bookmarkID}}
	})
	return bookmarkID
}

// RemoveBookmark deletes a bookmark by id.
func (s *Store) RemoveBookmark(bookmarkID string) {
	s.mutate(func(st *State) []Change {
		for i, b := range st.Bookmarks {
			if b.ID == bookmarkID {
				st.Bookmarks = append(st.Bookmarks[:i:i], st.Bookmarks[i+1:]...)
				return []Change{{Kind: ChangeBookmarks, ID: bookmarkID}}
			}
		}
		return nil
	})
}

// UpdateBookmarkFavicon sets the favicon of every bookmark whose url is
// exactly rawURL.
func (s *Store) UpdateBookmarkFavicon(rawURL, favicon string) {
	s.mutate(func(st *State) []Change {
		changed := false
		for i := range st.Bookmarks {
			if st.Bookmarks[i].URL == rawURL {
				st.Bookmarks[i].Favicon = favicon
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return []Change{{Kind: ChangeBookmarks}}
	})
}

// ============================================================================
// History
// ============================================================================

// AddToHistory prepends a visit. Every visit is its own entry.
func (s *Store) AddToHistory(rawURL, title, favicon string) string {
	historyID := s.ids.GenerateWithPrefix(id.HistoryPrefix)
	visited := s.millis()
	s.mutate(func(st *State) []Change {
		item := types.HistoryItem{
			ID:        historyID,
			URL:       rawURL,
			Title:     title,
			Favicon:   favicon,
			VisitedAt: visited,
		}
		st.History = append([]types.HistoryItem{item}, st.History...)
		return []Change{{Kind: ChangeHistory, ID: historyID}}
	})
	return historyID
}

// ClearHistory removes every history entry.
func (s *Store) ClearHistory() {
	s.mutate(func(st *State) []Change {
		st.History = nil
		return []Change{{Kind: ChangeHistory}}
	})
}

// RemoveHistoryItem deletes one history entry.
func (s *Store) RemoveHistoryItem(historyID string) {
	s.mutate(func(st *State) []Change {
		for i, h := range st.History {
			if h.ID == historyID {
				st.History = append(st.History[:i:i], st.History[i+1:]...)
				return []Change{{Kind: ChangeHistory, ID: historyID}}
			}
		}
		return nil
	})
}

// UpdateHistoryFavicon sets the favicon of every history entry whose url
// is exactly rawURL.
func (s *Store) UpdateHistoryFavicon(rawURL, favicon string) {
	s.mutate(func(st *State) []Change {
		changed := false
		for i := range st.History {
			if st.History[i].URL == rawURL {
				st.History[i].Favicon = favicon
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return []Change{{Kind: ChangeHistory}}
	})
}

// ============================================================================
// Favicons and settings
// ============================================================================

// UpdateFavicon upserts the cache entry for hostname.
func (s *Store) UpdateFavicon(hostname, favicon string) {
	s.mutate(func(st *State) []Change {
		if st.Favicons == nil {
			st.Favicons = map[string]string{}
		}
		st.Favicons[hostname] = favicon
		return []Change{{Kind: ChangeFavicons, ID: hostname}}
	})
}

// UpdateSettings merges patch into the settings record.
func (s *Store) UpdateSettings(patch types.SettingsPatch) {
	s.mutate(func(st *State) []Change {
		patch.Apply(&st.Settings)
		return []Change{{Kind: ChangeSettings}}
	})
}

// ============================================================================
// Downloads
// ============================================================================

// AddDownload records a new in-progress download, newest first.
func (s *Store) AddDownload(name, rawURL string) string {
	downloadID := s.ids.GenerateWithPrefix(id.DownloadPrefix)
	s.mutate(func(st *State) []Change {
		item := types.DownloadItem{
			ID:     downloadID,
			Name:   name,
			URL:    rawURL,
			Status: types.DownloadInProgress,
		}
		st.Downloads = append([]types.DownloadItem{item}, st.Downloads...)
		return []Change{{Kind: ChangeDownloads, ID: downloadID}}
	})
	return downloadID
}

// UpdateDownload merges patch into a download. Unknown ids are ignored.
func (s *Store) UpdateDownload(downloadID string, patch types.DownloadPatch) {
	s.mutate(func(st *State) []Change {
		for i := range st.Downloads {
			if st.Downloads[i].ID == downloadID {
				patch.Apply(&st.Downloads[i])
				return []Change{{Kind: ChangeDownloads, ID: downloadID}}
			}
		}
		return nil
	})
}

// RemoveDownload deletes one download record.
func (s *Store) RemoveDownload(downloadID string) {
	s.mutate(func(st *State) []Change {
		for i, d := range st.Downloads {
			if d.ID == downloadID {
				st.Downloads = append(st.Downloads[:i:i], st.Downloads[i+1:]...)
				return []Change{{Kind: ChangeDownloads, ID: downloadID}}
			}
		}
		return nil
	})
}

// ClearDownloads removes every download record.
func (s *Store) ClearDownloads() {
	s.mutate(func(st *State) []Change {
		st.Downloads = nil
		return []Change{{Kind: ChangeDownloads}}
	})
}

// ============================================================================
// Hydration
// ============================================================================

// Restore replaces the state with a persisted blob.
func (s *Store) Restore(p Persisted) {
	s.mutate(func(st *State) []Change {
		st.Bookmarks = append([]types.Bookmark(nil), p.Bookmarks...)
		st.History = append([]types.HistoryItem(nil), p.History...)
		st.Settings = p.Settings
		st.Downloads = append([]types.DownloadItem(nil), p.Downloads...)
		st.Favicons = make(map[string]string, len(p.Favicons))
		for k, v := range p.Favicons {
			st.Favicons[k] = v
		}
		st.Tabs = append([]types.Tab(nil), p.Tabs...)
		st.ActiveTabID = ""
		if p.ActiveTabID != nil {
			st.ActiveTabID = *p.ActiveTabID
		}
		return []Change{{Kind: ChangeRestored}}
	})
}

func indexTab(tabs []types.Tab, tabID string) int {
	for i := range tabs {
		if tabs[i].ID == tabID {
			return i
		}
	}
	return -1
}
