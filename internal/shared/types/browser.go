package types

// Tab is one browsing context.
type Tab struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	Favicon         string `json:"favicon,omitempty"`
	IsLoading       bool   `json:"isLoading"`
	Error           bool   `json:"error"`
	ReloadRequested bool   `json:"reloadRequested"`
	Private         bool   `json:"private"`
}

// TabPatch is a partial Tab update. Favicon set to "" clears the field.
type TabPatch struct {
	URL             *string `json:"url,omitempty"`
	Title           *string `json:"title,omitempty"`
	Favicon         *string `json:"favicon,omitempty"`
	IsLoading       *bool   `json:"isLoading,omitempty"`
	Error           *bool   `json:"error,omitempty"`
	ReloadRequested *bool   `json:"reloadRequested,omitempty"`
	Private         *bool   `json:"private,omitempty"`
}

// Apply merges the set fields of p into t.
func (p TabPatch) Apply(t *Tab) {
	if p.URL != nil {
		t.URL = *p.URL
	}
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Favicon != nil {
		t.Favicon = *p.Favicon
	}
	if p.IsLoading != nil {
		t.IsLoading = *p.IsLoading
	}
	if p.Error != nil {
		t.Error = *p.Error
	}
	if p.ReloadRequested != nil {
		t.ReloadRequested = *p.ReloadRequested
	}
	if p.Private != nil {
		t.Private = *p.Private
	}
}

// Bookmark is a saved url. CreatedAt is unix milliseconds.
type Bookmark struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Favicon   string `json:"favicon,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// HistoryItem is one completed page load. VisitedAt is unix milliseconds.
type HistoryItem struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Favicon   string `json:"favicon,omitempty"`
	VisitedAt int64  `json:"visitedAt"`
}

// SearchEngine names a supported search provider.
type SearchEngine string

const (
	EngineGoogle     SearchEngine = "google"
	EngineBing       SearchEngine = "bing"
	EngineDuckDuckGo SearchEngine = "duckduckgo"
	EngineYahoo      SearchEngine = "yahoo"
)

// SearchEngines lists the supported engines in display order.
var SearchEngines = []SearchEngine{EngineGoogle, EngineBing, EngineDuckDuckGo, EngineYahoo}

// BrowserSettings is the singleton settings record.
type BrowserSettings struct {
	SearchEngine SearchEngine `json:"searchEngine"`
	HomePage     string       `json:"homePage"`
	BlockAds     bool         `json:"blockAds"`
	DarkMode     bool         `json:"darkMode"`
	ClearOnExit  bool         `json:"clearOnExit"`
}

// SettingsPatch is a partial settings update.
type SettingsPatch struct {
	SearchEngine *SearchEngine `json:"searchEngine,omitempty" validate:"omitempty,oneof=google bing duckduckgo yahoo"`
	HomePage     *string       `json:"homePage,omitempty" validate:"omitempty,url"`
	BlockAds     *bool         `json:"blockAds,omitempty"`
	DarkMode     *bool         `json:"darkMode,omitempty"`
	ClearOnExit  *bool         `json:"clearOnExit,omitempty"`
}

// Apply merges the set fields of p into s.
func (p SettingsPatch) Apply(s *BrowserSettings) {
	if p.SearchEngine != nil {
		s.SearchEngine = *p.SearchEngine
	}
	if p.HomePage != nil {
		s.HomePage = *p.HomePage
	}
	if p.BlockAds != nil {
		s.BlockAds = *p.BlockAds
	}
	if p.DarkMode != nil {
		s.DarkMode = *p.DarkMode
	}
	if p.ClearOnExit != nil {
		s.ClearOnExit = *p.ClearOnExit
	}
}

// DownloadStatus is the lifecycle state of a download.
type DownloadStatus string

const (
	DownloadInProgress DownloadStatus = "downloading"
	DownloadCompleted  DownloadStatus = "completed"
	DownloadFailed     DownloadStatus = "failed"
)

// DownloadItem tracks one download. Progress is in [0,1].
type DownloadItem struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	URL      string         `json:"url"`
	Status   DownloadStatus `json:"status"`
	Progress float64        `json:"progress"`
}

// DownloadPatch is a partial download update.
type DownloadPatch struct {
	Name     *string         `json:"name,omitempty"`
	Status   *DownloadStatus `json:"status,omitempty"`
	Progress *float64        `json:"progress,omitempty"`
}

// Apply merges the set fields of p into d, clamping progress.
func (p DownloadPatch) Apply(d *DownloadItem) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.Progress != nil {
		d.Progress = clamp01(*p.Progress)
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }
