package session

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

// codec follows encoding/json semantics (sorted map keys, HTML escaping)
// so blobs are byte-stable across writes of the same state.
var codec = sonic.ConfigStd

// Persisted is the blob written to durable storage.
type Persisted struct {
	Bookmarks   []types.Bookmark      `json:"bookmarks"`
	History     []types.HistoryItem   `json:"history"`
	Settings    types.BrowserSettings `json:"settings"`
	Downloads   []types.DownloadItem  `json:"downloads"`
	Favicons    map[string]string     `json:"favicons"`
	Tabs        []types.Tab           `json:"tabs"`
	ActiveTabID *string               `json:"activeTabId"`
}

// Project derives the persisted form of s. With clearOnExit no tabs are
// kept. Otherwise private tabs are dropped and a private active tab is
// replaced by the first surviving tab.
func Project(s State) Persisted {
	p := Persisted{
		Bookmarks: append([]types.Bookmark{}, s.Bookmarks...),
		History:   append([]types.HistoryItem{}, s.History...),
		Settings:  s.Settings,
		Downloads: append([]types.DownloadItem{}, s.Downloads...),
		Favicons:  make(map[string]string, len(s.Favicons)),
		Tabs:      []types.Tab{},
	}
	for k, v := range s.Favicons {
		p.Favicons[k] = v
	}

	if s.Settings.ClearOnExit {
		return p
	}

	activeKept := false
	for _, t := range s.Tabs {
		if t.Private {
			continue
		}
		p.Tabs = append(p.Tabs, t)
		if t.ID == s.ActiveTabID {
			activeKept = true
		}
	}

	switch {
	case activeKept:
		p.ActiveTabID = types.Ptr(s.ActiveTabID)
	case isPrivateTab(s.Tabs, s.ActiveTabID):
		if len(p.Tabs) > 0 {
			p.ActiveTabID = types.Ptr(p.Tabs[0].ID)
		}
	case s.ActiveTabID != "":
		// A dangling id is carried as-is; readers treat it as no tab.
		p.ActiveTabID = types.Ptr(s.ActiveTabID)
	}
	return p
}

func isPrivateTab(tabs []types.Tab, tabID string) bool {
	i := indexTab(tabs, tabID)
	return i >= 0 && tabs[i].Private
}

// Encode serialises a persisted blob.
func Encode(p Persisted) ([]byte, error) {
	data, err := codec.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode persisted state: %w", err)
	}
	return data, nil
}

// Decode parses a persisted blob. Settings keys missing from older blobs
// keep their defaults, and missing collections decode as empty.
func Decode(data []byte) (Persisted, error) {
	p := Persisted{Settings: DefaultSettings()}
	if err := codec.Unmarshal(data, &p); err != nil {
		return Persisted{}, fmt.Errorf("decode persisted state: %w", err)
	}
	if p.Bookmarks == nil {
		p.Bookmarks = []types.Bookmark{}
	}
	if p.History == nil {
		p.History = []types.HistoryItem{}
	}
	if p.Downloads == nil {
		p.Downloads = []types.DownloadItem{}
	}
	if p.Favicons == nil {
		p.Favicons = map[string]string{}
	}
	if p.Tabs == nil {
		p.Tabs = []types.Tab{}
	}
	return p, nil
}
