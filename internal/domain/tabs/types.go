package tabs

import (
	"errors"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
)

var (
	// ErrUnknownTab is returned for ids the store does not hold.
	ErrUnknownTab = errors.New("tabs: unknown tab")
	// ErrNotMaterialized is returned when a tab has no live surface yet.
	ErrNotMaterialized = errors.New("tabs: tab has no surface")
	// ErrEmptyInput is returned by Submit for blank address bar input.
	ErrEmptyInput = errors.New("tabs: empty input")
	// ErrUnknownEngine is returned by SelectSearchEngine.
	ErrUnknownEngine = errors.New("tabs: unknown search engine")
	// ErrNoContextMenu is returned when no context menu is open on the tab.
	ErrNoContextMenu = errors.New("tabs: no context menu")
	// ErrUnsupportedAction is returned when an action does not apply to the
	// element under the context menu.
	ErrUnsupportedAction = errors.New("tabs: action not supported for element")
	// ErrNoVideo is returned by video controls when no video is open.
	ErrNoVideo = errors.New("tabs: no video open")
	// ErrNoDownloads is returned when the controller has no download manager.
	ErrNoDownloads = errors.New("tabs: downloads unavailable")
)

// LoadState is the per-tab load lifecycle.
type LoadState string

const (
	StateIdle    LoadState = "idle"
	StateLoading LoadState = "loading"
	StateLoaded  LoadState = "loaded"
	StateErrored LoadState = "errored"
)

// Video is the clip shown in the native player.
type Video struct {
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	CurrentTime float64 `json:"currentTime"`
	Playing     bool    `json:"playing"`
	Muted       bool    `json:"muted"`
}

// Storage is the last storage snapshot a page reported.
type Storage struct {
	LocalStorage map[string]string `json:"localStorage"`
	Cookies      []bridge.Cookie   `json:"cookies"`
}

func (s Storage) clone() Storage {
	out := Storage{Cookies: append([]bridge.Cookie(nil), s.Cookies...)}
	if s.LocalStorage != nil {
		out.LocalStorage = make(map[string]string, len(s.LocalStorage))
		for k, v := range s.LocalStorage {
			out.LocalStorage[k] = v
		}
	}
	return out
}

// Status is the controller's view of one tab.
type Status struct {
	TabID        string                `json:"tabId"`
	Materialized bool                  `json:"materialized"`
	State        LoadState             `json:"state"`
	Injection    bridge.InjectionState `json:"injection"`
	Attempts     int                   `json:"attempts"`
	Degraded     bool                  `json:"degraded"`
	CanGoBack    bool                  `json:"canGoBack"`
	CanGoForward bool                  `json:"canGoForward"`
	ContextMenu  *bridge.ContextMenu   `json:"contextMenu,omitempty"`
	Video        *Video                `json:"video,omitempty"`
}

// NoticeKind classifies a Notice.
type NoticeKind string

const (
	NoticeContextMenu NoticeKind = "contextMenu"
	NoticeVideo       NoticeKind = "video"
	NoticeVideoClosed NoticeKind = "videoClosed"
	NoticeStorage     NoticeKind = "storage"
	NoticeDegraded    NoticeKind = "injectionDegraded"
	NoticeClipboard   NoticeKind = "clipboard"
	NoticeShare       NoticeKind = "share"
	NoticeDownload    NoticeKind = "download"
	NoticeExit        NoticeKind = "exit"
)

// Notice is a transient message for the UI layer. It is never persisted.
type Notice struct {
	Kind        NoticeKind          `json:"kind"`
	TabID       string              `json:"tabId,omitempty"`
	ContextMenu *bridge.ContextMenu `json:"contextMenu,omitempty"`
	Video       *Video              `json:"video,omitempty"`
	Storage     *Storage            `json:"storage,omitempty"`
	Text        string              `json:"text,omitempty"`
	URL         string              `json:"url,omitempty"`
}

// BackResult says what a back press did.
type BackResult string

const (
	BackNavigated BackResult = "navigated"
	BackClosedTab BackResult = "closedTab"
	BackExit      BackResult = "exit"
)

// Action is a context-menu choice.
type Action string

const (
	ActionOpen             Action = "open"
	ActionOpenInNewTab     Action = "openInNewTab"
	ActionOpenInPrivateTab Action = "openInPrivateTab"
	ActionCopy             Action = "copy"
	ActionCopyLink         Action = "copyLink"
	ActionCopyText         Action = "copyText"
	ActionPlayVideo        Action = "playVideo"
	ActionSaveImage        Action = "saveImage"
	ActionDownload         Action = "download"
	ActionShare            Action = "share"
)
