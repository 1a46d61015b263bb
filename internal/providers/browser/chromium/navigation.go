package chromium

import (
	"sync"

	"github.com/go-rod/rod/lib/proto"

	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
)

// navTracker turns main-frame DevTools events into load callbacks, so a
// navigation the page starts itself (a link, a form, location.href) is
// reported the same way as one the host asked for.
type navTracker struct {
	events browser.Events
	info   func() (browser.LoadInfo, error)
	loaded chan struct{}

	mu      sync.Mutex
	pending string
}

func newNavTracker(events browser.Events, info func() (browser.LoadInfo, error)) *navTracker {
	return &navTracker{events: events, info: info, loaded: make(chan struct{}, 1)}
}

// frameNavigated starts a load when the main frame commits a document.
// Error pages are left to the caller that saw the failure.
func (t *navTracker) frameNavigated(e *proto.PageFrameNavigated) {
	f := e.Frame
	if f == nil || f.ParentID != "" || f.UnreachableURL != "" || f.URL == "about:blank" {
		return
	}
	t.mu.Lock()
	t.pending = f.URL
	t.mu.Unlock()
	t.events.OnLoadStart(f.URL)
}

// withinDocument reports a history push or fragment change as a full load.
func (t *navTracker) withinDocument(main proto.PageFrameID, e *proto.PageNavigatedWithinDocument) {
	if e.FrameID != main {
		return
	}
	t.mu.Lock()
	t.pending = e.URL
	t.mu.Unlock()
	t.events.OnLoadStart(e.URL)
	t.finish(false)
}

func (t *navTracker) loadFired(*proto.PageLoadEventFired) {
	t.finish(false)
}

// finish ends the pending load. With force it reports even when no commit
// was seen, which covers pages restored from the back-forward cache.
func (t *navTracker) finish(force bool) {
	t.mu.Lock()
	url := t.pending
	t.pending = ""
	t.mu.Unlock()
	if url == "" && !force {
		return
	}

	info, err := t.info()
	switch {
	case err != nil:
		t.events.OnLoadError(url, err)
	default:
		if info.URL == "" {
			info.URL = url
		}
		t.events.OnLoadEnd(info)
	}
	select {
	case t.loaded <- struct{}{}:
	default:
	}
}

// reset drops a completion signal left over from an earlier load.
func (t *navTracker) reset() {
	select {
	case <-t.loaded:
	default:
	}
}
