package tabs

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

const degradedText = "Some features may be limited on this page"

// tabEvents receives surface callbacks for one tab.
type tabEvents struct {
	c  *Controller
	rt *runtime
}

// update runs fn under the controller lock unless the tab was released.
func (e *tabEvents) update(fn func(rt *runtime)) bool {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	if e.rt.closed {
		return false
	}
	fn(e.rt)
	return true
}

func (e *tabEvents) OnLoadStart(url string) {
	ok := e.update(func(rt *runtime) {
		rt.state = StateLoading
		rt.favicon = ""
		rt.menu = nil
	})
	if !ok {
		return
	}
	patch := types.TabPatch{IsLoading: types.Ptr(true), Error: types.Ptr(false)}
	if cached, ok := e.c.store.Favicon(session.Hostname(url)); ok {
		patch.Favicon = types.Ptr(cached)
	}
	e.c.store.UpdateTab(e.rt.tabID, patch)
}

func (e *tabEvents) OnLoadEnd(info browser.LoadInfo) {
	var discovered string
	var sess *bridge.Session
	ok := e.update(func(rt *runtime) {
		rt.state = StateLoaded
		rt.current = info.URL
		discovered = rt.favicon
		sess = rt.session
	})
	if !ok {
		return
	}
	c := e.c

	title := info.Title
	if title == "" {
		title = info.URL
	}
	host := session.Hostname(info.URL)
	cached, _ := c.store.Favicon(host)
	favicon := discovered
	if favicon == "" {
		favicon = cached
	}
	if favicon == "" {
		favicon = session.FaviconFallback(info.URL)
	}
	if !e.rt.private && host != "" && favicon != "" && favicon != cached {
		c.store.UpdateFavicon(host, favicon)
	}

	c.store.UpdateTab(e.rt.tabID, types.TabPatch{
		URL:       types.Ptr(info.URL),
		Title:     types.Ptr(title),
		Favicon:   types.Ptr(favicon),
		IsLoading: types.Ptr(false),
		Error:     types.Ptr(false),
	})
	if !e.rt.private {
		c.store.AddToHistory(info.URL, title, favicon)
	}
	c.metrics.RecordPageLoad(string(StateLoaded))

	if sess != nil {
		sess.PageLoaded(c.ctx)
	}
}

func (e *tabEvents) OnLoadError(url string, err error) {
	ok := e.update(func(rt *runtime) { rt.state = StateErrored })
	if !ok {
		return
	}
	e.c.logger.Warn("Page load failed",
		logging.TabID(e.rt.tabID),
		logging.URL(url),
		zap.Error(err))
	e.c.store.UpdateTab(e.rt.tabID, types.TabPatch{IsLoading: types.Ptr(false), Error: types.Ptr(true)})
	e.c.metrics.RecordPageLoad(string(StateErrored))
}

func (e *tabEvents) OnMessage(raw []byte) {
	var sess *bridge.Session
	if !e.update(func(rt *runtime) { sess = rt.session }) || sess == nil {
		return
	}
	_ = sess.Receive(e.c.ctx, raw)
}

// ShouldStartLoad turns link clicks aimed at another window into new tabs.
// An empty target is the current window.
func (e *tabEvents) ShouldStartLoad(req browser.NavigationRequest) bool {
	if req.Type != browser.NavigationClick || req.Target == "" || req.Target == "_self" {
		return true
	}
	if tab, ok := e.c.store.Tab(e.rt.tabID); ok && tab.URL == req.URL {
		return true
	}
	if !e.update(func(*runtime) {}) {
		return false
	}
	e.c.logger.Debug("Opening link in new tab",
		logging.TabID(e.rt.tabID),
		zap.String("target", req.Target))
	e.c.store.AddTab(req.URL, e.rt.private)
	return false
}

// tabHandler maps bridge messages onto the store and notices.
type tabHandler struct {
	c  *Controller
	rt *runtime
}

func (h *tabHandler) update(fn func(rt *runtime)) bool {
	return (&tabEvents{c: h.c, rt: h.rt}).update(fn)
}

func (h *tabHandler) OnFavicon(ctx context.Context, favicon string) {
	if !h.update(func(rt *runtime) { rt.favicon = favicon }) {
		return
	}
	store := h.c.store
	tab, ok := store.Tab(h.rt.tabID)
	if !ok {
		return
	}
	if tab.Favicon != favicon {
		store.UpdateTab(tab.ID, types.TabPatch{Favicon: types.Ptr(favicon)})
	}
	if h.rt.private {
		return
	}
	if host := session.Hostname(tab.URL); host != "" {
		if cached, _ := store.Favicon(host); cached != favicon {
			store.UpdateFavicon(host, favicon)
		}
	}
	store.UpdateHistoryFavicon(tab.URL, favicon)
	store.UpdateBookmarkFavicon(tab.URL, favicon)
}

func (h *tabHandler) OnContextMenu(ctx context.Context, menu bridge.ContextMenu) {
	if !h.update(func(rt *runtime) { rt.menu = &menu }) {
		return
	}
	shown := menu
	h.c.notify(Notice{Kind: NoticeContextMenu, TabID: h.rt.tabID, ContextMenu: &shown})
}

func (h *tabHandler) OnVideo(ctx context.Context, kind bridge.MessageType, ev bridge.VideoEvent) {
	var notice *Notice
	h.update(func(rt *runtime) {
		switch kind {
		case bridge.TypeVideoPlay:
			title := ev.Title
			if title == "" {
				title = "Video"
			}
			rt.video = &Video{URL: ev.URL, Title: title, Playing: true}
			if ev.CurrentTime != nil {
				rt.video.CurrentTime = *ev.CurrentTime
			}
		case bridge.TypeVideoPause, bridge.TypeVideoTimeUpdate:
			if rt.video == nil || rt.video.URL != ev.URL {
				return
			}
			if ev.CurrentTime != nil {
				rt.video.CurrentTime = *ev.CurrentTime
			}
			if kind == bridge.TypeVideoPause {
				rt.video.Playing = false
			}
		case bridge.TypeVideoEnded:
			if rt.video == nil || rt.video.URL != ev.URL {
				return
			}
			rt.video = nil
			notice = &Notice{Kind: NoticeVideoClosed, TabID: rt.tabID, URL: ev.URL}
			return
		default:
			return
		}
		video := *rt.video
		notice = &Notice{Kind: NoticeVideo, TabID: rt.tabID, Video: &video}
	})
	if notice != nil {
		h.c.notify(*notice)
	}
}

func (h *tabHandler) OnNewTab(ctx context.Context, url string) {
	if !h.update(func(*runtime) {}) {
		return
	}
	h.c.store.AddTab(url, h.rt.private)
}

func (h *tabHandler) OnCookies(ctx context.Context, cookies []bridge.Cookie) {
	h.storage(func(s *Storage) { s.Cookies = cookies })
}

func (h *tabHandler) OnLocalStorage(ctx context.Context, items map[string]string) {
	h.storage(func(s *Storage) { s.LocalStorage = items })
}

func (h *tabHandler) storage(fn func(s *Storage)) {
	var snapshot Storage
	ok := h.update(func(rt *runtime) {
		fn(&rt.storage)
		snapshot = rt.storage.clone()
	})
	if ok {
		h.c.notify(Notice{Kind: NoticeStorage, TabID: h.rt.tabID, Storage: &snapshot})
	}
}

func (h *tabHandler) OnInjectionState(state bridge.InjectionState) {
	if state != bridge.Failed {
		return
	}
	h.c.notify(Notice{Kind: NoticeDegraded, TabID: h.rt.tabID, Text: degradedText})
}
