package tabs

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/bridge"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

// ============================================================================
// Tabs and navigation
// ============================================================================

// NewTab opens rawURL, or the home page when it is blank, and activates it.
func (c *Controller) NewTab(rawURL string, private bool) string {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = c.homePage()
	}
	return c.store.AddTab(rawURL, private)
}

// CloseTab closes a tab and its surface.
func (c *Controller) CloseTab(tabID string) error {
	if _, err := c.checkTab(tabID); err != nil {
		return err
	}
	c.store.CloseTab(tabID)
	return nil
}

// Activate makes tabID the active tab.
func (c *Controller) Activate(tabID string) error {
	if _, err := c.checkTab(tabID); err != nil {
		return err
	}
	c.store.SetActiveTab(tabID)
	return nil
}

// Submit resolves address bar input against the selected search engine
// and navigates the tab to it. It returns the resolved url.
func (c *Controller) Submit(tabID, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", ErrEmptyInput
	}
	if _, err := c.checkTab(tabID); err != nil {
		return "", err
	}
	target := session.ResolveInput(input, c.store.Settings().SearchEngine)
	c.store.NavigateTo(tabID, target)
	return target, nil
}

// Home navigates the tab to the home page.
func (c *Controller) Home(tabID string) error {
	if _, err := c.checkTab(tabID); err != nil {
		return err
	}
	c.store.NavigateTo(tabID, c.homePage())
	return nil
}

// Reload asks for the tab to be reloaded.
func (c *Controller) Reload(tabID string) error {
	if _, err := c.checkTab(tabID); err != nil {
		return err
	}
	c.store.RequestReload(tabID)
	return nil
}

// GoBack moves the tab's surface back one history entry.
func (c *Controller) GoBack(ctx context.Context, tabID string) error {
	rt, err := c.live(tabID)
	if err != nil {
		return err
	}
	return rt.surface.GoBack(ctx)
}

// GoForward moves the tab's surface forward one history entry.
func (c *Controller) GoForward(ctx context.Context, tabID string) error {
	rt, err := c.live(tabID)
	if err != nil {
		return err
	}
	return rt.surface.GoForward(ctx)
}

// Back handles the hardware back button. The active surface's history
// goes first, then closing the active tab when others remain. Otherwise
// the app should exit.
func (c *Controller) Back(ctx context.Context) (BackResult, error) {
	active, ok := c.store.ActiveTab()
	if ok {
		if rt, err := c.live(active.ID); err == nil && rt.surface.CanGoBack() {
			return BackNavigated, rt.surface.GoBack(ctx)
		}
		if len(c.store.Tabs()) > 1 {
			c.store.CloseTab(active.ID)
			return BackClosedTab, nil
		}
	}
	c.notify(Notice{Kind: NoticeExit})
	return BackExit, nil
}

// ToggleBookmark bookmarks the tab's page, or removes the bookmarks with
// its url. It reports whether the page is bookmarked afterwards.
func (c *Controller) ToggleBookmark(tabID string) (bool, error) {
	tab, err := c.checkTab(tabID)
	if err != nil {
		return false, err
	}
	removed := false
	for {
		b, ok := c.store.BookmarkByURL(tab.URL)
		if !ok {
			break
		}
		c.store.RemoveBookmark(b.ID)
		removed = true
	}
	if removed {
		return false, nil
	}
	c.store.AddBookmark(tab.URL, tab.Title, tab.Favicon)
	return true, nil
}

// SelectSearchEngine switches the engine, moving the home page along with
// it when the home page still points at the previous engine.
func (c *Controller) SelectSearchEngine(engine types.SearchEngine) error {
	if !slices.Contains(types.SearchEngines, engine) {
		return fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	c.store.UpdateSettings(session.EnginePatch(c.store.Settings(), engine))
	return nil
}

// ============================================================================
// Context menu
// ============================================================================

// ContextMenu returns the menu currently open on a tab.
func (c *Controller) ContextMenu(tabID string) (bridge.ContextMenu, error) {
	rt, err := c.live(tabID)
	if err != nil {
		return bridge.ContextMenu{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.menu == nil {
		return bridge.ContextMenu{}, ErrNoContextMenu
	}
	return *rt.menu, nil
}

// DismissContextMenu closes the menu without acting on it.
func (c *Controller) DismissContextMenu(tabID string) error {
	rt, err := c.live(tabID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	rt.menu = nil
	c.mu.Unlock()
	return nil
}

// ContextAction performs action on the element under the open context
// menu and closes the menu.
func (c *Controller) ContextAction(ctx context.Context, tabID string, action Action) error {
	rt, err := c.live(tabID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if rt.menu == nil {
		c.mu.Unlock()
		return ErrNoContextMenu
	}
	menu := *rt.menu
	c.mu.Unlock()

	if err := c.perform(ctx, rt, menu, action); err != nil {
		return err
	}
	c.mu.Lock()
	rt.menu = nil
	c.mu.Unlock()
	return nil
}

func (c *Controller) perform(ctx context.Context, rt *runtime, menu bridge.ContextMenu, action Action) error {
	target := menuTarget(menu)
	unsupported := fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, action, menu.Type)

	switch action {
	case ActionOpen:
		if target == "" || menu.Type == bridge.ContextVideo {
			return unsupported
		}
		c.store.NavigateTo(rt.tabID, target)

	case ActionOpenInNewTab, ActionOpenInPrivateTab:
		if target == "" || menu.Type == bridge.ContextVideo {
			return unsupported
		}
		c.store.AddTab(target, rt.private || action == ActionOpenInPrivateTab)

	case ActionCopy:
		text := target
		if menu.Type == bridge.ContextText {
			text = menu.Text
		}
		if text == "" {
			return unsupported
		}
		c.notify(Notice{Kind: NoticeClipboard, TabID: rt.tabID, Text: text})

	case ActionCopyLink:
		if target == "" {
			return unsupported
		}
		c.notify(Notice{Kind: NoticeClipboard, TabID: rt.tabID, Text: target})

	case ActionCopyText:
		if menu.Text == "" {
			return unsupported
		}
		c.notify(Notice{Kind: NoticeClipboard, TabID: rt.tabID, Text: menu.Text})

	case ActionShare:
		text := menu.Title
		if text == "" {
			text = menu.Text
		}
		if target == "" && text == "" {
			return unsupported
		}
		c.notify(Notice{Kind: NoticeShare, TabID: rt.tabID, URL: target, Text: text})

	case ActionPlayVideo:
		if menu.Type != bridge.ContextVideo || menu.VideoURL == "" {
			return unsupported
		}
		title := menu.Title
		if title == "" {
			title = "Video"
		}
		video := Video{URL: menu.VideoURL, Title: title}
		c.mu.Lock()
		rt.video = &video
		c.mu.Unlock()
		c.notify(Notice{Kind: NoticeVideo, TabID: rt.tabID, Video: &video})

	case ActionSaveImage, ActionDownload:
		if target == "" || menu.Type == bridge.ContextText || (action == ActionSaveImage && menu.Type != bridge.ContextImage) {
			return unsupported
		}
		if c.downloads == nil {
			return ErrNoDownloads
		}
		downloadID, err := c.downloads.Start(ctx, target, "")
		if err != nil {
			return fmt.Errorf("download %s: %w", target, err)
		}
		c.logger.Info("Download started", logging.TabID(rt.tabID), zap.String("download_id", downloadID))
		c.notify(Notice{Kind: NoticeDownload, TabID: rt.tabID, URL: target, Text: downloadID})

	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
	}
	return nil
}

// menuTarget is the url an element refers to.
func menuTarget(menu bridge.ContextMenu) string {
	switch menu.Type {
	case bridge.ContextLink:
		return menu.Href
	case bridge.ContextImage:
		return menu.Src
	case bridge.ContextVideo:
		return menu.VideoURL
	}
	return ""
}

// ============================================================================
// Video player
// ============================================================================

func (c *Controller) video(tabID string) (*runtime, Video, error) {
	rt, err := c.live(tabID)
	if err != nil {
		return nil, Video{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.video == nil {
		return nil, Video{}, ErrNoVideo
	}
	return rt, *rt.video, nil
}

// updateVideo changes the open video and announces it.
func (c *Controller) updateVideo(rt *runtime, fn func(v *Video)) {
	c.mu.Lock()
	if rt.video == nil {
		c.mu.Unlock()
		return
	}
	fn(rt.video)
	video := *rt.video
	c.mu.Unlock()
	c.notify(Notice{Kind: NoticeVideo, TabID: rt.tabID, Video: &video})
}

// Video returns the clip open in the player.
func (c *Controller) Video(tabID string) (Video, error) {
	_, v, err := c.video(tabID)
	return v, err
}

// PlayVideo resumes the open clip.
func (c *Controller) PlayVideo(ctx context.Context, tabID string) error {
	rt, v, err := c.video(tabID)
	if err != nil {
		return err
	}
	if err := rt.session.Send(ctx, bridge.PlayVideo(v.URL)); err != nil {
		return err
	}
	c.updateVideo(rt, func(v *Video) { v.Playing = true })
	return nil
}

// PauseVideo pauses the open clip.
func (c *Controller) PauseVideo(ctx context.Context, tabID string) error {
	rt, v, err := c.video(tabID)
	if err != nil {
		return err
	}
	if err := rt.session.Send(ctx, bridge.PauseVideo(v.URL)); err != nil {
		return err
	}
	c.updateVideo(rt, func(v *Video) { v.Playing = false })
	return nil
}

// SeekVideo moves the open clip to seconds.
func (c *Controller) SeekVideo(ctx context.Context, tabID string, seconds float64) error {
	if seconds < 0 {
		seconds = 0
	}
	rt, v, err := c.video(tabID)
	if err != nil {
		return err
	}
	if err := rt.session.Send(ctx, bridge.SeekVideo(v.URL, seconds)); err != nil {
		return err
	}
	c.updateVideo(rt, func(v *Video) { v.CurrentTime = seconds })
	return nil
}

// SetVideoMuted mutes or unmutes the open clip.
func (c *Controller) SetVideoMuted(ctx context.Context, tabID string, muted bool) error {
	rt, v, err := c.video(tabID)
	if err != nil {
		return err
	}
	if err := rt.session.Send(ctx, bridge.SetMuted(v.URL, muted)); err != nil {
		return err
	}
	c.updateVideo(rt, func(v *Video) { v.Muted = muted })
	return nil
}

// CloseVideo pauses the clip in the page and closes the player.
func (c *Controller) CloseVideo(ctx context.Context, tabID string) error {
	rt, v, err := c.video(tabID)
	if err != nil {
		return err
	}
	if err := rt.session.Send(ctx, bridge.PauseVideo(v.URL)); err != nil {
		c.logger.Debug("Pause on close failed", logging.TabID(tabID), zap.Error(err))
	}
	c.mu.Lock()
	rt.video = nil
	c.mu.Unlock()
	c.notify(Notice{Kind: NoticeVideoClosed, TabID: tabID, URL: v.URL})
	return nil
}

// ============================================================================
// Storage inspector
// ============================================================================

// InspectStorage asks the page to report its local storage and cookies.
// The answers arrive as storage notices.
func (c *Controller) InspectStorage(ctx context.Context, tabID string) error {
	if err := c.send(ctx, tabID, bridge.ListStorage()); err != nil {
		return err
	}
	return c.send(ctx, tabID, bridge.ListCookies())
}

// Storage returns the last storage snapshot the tab's page reported.
func (c *Controller) Storage(tabID string) (Storage, error) {
	rt, err := c.live(tabID)
	if err != nil {
		return Storage{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return rt.storage.clone(), nil
}

// SetStorageItem writes one local storage key.
func (c *Controller) SetStorageItem(ctx context.Context, tabID, key, value string) error {
	return c.send(ctx, tabID, bridge.SetStorageItem(key, value))
}

// RemoveStorageItem deletes one local storage key.
func (c *Controller) RemoveStorageItem(ctx context.Context, tabID, key string) error {
	return c.send(ctx, tabID, bridge.RemoveStorageItem(key))
}

// ClearStorage empties the page's local and session storage.
func (c *Controller) ClearStorage(ctx context.Context, tabID string) error {
	return c.send(ctx, tabID, bridge.ClearStorage())
}

// SetCookie writes one cookie.
func (c *Controller) SetCookie(ctx context.Context, tabID, name, value string) error {
	return c.send(ctx, tabID, bridge.SetCookie(name, value))
}

// DeleteCookie expires one cookie.
func (c *Controller) DeleteCookie(ctx context.Context, tabID, name string) error {
	return c.send(ctx, tabID, bridge.DeleteCookie(name))
}

// ClearCookies expires every cookie the page can see.
func (c *Controller) ClearCookies(ctx context.Context, tabID string) error {
	return c.send(ctx, tabID, bridge.ClearCookies())
}
