package browser

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed surface.
var ErrClosed = errors.New("browser: surface closed")

// ErrNoDocument is returned when an operation needs a page and none has
// been loaded.
var ErrNoDocument = errors.New("browser: no document loaded")

// ErrNoHistory is returned by GoBack and GoForward at either end of the
// session history.
var ErrNoHistory = errors.New("browser: no history entry")

// NavigationType says what started a navigation.
type NavigationType string

const (
	NavigationClick      NavigationType = "click"
	NavigationFormSubmit NavigationType = "formsubmit"
	NavigationOther      NavigationType = "other"
)

// NavigationRequest is offered to Events.ShouldStartLoad before a
// page-initiated navigation begins.
type NavigationRequest struct {
	URL    string
	Target string
	Type   NavigationType
}

// LoadInfo describes a completed load.
type LoadInfo struct {
	URL          string
	Title        string
	CanGoBack    bool
	CanGoForward bool
}

// Events receives callbacks from a surface. Implementations never call
// them while holding their own locks, so handlers may call back into the
// surface.
type Events interface {
	OnLoadStart(url string)
	OnLoadEnd(info LoadInfo)
	OnLoadError(url string, err error)
	// OnMessage delivers one raw bridge frame.
	OnMessage(raw []byte)
	// ShouldStartLoad returns false to cancel a page-initiated navigation.
	ShouldStartLoad(req NavigationRequest) bool
}

// Surface is an opaque web-rendering surface. It satisfies bridge.Endpoint.
type Surface interface {
	ID() string
	// Load navigates to url. It returns once the load has settled; the
	// outcome is also reported through Events.
	Load(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	CanGoBack() bool
	CanGoForward() bool
	// Inject evaluates script in the current page.
	Inject(ctx context.Context, script string) error
	// Send hands an encoded command to the page's dispatcher.
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Options configures a new surface.
type Options struct {
	// TabID is the tab the surface renders.
	TabID     string
	Private   bool
	BlockAds  bool
	UserAgent string
}

// Factory builds surfaces.
type Factory interface {
	NewSurface(ctx context.Context, events Events, opts Options) (Surface, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, events Events, opts Options) (Surface, error)

// NewSurface calls f.
func (f FactoryFunc) NewSurface(ctx context.Context, events Events, opts Options) (Surface, error) {
	return f(ctx, events, opts)
}

// History is a linear navigation history with a cursor, shared by the
// surfaces that manage their own back/forward stacks.
type History struct {
	entries []string
	index   int
}

// Push records url after the cursor, discarding forward entries.
func (h *History) Push(url string) {
	if len(h.entries) > 0 && h.entries[h.index] == url {
		return
	}
	if len(h.entries) > 0 {
		h.entries = h.entries[:h.index+1]
	}
	h.entries = append(h.entries, url)
	h.index = len(h.entries) - 1
}

// Current returns the entry under the cursor.
func (h *History) Current() (string, bool) {
	if len(h.entries) == 0 {
		return "", false
	}
	return h.entries[h.index], true
}

// CanGoBack reports whether Back would move.
func (h *History) CanGoBack() bool { return h.index > 0 }

// CanGoForward reports whether Forward would move.
func (h *History) CanGoForward() bool { return h.index < len(h.entries)-1 }

// Back moves the cursor back.
func (h *History) Back() (string, bool) {
	if !h.CanGoBack() {
		return "", false
	}
	h.index--
	return h.entries[h.index], true
}

// Forward moves the cursor forward.
func (h *History) Forward() (string, bool) {
	if !h.CanGoForward() {
		return "", false
	}
	h.index++
	return h.entries[h.index], true
}

// Replace overwrites the current entry, for redirects.
func (h *History) Replace(url string) {
	if len(h.entries) == 0 {
		h.Push(url)
		return
	}
	h.entries[h.index] = url
}
