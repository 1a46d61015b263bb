package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type seekRequest struct {
	Seconds float64 `json:"seconds"`
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

type valueRequest struct {
	Value string `json:"value"`
}

// tabCall runs fn against the tab in the path and answers success.
func (h *Handlers) tabCall(c *gin.Context, fn func(ctx context.Context, tabID string) error) {
	if err := fn(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	ok(c)
}

// ============================================================================
// Video
// ============================================================================

// Video returns the video playing in a tab.
func (h *Handlers) Video(c *gin.Context) {
	v, err := h.tabs.Video(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// PlayVideo resumes playback.
func (h *Handlers) PlayVideo(c *gin.Context) { h.tabCall(c, h.tabs.PlayVideo) }

// PauseVideo pauses playback.
func (h *Handlers) PauseVideo(c *gin.Context) { h.tabCall(c, h.tabs.PauseVideo) }

// CloseVideo stops playback and closes the player.
func (h *Handlers) CloseVideo(c *gin.Context) { h.tabCall(c, h.tabs.CloseVideo) }

// SeekVideo moves playback to a position in seconds.
func (h *Handlers) SeekVideo(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.tabCall(c, func(ctx context.Context, tabID string) error {
		return h.tabs.SeekVideo(ctx, tabID, req.Seconds)
	})
}

// MuteVideo mutes or unmutes playback.
func (h *Handlers) MuteVideo(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.tabCall(c, func(ctx context.Context, tabID string) error {
		return h.tabs.SetVideoMuted(ctx, tabID, req.Muted)
	})
}

// ============================================================================
// Storage inspector
// ============================================================================

// Storage returns the last storage snapshot the page reported.
func (h *Handlers) Storage(c *gin.Context) {
	s, err := h.tabs.Storage(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// InspectStorage asks the page to report its storage and cookies. The
// answer arrives as a storage notice on the stream.
func (h *Handlers) InspectStorage(c *gin.Context) {
	if err := h.tabs.InspectStorage(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// SetStorageItem writes one localStorage key.
func (h *Handlers) SetStorageItem(c *gin.Context) {
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.tabCall(c, func(ctx context.Context, tabID string) error {
		return h.tabs.SetStorageItem(ctx, tabID, c.Param("key"), req.Value)
	})
}

// RemoveStorageItem deletes one localStorage key.
func (h *Handlers) RemoveStorageItem(c *gin.Context) {
	h.tabCall(c, func(ctx context.Context, tabID string) error {
		return h.tabs.RemoveStorageItem(ctx, tabID, c.Param("key"))
	})
}

// ClearStorage empties localStorage.
func (h *Handlers) ClearStorage(c *gin.Context) { h.tabCall(c, h.tabs.ClearStorage) }

// SetCookie writes one cookie.
func (h *Handlers) SetCookie(c *gin.Context) {
	var req valueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.tabCall(c, func(ctx context.Context, tabID string) error {
		return h.tabs.SetCookie(ctx, tabID, c.Param("name"), req.Value)
	})
}

// DeleteCookie expires one cookie.
func (h *Handlers) DeleteCookie(c *gin.Context) {
	h.tabCall(c, func(ctx context.Context, tabID string) error {
		return h.tabs.DeleteCookie(ctx, tabID, c.Param("name"))
	})
}

// ClearCookies expires every cookie the page can see.
func (h *Handlers) ClearCookies(c *gin.Context) { h.tabCall(c, h.tabs.ClearCookies) }
