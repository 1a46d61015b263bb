package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/tabs"
	"github.com/GriffinCanCode/AgentOS/shell/internal/shared/types"
)

type bookmarkRequest struct {
	URL     string `json:"url" binding:"required"`
	Title   string `json:"title"`
	Favicon string `json:"favicon"`
}

type engineRequest struct {
	Engine types.SearchEngine `json:"engine" binding:"required"`
}

type downloadRequest struct {
	URL  string `json:"url" binding:"required"`
	Name string `json:"name"`
}

// ============================================================================
// Bookmarks
// ============================================================================

// ListBookmarks returns every bookmark.
func (h *Handlers) ListBookmarks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bookmarks": h.store.Bookmarks()})
}

// AddBookmark saves a url.
func (h *Handlers) AddBookmark(c *gin.Context) {
	var req bookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	title := req.Title
	if title == "" {
		title = req.URL
	}
	bookmarkID := h.store.AddBookmark(req.URL, title, req.Favicon)
	c.JSON(http.StatusCreated, gin.H{"id": bookmarkID})
}

// RemoveBookmark deletes a bookmark.
func (h *Handlers) RemoveBookmark(c *gin.Context) {
	h.store.RemoveBookmark(c.Param("id"))
	ok(c)
}

// ============================================================================
// History
// ============================================================================

// ListHistory returns history, newest first.
func (h *Handlers) ListHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": h.store.History()})
}

// Suggest returns address bar suggestions for ?q=. ?limit= overrides the
// default count.
func (h *Handlers) Suggest(c *gin.Context) {
	limit := session.DefaultSuggestions
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	items := session.Suggest(h.store.History(), c.Query("q"), limit)
	if items == nil {
		items = []types.HistoryItem{}
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": items})
}

// RemoveHistoryItem deletes one history entry.
func (h *Handlers) RemoveHistoryItem(c *gin.Context) {
	h.store.RemoveHistoryItem(c.Param("id"))
	ok(c)
}

// ClearHistory deletes all history.
func (h *Handlers) ClearHistory(c *gin.Context) {
	h.store.ClearHistory()
	ok(c)
}

// ============================================================================
// Settings
// ============================================================================

// Settings returns the current settings.
func (h *Handlers) Settings(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Settings())
}

// UpdateSettings applies a validated partial update.
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var patch types.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.validate.Struct(patch); err != nil {
		badRequest(c, err)
		return
	}
	h.store.UpdateSettings(patch)
	c.JSON(http.StatusOK, h.store.Settings())
}

// SelectSearchEngine switches engines, moving an engine home page along.
func (h *Handlers) SelectSearchEngine(c *gin.Context) {
	var req engineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.tabs.SelectSearchEngine(req.Engine); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.store.Settings())
}

// ============================================================================
// Downloads
// ============================================================================

// ListDownloads returns every download record, newest first.
func (h *Handlers) ListDownloads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"downloads": h.store.Downloads()})
}

// StartDownload fetches a url in the background.
func (h *Handlers) StartDownload(c *gin.Context) {
	if h.downloads == nil {
		h.fail(c, tabs.ErrNoDownloads)
		return
	}
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	downloadID, err := h.downloads.Start(c.Request.Context(), req.URL, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": downloadID})
}

// RemoveDownload cancels a running download and drops its record.
func (h *Handlers) RemoveDownload(c *gin.Context) {
	downloadID := c.Param("id")
	if h.downloads != nil {
		h.downloads.Cancel(downloadID)
	}
	h.store.RemoveDownload(downloadID)
	ok(c)
}

// ClearDownloads cancels running downloads and drops every record.
func (h *Handlers) ClearDownloads(c *gin.Context) {
	if h.downloads != nil {
		for _, d := range h.store.Downloads() {
			if d.Status == types.DownloadInProgress {
				h.downloads.Cancel(d.ID)
			}
		}
	}
	h.store.ClearDownloads()
	ok(c)
}

// ============================================================================
// Favicons
// ============================================================================

// Favicons returns the hostname to favicon cache.
func (h *Handlers) Favicons(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"favicons": h.store.Favicons()})
}

// Favicon returns the cached favicon of one host.
func (h *Handlers) Favicon(c *gin.Context) {
	favicon, found := h.store.Favicon(c.Param("host"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no favicon cached for host"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"host": c.Param("host"), "favicon": favicon})
}
