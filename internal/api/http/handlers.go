package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/tabs"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/downloads"
)

// Downloads is the part of the download manager the API drives.
type Downloads interface {
	Start(ctx context.Context, rawURL, name string) (string, error)
	Cancel(downloadID string) bool
}

// Handlers serves the JSON API the UI layer talks to.
type Handlers struct {
	store     *session.Store
	tabs      *tabs.Controller
	downloads Downloads
	metrics   *monitoring.Metrics
	logger    *logging.Logger
	validate  *validator.Validate
}

// NewHandlers creates a handler set. downloads may be nil, in which case
// download routes answer 503.
func NewHandlers(store *session.Store, ctrl *tabs.Controller, dl Downloads, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	return &Handlers{
		store:     store,
		tabs:      ctrl,
		downloads: dl,
		metrics:   metrics,
		logger:    logging.OrNop(logger).Component("api"),
		validate:  validator.New(),
	}
}

// Register mounts every route under /api on r, plus /health.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)

	api := r.Group("/api")
	api.GET("/state", h.State)
	api.POST("/back", h.Back)

	t := api.Group("/tabs")
	t.GET("", h.ListTabs)
	t.POST("", h.CreateTab)
	t.DELETE("/:id", h.CloseTab)
	t.GET("/:id/status", h.TabStatus)
	t.POST("/:id/activate", h.ActivateTab)
	t.POST("/:id/navigate", h.Navigate)
	t.POST("/:id/home", h.Home)
	t.POST("/:id/reload", h.Reload)
	t.POST("/:id/back", h.GoBack)
	t.POST("/:id/forward", h.GoForward)
	t.POST("/:id/bookmark", h.ToggleBookmark)

	t.GET("/:id/context-menu", h.ContextMenu)
	t.DELETE("/:id/context-menu", h.DismissContextMenu)
	t.POST("/:id/context-menu/:action", h.ContextAction)

	t.GET("/:id/video", h.Video)
	t.POST("/:id/video/play", h.PlayVideo)
	t.POST("/:id/video/pause", h.PauseVideo)
	t.POST("/:id/video/seek", h.SeekVideo)
	t.POST("/:id/video/mute", h.MuteVideo)
	t.POST("/:id/video/close", h.CloseVideo)

	t.GET("/:id/storage", h.Storage)
	t.POST("/:id/storage/inspect", h.InspectStorage)
	t.PUT("/:id/storage/local/:key", h.SetStorageItem)
	t.DELETE("/:id/storage/local/:key", h.RemoveStorageItem)
	t.DELETE("/:id/storage/local", h.ClearStorage)
	t.PUT("/:id/storage/cookies/:name", h.SetCookie)
	t.DELETE("/:id/storage/cookies/:name", h.DeleteCookie)
	t.DELETE("/:id/storage/cookies", h.ClearCookies)

	b := api.Group("/bookmarks")
	b.GET("", h.ListBookmarks)
	b.POST("", h.AddBookmark)
	b.DELETE("/:id", h.RemoveBookmark)

	hist := api.Group("/history")
	hist.GET("", h.ListHistory)
	hist.GET("/suggest", h.Suggest)
	hist.DELETE("/:id", h.RemoveHistoryItem)
	hist.DELETE("", h.ClearHistory)

	s := api.Group("/settings")
	s.GET("", h.Settings)
	s.PATCH("", h.UpdateSettings)
	s.PUT("/search-engine", h.SelectSearchEngine)

	d := api.Group("/downloads")
	d.GET("", h.ListDownloads)
	d.POST("", h.StartDownload)
	d.DELETE("/:id", h.RemoveDownload)
	d.DELETE("", h.ClearDownloads)

	f := api.Group("/favicons")
	f.GET("", h.Favicons)
	f.GET("/:host", h.Favicon)
}

// Health reports liveness with a few running totals.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "browser-shell",
		"tabs": gin.H{
			"open":         len(h.store.Tabs()),
			"materialized": h.tabs.Open(),
		},
		"metrics": h.metrics.GetSnapshot(),
	})
}

// State returns the full store snapshot.
func (h *Handlers) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Snapshot())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tabs.ErrUnknownTab):
		return http.StatusNotFound
	case errors.Is(err, tabs.ErrEmptyInput),
		errors.Is(err, tabs.ErrUnknownEngine),
		errors.Is(err, tabs.ErrUnsupportedAction),
		errors.Is(err, downloads.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, tabs.ErrNotMaterialized),
		errors.Is(err, tabs.ErrNoContextMenu),
		errors.Is(err, tabs.ErrNoVideo),
		errors.Is(err, browser.ErrNoHistory),
		errors.Is(err, browser.ErrNoDocument):
		return http.StatusConflict
	case errors.Is(err, tabs.ErrNoDownloads),
		errors.Is(err, downloads.ErrClosed),
		errors.Is(err, browser.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body. Server errors are logged.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", string(tracing.TraceIDFrom(c.Request.Context()))),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}
