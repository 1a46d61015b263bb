package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/tabs"
)

type createTabRequest struct {
	URL     string `json:"url"`
	Private bool   `json:"private"`
}

type navigateRequest struct {
	Input string `json:"input" binding:"required"`
}

// ListTabs returns the open tabs and which one is active.
func (h *Handlers) ListTabs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tabs":        h.store.Tabs(),
		"activeTabId": h.store.ActiveTabID(),
	})
}

// CreateTab opens a tab. A blank url opens the home page.
func (h *Handlers) CreateTab(c *gin.Context) {
	var req createTabRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	tabID := h.tabs.NewTab(req.URL, req.Private)
	tab, _ := h.store.Tab(tabID)
	c.JSON(http.StatusCreated, tab)
}

// CloseTab closes a tab.
func (h *Handlers) CloseTab(c *gin.Context) {
	if err := h.tabs.CloseTab(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	ok(c)
}

// TabStatus reports the controller's view of a tab.
func (h *Handlers) TabStatus(c *gin.Context) {
	status, err := h.tabs.Status(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ActivateTab switches the active tab.
func (h *Handlers) ActivateTab(c *gin.Context) {
	if err := h.tabs.Activate(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	ok(c)
}

// Navigate submits address bar input for a tab.
func (h *Handlers) Navigate(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	target, err := h.tabs.Submit(c.Param("id"), req.Input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": target})
}

// Home navigates a tab to the home page.
func (h *Handlers) Home(c *gin.Context) {
	if err := h.tabs.Home(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	ok(c)
}

// Reload requests a reload of a tab.
func (h *Handlers) Reload(c *gin.Context) {
	if err := h.tabs.Reload(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	ok(c)
}

// GoBack steps a tab's surface history back.
func (h *Handlers) GoBack(c *gin.Context) {
	if err := h.tabs.GoBack(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	ok(c)
}

// GoForward steps a tab's surface history forward.
func (h *Handlers) GoForward(c *gin.Context) {
	if err := h.tabs.GoForward(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	ok(c)
}

// Back handles the hardware back button.
func (h *Handlers) Back(c *gin.Context) {
	result, err := h.tabs.Back(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// ToggleBookmark bookmarks the tab's page, or removes its bookmarks.
func (h *Handlers) ToggleBookmark(c *gin.Context) {
	bookmarked, err := h.tabs.ToggleBookmark(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookmarked": bookmarked})
}

// ============================================================================
// Context menu
// ============================================================================

// ContextMenu returns the open context menu of a tab.
func (h *Handlers) ContextMenu(c *gin.Context) {
	menu, err := h.tabs.ContextMenu(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, menu)
}

// DismissContextMenu closes the menu.
func (h *Handlers) DismissContextMenu(c *gin.Context) {
	if err := h.tabs.DismissContextMenu(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	ok(c)
}

// ContextAction runs a menu action such as openInNewTab or download.
func (h *Handlers) ContextAction(c *gin.Context) {
	action := tabs.Action(c.Param("action"))
	if err := h.tabs.ContextAction(c.Request.Context(), c.Param("id"), action); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "action": action})
}
