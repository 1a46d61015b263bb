package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser/remote"
)

// Attacher binds device connections to remote surfaces.
type Attacher interface {
	Attach(ctx context.Context, tabID string, conn remote.Conn) error
}

// HandleSurface upgrades the request and serves it as the content surface
// of the tab in the path until the device disconnects.
func (h *Handler) HandleSurface(attacher Attacher) gin.HandlerFunc {
	return func(c *gin.Context) {
		tabID := c.Param("id")
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()

		err = attacher.Attach(c.Request.Context(), tabID, conn)
		switch {
		case errors.Is(err, remote.ErrUnknownTab):
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "no surface for tab"),
				time.Now().Add(writeWait))
		case err != nil && !errors.Is(err, context.Canceled):
			h.logger.Warn("Surface connection ended",
				logging.TabID(tabID),
				zap.Error(err))
		}
	}
}
