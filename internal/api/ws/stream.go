package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/tabs"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/monitoring"
)

// Outbound message types.
const (
	TypeSnapshot = "snapshot"
	TypeChange   = "change"
	TypeNotice   = "notice"
	TypePong     = "pong"
	TypeError    = "error"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the UI runs in a webview on another origin
	},
}

// Message is one frame on the stream.
type Message struct {
	Type    string          `json:"type"`
	State   *session.State  `json:"state,omitempty"`
	Change  *session.Change `json:"change,omitempty"`
	Notice  *tabs.Notice    `json:"notice,omitempty"`
	Message string          `json:"message,omitempty"`
}

type inbound struct {
	Type string `json:"type"`
}

// Store is what the stream reads from the session store.
type Store interface {
	Snapshot() session.State
	Subscribe(fn func(session.Change)) func()
}

// Notifier publishes controller notices.
type Notifier interface {
	Subscribe(fn func(tabs.Notice)) func()
}

// Handler serves the UI event stream.
type Handler struct {
	store    Store
	notifier Notifier
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

// NewHandler creates a stream handler. notifier may be nil.
func NewHandler(store Store, notifier Notifier, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	return &Handler{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logging.OrNop(logger).Component("ws"),
	}
}

// HandleStream upgrades the request and streams a snapshot followed by
// every store change and notice. A client that falls behind is
// disconnected and should reconnect for a fresh snapshot.
func (h *Handler) HandleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	out := make(chan Message, sendBuffer)
	enqueue := func(m Message) {
		select {
		case out <- m:
		default:
			h.logger.Warn("Stream client too slow, disconnecting")
			cancel()
		}
	}

	// Subscribe before the snapshot so no change falls in between.
	stopChanges := h.store.Subscribe(func(ch session.Change) {
		enqueue(Message{Type: TypeChange, Change: &ch})
	})
	defer stopChanges()
	if h.notifier != nil {
		stopNotices := h.notifier.Subscribe(func(n tabs.Notice) {
			enqueue(Message{Type: TypeNotice, Notice: &n})
		})
		defer stopNotices()
	}

	state := h.store.Snapshot()
	if err := h.send(conn, Message{Type: TypeSnapshot, State: &state}); err != nil {
		return
	}

	go h.read(ctx, cancel, conn, enqueue)

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case m := <-out:
			if err := h.send(conn, m); err != nil {
				h.logger.Debug("Stream write failed", zap.Error(err))
				return
			}
		}
	}
}

// read consumes client frames until the connection fails. Replies go
// through enqueue so the writer loop stays the only writer.
func (h *Handler) read(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, enqueue func(Message)) {
	defer cancel()
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Stream read ended", zap.Error(err))
			}
			return
		}
		h.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "ping":
			enqueue(Message{Type: TypePong})
		default:
			enqueue(Message{Type: TypeError, Message: "unknown message type"})
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, m Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(m); err != nil {
		return err
	}
	h.metrics.RecordWSMessage("out", m.Type)
	return nil
}
