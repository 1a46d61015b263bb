package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/shell/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/shell/internal/domain/tabs"
	"github.com/GriffinCanCode/AgentOS/shell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/shell/internal/providers/browser/remote"
)

// notifier is a stand-in for the tab controller's notice feed.
type notifier struct {
	mu        sync.Mutex
	listeners map[int]func(tabs.Notice)
	next      int
}

func (n *notifier) Subscribe(fn func(tabs.Notice)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners == nil {
		n.listeners = map[int]func(tabs.Notice){}
	}
	key := n.next
	n.next++
	n.listeners[key] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, key)
	}
}

func (n *notifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

func (n *notifier) publish(notice tabs.Notice) {
	n.mu.Lock()
	fns := make([]func(tabs.Notice), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(notice)
	}
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var m ws.Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := session.New()
	tabID := store.AddTab("https://example.com", false)
	notices := &notifier{}
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	router := gin.New()
	router.GET("/api/stream", ws.NewHandler(store, notices, metrics, nil).HandleStream)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/stream"), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	require.Equal(t, ws.TypeSnapshot, first.Type)
	require.NotNil(t, first.State)
	assert.Equal(t, tabID, first.State.ActiveTabID)

	t.Run("store changes", func(t *testing.T) {
		bookmarkID := store.AddBookmark("https://go.dev", "Go", "")
		m := readMessage(t, conn)
		require.Equal(t, ws.TypeChange, m.Type)
		assert.Equal(t, session.ChangeBookmarks, m.Change.Kind)
		assert.Equal(t, bookmarkID, m.Change.ID)
	})

	t.Run("notices", func(t *testing.T) {
		notices.publish(tabs.Notice{Kind: tabs.NoticeClipboard, TabID: tabID, Text: "copied"})
		m := readMessage(t, conn)
		require.Equal(t, ws.TypeNotice, m.Type)
		assert.Equal(t, tabs.NoticeClipboard, m.Notice.Kind)
		assert.Equal(t, "copied", m.Notice.Text)
	})

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
		assert.Equal(t, ws.TypePong, readMessage(t, conn).Type)

		require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
		m := readMessage(t, conn)
		assert.Equal(t, ws.TypeError, m.Type)
		assert.Equal(t, "unknown message type", m.Message)
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WSConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WSMessages.WithLabelValues("in", "ping")))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return notices.count() == 0 }, 5*time.Second, 10*time.Millisecond,
		"disconnect unsubscribes")
	assert.Eventually(t, func() bool { return testutil.ToFloat64(metrics.WSConnections) == 0 }, 5*time.Second, 10*time.Millisecond)
}

type attacher struct {
	tabs map[string]bool
	got  chan string
}

func (a *attacher) Attach(ctx context.Context, tabID string, conn remote.Conn) error {
	if !a.tabs[tabID] {
		return remote.ErrUnknownTab
	}
	a.got <- tabID
	var f remote.Frame
	return conn.ReadJSON(&f)
}

func TestSurface(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := &attacher{tabs: map[string]bool{"tab_1": true}, got: make(chan string, 1)}

	router := gin.New()
	router.GET("/api/tabs/:id/surface", ws.NewHandler(session.New(), nil, nil, nil).HandleSurface(a))
	srv := httptest.NewServer(router)
	defer srv.Close()

	t.Run("known tab", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/tabs/tab_1/surface"), nil)
		require.NoError(t, err)
		defer conn.Close()

		select {
		case got := <-a.got:
			assert.Equal(t, "tab_1", got)
		case <-time.After(5 * time.Second):
			t.Fatal("surface was not attached")
		}
	})

	t.Run("unknown tab", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/tabs/nope/surface"), nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err = conn.ReadMessage()
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	})
}
