package observe

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/fctl/internal/config"
	"github.com/flowkit/fctl/internal/infrastructure/logger"
)

func testHubLogger() *logger.Logger {
	return logger.New(config.LoggingConfig{Level: "error", Format: "json"})
}

func TestNewWebSocketHub_InitializesChannels(t *testing.T) {
	hub := NewWebSocketHub(testHubLogger())
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.broadcast)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestWebSocketHandler_UpgradesAndSendsWelcome(t *testing.T) {
	hub := NewWebSocketHub(testHubLogger())
	handler := NewWebSocketHandler(hub, testHubLogger())

	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "control", welcome["type"])
	assert.NotEmpty(t, welcome["client_id"])

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestWebSocketHandler_ScopesToRunID(t *testing.T) {
	hub := NewWebSocketHub(testHubLogger())
	handler := NewWebSocketHandler(hub, testHubLogger())

	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?run_id=run-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "run-1", welcome["run_id"])
}

func TestHub_Publish_DeliversToMatchingClientOnly(t *testing.T) {
	hub := NewWebSocketHub(testHubLogger())
	handler := NewWebSocketHandler(hub, testHubLogger())
	server := httptest.NewServer(handler)
	defer server.Close()

	dial := func(runID string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		if runID != "" {
			url += "?run_id=" + runID
		}
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		var welcome map[string]any
		require.NoError(t, conn.ReadJSON(&welcome))
		return conn
	}

	scoped := dial("run-1")
	defer scoped.Close()
	other := dial("run-2")
	defer other.Close()

	time.Sleep(20 * time.Millisecond)
	hub.Publish(Event{RunID: "run-1", Type: RunStarted})

	_ = scoped.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	require.NoError(t, scoped.ReadJSON(&got))
	assert.Equal(t, "run-1", got.RunID)

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var unexpected Event
	err := other.ReadJSON(&unexpected)
	assert.Error(t, err, "client scoped to a different run should not receive the event")
}

func TestNewStreamBridge_RepublishesLogEventsToHub(t *testing.T) {
	log := NewLog()
	hub := NewWebSocketHub(testHubLogger())
	cancel := NewStreamBridge(log, hub, "run-1")
	defer cancel()

	handler := NewWebSocketHandler(hub, testHubLogger())
	server := httptest.NewServer(handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?run_id=run-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))

	time.Sleep(20 * time.Millisecond)
	log.Append("run-1", RunStarted, nil, "", "")

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, RunStarted, got.Type)
}
