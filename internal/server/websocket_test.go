package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/auralis/prometheus-core/internal/metrics"
	"github.com/auralis/prometheus-core/internal/models"
	"github.com/auralis/prometheus-core/internal/telemetry"
)

func dialWS(t *testing.T, srv *Server) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, ts
}

func readFrame(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketSendsSystemStateOnConnect(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := dialWS(t, srv)

	msg := readFrame(t, conn)
	assert.Equal(t, MessageTypeSystemState, msg.Type)
	state, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, state, "providers")
	assert.Contains(t, state, "rules")
	assert.Equal(t, 1, srv.hub.clientCount())
}

func TestWebSocketSubscribeReceivesTopicFrames(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := dialWS(t, srv)
	readFrame(t, conn) // system_state

	require.NoError(t, conn.WriteJSON(WSRequest{Type: MessageTypeSubscribe, Topics: []string{"metrics", "anomalies"}}))
	ack := readFrame(t, conn)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, []string{"anomalies", "metrics"}, ack.Topics)

	srv.Core().Ingest(context.Background(), models.MetricPoint{Latency: models.Float(300)})

	first := readFrame(t, conn)
	assert.Equal(t, telemetry.TopicMetrics, first.Topic)
	point, ok := first.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 300.0, point["latency"])

	second := readFrame(t, conn)
	assert.Equal(t, telemetry.TopicAnomalies, second.Topic)
	anomaly, ok := second.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "latency", anomaly["type"])
}

func TestWebSocketUnsubscribeStopsFrames(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := dialWS(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(WSRequest{Type: MessageTypeSubscribe, Topics: []string{"metrics"}}))
	readFrame(t, conn)
	require.NoError(t, conn.WriteJSON(WSRequest{Type: MessageTypeUnsubscribe, Topics: []string{"metrics"}}))
	ack := readFrame(t, conn)
	assert.Equal(t, MessageTypeUnsubscribed, ack.Type)
	assert.Empty(t, ack.Topics)

	srv.Core().Ingest(context.Background(), models.MetricPoint{Latency: models.Float(10)})

	// The pong is the next frame, so no metrics frame was queued.
	require.NoError(t, conn.WriteJSON(WSRequest{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readFrame(t, conn).Type)
}

func TestWebSocketRejectsBadMessages(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := dialWS(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "launch"}))
	msg := readFrame(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, msg.Error, "unknown message type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readFrame(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, msg.Error, "invalid message")

	require.NoError(t, conn.WriteJSON(WSRequest{Type: MessageTypeSubscribe, Topics: []string{"bogus", "providers"}}))
	ack := readFrame(t, conn)
	assert.Equal(t, []string{"providers"}, ack.Topics)
	msg = readFrame(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, msg.Error, "bogus")
}

func TestWebSocketGetState(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := dialWS(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(WSRequest{Type: MessageTypeGetState}))
	assert.Equal(t, MessageTypeSystemState, readFrame(t, conn).Type)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketClientDisconnectUnregisters(t *testing.T) {
	srv := newTestServer(t)
	conn, _ := dialWS(t, srv)
	readFrame(t, conn)
	require.Equal(t, 1, srv.hub.clientCount())

	conn.Close()
	assert.Eventually(t, func() bool { return srv.hub.clientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	srv := newTestServer(t)
	conn, ts := dialWS(t, srv)
	readFrame(t, conn)

	srv.hub.close()
	assert.Equal(t, 0, srv.hub.clientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	resp, err := http.Get(ts.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func droppedFrames(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.WebSocketDroppedFrames.Write(&m))
	return m.GetCounter().GetValue()
}

func TestHubDropsFramesForSlowClients(t *testing.T) {
	h := newHub(telemetry.New(), nil, zap.NewNop())
	c := &wsClient{
		id:     "slow",
		hub:    h,
		send:   make(chan []byte, 1),
		topics: map[string]bool{telemetry.TopicMetrics: true},
		done:   make(chan struct{}),
	}
	h.clients[c.id] = c

	before := droppedFrames(t)
	h.publish(telemetry.Event{Topic: telemetry.TopicMetrics, Payload: 1})
	h.publish(telemetry.Event{Topic: telemetry.TopicMetrics, Payload: 2})
	h.publish(telemetry.Event{Topic: telemetry.TopicProviders, Payload: 3})

	assert.Len(t, c.send, 1)
	assert.Equal(t, before+1, droppedFrames(t))
	assert.Contains(t, string(<-c.send), `"data":1`)
}
