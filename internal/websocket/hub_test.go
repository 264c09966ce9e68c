package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/serial-echo/internal/errors"
	"github.com/wfunc/serial-echo/internal/session"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// 第一条是连接成功
	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeConnected, msg.Type)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func result(port string) *session.Result {
	return &session.Result{
		ID:            "ex-1",
		SessionID:     "s-1",
		Port:          port,
		Encoding:      "gbk",
		Stage:         session.StageDone,
		Sent:          "PING",
		SentBytes:     []byte("PING"),
		Received:      "PING\n",
		ReceivedBytes: []byte("PING\n"),
		StartedAt:     time.Now(),
		Duration:      15 * time.Millisecond,
	}
}

func TestHubBroadcastsExchange(t *testing.T) {
	hub, url, _ := startHub(t)
	conn := dial(t, url)
	assert.Equal(t, 1, hub.GetOnlineCount())

	hub.OnResult(context.Background(), result("COM3"))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeExchange, msg.Type)
	assert.Equal(t, "COM3", msg.Port)

	var event ExchangeEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.True(t, event.OK)
	assert.Equal(t, "PING", event.Sent)
	assert.Equal(t, "50494e47", event.SentHex)
	assert.Equal(t, "PING\n", event.Received)
	assert.Equal(t, int64(15), event.DurationMs)
	assert.Empty(t, event.Error)
}

func TestHubPortFilter(t *testing.T) {
	hub, url, _ := startHub(t)
	conn := dial(t, url+"?port=COM4")

	hub.OnResult(context.Background(), result("COM3"))
	hub.OnResult(context.Background(), result("COM4"))

	msg := readMessage(t, conn)
	assert.Equal(t, "COM4", msg.Port)
}

func TestHubPingAndInvalidMessage(t *testing.T) {
	_, url, _ := startHub(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, string(msg.Data), "消息格式错误")

	require.NoError(t, conn.WriteJSON(Message{Type: "subscribe_all"}))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
}

func TestHubUnregisterOnClose(t *testing.T) {
	hub, url, _ := startHub(t)
	conn := dial(t, url)
	require.Equal(t, 1, hub.GetOnlineCount())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.GetOnlineCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubStopClosesClients(t *testing.T) {
	hub, url, cancel := startHub(t)
	conn := dial(t, url)

	cancel()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.GetOnlineCount())

	// 停止后不再阻塞
	hub.Broadcast(&Message{Type: MessageTypePing})
	hub.OnResult(context.Background(), result("COM3"))
}

func TestNewExchangeEventFailure(t *testing.T) {
	r := result("COM3")
	r.Stage = session.StageAcquire
	r.Err = errors.New(errors.ErrSerialPortOpen, "COM3")

	event := NewExchangeEvent(r)
	assert.False(t, event.OK)
	assert.Equal(t, "acquire", event.Stage)
	assert.Equal(t, int(errors.ErrSerialPortOpen), event.ErrorCode)
	assert.Contains(t, event.Error, "串口打开失败")
}
