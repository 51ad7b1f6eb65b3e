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

	"github.com/wfunc/sdm3000/internal/hardware"
)

func startHub(t *testing.T, ping time.Duration) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil, ping, func() hardware.Snapshot {
		return hardware.Snapshot{State: hardware.StateIdle, DevicePath: "/dev/ttyS1"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, "ops")
		if !hub.Register(client) {
			conn.Close()
			return
		}
		go client.WritePump()
		go client.ReadPump()
	}))

	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_ConnectedSnapshot(t *testing.T) {
	hub, srv := startHub(t, time.Hour)
	conn := dial(t, srv)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeConnected, msg.Type)

	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	assert.Equal(t, "idle", snap["state"])
	assert.Equal(t, "/dev/ttyS1", snap["device_path"])
	assert.Eventually(t, func() bool { return hub.GetOnlineCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_BroadcastsControllerEvents(t *testing.T) {
	hub, srv := startHub(t, time.Hour)
	conn := dial(t, srv)
	readMessage(t, conn)

	hub.OnEvent(hardware.Event{
		Type:       hardware.EventStateChanged,
		State:      hardware.StateDisconnected,
		Previous:   hardware.StateIdle,
		Reason:     hardware.ReasonLinkLost,
		DevicePath: "/dev/ttyS1",
		Success:    true,
		Timestamp:  time.Now(),
	})
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeStateChanged, msg.Type)

	var payload EventPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "disconnected", payload.State)
	assert.Equal(t, "idle", payload.Previous)
	assert.Equal(t, hardware.ReasonLinkLost, payload.Reason)

	hub.OnEvent(hardware.Event{
		Type:      hardware.EventOperation,
		State:     hardware.StateIdle,
		Operation: "READ_STATUS",
		Success:   true,
		Data:      []byte{0x01, 0x0C},
		RequestID: "req-1",
		Timestamp: time.Now(),
	})
	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeOperation, msg.Type)
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "READ_STATUS", payload.Operation)
	assert.Equal(t, "010C", payload.Data)
	assert.Equal(t, "req-1", payload.RequestID)
	assert.Empty(t, payload.Previous)
}

func TestHub_ClientMessages(t *testing.T) {
	_, srv := startHub(t, time.Hour)
	conn := dial(t, srv)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSnapshot}))
	assert.Equal(t, MessageTypeSnapshot, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: "dispense"}))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	assert.Equal(t, MessageTypeError, readMessage(t, conn).Type)
}

func TestHub_Heartbeat(t *testing.T) {
	_, srv := startHub(t, 20*time.Millisecond)
	conn := dial(t, srv)
	readMessage(t, conn)

	assert.Equal(t, MessageTypePing, readMessage(t, conn).Type)
}

func TestHub_StoppedHubDropsQuietly(t *testing.T) {
	hub := NewHub(nil, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, hub.Run(ctx))

	// 停止后的调用不能阻塞
	hub.OnEvent(hardware.Event{Type: hardware.EventOperation})
	assert.False(t, hub.Register(&Client{ID: "x", Hub: hub, Send: make(chan []byte, 1)}))
	hub.Unregister(&Client{ID: "x"})
}
