package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/sdm3000/internal/hardware"
)

// Hub WebSocket连接管理中心，向所有客户端广播设备事件
type Hub struct {
	clients   map[string]*Client
	clientsMu sync.RWMutex

	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once

	pingInterval time.Duration
	snapshot     func() hardware.Snapshot
	logger       *zap.Logger
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// 消息类型
const (
	MessageTypeConnected    = "connected"
	MessageTypeStateChanged = "state_changed"
	MessageTypeOperation    = "operation"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeSnapshot     = "snapshot"
	MessageTypeError        = "error"
)

// EventPayload 设备事件载荷，数据以十六进制输出
type EventPayload struct {
	State      string `json:"state"`
	Previous   string `json:"previous,omitempty"`
	Reason     string `json:"reason,omitempty"`
	DevicePath string `json:"device_path,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Data       string `json:"data,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Time       int64  `json:"time"`
}

// NewHub 创建Hub，snapshot 用于连接时推送当前设备状态
func NewHub(logger *zap.Logger, pingInterval time.Duration, snapshot func() hardware.Snapshot) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Hub{
		clients:      make(map[string]*Client),
		broadcast:    make(chan *Message, 256),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		snapshot:     snapshot,
		logger:       logger,
	}
}

// Run 运行Hub，ctx 取消后关闭所有客户端
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	defer h.shutdown()

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)

		case <-ticker.C:
			h.broadcastMessage(&Message{Type: MessageTypePing, Timestamp: time.Now().Unix()})

		case <-ctx.Done():
			return nil
		}
	}
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })

	h.clientsMu.Lock()
	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
	}
	h.clientsMu.Unlock()
	h.logger.Info("WebSocket Hub 已停止")
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("operator", client.Operator))

	var snap interface{} = map[string]string{"message": "连接成功"}
	if h.snapshot != nil {
		snap = h.snapshot()
	}
	_ = h.SendToClient(client.ID, newMessage(MessageTypeConnected, snap))
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))
}

// broadcastMessage 广播消息
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
	h.clientsMu.RUnlock()
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// OnEvent 控制器事件监听，转为广播消息。不阻塞调用方
func (h *Hub) OnEvent(ev hardware.Event) {
	msgType := MessageTypeOperation
	if ev.Type == hardware.EventStateChanged {
		msgType = MessageTypeStateChanged
	}

	payload := EventPayload{
		State:      ev.State.String(),
		Reason:     ev.Reason,
		DevicePath: ev.DevicePath,
		Operation:  ev.Operation,
		Success:    ev.Success,
		Error:      ev.Error,
		RequestID:  ev.RequestID,
		Time:       ev.Timestamp.UnixMilli(),
	}
	if ev.Type == hardware.EventStateChanged {
		payload.Previous = ev.Previous.String()
	}
	if len(ev.Data) > 0 {
		payload.Data = fmt.Sprintf("%X", ev.Data)
	}

	h.Broadcast(newMessage(msgType, payload))
}

// Broadcast 广播消息，Hub 停止或队列满时丢弃
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		h.logger.Warn("广播队列已满，丢弃消息", zap.String("type", message.Type))
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func newMessage(msgType string, data interface{}) *Message {
	msg := &Message{Type: msgType, Timestamp: time.Now().Unix()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			msg.Data = raw
		}
	}
	return msg
}
