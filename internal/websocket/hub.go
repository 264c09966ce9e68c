package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/serial-echo/internal/session"
	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心，把每次收发推送给监控端
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan *Message

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// Run 退出后关闭
	done chan struct{}

	logger *zap.Logger
}

// Client WebSocket客户端
type Client struct {
	ID   string          // 客户端ID
	Port string          // 只接收该串口的收发，空表示全部
	Hub  *Hub            // Hub引用
	Conn *websocket.Conn // WebSocket连接
	Send chan []byte     // 发送通道
}

// Message WebSocket消息
type Message struct {
	Type      string          `json:"type"`           // 消息类型
	Port      string          `json:"port,omitempty"` // 相关串口
	Data      json.RawMessage `json:"data,omitempty"` // 消息数据
	Timestamp int64           `json:"timestamp"`      // 时间戳
}

// MessageType 消息类型
const (
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"
	MessageTypeExchange  = "exchange"
)

// ExchangeEvent 推送给监控端的一次收发
type ExchangeEvent struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Port        string    `json:"port"`
	Encoding    string    `json:"encoding"`
	Stage       string    `json:"stage"`
	OK          bool      `json:"ok"`
	Sent        string    `json:"sent"`
	SentHex     string    `json:"sent_hex"`
	Received    string    `json:"received"`
	ReceivedHex string    `json:"received_hex"`
	ErrorCode   int       `json:"error_code,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// NewExchangeEvent 从收发结果生成推送事件
func NewExchangeEvent(r *session.Result) ExchangeEvent {
	event := ExchangeEvent{
		ID:          r.ID,
		SessionID:   r.SessionID,
		Port:        r.Port,
		Encoding:    r.Encoding,
		Stage:       string(r.Stage),
		OK:          r.OK(),
		Sent:        r.Sent,
		SentHex:     r.SentHex(),
		Received:    r.Received,
		ReceivedHex: r.ReceivedHex(),
		StartedAt:   r.StartedAt,
		DurationMs:  r.Duration.Milliseconds(),
	}
	if !r.OK() {
		event.ErrorCode = int(r.ErrorCode())
		event.Error = r.ErrorMessage()
	}
	return event
}

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 运行Hub，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("port", client.Port))

	// 发送连接成功消息
	msg := &Message{
		Type:      MessageTypeConnected,
		Port:      client.Port,
		Timestamp: time.Now().Unix(),
		Data:      json.RawMessage(`{"message":"连接成功"}`),
	}
	h.SendToClient(client.ID, msg)
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

// closeAll 关闭所有客户端的发送通道
func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
}

// broadcastMessage 广播消息，按客户端订阅的串口过滤
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for _, client := range h.clients {
		if client.Port != "" && message.Port != "" && client.Port != message.Port {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满", zap.String("client_id", client.ID))
		}
	}
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

// OnResult 推送一次收发（实现 session.Observer）。不阻塞收发循环。
func (h *Hub) OnResult(_ context.Context, r *session.Result) {
	data, err := json.Marshal(NewExchangeEvent(r))
	if err != nil {
		h.logger.Error("序列化收发事件失败", zap.Error(err))
		return
	}

	msg := &Message{
		Type:      MessageTypeExchange,
		Port:      r.Port,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("广播通道已满，丢弃收发事件", zap.String("exchange_id", r.ID))
	}
}

// GetOnlineCount 获取在线客户端数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Broadcast 广播消息
func (h *Hub) Broadcast(message *Message) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Register 注册客户端；Hub已停止时直接关闭发送通道
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
