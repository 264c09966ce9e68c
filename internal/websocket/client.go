package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrClientNotFound = errors.New("客户端未找到")
	ErrSendBufferFull = errors.New("发送缓冲区已满")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// 监控端只会发 ping 之类的控制消息
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 监控接口默认只监听本机
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS 升级为WebSocket并注册到hub；?port=COM3 只订阅该串口的收发
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("WebSocket升级失败", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.New().String(),
		Port: r.URL.Query().Get("port"),
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
	}
	hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// ReadPump 读监控端消息直到连接断开，然后从hub注销
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("WebSocket读取错误", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		c.handleMessage(data)
	}
}

// WritePump 把 Send 中的消息逐帧写出，定时ping。Send 关闭时发送关闭帧。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		var (
			kind = websocket.TextMessage
			data []byte
		)
		select {
		case msg, ok := <-c.Send:
			if !ok {
				kind = websocket.CloseMessage
			}
			data = msg
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteMessage(kind, data); err != nil || kind == websocket.CloseMessage {
			return
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		c.reply(MessageTypeError, map[string]string{"error": "消息格式错误"})
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.reply(MessageTypePong, nil)
	case MessageTypePong:
	default:
		c.reply(MessageTypeError, map[string]string{"error": "不支持的消息类型: " + msg.Type})
	}
}

// reply 经hub发给本客户端
func (c *Client) reply(kind string, payload interface{}) {
	msg := &Message{Type: kind, Timestamp: time.Now().Unix()}
	if payload != nil {
		msg.Data, _ = json.Marshal(payload)
	}
	if err := c.Hub.SendToClient(c.ID, msg); err != nil {
		c.Hub.logger.Debug("回复监控端失败", zap.String("client_id", c.ID), zap.Error(err))
	}
}
