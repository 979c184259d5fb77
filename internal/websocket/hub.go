package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tempmail/sessionbox/internal/domain"
	"tempmail/sessionbox/internal/middleware"
)

// SessionResolver 把会话令牌解析为当前的活跃收件箱。连接时解析一次，
// 之后客户端固定订阅该收件箱；轮换或删除后客户端需要重连。
type SessionResolver interface {
	GetOrCreate(token string) (*domain.Inbox, error)
}

// MessageType 定义 WebSocket 消息类型
type MessageType string

const (
	MessageTypeNewMail MessageType = "new_mail"
	MessageTypeBound   MessageType = "bound"
	MessageTypePing    MessageType = "ping"
	MessageTypePong    MessageType = "pong"
	MessageTypeError   MessageType = "error"
)

// Message 定义 WebSocket 消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	InboxID   string          `json:"inboxId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMailData 新邮件通知数据
type NewMailData struct {
	MessageID  string `json:"messageId"`
	InboxID    string `json:"inboxId"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	ReceivedAt string `json:"receivedAt"`
}

// Client 代表一个 WebSocket 客户端连接，固定绑定到单个收件箱。
type Client struct {
	id      string
	inboxID string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	log     *zap.Logger
}

// Hub 管理所有 WebSocket 连接，按收件箱 ID 路由通知。
type Hub struct {
	clients    map[string]*Client            // clientID -> Client
	inboxes    map[string]map[string]*Client // inboxID -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	mu         sync.RWMutex

	resolver       SessionResolver
	allowedOrigins []string
	log            *zap.Logger
}

type broadcastMessage struct {
	inboxID string
	message *Message
}

// NewHub 创建 WebSocket Hub。
func NewHub(resolver SessionResolver, allowedOrigins []string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		inboxes:        make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *broadcastMessage, 256),
		resolver:       resolver,
		allowedOrigins: allowedOrigins,
		log:            log,
	}
}

// Run 启动 Hub 的事件循环，ctx 取消时关闭全部连接。
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			if h.inboxes[client.inboxID] == nil {
				h.inboxes[client.inboxID] = make(map[string]*Client)
			}
			h.inboxes[client.inboxID][client.id] = client
			h.mu.Unlock()
			h.log.Info("client registered",
				zap.String("client_id", client.id),
				zap.String("inbox_id", client.inboxID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				if clients, exists := h.inboxes[client.inboxID]; exists {
					delete(clients, client.id)
					if len(clients) == 0 {
						delete(h.inboxes, client.inboxID)
					}
				}
				delete(h.clients, client.id)
				close(client.send)
				h.log.Info("client unregistered", zap.String("client_id", client.id))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastToInbox(msg.inboxID, msg.message)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// NotifyNewMail 向订阅收件箱的客户端推送新邮件通知。
func (h *Hub) NotifyNewMail(inboxID string, message *domain.Message) {
	data, err := json.Marshal(NewMailData{
		MessageID:  message.ID,
		InboxID:    inboxID,
		From:       message.From,
		Subject:    message.Subject,
		ReceivedAt: message.ReceivedAt.Format(time.RFC3339),
	})
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- &broadcastMessage{
		inboxID: inboxID,
		message: &Message{
			Type:      MessageTypeNewMail,
			InboxID:   inboxID,
			Data:      data,
			Timestamp: time.Now().UTC(),
		},
	}:
	default:
		h.log.Warn("broadcast channel full, dropping notification",
			zap.String("inbox_id", inboxID))
	}
}

func (h *Hub) broadcastToInbox(inboxID string, msg *Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.inboxes[inboxID]))
	for _, client := range h.inboxes[inboxID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping",
				zap.String("client_id", client.id))
		}
	}
}

func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Message{
		Type:      MessageTypePing,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.inboxes = make(map[string]map[string]*Client)
}

// upgraderFactory 创建带 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}
			return false
		},
	}
}

// resolveSession 从请求提取会话令牌并解析收件箱。
func (h *Hub) resolveSession(c *gin.Context) (*domain.Inbox, error) {
	token := middleware.TokenFromContext(c)
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return nil, errors.New("missing session token")
	}
	return h.resolver.GetOrCreate(token)
}

// HandleWebSocket 处理 WebSocket 连接。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		inbox, err := hub.resolveSession(c)
		if err != nil {
			hub.log.Warn("websocket session resolution failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()),
			)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
			)
			return
		}

		client := &Client{
			id:      inbox.ID + "-" + time.Now().UTC().Format("20060102150405.000000"),
			inboxID: inbox.ID,
			conn:    conn,
			send:    make(chan []byte, 256),
			hub:     hub,
			log:     hub.log,
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()

		client.sendMessage(&Message{
			Type:      MessageTypeBound,
			InboxID:   inbox.ID,
			Timestamp: time.Now().UTC(),
		})
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}

		if msg.Type == MessageTypePong {
			c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("client_id", c.id))
	}
}
