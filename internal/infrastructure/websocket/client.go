package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classifieds/internal/domain/entity"
	"classifieds/internal/usecase"
	"classifieds/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 256
)

// Client is one websocket connection and the chat session behind it.
type Client struct {
	UserID string
	Name   string

	manager *Manager
	conn    *websocket.Conn
	session *usecase.ChatSession
	ctx     context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	send        chan []byte
	closed      bool
	unsubscribe func()

	// reload coalesces conversation list reloads triggered by count changes.
	reload     chan struct{}
	unreadSeen bool
	lastUnread int64
}

func newClient(m *Manager, identity entity.Identity, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		UserID:  identity.UserID,
		Name:    identity.Name,
		manager: m,
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		send:    make(chan []byte, sendBuffer),
		reload:  make(chan struct{}, 1),
	}
	c.session = m.chat.NewSession(entity.UserSummary{ID: identity.UserID, Name: identity.Name}, c.onSessionUpdate)
	c.unsubscribe = m.chat.Hub().Subscribe(identity.UserID, c.onCounts)
	go c.reloadLoop()
	return c
}

// ReadPump reads frames until the connection fails, handling them in order.
func (c *Client) ReadPump() {
	defer func() {
		c.manager.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: read error for user %s: %v", c.UserID, err)
			}
			return
		}
		c.manager.HandleClientMessage(c.ctx, c, message)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write error for user %s: %v", c.UserID, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue never blocks: it is called from session listeners and hub
// observers. A full queue drops the frame.
func (c *Client) enqueue(message WSMessage) {
	if message.Timestamp == "" {
		message.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(message)
	if err != nil {
		logger.Error("WebSocket: failed to encode %s frame: %v", message.Type, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		logger.Warn("WebSocket: send queue full for user %s, dropping %s frame", c.UserID, message.Type)
	}
}

func (c *Client) onCounts(counts entity.NotificationCounts) error {
	c.enqueue(WSMessage{Type: MessageTypeNotificationCounts, Data: counts})

	if counts.IsStale(entity.CountUnreadMessages) {
		return nil
	}
	c.mu.Lock()
	changed := c.unreadSeen && counts.UnreadMessages != c.lastUnread
	c.unreadSeen = true
	c.lastUnread = counts.UnreadMessages
	c.mu.Unlock()

	if changed {
		select {
		case c.reload <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *Client) reloadLoop() {
	for {
		select {
		case <-c.reload:
			c.session.Open(c.ctx)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) onSessionUpdate(update usecase.SessionUpdate) {
	message, ok := frameForUpdate(update)
	if ok {
		c.enqueue(message)
	}
}

// close releases the session and the hub subscription and ends WritePump.
func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.unsubscribe()
	c.session.Close()
	c.cancel()
}
