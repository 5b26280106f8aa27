package websocket

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"classifieds/internal/domain/entity"
	"classifieds/internal/usecase"
	"classifieds/pkg/logger"
)

// Manager tracks the live chat connections. A user may hold several at once,
// one per open tab, each with its own chat session.
type Manager struct {
	chat *usecase.ChatUseCase

	clients    map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
	stopped    chan struct{}
}

func NewManager(chat *usecase.ChatUseCase) *Manager {
	return &Manager{
		chat:       chat,
		clients:    make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

// Start runs the registration loop until ctx is done, then closes every client.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.stopped)
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				set, ok := m.clients[client.UserID]
				if !ok {
					set = make(map[*Client]struct{})
					m.clients[client.UserID] = set
				}
				set[client] = struct{}{}
				m.mutex.Unlock()
				logger.Info("WebSocket: client registered for user %s", client.UserID)

			case client := <-m.Unregister:
				m.remove(client)
				client.close()
				logger.Info("WebSocket: client unregistered for user %s", client.UserID)

			case <-ctx.Done():
				m.mutex.Lock()
				var all []*Client
				for _, set := range m.clients {
					for client := range set {
						all = append(all, client)
					}
				}
				m.clients = make(map[string]map[*Client]struct{})
				m.mutex.Unlock()
				for _, client := range all {
					client.close()
				}
				return
			}
		}
	}()
}

// Serve attaches an upgraded connection and starts its pumps. It returns
// immediately; the connection lives until the peer goes away.
func (m *Manager) Serve(identity entity.Identity, conn *websocket.Conn) *Client {
	client := newClient(m, identity, conn)
	select {
	case m.Register <- client:
	case <-m.stopped:
		client.close()
		return client
	}
	go client.WritePump()
	go client.ReadPump()
	return client
}

// ClientCount returns how many connections userID has open.
func (m *Manager) ClientCount(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if set, ok := m.clients[client.UserID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(m.clients, client.UserID)
		}
	}
}

func (m *Manager) unregister(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.stopped:
		client.close()
	}
}
