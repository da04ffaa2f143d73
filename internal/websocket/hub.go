package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/model"
)

const (
	sendBuffer    = 64
	broadcastSize = 1024
	pingInterval  = 30 * time.Second
)

// Conn is the part of a websocket connection the hub writes to and reads from.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
}

// Client represents a WebSocket client subscribed to one user's session
type Client struct {
	UserID string
	Conn   Conn
	Send   chan []byte
	pong   chan struct{}

	// current yields the session state at registration.
	current    func() model.Snapshot
	registered chan struct{}
	// sent is the newest snapshot version queued on Send. Guarded by Hub.mu.
	sent uint64
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by user ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	logger zerolog.Logger
	mu     sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	UserID  string
	Version uint64
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, broadcastSize),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for userID, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			// Initial snapshot first; queued broadcasts older than it are skipped.
			if client.current != nil {
				snap := client.current()
				if data, err := encodeSnapshot(snap); err == nil {
					client.Send <- data
					client.sent = snap.Version
				}
			}
			if h.clients[client.UserID] == nil {
				h.clients[client.UserID] = make(map[*Client]bool)
			}
			h.clients[client.UserID][client] = true
			h.mu.Unlock()
			close(client.registered)
			h.logger.Debug().Str("user_id", client.UserID).Msg("ws: client registered")

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug().Str("user_id", client.UserID).Msg("ws: client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.UserID] {
				if msg.Version != 0 && msg.Version <= client.sent {
					// Older than what the client already has.
					continue
				}
				select {
				case client.Send <- msg.Message:
					if msg.Version != 0 {
						client.sent = msg.Version
					}
				default:
					// Slow consumer: disconnect it.
					close(client.Send)
					delete(h.clients[msg.UserID], client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.UserID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.Send)
			if len(clients) == 0 {
				delete(h.clients, client.UserID)
			}
		}
	}
}

// Subscribers counts the sockets attached to a user.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Register adds a new client and waits until Run has taken it in.
func (h *Hub) Register(client *Client) {
	if client.registered == nil {
		client.registered = make(chan struct{})
	}
	select {
	case h.register <- client:
	case <-h.done:
		return
	}
	select {
	case <-client.registered:
	case <-h.done:
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// PublishSnapshot queues a snapshot for the user's sockets. It never blocks:
// when the queue is full the snapshot is dropped, and the next one supersedes it.
func (h *Hub) PublishSnapshot(userID string, snap model.Snapshot) {
	data, err := encodeSnapshot(snap)
	if err != nil {
		h.logger.Error().Err(err).Msg("ws: failed to marshal snapshot")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{UserID: userID, Version: snap.Version, Message: data}:
	default:
		h.logger.Warn().Str("user_id", userID).Msg("ws: broadcast queue full, snapshot dropped")
	}
}

func encodeSnapshot(snap model.Snapshot) ([]byte, error) {
	return json.Marshal(model.WSSnapshotMessage{
		Type:     model.WSMessageTypeSnapshot,
		Snapshot: snap,
	})
}

// HandleConnection serves a WebSocket connection for userID. The first message
// is the snapshot current returns once the client is registered; later ones
// are delivered in version order.
func (h *Hub) HandleConnection(c Conn, userID string, current func() model.Snapshot) {
	client := &Client{
		UserID:     userID,
		Conn:       c,
		Send:       make(chan []byte, sendBuffer),
		pong:       make(chan struct{}, 1),
		current:    current,
		registered: make(chan struct{}),
	}

	h.Register(client)
	select {
	case <-h.done:
		return
	default:
	}
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-client.pong:
				pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
				if err := c.WriteMessage(websocket.TextMessage, pong); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug().Err(err).Str("user_id", userID).Msg("ws: connection error")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			select {
			case client.pong <- struct{}{}:
			default:
			}
		}
	}
}
