package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"lecca.io/mind-watchtower/internal/logger"
	"lecca.io/mind-watchtower/internal/snapshot"
)

const writeWait = 5 * time.Second

type message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub pushes the validator list, and optionally log lines, to websocket clients.
type Hub struct {
	snapshot SnapshotReader
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	broadcast chan []byte
	logChan   chan logger.LogEntry
}

func NewHub(snap SnapshotReader) *Hub {
	return &Hub{
		snapshot: snap,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan []byte, 16),
		logChan:   make(chan logger.LogEntry, 100),
	}
}

// Run delivers queued messages until ctx is done. Log lines are streamed
// while it runs.
func (h *Hub) Run(ctx context.Context) {
	logger.SetLogChannel(h.logChan)
	defer logger.SetLogChannel(nil)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.writeAll(msg)
		case entry := <-h.logChan:
			if msg, err := json.Marshal(message{Type: "log", Data: entry}); err == nil {
				h.writeAll(msg)
			}
		}
	}
}

// BroadcastValidators queues the current snapshot for every client. It never
// blocks; a full queue drops the update since the next one supersedes it.
func (h *Hub) BroadcastValidators() {
	msg, err := h.validatorsMessage()
	if err != nil {
		logger.Error("API", "Failed to marshal validators for broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		logger.Debug("API", "Websocket broadcast queue full, dropping update")
	}
}

func (h *Hub) validatorsMessage() ([]byte, error) {
	recs := h.snapshot.ListAll()
	if recs == nil {
		recs = []snapshot.ValidatorRecord{}
	}
	return json.Marshal(message{Type: "validators", Data: recs})
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("API", "WS upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	if msg, err := h.validatorsMessage(); err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.mu.Unlock()
			conn.Close()
			return
		}
	}
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.readLoop(conn)
}

// readLoop discards client messages and drops the client once it goes away.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeAll(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		conn.Close()
		delete(h.clients, conn)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		client.Close()
		delete(h.clients, client)
	}
}
