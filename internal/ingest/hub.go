package ingest

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// viewerConn serializes writes to one viewer connection; overlapping
// broadcasts for the same source would otherwise write concurrently.
type viewerConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (vc *viewerConn) write(data []byte) error {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return vc.conn.WriteMessage(websocket.TextMessage, data)
}

// AlertHub fans alert events out to viewer connections subscribed per
// source.
type AlertHub struct {
	// clients maps source ID -> viewer connections
	clients map[string]map[*websocket.Conn]*viewerConn
	mu      sync.RWMutex
}

// NewAlertHub creates an empty hub.
func NewAlertHub() *AlertHub {
	return &AlertHub{
		clients: make(map[string]map[*websocket.Conn]*viewerConn),
	}
}

// Register adds a viewer connection for a source.
func (h *AlertHub) Register(sourceID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[sourceID] == nil {
		h.clients[sourceID] = make(map[*websocket.Conn]*viewerConn)
	}
	h.clients[sourceID][conn] = &viewerConn{conn: conn}
	log.Printf("[Hub] Viewer registered for source %s (total: %d)", sourceID, len(h.clients[sourceID]))
}

// Unregister removes a viewer connection for a source.
func (h *AlertHub) Unregister(sourceID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[sourceID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, sourceID)
		}
	}
}

// ViewerCount returns the number of viewers across all sources.
func (h *AlertHub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// Broadcast sends an alert event to every viewer of the source.
func (h *AlertHub) Broadcast(sourceID string, event *AlertEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Hub] Error marshaling alert event: %v", err)
		return
	}

	h.mu.RLock()
	viewers := make([]*viewerConn, 0, len(h.clients[sourceID]))
	for _, vc := range h.clients[sourceID] {
		viewers = append(viewers, vc)
	}
	h.mu.RUnlock()

	for _, vc := range viewers {
		if err := vc.write(data); err != nil {
			log.Printf("[Hub] Error sending to viewer: %v", err)
			h.Unregister(sourceID, vc.conn)
			vc.conn.Close()
		}
	}
}
