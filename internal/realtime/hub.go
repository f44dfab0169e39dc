package realtime

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub manages WebSocket subscribers and broadcasts job status events to
// them.
type Hub struct {
	connections map[*websocket.Conn]struct{}
	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	broadcast   chan []byte
	done        chan struct{}
	mu          sync.Mutex
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		broadcast:   make(chan []byte, 16),
		done:        make(chan struct{}),
	}
}

// Done is closed once Run has returned. Sends on Register and Unregister
// must select against it or they block forever after shutdown.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Broadcast queues a message for all connected subscribers. Messages are
// dropped when the hub is saturated; status events repeat, so a dropped
// frame is recovered by the next one.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Run processes register/unregister/broadcast events until the context
// ends, then closes every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case conn := <-h.Register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.Unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.connections {
		conn.Close()
		delete(h.connections, conn)
	}
}
