package main

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from the lab network; origin checks are
	// handled by the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StatusHub broadcasts every appended MeasurementRecord to connected
// dashboard clients. Implements MeasurementObserver.
type StatusHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan MeasurementRecord
}

func NewStatusHub() *StatusHub {
	return &StatusHub{clients: make(map[*websocket.Conn]chan MeasurementRecord)}
}

// ObserveMeasurement fans a record out to all clients. Slow clients drop
// records rather than stalling the control loop.
func (h *StatusHub) ObserveMeasurement(rec MeasurementRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- rec:
		default:
			log.Printf("StatusHub: client %s too slow, dropping record %d", conn.RemoteAddr(), rec.Iteration)
		}
	}
}

// HandleWS upgrades a dashboard connection and streams records until the
// client goes away.
func (h *StatusHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("StatusHub: upgrade failed: %v", err)
		return
	}

	ch := make(chan MeasurementRecord, 16)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	log.Printf("StatusHub: client connected from %s", conn.RemoteAddr())

	go h.writer(conn, ch)
	// Reader loop only to detect disconnects; inbound messages are ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

func (h *StatusHub) writer(conn *websocket.Conn, ch chan MeasurementRecord) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(rec); err != nil {
				h.drop(conn)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(conn)
				return
			}
		}
	}
}

func (h *StatusHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}
