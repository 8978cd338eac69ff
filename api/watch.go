package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"graphmirror/proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Watchers are mirrors on other hosts; the feed carries no state that
	// needs origin protection.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	watchSendBuffer = 16
	watchWriteWait  = 10 * time.Second
	watchPingPeriod = 30 * time.Second
)

// watchHub fans primary-branch change events out to websocket watchers.
// Slow watchers are dropped rather than allowed to stall the publisher.
type watchHub struct {
	mu      sync.Mutex
	clients map[chan proto.WatchEvent]bool
}

func newWatchHub() *watchHub {
	return &watchHub{clients: make(map[chan proto.WatchEvent]bool)}
}

func (h *watchHub) subscribe() chan proto.WatchEvent {
	ch := make(chan proto.WatchEvent, watchSendBuffer)
	h.mu.Lock()
	h.clients[ch] = true
	h.mu.Unlock()
	return ch
}

func (h *watchHub) unsubscribe(ch chan proto.WatchEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *watchHub) broadcast(ev proto.WatchEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Buffer full: the watcher stopped reading. Drop it; it can
			// reconnect and re-fetch the head.
			delete(h.clients, ch)
			close(ch)
		}
	}
}

// Watch upgrades to a websocket and streams WatchEvents until the client
// disconnects.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("watch upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events := h.hub.subscribe()
	defer h.hub.unsubscribe(events)

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return // dropped as a slow watcher
			}
			conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
