package stats

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TradeEvent is broadcast once per executed trade.
type TradeEvent struct {
	VariantID      string    `json:"variant_id"`
	SalePriceLocal int64     `json:"sale_price_local"`
	OccurredAt     time.Time `json:"occurred_at"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub fans executed-trade events out to websocket subscribers.
type Hub struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*client]bool),
	}
}

// Handler upgrades the request to a websocket subscription. The connection
// is read only to detect disconnects; the hub never consumes client input.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &client{conn: conn}
		h.mu.Lock()
		h.clients[c] = true
		h.mu.Unlock()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				delete(h.clients, c)
				h.mu.Unlock()
				conn.Close()
				return
			}
		}
	}
}

// Publish sends ev to every subscriber, dropping connections that fail. Safe
// to call on a nil hub.
func (h *Hub) Publish(ev TradeEvent) {
	if h == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal trade event", zap.Error(err))
		return
	}

	h.mu.RLock()
	subs := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	var dead []*client
	for _, c := range subs {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			dead = append(dead, c)
		}
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, c := range dead {
			delete(h.clients, c)
			c.conn.Close()
		}
		h.mu.Unlock()
	}
}
