package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justerbaster/clobster-railway/internal/engine"
	"github.com/justerbaster/clobster-railway/internal/metrics"
)

// Message types sent to WebSocket clients.
const (
	MsgTradeExecuted  = "trade_executed"
	MsgCycleCompleted = "cycle_completed"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type        string `json:"type"`
	CycleID     string `json:"cycle_id,omitempty"`
	TradeID     string `json:"trade_id,omitempty"`
	MarketID    string `json:"market_id,omitempty"`
	MarketTitle string `json:"market_title,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Action      string `json:"action,omitempty"`
	Price       string `json:"price,omitempty"`
	Shares      string `json:"shares,omitempty"`
	Total       string `json:"total,omitempty"`
	PnL         string `json:"pnl,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Exits       int    `json:"exits,omitempty"`
	Entries     int    `json:"entries,omitempty"`
	Failures    int    `json:"failures,omitempty"`
}

// WSHub manages WebSocket connections and broadcasts committed trades and
// cycle summaries to all connected clients.
type WSHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop and returns when ctx is done, closing
// every client connection. Must be called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "total", n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking the cycle.
	}
}

var _ engine.CommitHook = (*WSHub)(nil)

// OnCommit implements engine.CommitHook.
func (h *WSHub) OnCommit(_ context.Context, ev engine.CommitEvent) {
	t := ev.Trade
	msg := WSMessage{
		Type:        MsgTradeExecuted,
		CycleID:     ev.CycleID,
		TradeID:     t.ID,
		MarketID:    t.MarketID,
		MarketTitle: t.MarketTitle,
		Outcome:     t.Outcome,
		Action:      t.Action,
		Price:       t.Price.String(),
		Shares:      t.Shares.StringFixed(4),
		Total:       t.Total.StringFixed(2),
		PnL:         t.PnL.StringFixed(2),
		Reason:      ev.ExitReason,
	}
	h.Broadcast(msg)
}

// BroadcastCycle announces a finished cycle.
func (h *WSHub) BroadcastCycle(rep *engine.Report) {
	if rep == nil {
		return
	}
	h.Broadcast(WSMessage{
		Type:     MsgCycleCompleted,
		CycleID:  rep.CycleID,
		Exits:    len(rep.Exits),
		Entries:  len(rep.Entries),
		Failures: len(rep.Failures),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // dashboard may be served from another origin
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()
}
