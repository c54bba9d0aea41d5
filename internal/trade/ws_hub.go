package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/atmx/polybet/internal/events"
	"github.com/atmx/polybet/internal/metrics"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// wsFrame is one encoded envelope and the market it came from.
type wsFrame struct {
	source common.Address
	data   []byte
}

// WSHub manages WebSocket connections and pushes every committed event to
// connected clients. Clients may subscribe to one market with ?market=0x...
// It implements events.Publisher.
type WSHub struct {
	clients    map[*websocket.Conn]common.Address // zero address: all markets
	broadcast  chan wsFrame
	register   chan wsClient
	unregister chan *websocket.Conn
	quit       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

type wsClient struct {
	conn   *websocket.Conn
	filter common.Address
}

// NewWSHub creates a new WebSocket hub accepting upgrades from the given
// browser origins; "*" allows any. Requests without an Origin header are
// not from a browser and are always accepted.
func NewWSHub(origins []string) *WSHub {
	allowAll := slices.Contains(origins, "*")
	return &WSHub{
		clients:    make(map[*websocket.Conn]common.Address),
		broadcast:  make(chan wsFrame, 256),
		register:   make(chan wsClient),
		unregister: make(chan *websocket.Conn),
		quit:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowAll || slices.Contains(origins, origin)
			},
		},
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every
// client.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.quit)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c.filter
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "total", n)

		case conn := <-h.unregister:
			h.drop(conn)

		case f := <-h.broadcast:
			h.mu.RLock()
			var dead []*websocket.Conn
			for conn, filter := range h.clients {
				if filter != (common.Address{}) && filter != f.source {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
					dead = append(dead, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range dead {
				h.drop(conn)
			}
		}
	}
}

func (h *WSHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

// Publish queues envs for broadcast. Frames are dropped when the buffer is
// full so a slow client never blocks market execution.
func (h *WSHub) Publish(_ context.Context, envs ...events.Envelope) {
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			slog.Error("ws encode event", "kind", env.Kind, "err", err)
			continue
		}
		select {
		case h.broadcast <- wsFrame{source: env.Source, data: data}:
		default:
		}
	}
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var filter common.Address
	if q := r.URL.Query().Get("market"); q != "" {
		if !common.IsHexAddress(q) {
			writeError(w, "market must be a hex address", http.StatusBadRequest)
			return
		}
		filter = common.HexToAddress(q)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "origin", r.Header.Get("Origin"), "err", err)
		return
	}

	select {
	case h.register <- wsClient{conn: conn, filter: filter}:
	case <-h.quit:
		conn.Close()
		return
	}
	done := make(chan struct{})

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			close(done)
			select {
			case h.unregister <- conn:
			case <-h.quit:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies. WriteControl
	// may run concurrently with the hub's writes.
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()
}
