package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/betting-core-api/pkg/contracts/events"
)

const writeWait = 5 * time.Second

// client serializa escritas: gorilla/websocket não aceita writers concorrentes
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *client) writeRaw(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub gerencia conexões WebSocket e assinaturas por match_id
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu    sync.RWMutex
	subs  map[string]map[*client]struct{} // matchID -> conexões
	conns int
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(allowOrigin func(r *http.Request) bool, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log,
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS mantém a conexão aberta processando subscribe/unsubscribe/ping
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn}
	h.mu.Lock()
	h.conns++
	h.mu.Unlock()

	defer func() {
		h.drop(c)
		_ = conn.Close()
	}()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.MatchID == "" {
				_ = c.write(serverMsg{Type: "error", Error: "matchId required"})
				continue
			}
			h.subscribe(msg.MatchID, c)
		case "unsubscribe":
			h.unsubscribe(msg.MatchID, c)
		case "ping":
			_ = c.write(serverMsg{Type: "pong"})
		default:
			_ = c.write(serverMsg{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *Hub) subscribe(matchID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[matchID]
	if !ok {
		set = make(map[*client]struct{})
		h.subs[matchID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unsubscribe(matchID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[matchID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, matchID)
		}
	}
}

// drop remove a conexão de todas as assinaturas ao desconectar
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns--
	for id, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
}

// Connections devolve o número de conexões abertas
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns
}

// Broadcast envia o tick para os clientes inscritos no match_id
func (h *Hub) Broadcast(tick events.OddsTick) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.subs[tick.MatchID]))
	for c := range h.subs[tick.MatchID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b, err := json.Marshal(serverMsg{Type: "tick", MatchID: tick.MatchID, Payload: tick})
	if err != nil {
		h.log.Error("ws marshal tick", zap.Error(err))
		return
	}
	for _, c := range targets {
		if err := c.writeRaw(b); err != nil {
			h.log.Debug("ws write failed", zap.String("match_id", tick.MatchID), zap.Error(err))
		}
	}
}
