package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/service/inventory/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { // 内部看板使用，允许所有跨域
		return true
	},
}

// Hub 维护所有活跃的看板连接，并把库存事件推给订阅了对应库存单元的连接
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	lock       sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 处理注册和注销，ctx 取消时关闭全部连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.lock.Lock()
			h.clients[client.id] = client
			h.lock.Unlock()
			logger.Ctx(ctx).Info().Str("client", client.id).Str("filter", client.filter).Msg("stock feed client registered")
		case client := <-h.unregister:
			h.lock.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.lock.Unlock()
		case <-ctx.Done():
			h.lock.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.lock.Unlock()
			return
		}
	}
}

// Broadcast 推送一个事件。发送缓冲已满的慢连接会被丢弃这条消息，不阻塞其他连接。
func (h *Hub) Broadcast(evt domain.InventoryEvent) int {
	payload, err := json.Marshal(evt)
	if err != nil {
		return 0
	}
	key := evt.StockUnit.Key()
	delivered := 0
	h.lock.RLock()
	defer h.lock.RUnlock()
	for _, client := range h.clients {
		if client.filter != "" && client.filter != key {
			continue
		}
		select {
		case client.send <- payload:
			delivered++
		default:
		}
	}
	return delivered
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// Client 是一个 WebSocket 连接的代表，filter 为空表示订阅全部库存单元
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	filter string
}

// writePump 把 send 中的消息写入连接并定期发送 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 只处理 pong 和关闭，连接断开后注销
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ServeWs GET /ws?key=<stock unit key>
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("key")
	if filter != "" {
		if _, err := domain.ParseStockUnitKey(filter); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), id: uuid.NewString(), filter: filter}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// StockFeed 把库存事件 topic 转发到 Hub
type StockFeed struct {
	reader messageReader
	hub    *Hub
}

func NewStockFeed(reader messageReader, hub *Hub) *StockFeed {
	return &StockFeed{reader: reader, hub: hub}
}

func (f *StockFeed) Run(ctx context.Context) {
	consumeLoop(ctx, f.reader, nil, f.processMessage)
}

func (f *StockFeed) processMessage(ctx context.Context, msg kafka.Message) error {
	var evt domain.InventoryEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("skipping malformed inventory event")
		return nil
	}
	f.hub.Broadcast(evt)
	return nil
}
