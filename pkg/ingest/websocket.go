package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nicktill/battmon/pkg/config"
)

var upgrader = websocket.Upgrader{
	// same-origin browsers and non-browser clients (no Origin header) only
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// EventRecordsIngested is the event type sent after records were stored or updated.
const EventRecordsIngested = "records_ingested"

// RecordsEvent tells dashboards that a device has new data in a bucket.
type RecordsEvent struct {
	Type           string `json:"type"`
	DeviceID       string `json:"device_id"`
	SequenceNumber int64  `json:"sequence_number"`
	GatewayID      string `json:"gateway_id,omitempty"`
	Status         string `json:"status"`
}

// Device scopes the event to subscribers of one device.
func (e RecordsEvent) Device() string { return e.DeviceID }

// deviceScoped events only reach clients watching that device or all devices.
type deviceScoped interface {
	Device() string
}

type message struct {
	deviceID string
	data     []byte
}

// wsClient is one websocket connection. Only its write loop writes to conn.
type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	deviceID string // empty watches every device
}

func (c *wsClient) wants(deviceID string) bool {
	return c.deviceID == "" || deviceID == "" || c.deviceID == deviceID
}

// RecordsHub fans ingest events out to websocket clients. A client may pass
// ?device_id= to only hear about one device.
type RecordsHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan message
	done       chan struct{}

	logger *zap.Logger
}

// NewRecordsHub creates a new WebSocket hub
func NewRecordsHub(logger *zap.Logger) *RecordsHub {
	return &RecordsHub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient, config.WSChannelBuffer),
		unregister: make(chan *wsClient, config.WSChannelBuffer),
		broadcast:  make(chan message, config.WSBroadcastBuffer),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run owns the client set until ctx is cancelled, then disconnects everyone.
func (h *RecordsHub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected",
				zap.String("device_id", c.deviceID),
				zap.Int("clients", count))

		case c := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(c)
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", zap.Int("clients", count))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(msg.deviceID) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// a client that cannot keep up is dropped rather than stalling the hub
					h.logger.Warn("websocket client too slow, disconnecting")
					h.removeLocked(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *RecordsHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast queues an event for connected clients. Events implementing
// Device() only reach clients watching that device. Events are dropped when
// the broadcast buffer is full.
func (h *RecordsHub) Broadcast(data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	msg := message{data: payload}
	if scoped, ok := data.(deviceScoped); ok {
		msg.deviceID = scoped.Device()
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
	return nil
}

// HasClients returns true if there are any connected WebSocket clients
func (h *RecordsHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket handles GET /v1/ws[?device_id=]
func (h *RecordsHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		conn:     conn,
		send:     make(chan []byte, config.WSChannelBuffer),
		deviceID: r.URL.Query().Get("device_id"),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writeLoop(c)
	h.readLoop(c)
}

// writeLoop sends queued events and keepalive pings until the hub closes send.
func (h *RecordsHub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(config.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drives control frames and close detection; clients never send data.
func (h *RecordsHub) readLoop(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket error", zap.Error(err))
			}
			return
		}
	}
}
