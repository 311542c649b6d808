package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cosmicwatch/neowatch/internal/monitoring"
	"github.com/cosmicwatch/neowatch/pkg/logger"
	"github.com/cosmicwatch/neowatch/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 64
)

// Message represents a JSON payload delivered to realtime subscribers.
type Message struct {
	Stream string         `json:"stream"`
	Event  string         `json:"event"`
	Data   any            `json:"data,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams"`
}

// Hub is the websocket-backed Registry.
type Hub struct {
	mu       sync.RWMutex
	users    map[string]map[*Connection]struct{}
	upgrader websocket.Upgrader
	origins  map[string]struct{}
	log      *zap.Logger
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins lists extra browser origins (host names) allowed to connect
// besides same-origin and loopback.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		for _, origin := range origins {
			if host := hostWithoutPort(origin); host != "" {
				h.origins[strings.ToLower(host)] = struct{}{}
			}
		}
	}
}

// NewHub constructs a realtime hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		users:   make(map[string]map[*Connection]struct{}),
		origins: make(map[string]struct{}),
		log:     logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originHost := strings.ToLower(hostWithoutPort(origin))
	if originHost == strings.ToLower(hostWithoutPort(r.Host)) || isLoopback(originHost) {
		return true
	}
	_, ok := h.origins[originHost]
	return ok
}

// Serve upgrades the request, registers the connection for userID and blocks
// until the client goes away.
func (h *Hub) Serve(userID string, streams []string, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	if len(streams) == 0 {
		streams = DefaultStreams
	}
	conn := newConnection(h, socket, userID, streams)
	h.Register(userID, conn)

	_ = h.Deliver(conn, Message{Stream: StreamSystem, Event: EventConnected, Data: map[string]any{"streams": conn.Streams()}})

	go conn.writeLoop()
	conn.readLoop()
}

// Register adds conn to the handle set of userID.
func (h *Hub) Register(userID string, conn *Connection) {
	if conn == nil || strings.TrimSpace(userID) == "" {
		return
	}
	conn.userID = userID

	h.mu.Lock()
	added := h.users[userID] == nil
	if added {
		h.users[userID] = make(map[*Connection]struct{})
	}
	h.users[userID][conn] = struct{}{}
	connected := len(h.users)
	h.mu.Unlock()

	metrics.ConnectedUsers.Set(float64(connected))
	if added {
		monitoring.RecordRealtimeConnection(1)
	}
	h.log.Debug("connection registered", zap.String("user_id", userID))
}

// Unregister removes conn; the user entry disappears with its last handle.
func (h *Hub) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	h.mu.Lock()
	handles, ok := h.users[conn.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(handles, conn)
	removed := len(handles) == 0
	if removed {
		delete(h.users, conn.userID)
	}
	connected := len(h.users)
	h.mu.Unlock()

	metrics.ConnectedUsers.Set(float64(connected))
	if removed {
		monitoring.RecordRealtimeConnection(-1)
	}
}

// HandlesFor returns a snapshot of the live handles for userID.
func (h *Hub) HandlesFor(userID string) []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	handles := make([]*Connection, 0, len(h.users[userID]))
	for conn := range h.users[userID] {
		handles = append(handles, conn)
	}
	return handles
}

// ConnectedUserIDs returns a sorted snapshot of users with at least one handle.
func (h *Hub) ConnectedUserIDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Deliver queues msg on conn without blocking. A client whose buffer is full
// is disconnected.
func (h *Hub) Deliver(conn *Connection, msg Message) error {
	if conn == nil {
		return ErrConnectionClosed
	}
	msg.Stream = normalizeStream(msg.Stream)
	if msg.Stream != StreamSystem && !conn.Subscribed(msg.Stream) {
		return ErrNotSubscribed
	}

	err := conn.enqueue(msg)
	if err == ErrBackpressure {
		h.log.Warn("dropping backpressured client", zap.String("user_id", conn.userID))
		monitoring.RecordRealtimeFailure(msg.Stream, "backpressure", err.Error())
		conn.close()
	}
	return err
}

// SendToUser delivers msg to every handle of userID and returns how many accepted it.
func (h *Hub) SendToUser(userID string, msg Message) int {
	accepted := 0
	for _, conn := range h.HandlesFor(userID) {
		if h.Deliver(conn, msg) == nil {
			accepted++
		}
	}
	return accepted
}

// Connection is one live client handle.
type Connection struct {
	hub    *Hub
	socket *websocket.Conn
	userID string

	mu      sync.Mutex
	streams map[string]struct{}
	send    chan Message
	closed  bool
	once    sync.Once
}

func newConnection(hub *Hub, socket *websocket.Conn, userID string, streams []string) *Connection {
	c := &Connection{
		hub:     hub,
		socket:  socket,
		userID:  userID,
		streams: make(map[string]struct{}),
		send:    make(chan Message, defaultBufferSize),
	}
	c.subscribe(streams)
	return c
}

// UserID returns the owner of the handle.
func (c *Connection) UserID() string { return c.userID }

// Subscribed reports whether the handle listens on stream.
func (c *Connection) Subscribed(stream string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[normalizeStream(stream)]
	return ok
}

// Streams lists the subscribed streams in sorted order.
func (c *Connection) Streams() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.streams))
	for s := range c.streams {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (c *Connection) subscribe(streams []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range uniqueStreams(streams) {
		c.streams[s] = struct{}{}
	}
}

func (c *Connection) unsubscribe(streams []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range uniqueStreams(streams) {
		delete(c.streams, s)
	}
}

func (c *Connection) enqueue(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("user_id", c.userID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.subscribe(ctrl.Streams)
		case "unsubscribe":
			c.unsubscribe(ctrl.Streams)
		case "ping":
			_ = c.hub.Deliver(c, Message{Stream: StreamSystem, Event: EventPong})
		default:
			c.hub.log.Debug("unsupported control action", zap.String("user_id", c.userID), zap.String("action", ctrl.Action))
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) close() {
	c.once.Do(func() {
		c.hub.Unregister(c)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		if c.socket != nil {
			_ = c.socket.Close()
		}
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func uniqueStreams(streams []string) []string {
	unique := make(map[string]struct{}, len(streams))
	var result []string
	for _, stream := range streams {
		if stream = normalizeStream(stream); stream != "" {
			if _, exists := unique[stream]; !exists {
				unique[stream] = struct{}{}
				result = append(result, stream)
			}
		}
	}
	return result
}
