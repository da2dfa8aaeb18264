// Package chat runs the customer-support websocket at /user-chat. Each
// inquiry is a room; the user who opened it and any admin may join.
package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/monitoring"
	"github.com/timeegg/timeegg-server/internal/service"
	"github.com/timeegg/timeegg-server/internal/utils"
)

// Event names carried in Envelope.Event.
const (
	EventJoinRoom       = "join_room"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventReadAlert      = "read_alert"
	EventError          = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 8 << 10
	sendBuffer     = 64
	callTimeout    = 5 * time.Second
)

// Envelope is every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomRef struct {
	RoomID uint64 `json:"roomId"`
}

type sendReq struct {
	RoomID          uint64 `json:"roomId"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId"`
}

// Message is the receive_message payload.
type Message struct {
	ID              string    `json:"id"`
	RoomID          uint64    `json:"roomId"`
	SenderID        uint64    `json:"senderId"`
	SenderRole      string    `json:"senderRole"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
}

// ReadAlert is broadcast after a participant read a room.
type ReadAlert struct {
	RoomID   uint64 `json:"roomId"`
	ReaderID uint64 `json:"readerId"`
	Marked   int64  `json:"marked"`
}

// ErrorData is sent to one client when its request failed.
type ErrorData struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	RoomID          uint64 `json:"roomId,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// Support is the slice of the support service the hub uses.
type Support interface {
	Authorize(ctx context.Context, inquiryID, userID uint64, role string) (model.Inquiry, error)
	PostMessage(ctx context.Context, inquiryID, senderID uint64, role, content string) (model.ChatMessage, error)
	MarkRead(ctx context.Context, inquiryID, readerID uint64, role string) (int64, error)
}

// Hub tracks connected clients by room.
type Hub struct {
	support  Support
	secret   string
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	rooms   map[uint64]map[*client]struct{}
	clients map[*client]struct{}
}

// NewHub builds a hub. An empty origins list accepts any Origin.
func NewHub(support Support, jwtSecret string, origins []string, logger *zap.Logger) *Hub {
	h := &Hub{
		support: support,
		secret:  jwtSecret,
		logger:  logger,
		rooms:   make(map[uint64]map[*client]struct{}),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return h
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || allowed[o]
	}
}

// ServeHTTP authenticates the token query parameter and upgrades.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	claims, err := utils.ParseAccessToken(h.secret, raw)
	if err != nil {
		http.Error(w, `{"statusCode":401,"code":"INVALID_TOKEN","message":"invalid or expired token"}`, http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: claims.UserID,
		role:   claims.Role,
		joined: make(map[uint64]bool),
	}
	h.register(c)
	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	monitoring.ChatClientsDelta(1)
	h.logger.Debug("chat client connected", zap.Uint64("user_id", c.userID))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	// Closed under the lock so reply and broadcast never send on it.
	close(c.send)
	for id := range c.joined {
		if set := h.rooms[id]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.rooms, id)
			}
		}
	}
	h.mu.Unlock()
	monitoring.ChatClientsDelta(-1)
	h.logger.Debug("chat client disconnected", zap.Uint64("user_id", c.userID))
}

func (h *Hub) join(c *client, roomID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.rooms[roomID]
	if set == nil {
		set = make(map[*client]struct{})
		h.rooms[roomID] = set
	}
	set[c] = struct{}{}
	c.joined[roomID] = true
}

// broadcast sends one event to every client in the room. Clients whose
// buffer is full are disconnected rather than blocking the sender.
func (h *Hub) broadcast(roomID uint64, event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		h.logger.Error("encode chat event", zap.String("event", event), zap.Error(err))
		return
	}
	var slow []*client
	h.mu.RLock()
	for c := range h.rooms[roomID] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.logger.Warn("dropping slow chat client", zap.Uint64("user_id", c.userID))
		h.unregister(c)
	}
}

// RoomSize returns how many clients joined a room.
func (h *Hub) RoomSize(roomID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uint64
	role   string
	// joined is only touched under hub.mu.
	joined map[uint64]bool
}

func (c *client) reply(event string, data any) {
	frame, err := encode(event, data)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) fail(code, msg string, roomID uint64, clientMsgID string) {
	c.reply(EventError, ErrorData{Code: code, Message: msg, RoomID: roomID, ClientMessageID: clientMsgID})
}

func (c *client) failWith(err error, roomID uint64, clientMsgID string) {
	if de, ok := service.AsDomain(err); ok {
		c.fail(de.Code, de.Message, roomID, clientMsgID)
		return
	}
	c.hub.logger.Error("chat request failed", zap.Uint64("room_id", roomID), zap.Error(err))
	c.fail("INTERNAL_ERROR", "message could not be processed", roomID, clientMsgID)
}

func (c *client) inRoom(roomID uint64) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.joined[roomID]
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("chat read failed", zap.Error(err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.fail("INVALID_REQUEST", "malformed frame", 0, "")
			continue
		}
		c.handle(env)
	}
}

func (c *client) handle(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	switch env.Event {
	case EventJoinRoom:
		var req roomRef
		if json.Unmarshal(env.Data, &req) != nil || req.RoomID == 0 {
			c.fail("INVALID_REQUEST", "roomId required", 0, "")
			return
		}
		if _, err := c.hub.support.Authorize(ctx, req.RoomID, c.userID, c.role); err != nil {
			c.failWith(err, req.RoomID, "")
			return
		}
		c.hub.join(c, req.RoomID)
		c.reply(EventJoinRoom, req)

	case EventSendMessage:
		var req sendReq
		if json.Unmarshal(env.Data, &req) != nil || req.RoomID == 0 {
			c.fail("INVALID_REQUEST", "roomId required", 0, req.ClientMessageID)
			return
		}
		if !c.inRoom(req.RoomID) {
			c.fail("NOT_JOINED", "join the room first", req.RoomID, req.ClientMessageID)
			return
		}
		msg, err := c.hub.support.PostMessage(ctx, req.RoomID, c.userID, c.role, req.Content)
		if err != nil {
			c.failWith(err, req.RoomID, req.ClientMessageID)
			return
		}
		c.hub.broadcast(req.RoomID, EventReceiveMessage, Message{
			ID:              msg.ID,
			RoomID:          msg.InquiryID,
			SenderID:        msg.SenderID,
			SenderRole:      msg.SenderRole,
			Content:         msg.Content,
			CreatedAt:       msg.CreatedAt,
			ClientMessageID: req.ClientMessageID,
		})

	case EventReadAlert:
		var req roomRef
		if json.Unmarshal(env.Data, &req) != nil || !c.inRoom(req.RoomID) {
			c.fail("NOT_JOINED", "join the room first", req.RoomID, "")
			return
		}
		n, err := c.hub.support.MarkRead(ctx, req.RoomID, c.userID, c.role)
		if err != nil {
			c.failWith(err, req.RoomID, "")
			return
		}
		c.hub.broadcast(req.RoomID, EventReadAlert, ReadAlert{RoomID: req.RoomID, ReaderID: c.userID, Marked: n})

	default:
		c.fail("UNKNOWN_EVENT", "unknown event "+env.Event, 0, "")
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
