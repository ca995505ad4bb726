package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/mkopo/internal/ledger"
)

type Event struct {
	Type      string `json:"type"`
	Reference string `json:"reference"`
	Data      any    `json:"data"`
}

// sendBuffer is how many events may queue for one socket before it is
// treated as too slow and dropped.
const sendBuffer = 16

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// writePump drains send in order until the hub closes it.
func (c *client) writePump() {
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

// Hub fans transaction status events out to websocket subscribers, one room
// per transaction reference. All room state is guarded by mu and Publish never
// waits on a socket.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*client]struct{}
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{rooms: make(map[string]map[*client]struct{}), log: log}
}

// register queues first ahead of any event and joins the room.
func (h *Hub) register(reference string, c *client, first []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.send <- first
	r, ok := h.rooms[reference]
	if !ok {
		r = make(map[*client]struct{})
		h.rooms[reference] = r
	}
	r[c] = struct{}{}
}

func (h *Hub) unregister(reference string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(reference, c)
}

func (h *Hub) removeLocked(reference string, c *client) {
	r, ok := h.rooms[reference]
	if !ok {
		return
	}
	if _, ok := r[c]; !ok {
		return
	}
	delete(r, c)
	close(c.send)
	if len(r) == 0 {
		delete(h.rooms, reference)
	}
}

// Subscribers returns the number of listeners on reference.
func (h *Hub) Subscribers(reference string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[reference])
}

// Publish queues an event for every subscriber of reference. Rooms nobody
// listens to are skipped. A subscriber whose queue is full is disconnected.
func (h *Hub) Publish(reference, event string, data any) {
	payload, err := json.Marshal(Event{Type: event, Reference: reference, Data: data})
	if err != nil {
		h.log.Warn("encode live event", zap.String("reference", reference), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[reference] {
		select {
		case c.send <- payload:
		default:
			h.log.Debug("live subscriber too slow, dropping", zap.String("reference", reference))
			h.removeLocked(reference, c)
			_ = c.conn.Close()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves GET /ws/transactions/:reference. The first frame is a
// snapshot of the transaction; later frames are status_changed events.
func Handler(h *Hub, store ledger.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		reference := c.Param("reference")
		if reference == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "missing reference"})
		}
		tx, err := store.GetTransaction(c.Request().Context(), reference)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return c.JSON(http.StatusNotFound, echo.Map{"success": false, "error": "transaction not found"})
			}
			return err
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		snap, _ := json.Marshal(Event{Type: "snapshot", Reference: reference, Data: tx})
		cl := &client{conn: ws, send: make(chan []byte, sendBuffer)}
		h.register(reference, cl, snap)
		done := make(chan struct{})
		go func() {
			cl.writePump()
			close(done)
		}()
		defer func() {
			h.unregister(reference, cl)
			<-done
			_ = ws.Close()
		}()

		// Server push only; reads just detect the client going away.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return nil
			}
		}
	}
}

// Close drops every room. Connected sockets end when their read loop fails.
func (h *Hub) Close(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ref, r := range h.rooms {
		for c := range r {
			h.removeLocked(ref, c)
			_ = c.conn.Close()
		}
	}
}
