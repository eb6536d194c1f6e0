package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aifx/signalcore/internal/domain"
)

// wireMessage is the event envelope sent to dashboard sockets (§6):
// event names trading:signal, price:{pair}, notification.
type wireMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type socket struct {
	conn *websocket.Conn
	mu   *sync.Mutex // serializes concurrent writes to the same conn
}

// WebSocketHub is a server-side room broadcaster. Sockets join one or
// both of room "user:{subscriber_id}" and room "pair:{pair}"; a
// broadcast to a room with no connected socket is a silent no-op
// (§4.11: "non-blocking emit; drop if no connected socket").
type WebSocketHub struct {
	log zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*websocket.Conn]socket
}

// NewWebSocketHub builds an empty hub.
func NewWebSocketHub(log zerolog.Logger) *WebSocketHub {
	return &WebSocketHub{
		log:   log.With().Str("component", "websocket_hub").Logger(),
		rooms: make(map[string]map[*websocket.Conn]socket),
	}
}

// UserRoom and PairRoom name the two room kinds dashboard sockets join.
func UserRoom(subscriberID string) string { return "user:" + subscriberID }
func PairRoom(pair domain.Pair) string    { return "pair:" + string(pair) }

// Join registers conn under room, serialized by its own write mutex so
// concurrent broadcasts to different rooms sharing this conn don't race.
func (h *WebSocketHub) Join(room string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*websocket.Conn]socket)
	}
	mu := &sync.Mutex{}
	for _, sockets := range h.rooms {
		if s, ok := sockets[conn]; ok {
			mu = s.mu
			break
		}
	}
	h.rooms[room][conn] = socket{conn: conn, mu: mu}
}

// Leave removes conn from every room it was registered under.
func (h *WebSocketHub) Leave(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, sockets := range h.rooms {
		if _, ok := sockets[conn]; ok {
			delete(sockets, conn)
			if len(sockets) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// Broadcast sends event/data as JSON to every socket in room. Dead or
// slow sockets are logged and skipped, never blocking the caller past
// a short per-socket write timeout.
func (h *WebSocketHub) Broadcast(room string, event string, data any) {
	h.mu.RLock()
	sockets := make([]socket, 0, len(h.rooms[room]))
	for _, s := range h.rooms[room] {
		sockets = append(sockets, s)
	}
	h.mu.RUnlock()

	if len(sockets) == 0 {
		return
	}

	msg := wireMessage{Event: event, Data: data}
	for _, s := range sockets {
		go func(s socket) {
			s.mu.Lock()
			defer s.mu.Unlock()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := wsjson.Write(ctx, s.conn, msg); err != nil {
				h.log.Debug().Err(err).Str("room", room).Msg("websocket hub: write failed, dropping")
			}
		}(s)
	}
}

// WebSocketTransport implements dispatch.Transport by broadcasting a
// rendered Signal into both the subscriber's and the pair's room.
type WebSocketTransport struct {
	hub *WebSocketHub
}

// NewWebSocketTransport adapts a hub to the Transport interface.
func NewWebSocketTransport(hub *WebSocketHub) *WebSocketTransport {
	return &WebSocketTransport{hub: hub}
}

// Send broadcasts the job's signal snapshot; this transport cannot
// fail the delivery (no connected socket is not an error, per §4.11),
// so it only ever returns an error for a malformed payload.
func (t *WebSocketTransport) Send(_ context.Context, job Job) error {
	payload, err := renderSignalPayload(job)
	if err != nil {
		return fmt.Errorf("websocket transport: rendering payload: %w", err)
	}
	t.hub.Broadcast(UserRoom(job.SubscriberID), "trading:signal", payload)
	t.hub.Broadcast(PairRoom(job.Change.Pair), "trading:signal", payload)
	return nil
}

func renderSignalPayload(job Job) (map[string]any, error) {
	raw, err := json.Marshal(job.Signal)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
