// Package notify implements the Notification Bus (spec §4.9 C9): a
// per-user websocket hub multiplexing events across however many tabs a
// user has open, with at-least-once delivery backed by a bounded per-user
// replay buffer so a client reconnecting after a drop can catch up.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opentranscribe/mpo/internal/logger"
	"github.com/opentranscribe/mpo/pkg/lifecycle"
)

// Envelope is the wire shape pushed to every connected client.
type Envelope struct {
	ID        uint64         `json:"id"`
	Type      string         `json:"type"`
	FileID    string         `json:"file_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Silent    bool           `json:"silent,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	replayBufferSize = 200
	writeBufferSize  = 64
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	writeWait        = 10 * time.Second
)

// connection is one websocket tab subscribed to a user's event stream.
type connection struct {
	ws   *websocket.Conn
	send chan Envelope
}

type userStream struct {
	mu     sync.Mutex
	conns  map[*connection]struct{}
	buffer []Envelope
}

// Hub fans out published events to every connection registered for an
// owner and retains a bounded replay buffer per owner for reconnects.
type Hub struct {
	mu      sync.Mutex
	streams map[string]*userStream
	nextID  atomic.Uint64
}

// New builds an empty Hub.
func New() *Hub {
	return &Hub{streams: make(map[string]*userStream)}
}

var _ lifecycle.Notifier = (*Hub)(nil)

// Publish implements lifecycle.Notifier: it stamps event with a monotonic
// id and timestamp, appends it to owner's replay buffer, and fans it out
// to every live connection for owner. It never blocks on a slow client —
// a connection whose send buffer is full misses this event (it stays in
// the replay buffer) and remains registered.
func (h *Hub) Publish(ctx context.Context, owner string, event lifecycle.Event) error {
	env := Envelope{
		ID:        h.nextID.Add(1),
		Type:      event.Type,
		FileID:    event.FileID,
		TaskID:    event.TaskID,
		Data:      event.Data,
		Silent:    event.Silent,
		Timestamp: time.Now(),
	}

	stream := h.streamFor(owner)
	stream.mu.Lock()
	stream.buffer = append(stream.buffer, env)
	if len(stream.buffer) > replayBufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-replayBufferSize:]
	}
	conns := make([]*connection, 0, len(stream.conns))
	for c := range stream.conns {
		conns = append(conns, c)
	}
	stream.mu.Unlock()

	for _, c := range conns {
		select {
		case c.send <- env:
		default:
			logger.Warn("notify: dropping event for slow connection", "owner", owner, "event_id", env.ID)
		}
	}
	return nil
}

func (h *Hub) streamFor(owner string) *userStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[owner]
	if !ok {
		s = &userStream{conns: make(map[*connection]struct{})}
		h.streams[owner] = s
	}
	return s
}

// Register upgrades ws into a tracked connection for owner, replays any
// buffered events with an id greater than lastSeenID (client-side dedup,
// per spec §4.9), then blocks pumping events to the socket until ws closes
// or ctx is cancelled. Call it from the goroutine that owns ws.
func (h *Hub) Register(ctx context.Context, owner string, ws *websocket.Conn, lastSeenID uint64) {
	c := &connection{ws: ws, send: make(chan Envelope, writeBufferSize)}
	stream := h.streamFor(owner)

	stream.mu.Lock()
	stream.conns[c] = struct{}{}
	backlog := make([]Envelope, 0, len(stream.buffer))
	for _, env := range stream.buffer {
		if env.ID > lastSeenID {
			backlog = append(backlog, env)
		}
	}
	stream.mu.Unlock()

	defer func() {
		stream.mu.Lock()
		delete(stream.conns, c)
		stream.mu.Unlock()
		close(c.send)
	}()

	for _, env := range backlog {
		if err := writeEnvelope(ws, env); err != nil {
			return
		}
	}

	go readPump(ctx, ws)
	writePump(ctx, ws, c.send)
}

// readPump drains and discards client frames (the protocol is server-push
// only) purely to keep gorilla/websocket's control-frame handling alive
// and detect disconnects.
func readPump(ctx context.Context, ws *websocket.Conn) {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, ws *websocket.Conn, send <-chan Envelope) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-send:
			if !ok {
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := writeEnvelope(ws, env); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEnvelope(ws *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}
