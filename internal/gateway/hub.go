// Package gateway exposes the record stream to WebSocket subscribers.
// Each emitted record is wrapped in an envelope carrying its channel
// name, a per-channel sequence number and a timestamp. New clients get
// the latest known state per channel on connect; a small replay buffer
// lets clients backfill short gaps by sequence range.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"snapsig/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// Hub manages WebSocket clients and fans records out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seqs    map[string]int64
	replays map[string]*ReplayBuffer

	// OnClientCount is called whenever the client count changes (metrics hook).
	OnClientCount func(n int)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		seqs:    make(map[string]int64),
		replays: make(map[string]*ReplayBuffer),
	}
}

// Run consumes records from ch (a sink bus subscription) until ctx is
// cancelled or ch closes, broadcasting each to matching clients.
func (h *Hub) Run(ctx context.Context, ch <-chan model.Record) {
	log.Printf("[gateway] hub started")
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(rec)
		}
	}
}

// channelName builds the per-record channel: "rec:{kind}:{feed}".
func channelName(rec model.Record) string {
	return "rec:" + string(rec.RecordKind()) + ":" + rec.FeedKey()
}

// Broadcast wraps one record in an envelope and delivers it to every
// client whose filters match. Slow clients are skipped, never awaited.
func (h *Hub) Broadcast(rec model.Record) {
	channel := channelName(rec)
	data := rec.JSON()
	now := time.Now()

	h.mu.Lock()
	h.seqs[channel]++
	seq := h.seqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: seq}
	rb := h.replays[channel]
	if rb == nil {
		rb = NewReplayBuffer(0)
		h.replays[channel] = rb
	}
	h.mu.Unlock()

	envelope, _ := json.Marshal(map[string]interface{}{
		"channel": channel,
		"data":    json.RawMessage(data),
		"ts":      now.Format(time.RFC3339Nano),
		"seq":     seq,
	})
	rb.Push(seq, envelope)

	h.mu.RLock()
	for client := range h.clients {
		if !client.matches(string(rec.RecordKind()), rec.FeedKey()) {
			continue
		}
		select {
		case client.send <- envelope:
		default:
			// client too slow, drop
		}
	}
	h.mu.RUnlock()
}

// HandleWS upgrades an HTTP request to WebSocket and registers the client.
// Attach to a mux at e.g. "/ws".
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient deregisters a client and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// LatestAll returns a copy of the latest payload per channel.
func (h *Hub) LatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ReplayRange returns buffered envelopes for a channel with sequence
// numbers in [fromSeq, toSeq], oldest first. Used for gap backfill.
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb := h.replays[channel]
	h.mu.RUnlock()
	if rb == nil {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
