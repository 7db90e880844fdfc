package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	filterMu sync.RWMutex
	filters  clientFilters
}

// clientFilters narrows which records a client receives. Empty slices
// mean no restriction on that axis.
type clientFilters struct {
	Feeds []string `json:"feeds"` // feed keys like "ESU5:1"
	Kinds []string `json:"kinds"` // "snapshot", "bias", "diag"
}

// matches reports whether a record of the given kind and feed passes
// this client's filters.
func (c *Client) matches(kind, feed string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()

	if len(c.filters.Kinds) > 0 && !contains(c.filters.Kinds, kind) {
		return false
	}
	if len(c.filters.Feeds) > 0 && !contains(c.filters.Feeds, feed) {
		return false
	}
	return true
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// sendInitialState pushes the latest payload per channel so a fresh
// client has state before the first live broadcast arrives.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for channel, entry := range c.hub.latest {
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel": channel,
			"data":    json.RawMessage(entry.Data),
			"ts":      entry.TS.Format(time.RFC3339Nano),
			"seq":     entry.Seq,
			"initial": true,
		})
		select {
		case c.send <- envelope:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: batch queued messages into a single
			// WebSocket frame with newline separators
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "FILTER":
			var fm struct {
				Feeds []string `json:"feeds"`
				Kinds []string `json:"kinds"`
			}
			if err := json.Unmarshal(msg, &fm); err != nil {
				continue
			}
			c.filterMu.Lock()
			c.filters = clientFilters{Feeds: fm.Feeds, Kinds: fm.Kinds}
			c.filterMu.Unlock()
			log.Printf("[gateway] client filter updated: feeds=%v kinds=%v", fm.Feeds, fm.Kinds)

		case "REPLAY":
			var rm struct {
				Channel string `json:"channel"`
				From    int64  `json:"from_seq"`
				To      int64  `json:"to_seq"`
			}
			if err := json.Unmarshal(msg, &rm); err != nil {
				continue
			}
			for _, env := range c.hub.ReplayRange(rm.Channel, rm.From, rm.To) {
				select {
				case c.send <- env:
				default:
				}
			}

		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]interface{}{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}
