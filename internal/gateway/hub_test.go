package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"snapsig/internal/model"
)

func testSnapshot(feed string, bar int) *model.SnapshotRecord {
	return &model.SnapshotRecord{
		Type: model.KindSnapshot, Feed: feed, BarIndex: bar, Scope: model.ScopeCurrent,
		Reference: 6451.5, Upper: 6454, Lower: 6430, TS: time.Now(),
	}
}

func testBias(feed string, bar int) *model.BiasRecord {
	return &model.BiasRecord{
		Type: model.KindBias, Feed: feed, BarIndex: bar, LastPrice: 6460,
		Bias: model.BreakoutUp, Primary: 6451.5, Secondary: 6454, Confidence: 0.25,
		TS: time.Now(),
	}
}

// fakeClient registers a client without a real websocket connection.
func fakeClient(h *Hub, buf int) *Client {
	c := &Client{send: make(chan []byte, buf), hub: h}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastEnvelope(t *testing.T) {
	h := NewHub()
	c := fakeClient(h, 8)

	h.Broadcast(testSnapshot("ESU5:1", 100))

	msgs := drain(c)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}

	var env struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
		Seq     int64           `json:"seq"`
		TS      string          `json:"ts"`
	}
	if err := json.Unmarshal(msgs[0], &env); err != nil {
		t.Fatalf("envelope unmarshal: %v", err)
	}
	if env.Channel != "rec:snapshot:ESU5:1" {
		t.Errorf("channel = %q", env.Channel)
	}
	if env.Seq != 1 {
		t.Errorf("seq = %d, want 1", env.Seq)
	}
	var rec model.SnapshotRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		t.Fatalf("data unmarshal: %v", err)
	}
	if rec.BarIndex != 100 {
		t.Errorf("bar_index = %d, want 100", rec.BarIndex)
	}
}

func TestBroadcastSeqPerChannel(t *testing.T) {
	h := NewHub()
	h.Broadcast(testSnapshot("ESU5:1", 100))
	h.Broadcast(testSnapshot("ESU5:1", 101))
	h.Broadcast(testBias("ESU5:1", 101))

	if got := h.ChannelSeq("rec:snapshot:ESU5:1"); got != 2 {
		t.Errorf("snapshot seq = %d, want 2", got)
	}
	if got := h.ChannelSeq("rec:bias:ESU5:1"); got != 1 {
		t.Errorf("bias seq = %d, want 1", got)
	}
}

func TestClientFilters(t *testing.T) {
	h := NewHub()
	c := fakeClient(h, 8)
	c.filters = clientFilters{Feeds: []string{"NQU5:3"}, Kinds: []string{"bias"}}

	h.Broadcast(testSnapshot("NQU5:3", 10)) // wrong kind
	h.Broadcast(testBias("ESU5:1", 10))     // wrong feed
	h.Broadcast(testBias("NQU5:3", 10))     // match

	msgs := drain(c)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	h := NewHub()
	c := fakeClient(h, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			h.Broadcast(testSnapshot("ESU5:1", 100+i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on slow client")
	}
	if got := len(drain(c)); got != 1 {
		t.Errorf("slow client buffered %d, want 1", got)
	}
}

func TestLatestAll(t *testing.T) {
	h := NewHub()
	h.Broadcast(testSnapshot("ESU5:1", 100))
	h.Broadcast(testSnapshot("ESU5:1", 101))

	latest := h.LatestAll()
	raw, ok := latest["rec:snapshot:ESU5:1"]
	if !ok {
		t.Fatal("missing latest entry")
	}
	var rec model.SnapshotRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.BarIndex != 101 {
		t.Errorf("latest bar_index = %d, want 101", rec.BarIndex)
	}
}

func TestReplayRange(t *testing.T) {
	h := NewHub()
	for i := 0; i < 10; i++ {
		h.Broadcast(testSnapshot("ESU5:1", 100+i))
	}

	envs := h.ReplayRange("rec:snapshot:ESU5:1", 4, 7)
	if len(envs) != 4 {
		t.Fatalf("got %d envelopes, want 4", len(envs))
	}
	var env struct {
		Seq int64 `json:"seq"`
	}
	if err := json.Unmarshal(envs[0], &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Seq != 4 {
		t.Errorf("first seq = %d, want 4", env.Seq)
	}
	if h.ReplayRange("rec:snapshot:unknown", 0, 100) != nil {
		t.Error("unknown channel should return nil")
	}
}

func TestReplayBufferEviction(t *testing.T) {
	rb := NewReplayBuffer(4)
	for i := int64(1); i <= 6; i++ {
		rb.Push(i, []byte{byte(i)})
	}
	if rb.Len() != 4 {
		t.Fatalf("len = %d, want 4", rb.Len())
	}
	entries := rb.Range(1, 6)
	if len(entries) != 4 || entries[0].Seq != 3 || entries[3].Seq != 6 {
		t.Errorf("unexpected range after eviction: %+v", entries)
	}
}

func TestRemoveClientIdempotent(t *testing.T) {
	h := NewHub()
	c := fakeClient(h, 1)
	h.RemoveClient(c)
	h.RemoveClient(c) // second call must not panic on closed channel
	if h.ClientCount() != 0 {
		t.Errorf("client count = %d, want 0", h.ClientCount())
	}
}
