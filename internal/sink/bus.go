// Package sink fans engine records out to the configured emission backends.
// The engine's cycle must never block on persistence, so the bus hands each
// record to every subscriber channel and drops it for a subscriber whose
// buffer is full rather than stalling the pipeline.
package sink

import (
	"log"
	"sync"

	"snapsig/internal/model"
)

// Bus broadcasts records from the engine to N subscriber channels.
// Implements model.RecordSink.
type Bus struct {
	mu      sync.RWMutex
	outputs []chan model.Record
	names   []string
	bufSize int
	closed  bool

	// OnDrop is called when a record is dropped for a subscriber.
	OnDrop func(subscriber string)
}

// NewBus creates a Bus with the given buffer size for subscriber channels.
func NewBus(bufferSize int) *Bus {
	return &Bus{
		bufSize: bufferSize,
	}
}

// Subscribe registers a named consumer and returns its channel.
func (b *Bus) Subscribe(name string) <-chan model.Record {
	ch := make(chan model.Record, b.bufSize)
	b.mu.Lock()
	b.outputs = append(b.outputs, ch)
	b.names = append(b.names, name)
	b.mu.Unlock()
	return ch
}

// Emit broadcasts one record to all subscribers. Non-blocking: a full
// subscriber loses the record (and OnDrop fires for it).
func (b *Bus) Emit(r model.Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for i, ch := range b.outputs {
		select {
		case ch <- r:
		default:
			if b.OnDrop != nil {
				b.OnDrop(b.names[i])
			} else {
				log.Printf("[sink] %s channel full, dropping %s record for %s",
					b.names[i], r.RecordKind(), r.FeedKey())
			}
		}
	}
}

// Close closes all subscriber channels. Emit becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.outputs {
		close(ch)
	}
}

// ChannelStat reports one subscriber channel's occupancy, for saturation metrics.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns occupancy for every subscriber channel.
func (b *Bus) ChannelStats() []ChannelStat {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stats := make([]ChannelStat, len(b.outputs))
	for i, ch := range b.outputs {
		stats[i] = ChannelStat{Name: b.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
