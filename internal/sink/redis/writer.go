// Package redis persists engine records to Redis: an XADD per record for
// durable tailing, a SET of the latest value per (kind, feed) for cheap
// lookups, and a PUBLISH for live subscribers.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"
	"unsafe"

	"snapsig/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: a few trading days of 30m bars per feed, with slack
	// for diagnostics bursts during host outages.
	streamMaxLen = 4096

	defaultLatestTTL = 24 * time.Hour

	defaultBreakerMaxFailures  = 5
	defaultBreakerResetTimeout = 10 * time.Second
)

// WriterConfig configures the Redis record writer.
type WriterConfig struct {
	Addr     string
	Password string
	DB       int

	// Circuit breaker tuning. Zero values fall back to the defaults.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// Writer writes snapshot, bias and diagnostic records to Redis.
type Writer struct {
	client  *goredis.Client
	breaker *CircuitBreaker

	// WriteDur is an optional latency hook (seconds), fed to metrics.
	WriteDur func(sec float64)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	resetTimeout := cfg.BreakerResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = defaultBreakerResetTimeout
	}
	breaker := NewCircuitBreaker(maxFailures, resetTimeout)
	breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis-sink] circuit breaker %s -> %s", from, to)
	}

	log.Printf("[redis-sink] connected to %s", cfg.Addr)
	return &Writer{client: client, breaker: breaker}, nil
}

// Run consumes records from recCh and writes them until ctx is cancelled
// or the channel is closed.
func (w *Writer) Run(ctx context.Context, recCh <-chan model.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-recCh:
			if !ok {
				return
			}
			w.write(ctx, rec)
		}
	}
}

// write performs XADD + SET + PUBLISH for one record in a single pipeline.
func (w *Writer) write(ctx context.Context, rec model.Record) {
	jsonBytes := rec.JSON()
	// Zero-copy []byte→string (safe: jsonBytes is not mutated after this)
	jsonData := *(*string)(unsafe.Pointer(&jsonBytes))

	kind := string(rec.RecordKind())
	feed := rec.FeedKey()
	streamKey := "rec:" + kind + ":" + feed
	latestKey := "rec:latest:" + kind + ":" + feed
	pubsubCh := "pub:rec:" + kind + ":" + feed

	start := time.Now()
	err := w.breaker.Execute(func() error {
		pipe := w.client.Pipeline()
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: streamKey,
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": jsonData},
		})
		pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)
		pipe.Publish(ctx, pubsubCh, jsonData)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil && err != ErrCircuitOpen && ctx.Err() == nil {
		log.Printf("[redis-sink] write %s %s: %v", kind, feed, err)
	}
	if w.WriteDur != nil {
		w.WriteDur(time.Since(start).Seconds())
	}
}

// SaveCheckpoint stores the tracker checkpoint JSON under a fixed key, so a
// restarting instance can restore lineage without touching SQLite.
func (w *Writer) SaveCheckpoint(ctx context.Context, key string, data []byte) error {
	if err := w.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpoint loads the tracker checkpoint JSON. Returns nil, nil when
// no checkpoint is stored.
func (w *Writer) ReadCheckpoint(ctx context.Context, key string) ([]byte, error) {
	data, err := w.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return data, nil
}

// Close releases the Redis connection.
func (w *Writer) Close() error {
	return w.client.Close()
}
