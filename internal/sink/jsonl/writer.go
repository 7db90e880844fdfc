// Package jsonl writes engine records as JSON Lines to a rotating file,
// the on-disk format downstream analysis tooling tails. Rotation, size
// capping and retention are delegated to lumberjack.
package jsonl

import (
	"context"
	"io"
	"log"
	"sync"

	"snapsig/internal/model"

	"gopkg.in/natefinch/lumberjack.v2"
)

// WriterConfig configures the JSONL writer.
type WriterConfig struct {
	Path       string // e.g. "data/records.jsonl"
	MaxSizeMB  int    // rotate above this size; lumberjack default when 0
	MaxBackups int    // rotated files to retain
	MaxAgeDays int    // days to retain rotated files
}

// Writer appends one JSON object per line per record.
type Writer struct {
	mu  sync.Mutex
	out io.WriteCloser
}

// New creates a JSONL writer over a rotating file.
func New(cfg WriterConfig) *Writer {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Writer{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		},
	}
}

// NewWithOutput creates a Writer over an arbitrary destination (tests,
// stdout replay).
func NewWithOutput(out io.WriteCloser) *Writer {
	return &Writer{out: out}
}

// Run consumes records until ctx is cancelled or the channel closes.
func (w *Writer) Run(ctx context.Context, recCh <-chan model.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-recCh:
			if !ok {
				return
			}
			w.Write(rec)
		}
	}
}

// Write appends a single record line.
func (w *Writer) Write(rec model.Record) {
	line := append(rec.JSON(), '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(line); err != nil {
		log.Printf("[jsonl-sink] write error: %v", err)
	}
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}
