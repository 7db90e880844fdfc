// Package sqlite journals engine records to a local SQLite database and
// stores tracker checkpoints so snapshot lineage survives restarts.
// Writes are batched in transactions; a single connection keeps SQLite in
// its single-writer comfort zone.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"snapsig/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/records.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// CommitDur is an optional latency hook (seconds), fed to metrics.
	CommitDur func(sec float64)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer connection pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite-sink] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			feed       TEXT    NOT NULL,
			bar_index  INTEGER NOT NULL,
			scope      TEXT    NOT NULL,
			reference  REAL    NOT NULL,
			upper      REAL    NOT NULL,
			lower      REAL    NOT NULL,
			corrected  INTEGER NOT NULL,
			violations TEXT,
			run_id     TEXT,
			ts         INTEGER NOT NULL,
			PRIMARY KEY (feed, bar_index, scope)
		);

		CREATE TABLE IF NOT EXISTS bias_signals (
			feed       TEXT    NOT NULL,
			bar_index  INTEGER NOT NULL,
			last_price REAL    NOT NULL,
			bias       TEXT    NOT NULL,
			primary_t  REAL    NOT NULL,
			secondary_t REAL   NOT NULL,
			confidence REAL    NOT NULL,
			run_id     TEXT,
			ts         INTEGER NOT NULL,
			PRIMARY KEY (feed, bar_index)
		);

		CREATE TABLE IF NOT EXISTS diagnostics (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			feed      TEXT    NOT NULL,
			bar_index INTEGER NOT NULL,
			reason    TEXT    NOT NULL,
			detail    TEXT,
			run_id    TEXT,
			ts        INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS tracker_checkpoints (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Run consumes records from recCh and inserts them in batched transactions.
// Flushes every batchSize records OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or recCh is closed.
func (w *Writer) Run(ctx context.Context, recCh <-chan model.Record) {
	batch := make([]model.Record, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite-sink] batch insert error: %v", err)
		}
		if w.CommitDur != nil {
			w.CommitDur(time.Since(start).Seconds())
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case rec, ok := <-recCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch writes a mixed batch of records in one transaction.
func (w *Writer) insertBatch(batch []model.Record) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	snapStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO snapshots
		(feed, bar_index, scope, reference, upper, lower, corrected, violations, run_id, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshots: %w", err)
	}
	defer snapStmt.Close()

	biasStmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bias_signals
		(feed, bar_index, last_price, bias, primary_t, secondary_t, confidence, run_id, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare bias: %w", err)
	}
	defer biasStmt.Close()

	diagStmt, err := tx.Prepare(`
		INSERT INTO diagnostics (feed, bar_index, reason, detail, run_id, ts)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare diagnostics: %w", err)
	}
	defer diagStmt.Close()

	for _, rec := range batch {
		switch r := rec.(type) {
		case *model.SnapshotRecord:
			viol, _ := json.Marshal(r.Violations)
			_, err = snapStmt.Exec(r.Feed, r.BarIndex, string(r.Scope),
				r.Reference, r.Upper, r.Lower, boolToInt(r.Corrected),
				string(viol), r.RunID, r.TS.Unix())
		case *model.BiasRecord:
			_, err = biasStmt.Exec(r.Feed, r.BarIndex, r.LastPrice, string(r.Bias),
				r.Primary, r.Secondary, r.Confidence, r.RunID, r.TS.Unix())
		case *model.DiagnosticRecord:
			_, err = diagStmt.Exec(r.Feed, r.BarIndex, string(r.Reason),
				r.Detail, r.RunID, r.TS.Unix())
		}
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	return tx.Commit()
}

// SaveCheckpoint persists a tracker checkpoint as raw JSON.
func (w *Writer) SaveCheckpoint(data []byte) error {
	_, err := w.db.Exec(`INSERT INTO tracker_checkpoints (data) VALUES (?)`, string(data))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	// Keep only the most recent few checkpoints
	w.db.Exec(`DELETE FROM tracker_checkpoints WHERE id NOT IN
		(SELECT id FROM tracker_checkpoints ORDER BY id DESC LIMIT 10)`)
	return nil
}

// ReadLatestCheckpoint loads the most recent checkpoint JSON.
// Returns nil, nil when none exists.
func (w *Writer) ReadLatestCheckpoint() ([]byte, error) {
	var data string
	err := w.db.QueryRow(`SELECT data FROM tracker_checkpoints ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return []byte(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
