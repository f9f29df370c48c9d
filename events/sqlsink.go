package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/atomic"
)

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

const (
	sqlQueueSize   = 256
	sqlSaveTimeout = 5 * time.Second
)

// SQLSink persists events for indexers in Postgres or MySQL. Emit only queues
// the event; a single writer saves them in order. When the queue is full the
// event is dropped and counted, so a stalled database never holds up the engine.
type SQLSink struct {
	db      *sql.DB
	driver  string
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64
}

// SQLConfig contains connection settings for the event store.
type SQLConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// OpenSQLSink connects, pings and migrates the event table.
func OpenSQLSink(cfg SQLConfig) (*SQLSink, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported event store driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return NewSQLSink(db, cfg.Driver), nil
}

// NewSQLSink wraps an already opened and migrated database and starts the writer.
func NewSQLSink(db *sql.DB, driver string) *SQLSink {
	s := &SQLSink{
		db:      db,
		driver:  driver,
		timeout: sqlSaveTimeout,
		queue:   make(chan Event, sqlQueueSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS auction_events (
		id VARCHAR(26) PRIMARY KEY,
		kind VARCHAR(64) NOT NULL,
		token_id BIGINT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		payload TEXT NOT NULL
	)`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := db.ExecContext(ctx, schema)
	return err
}

// insertQuery returns the insert statement with the driver's placeholder style.
func (s *SQLSink) insertQuery() string {
	query := `INSERT INTO auction_events (id, kind, token_id, occurred_at, payload) VALUES (?, ?, ?, ?, ?)`
	if s.driver != DriverPostgres {
		return query
	}
	for i := 1; strings.Contains(query, "?"); i++ {
		query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
	}
	return query
}

// Save writes one event.
func (s *SQLSink) Save(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, s.insertQuery(), ev.ID, string(ev.Kind), int64(ev.TokenID), ev.Time, string(payload))
	return err
}

// Emit implements Sink. It never blocks on the database.
func (s *SQLSink) Emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Inc()
		return
	}
	select {
	case s.queue <- ev:
	default:
		n := s.dropped.Inc()
		log.Printf("WARNING: Event store queue full, dropped %s event %s (%d dropped)", ev.Kind, ev.ID, n)
	}
}

// Dropped returns how many events were never queued.
func (s *SQLSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *SQLSink) run() {
	defer close(s.done)
	for ev := range s.queue {
		if err := s.Save(context.Background(), ev); err != nil {
			log.Printf("ERROR: Failed to persist %s event %s: %v", ev.Kind, ev.ID, err)
		}
	}
}

// ListByToken returns the stored events for a token in id (ULID, so time) order.
func (s *SQLSink) ListByToken(ctx context.Context, tokenID uint64) ([]Event, error) {
	query := `SELECT payload FROM auction_events WHERE token_id = ? ORDER BY id`
	if s.driver == DriverPostgres {
		query = strings.Replace(query, "?", "$1", 1)
	}

	rows, err := s.db.QueryContext(ctx, query, int64(tokenID))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close stops accepting events, waits for queued ones to be written and
// closes the database.
func (s *SQLSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}
