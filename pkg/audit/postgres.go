// Package audit records identity-lifecycle events — validated,
// handshake completed, revoked — to PostgreSQL and a Redis recent-event
// cache. It is a pure observer: nothing in pkg/plugin, pkg/identity or
// pkg/handshake consults it to make a trust decision, so a down audit
// store never blocks or changes an authentication outcome.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/shadowmesh/ddsauth/pkg/registry"
)

// EventKind classifies a recorded identity-lifecycle event.
type EventKind string

const (
	EventLocalValidated      EventKind = "local_identity_validated"
	EventRemoteValidated     EventKind = "remote_identity_validated"
	EventHandshakeCompleted  EventKind = "handshake_completed"
	EventHandshakeFailed     EventKind = "handshake_failed"
	EventIdentityRevoked     EventKind = "identity_revoked"
)

// Event is one row of the audit trail.
type Event struct {
	Handle     registry.Handle
	Kind       EventKind
	Detail     string
	OccurredAt time.Time
}

// PostgresStore persists Events.
type PostgresStore struct {
	db *sql.DB
}

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(config Config) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &PostgresStore{db: db}
	if err := store.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Println("audit: PostgreSQL connection established")
	return store, nil
}

// InitSchema creates the audit_events table if it doesn't exist.
func (ps *PostgresStore) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		handle BIGINT NOT NULL,
		kind VARCHAR(64) NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_handle ON audit_events(handle);
	CREATE INDEX IF NOT EXISTS idx_audit_events_kind ON audit_events(kind);
	CREATE INDEX IF NOT EXISTS idx_audit_events_occurred_at ON audit_events(occurred_at);
	`

	_, err := ps.db.Exec(schema)
	return err
}

// Record appends an Event to the audit trail.
func (ps *PostgresStore) Record(e Event) error {
	query := `
		INSERT INTO audit_events (handle, kind, detail, occurred_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := ps.db.Exec(query, uint64(e.Handle), string(e.Kind), e.Detail, e.OccurredAt)
	return err
}

// EventsForHandle returns every recorded event for handle, oldest first.
func (ps *PostgresStore) EventsForHandle(h registry.Handle) ([]Event, error) {
	query := `
		SELECT handle, kind, detail, occurred_at
		FROM audit_events
		WHERE handle = $1
		ORDER BY occurred_at ASC
	`
	rows, err := ps.db.Query(query, uint64(h))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var handle uint64
		var kind string
		if err := rows.Scan(&handle, &kind, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.Handle = registry.Handle(handle)
		e.Kind = EventKind(kind)
		events = append(events, e)
	}
	return events, nil
}

// DeleteOlderThan removes audit rows older than the given age, returning
// the number of rows deleted.
func (ps *PostgresStore) DeleteOlderThan(age time.Duration) (int, error) {
	threshold := time.Now().Add(-age)
	result, err := ps.db.Exec(`DELETE FROM audit_events WHERE occurred_at < $1`, threshold)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// Close closes the database connection.
func (ps *PostgresStore) Close() error {
	log.Println("audit: closing PostgreSQL connection")
	return ps.db.Close()
}
