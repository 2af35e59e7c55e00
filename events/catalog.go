package events

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

const upsertSession = `
INSERT INTO capture_sessions
    (object_key, kind, status, bytes, parts, location, error_message, started_at, stopped_at, finished_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11)
ON CONFLICT (object_key) DO UPDATE SET
    status        = CASE WHEN capture_sessions.status IN ('completed', 'failed')
                         THEN capture_sessions.status ELSE EXCLUDED.status END,
    bytes         = GREATEST(capture_sessions.bytes, EXCLUDED.bytes),
    parts         = GREATEST(capture_sessions.parts, EXCLUDED.parts),
    location      = COALESCE(EXCLUDED.location, capture_sessions.location),
    error_message = COALESCE(EXCLUDED.error_message, capture_sessions.error_message),
    started_at    = COALESCE(capture_sessions.started_at, EXCLUDED.started_at),
    stopped_at    = COALESCE(capture_sessions.stopped_at, EXCLUDED.stopped_at),
    finished_at   = COALESCE(capture_sessions.finished_at, EXCLUDED.finished_at),
    updated_at    = EXCLUDED.updated_at`

// execer is the part of pgxpool.Pool the catalog writes through.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Catalog keeps one row per session in Postgres, updated by every event.
type Catalog struct {
	db   execer
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// OpenCatalog applies the embedded migrations to the database and connects
// a pool to it.
func OpenCatalog(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Catalog, error) {
	if err := runMigrations(databaseURL, logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info().Msg("session catalog connected")
	return &Catalog{db: pool, pool: pool, log: logger}, nil
}

func runMigrations(databaseURL string, logger zerolog.Logger) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug().Msg("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	}
	return nil
}

// sessionRow is the set of columns an event writes.
type sessionRow struct {
	key      string
	kind     string
	status   string
	bytes    int64
	parts    int
	location string
	errMsg   string
	started  *time.Time
	stopped  *time.Time
	finished *time.Time
	updated  time.Time
}

func rowFor(event Event) sessionRow {
	at := event.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	row := sessionRow{
		key:      event.Key,
		kind:     string(event.Kind),
		bytes:    event.Bytes,
		parts:    event.Parts,
		location: event.Location,
		errMsg:   event.Error,
		updated:  at,
	}
	switch event.Action {
	case StartStreaming:
		row.status = "streaming"
		row.started = &at
	case StopStreaming:
		row.status = "stopping"
		row.stopped = &at
	case UploadCompleted:
		row.status = "completed"
		row.finished = &at
	case UploadFailed:
		row.status = "failed"
		row.finished = &at
	default:
		row.status = string(event.Action)
	}
	return row
}

func (c *Catalog) Notify(ctx context.Context, event Event) error {
	if event.Key == "" {
		return fmt.Errorf("object key is required")
	}
	row := rowFor(event)
	_, err := c.db.Exec(ctx, upsertSession,
		row.key, row.kind, row.status, row.bytes, row.parts, row.location, row.errMsg,
		row.started, row.stopped, row.finished, row.updated)
	if err != nil {
		return fmt.Errorf("failed to record %s for %s: %w", event.Action, event.Key, err)
	}
	return nil
}

func (c *Catalog) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
