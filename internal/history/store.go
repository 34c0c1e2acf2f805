// Package history persists a record of every sync cycle a watch session
// runs, so past deploys can be listed after the session ends.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// DefaultRecentLimit caps Recent when no positive limit is given.
const DefaultRecentLimit = 20

const (
	sqlInsertCycle = `INSERT INTO sync_cycles
		(id, deployment, kind, updated, deleted, archive_size, action,
		 outcome, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlRecentAll = `SELECT id, deployment, kind, updated, deleted, archive_size,
		action, outcome, error, started_at, finished_at
		FROM sync_cycles ORDER BY started_at DESC, id LIMIT ?`

	sqlRecentByDeployment = `SELECT id, deployment, kind, updated, deleted, archive_size,
		action, outcome, error, started_at, finished_at
		FROM sync_cycles WHERE deployment = ? ORDER BY started_at DESC, id LIMIT ?`

	sqlPrune = `DELETE FROM sync_cycles WHERE finished_at < ?`
)

// ErrInvalidCycle is returned by Record for a cycle without an ID or
// deployment name.
var ErrInvalidCycle = errors.New("history: cycle requires id and deployment")

// Cycle is one stored sync cycle.
type Cycle struct {
	ID          string
	Deployment  string
	Kind        string
	Updated     int
	Deleted     int
	ArchiveSize int64
	Action      string
	Outcome     string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is how long the cycle took.
func (c *Cycle) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

// Store is the sole writer to the history database.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the SQLite database at dbPath and
// applies pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("history store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores c. IDs are unique; recording the same cycle twice fails.
func (s *Store) Record(ctx context.Context, c *Cycle) error {
	if c.ID == "" || c.Deployment == "" {
		return ErrInvalidCycle
	}

	var errText sql.NullString
	if c.Error != "" {
		errText = sql.NullString{String: c.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, sqlInsertCycle,
		c.ID, c.Deployment, c.Kind, c.Updated, c.Deleted, c.ArchiveSize, c.Action,
		c.Outcome, errText, c.StartedAt.UnixNano(), c.FinishedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("history: recording cycle %s: %w", c.ID, err)
	}

	return nil
}

// Recent returns up to limit cycles, newest first. An empty deployment
// returns cycles of every deployment.
func (s *Store) Recent(ctx context.Context, deployment string, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	var (
		rows *sql.Rows
		err  error
	)

	if deployment == "" {
		rows, err = s.db.QueryContext(ctx, sqlRecentAll, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, sqlRecentByDeployment, deployment, limit)
	}

	if err != nil {
		return nil, fmt.Errorf("history: querying cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle

	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}

		cycles = append(cycles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating cycles: %w", err)
	}

	return cycles, nil
}

// Prune deletes cycles that finished more than olderThan ago and returns
// how many were removed.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.nowFunc().Add(-olderThan).UnixNano()

	res, err := s.db.ExecContext(ctx, sqlPrune, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: pruning cycles: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: pruning cycles: %w", err)
	}

	if n > 0 {
		s.logger.Info("pruned sync history", slog.Int64("removed", n), slog.Duration("older_than", olderThan))
	}

	return n, nil
}

func scanCycle(rows *sql.Rows) (Cycle, error) {
	var (
		c                 Cycle
		errText           sql.NullString
		started, finished int64
	)

	if err := rows.Scan(&c.ID, &c.Deployment, &c.Kind, &c.Updated, &c.Deleted, &c.ArchiveSize,
		&c.Action, &c.Outcome, &errText, &started, &finished); err != nil {
		return Cycle{}, fmt.Errorf("history: scanning cycle: %w", err)
	}

	c.Error = errText.String
	c.StartedAt = time.Unix(0, started)
	c.FinishedAt = time.Unix(0, finished)

	return c, nil
}
