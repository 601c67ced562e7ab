// Package store persists coin listing events and job invocation records in
// sqlite (the default, a single lewis.db file) or postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL
	_ "modernc.org/sqlite"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// CoinEvent is one listing event for one coin. Rows are unique per
// (coin_id, event_name, event_date); replaying a window is a no-op.
type CoinEvent struct {
	ID           int64
	CoinID       string
	CoinName     string
	CoinSymbol   string
	CoinFullname string
	EventName    string
	EventDate    time.Time
}

// Invocation is one run of the designated job.
type Invocation struct {
	ID         string
	Job        string
	Status     string
	ExitCode   int
	Output     string
	Error      string
	StartedAt  int64
	FinishedAt int64
}

type Store struct {
	db     *sql.DB
	driver string
}

type DBDriver string

const (
	SQLite     DBDriver = "sqlite"
	PostgreSQL DBDriver = "postgres"
)

func Open(driver, path string) (*Store, error) {
	sqlDriver := driver
	if driver == "postgres" {
		sqlDriver = "pgx"
	}
	db, err := sql.Open(sqlDriver, path)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		db.Exec(`PRAGMA foreign_keys = ON`)
	}
	if driver == "postgres" {
		db.SetConnMaxIdleTime(15 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(100)
		db.SetConnMaxLifetime(1 * time.Hour)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) IsSQLite() bool {
	return DBDriver(s.driver) == SQLite
}

func (s *Store) IsPostgres() bool {
	return DBDriver(s.driver) == PostgreSQL
}

func (s *Store) migrate() error {
	idCol := `id INTEGER PRIMARY KEY AUTOINCREMENT`
	if s.IsPostgres() {
		idCol = `id BIGSERIAL PRIMARY KEY`
	}
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS coin_events (
        ` + idCol + `,
        coin_id TEXT NOT NULL,
        coin_name TEXT NOT NULL DEFAULT '',
        coin_symbol TEXT NOT NULL DEFAULT '',
        coin_fullname TEXT NOT NULL DEFAULT '',
        event_name TEXT NOT NULL DEFAULT '',
        event_date TEXT NOT NULL DEFAULT '',
        UNIQUE(coin_id, event_name, event_date)
    )`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_coin_events_coin_id ON coin_events(coin_id)`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS invocations (
        id TEXT PRIMARY KEY,
        job TEXT NOT NULL,
        status TEXT NOT NULL,
        exit_code INTEGER NOT NULL DEFAULT 0,
        output TEXT NOT NULL DEFAULT '',
        error TEXT NOT NULL DEFAULT '',
        started_at INTEGER NOT NULL DEFAULT 0,
        finished_at INTEGER NOT NULL DEFAULT 0
    )`)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_invocations_job_started ON invocations(job, started_at)`)
	return err
}

// SaveCoinEvent inserts the event unless an identical one is already
// recorded. Reports whether a new row was written.
func (s *Store) SaveCoinEvent(ctx context.Context, ev CoinEvent) (bool, error) {
	query := `INSERT OR IGNORE INTO coin_events (coin_id, coin_name, coin_symbol, coin_fullname, event_name, event_date)
        VALUES (?, ?, ?, ?, ?, ?)`
	if s.IsPostgres() {
		query = `INSERT INTO coin_events (coin_id, coin_name, coin_symbol, coin_fullname, event_name, event_date)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (coin_id, event_name, event_date) DO NOTHING`
	}
	res, err := s.db.ExecContext(ctx, query,
		ev.CoinID, ev.CoinName, ev.CoinSymbol, ev.CoinFullname, ev.EventName, formatEventDate(ev.EventDate),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CoinEvents(ctx context.Context) ([]CoinEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, coin_id, coin_name, coin_symbol, coin_fullname, event_name, event_date
        FROM coin_events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CoinEvent
	for rows.Next() {
		var ev CoinEvent
		var date string
		if err := rows.Scan(&ev.ID, &ev.CoinID, &ev.CoinName, &ev.CoinSymbol, &ev.CoinFullname, &ev.EventName, &date); err != nil {
			return nil, err
		}
		ev.EventDate = parseEventDate(date)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) StartInvocation(ctx context.Context, inv Invocation) error {
	query := `INSERT INTO invocations (id, job, status, exit_code, output, error, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.IsPostgres() {
		query = `INSERT INTO invocations (id, job, status, exit_code, output, error, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	}
	_, err := s.db.ExecContext(ctx, query,
		inv.ID, inv.Job, inv.Status, inv.ExitCode, inv.Output, inv.Error, inv.StartedAt, inv.FinishedAt,
	)
	return err
}

func (s *Store) FinishInvocation(ctx context.Context, id, status string, exitCode int, output, errMsg string, finishedAt int64) error {
	query := `UPDATE invocations SET status = ?, exit_code = ?, output = ?, error = ?, finished_at = ? WHERE id = ?`
	if s.IsPostgres() {
		query = `UPDATE invocations SET status = $1, exit_code = $2, output = $3, error = $4, finished_at = $5 WHERE id = $6`
	}
	res, err := s.db.ExecContext(ctx, query, status, exitCode, output, errMsg, finishedAt, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("not found")
	}
	return nil
}

// RecoverStale marks invocations still recorded as running as aborted. Such
// rows are left behind when the process dies mid-run. Returns how many were
// flipped.
func (s *Store) RecoverStale(ctx context.Context, finishedAt int64) (int64, error) {
	query := `UPDATE invocations SET status = ?, finished_at = ? WHERE status = ?`
	if s.IsPostgres() {
		query = `UPDATE invocations SET status = $1, finished_at = $2 WHERE status = $3`
	}
	res, err := s.db.ExecContext(ctx, query, StatusAborted, finishedAt, StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LastInvocation returns the most recent invocation of the named job, or nil
// when the job has never run.
func (s *Store) LastInvocation(ctx context.Context, job string) (*Invocation, error) {
	query := `SELECT id, job, status, exit_code, output, error, started_at, finished_at
        FROM invocations WHERE job = ? ORDER BY started_at DESC, id DESC LIMIT 1`
	if s.IsPostgres() {
		query = `SELECT id, job, status, exit_code, output, error, started_at, finished_at
        FROM invocations WHERE job = $1 ORDER BY started_at DESC, id DESC LIMIT 1`
	}
	var inv Invocation
	err := s.db.QueryRowContext(ctx, query, job).Scan(
		&inv.ID, &inv.Job, &inv.Status, &inv.ExitCode, &inv.Output, &inv.Error, &inv.StartedAt, &inv.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) Invocations(ctx context.Context, job string, limit int) ([]Invocation, error) {
	query := `SELECT id, job, status, exit_code, output, error, started_at, finished_at
        FROM invocations WHERE job = ? ORDER BY started_at DESC, id DESC LIMIT ?`
	if s.IsPostgres() {
		query = `SELECT id, job, status, exit_code, output, error, started_at, finished_at
        FROM invocations WHERE job = $1 ORDER BY started_at DESC, id DESC LIMIT $2`
	}
	rows, err := s.db.QueryContext(ctx, query, job, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		if err := rows.Scan(&inv.ID, &inv.Job, &inv.Status, &inv.ExitCode, &inv.Output, &inv.Error, &inv.StartedAt, &inv.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func formatEventDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseEventDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
