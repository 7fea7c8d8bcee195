// Package db provides the optional Postgres connection, schema migration, and
// small data access helpers for the sweep log and the chat history buffer.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: empty DSN")
	}
	dbc, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	dbc.SetMaxOpenConns(10)
	dbc.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbc.PingContext(pingCtx); err != nil {
		_ = dbc.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return dbc, nil
}

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, dbc *sql.DB) error {
	if err := dbc.PingContext(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return RunMigrations(dbc)
}

// SetKV upserts a key/value pair.
func SetKV(ctx context.Context, dbc *sql.DB, key, value string) error {
	_, err := dbc.ExecContext(ctx, `INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	if err != nil {
		return fmt.Errorf("set kv %s: %w", key, err)
	}
	return nil
}

// GetKV returns the value for key, or "" when unset.
func GetKV(ctx context.Context, dbc *sql.DB, key string) (string, error) {
	var v sql.NullString
	err := dbc.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get kv %s: %w", key, err)
	}
	return v.String, nil
}

// KeySweepLast holds the RFC 3339 finish time of the latest recorded sweep.
const KeySweepLast = "job_sweep_last"

// ChannelRecord is one channel's outcome within a recorded sweep.
type ChannelRecord struct {
	ChannelID string
	OK        bool
	Ref       string
	Messages  int
	Error     string
}

// SweepRecord is one row of the sweep log.
type SweepRecord struct {
	ID         string
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Archived   int
	Failed     int
	Error      string
	Channels   []ChannelRecord
}

// RecordSweep stores a sweep and its channel results in one transaction and
// updates KeySweepLast.
func RecordSweep(ctx context.Context, dbc *sql.DB, rec SweepRecord) (err error) {
	tx, err := dbc.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sweep log tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("sweep log rollback failed", slog.Any("err", rbErr), slog.String("component", "db"))
			}
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO sweep_runs (id, trigger, started_at, finished_at, archived, failed, error)
		VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''))`,
		rec.ID, rec.Trigger, rec.StartedAt, rec.FinishedAt, rec.Archived, rec.Failed, rec.Error)
	if err != nil {
		return fmt.Errorf("insert sweep %s: %w", rec.ID, err)
	}
	for _, ch := range rec.Channels {
		_, err = tx.ExecContext(ctx, `INSERT INTO sweep_channel_results (sweep_id, channel_id, ok, ref, messages, error)
			VALUES ($1,$2,$3,NULLIF($4,''),$5,NULLIF($6,''))`,
			rec.ID, ch.ChannelID, ch.OK, ch.Ref, ch.Messages, ch.Error)
		if err != nil {
			return fmt.Errorf("insert sweep %s channel %s: %w", rec.ID, ch.ChannelID, err)
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		KeySweepLast, rec.FinishedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("update %s: %w", KeySweepLast, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit sweep log: %w", err)
	}
	return nil
}

// RecentSweeps returns up to limit sweeps, newest first, without channel detail.
func RecentSweeps(ctx context.Context, dbc *sql.DB, limit int) ([]SweepRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := dbc.QueryContext(ctx, `SELECT id, trigger, started_at, finished_at, archived, failed, COALESCE(error,'')
		FROM sweep_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sweeps: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []SweepRecord
	for rows.Next() {
		var r SweepRecord
		if err := rows.Scan(&r.ID, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.Archived, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("scan sweep: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SweepChannels returns the channel results recorded for one sweep.
func SweepChannels(ctx context.Context, dbc *sql.DB, sweepID string) ([]ChannelRecord, error) {
	rows, err := dbc.QueryContext(ctx, `SELECT channel_id, ok, COALESCE(ref,''), messages, COALESCE(error,'')
		FROM sweep_channel_results WHERE sweep_id=$1 ORDER BY id`, sweepID)
	if err != nil {
		return nil, fmt.Errorf("query sweep channels: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []ChannelRecord
	for rows.Next() {
		var c ChannelRecord
		if err := rows.Scan(&c.ChannelID, &c.OK, &c.Ref, &c.Messages, &c.Error); err != nil {
			return nil, fmt.Errorf("scan sweep channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
