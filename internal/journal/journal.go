// Package journal keeps a local SQLite record of acquisition cycles and
// status resets so a device can be inspected without the backend.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/picron-io/picron-agent/internal/history"
	"github.com/picron-io/picron-agent/internal/sampling"
)

// The journal stores the records defined by package history.
type (
	Outcome = history.Outcome
	Cycle   = history.Cycle
	Reset   = history.Reset
)

const (
	OutcomeSubmitted    = history.OutcomeSubmitted
	OutcomeSubmitFailed = history.OutcomeSubmitFailed
	OutcomeAborted      = history.OutcomeAborted
	OutcomeFailed       = history.OutcomeFailed

	ResetDone      = history.ResetDone
	ResetAborted   = history.ResetAborted
	ResetFailed    = history.ResetFailed
	ResetCancelled = history.ResetCancelled
)

// DB is the journal database. It embeds *sql.DB, so ad-hoc queries such as
// the admin SQL console run on the same single connection as the recorder.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the journal at path and applies pending
// migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// A single connection keeps writes serialised and makes :memory: usable.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(Migrations()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// RecordCycle stores c.
func (db *DB) RecordCycle(ctx context.Context, c Cycle) error {
	var r, s, t, u, v, w, aux, temp sql.NullFloat64
	readings := 0
	if c.Sample != nil {
		ch := c.Sample.Channels
		r, s, t = nullFloat(ch[0]), nullFloat(ch[1]), nullFloat(ch[2])
		u, v, w = nullFloat(ch[3]), nullFloat(ch[4]), nullFloat(ch[5])
		aux, temp = nullFloat(c.Sample.Aux), nullFloat(c.Sample.Temperature)
		readings = c.Sample.Readings
	}
	var errText sql.NullString
	if c.Error != "" {
		errText = sql.NullString{String: c.Error, Valid: true}
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO cycles (
			cycle_id, subject, status, outcome, started_at, finished_at, readings,
			as7263_r, as7263_s, as7263_t, as7263_u, as7263_v, as7263_w,
			mq3_ppm, temperature, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Subject, c.Status, string(c.Outcome),
		c.Started.UTC().Format(timeLayout), c.Finished.UTC().Format(timeLayout), readings,
		r, s, t, u, v, w, aux, temp, errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle %s: %w", c.ID, err)
	}
	return nil
}

// RecordReset stores r.
func (db *DB) RecordReset(ctx context.Context, r Reset) error {
	var cycleID sql.NullString
	if r.CycleID != "" {
		cycleID = sql.NullString{String: r.CycleID, Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO resets (cycle_id, subject, outcome, at) VALUES (?, ?, ?, ?)`,
		cycleID, r.Subject, string(r.Outcome), r.At.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record reset: %w", err)
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first.
func (db *DB) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT cycle_id, subject, status, outcome, started_at, finished_at, readings,
			as7263_r, as7263_s, as7263_t, as7263_u, as7263_v, as7263_w,
			mq3_ppm, temperature, error
		FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query cycles: %w", err)
	}
	defer rows.Close()

	var cycles []Cycle
	for rows.Next() {
		var (
			c                 Cycle
			outcome           string
			started, finished string
			readings          int
			ch                [6]sql.NullFloat64
			aux, temp         sql.NullFloat64
			errText           sql.NullString
		)
		if err := rows.Scan(
			&c.ID, &c.Subject, &c.Status, &outcome, &started, &finished, &readings,
			&ch[0], &ch[1], &ch[2], &ch[3], &ch[4], &ch[5], &aux, &temp, &errText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		c.Outcome = Outcome(outcome)
		if c.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("failed to parse started_at %q: %w", started, err)
		}
		if c.Finished, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("failed to parse finished_at %q: %w", finished, err)
		}
		if ch[0].Valid {
			s := &sampling.Sample{Readings: readings, Aux: aux.Float64, Temperature: temp.Float64, Completed: c.Finished}
			for i := range ch {
				s.Channels[i] = ch[i].Float64
			}
			c.Sample = s
		}
		c.Error = errText.String
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// CountResets returns how many resets with the given outcome were recorded.
func (db *DB) CountResets(ctx context.Context, outcome Outcome) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resets WHERE outcome = ?`, string(outcome)).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}
