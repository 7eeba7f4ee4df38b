// Package store keeps the history of runs and their results in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

type Run struct {
	UUID          string
	Started       time.Time
	Finished      *time.Time
	Units         int
	Success       *bool
	FailureReason *string
}

type RunRow struct {
	Run
	ID int
}

func (r RunRow) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uuid: %q, units: %d, started: %s", r.UUID, r.Units, r.Started.Format(time.RFC3339))
	if r.Success != nil {
		fmt.Fprintf(&sb, ", success: %t", *r.Success)
	} else {
		sb.WriteString(", success: nil")
	}
	if r.FailureReason != nil {
		fmt.Fprintf(&sb, ", failure_reason: %q", *r.FailureReason)
	}
	return sb.String()
}

type ResultRow struct {
	Mutation    string
	Status      model.DetectionStatus
	KillingTest *string
	TestsRun    int
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			started INTEGER NOT NULL,
			finished INTEGER DEFAULT NULL,
			units INTEGER NOT NULL,
			success BOOLEAN DEFAULT NULL,
			failure_reason TEXT DEFAULT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_uuid TEXT NOT NULL REFERENCES runs(uuid),
			mutation TEXT NOT NULL,
			status TEXT NOT NULL,
			killing_test TEXT DEFAULT NULL,
			tests_run INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS results_run_uuid ON results(run_uuid)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "rolling back transaction failed", slog.String("run", uuid), "error", err)
	}
}

// StartRun records a new run of units mutation units.
func StartRun(ctx context.Context, db *sql.DB, uuid string, units int, started time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (uuid, started, units) VALUES (?,?,?)`, uuid, started.UnixMilli(), units,
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	return nil
}

// FinishRun marks a run finished, runErr nil meaning success. It returns
// ErrNotFound for unknown runs and ErrAlreadyFinished for finished ones.
func FinishRun(ctx context.Context, db *sql.DB, uuid string, runErr error, finished time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var done sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT finished FROM runs WHERE uuid=?`, uuid).Scan(&done)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	case done.Valid:
		return ErrAlreadyFinished
	}

	var reason *string
	if runErr != nil {
		s := runErr.Error()
		reason = &s
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET finished=?, success=?, failure_reason=? WHERE uuid=?`,
		finished.UnixMilli(), runErr == nil, reason, uuid,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

func GetRun(ctx context.Context, db *sql.DB, uuid string) (RunRow, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, uuid, started, finished, units, success, failure_reason FROM runs WHERE uuid=?`, uuid,
	)
	r, err := scanRun(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return RunRow{}, ErrNotFound
	case err != nil:
		return RunRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func ListRuns(ctx context.Context, db *sql.DB, limit int) ([]RunRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, uuid, started, finished, units, success, failure_reason FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

func Results(ctx context.Context, db *sql.DB, uuid string) ([]ResultRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT mutation, status, killing_test, tests_run FROM results WHERE run_uuid=? ORDER BY id`, uuid,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var ret []ResultRow
	for rows.Next() {
		var r ResultRow
		var status string
		if err := rows.Scan(&r.Mutation, &status, &r.KillingTest, &r.TestsRun); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.Status = model.DetectionStatus(status)
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

// Summarize counts the results of a run per detection status.
func Summarize(ctx context.Context, db *sql.DB, uuid string) (map[model.DetectionStatus]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM results WHERE run_uuid=? GROUP BY status`, uuid,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	ret := make(map[model.DetectionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		ret[model.DetectionStatus(status)] = n
	}
	return ret, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRow, error) {
	var r RunRow
	var started int64
	var finished sql.NullInt64
	var success sql.NullBool
	err := s.Scan(&r.ID, &r.UUID, &started, &finished, &r.Units, &success, &r.FailureReason)
	if err != nil {
		return RunRow{}, err
	}
	r.Started = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		r.Finished = &t
	}
	if success.Valid {
		r.Success = &success.Bool
	}
	return r, nil
}

// Recorder is a result listener writing into the results table.
type Recorder struct {
	db   *sql.DB
	uuid string

	mx  sync.Mutex
	err error
}

func NewRecorder(db *sql.DB, uuid string) *Recorder {
	return &Recorder{db: db, uuid: uuid}
}

func (r *Recorder) Accept(res model.Result) {
	var killer *string
	if res.KillingTest != nil {
		s := res.KillingTest.String()
		killer = &s
	}
	_, err := r.db.Exec(
		`INSERT INTO results (run_uuid, mutation, status, killing_test, tests_run) VALUES (?,?,?,?,?)`,
		r.uuid, res.Unit.ID.String(), string(res.Status), killer, res.TestsRun,
	)
	if err == nil {
		return
	}
	slog.Error("storing result failed", "run", r.uuid, "mutation", res.Unit.ID.String(), "error", err)
	r.mx.Lock()
	r.err = errors.Join(r.err, err)
	r.mx.Unlock()
}

// Err returns every insert failure seen so far.
func (r *Recorder) Err() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.err
}
