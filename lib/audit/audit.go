// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/caretaker-app/caretaker/lib/catalog"
	"github.com/caretaker-app/caretaker/lib/sqlitepool"
)

// Status classifies the outcome of an execution attempt.
type Status string

const (
	// StatusCompleted means the command ran and exited zero.
	StatusCompleted Status = "completed"

	// StatusFailed means the command ran and exited nonzero.
	StatusFailed Status = "failed"

	// StatusTimeout means the command was killed when its deadline
	// expired.
	StatusTimeout Status = "timeout"

	// StatusRejectedAuthorization means the helper refused the request
	// because its authorization proof did not verify. Nothing was
	// spawned.
	StatusRejectedAuthorization Status = "rejected_authorization"

	// StatusRejectedAllowlist means the helper refused the request
	// because the command path is not in the compiled-in allowlist.
	// Nothing was spawned.
	StatusRejectedAllowlist Status = "rejected_allowlist"

	// StatusRejectedMissing means the command path is allowlisted but
	// the binary is absent on disk. Nothing was spawned.
	StatusRejectedMissing Status = "rejected_missing"
)

// valid reports whether s is one of the defined statuses.
func (s Status) valid() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout,
		StatusRejectedAuthorization, StatusRejectedAllowlist, StatusRejectedMissing:
		return true
	}
	return false
}

// Ran reports whether the status describes an attempt where a process
// actually ran.
func (s Status) Ran() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Record is one audit log entry. ExitCode is nil for records where no
// process ran (the rejected_* statuses).
type Record struct {
	CapabilityID string
	TrustTier    catalog.TrustTier
	Arguments    []string
	Status       Status
	ExitCode     *int
	Stdout       string
	Stderr       string
	StartedAt    time.Time
	FinishedAt   time.Time
	Requester    string
}

// Filter narrows a Query. Zero-valued fields do not constrain.
type Filter struct {
	// CapabilityID restricts to records for one capability.
	CapabilityID string

	// Tier restricts to one trust tier.
	Tier catalog.TrustTier

	// Since and Until bound StartedAt (inclusive since, exclusive
	// until).
	Since time.Time
	Until time.Time

	// Failed restricts to records whose status is anything other than
	// completed.
	Failed bool
}

// Store is an append-only audit log backed by SQLite.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	// mu serializes Append so records land in submission order even
	// when callers race.
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	capability_id TEXT NOT NULL,
	trust_tier    TEXT NOT NULL,
	arguments     TEXT NOT NULL,
	status        TEXT NOT NULL,
	exit_code     INTEGER,
	stdout        TEXT NOT NULL,
	stderr        TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	finished_at   INTEGER NOT NULL,
	requester     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_records_capability
	ON audit_records (capability_id, started_at);
`

// Open opens (creating if needed) the audit store at path. The parent
// directory must exist. The caller must Close the store when done.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: opening store: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Append writes one record. It is the only mutation besides Purge.
// When Append returns nil the record is durable on disk.
func (s *Store) Append(ctx context.Context, record Record) error {
	if !record.Status.valid() {
		return fmt.Errorf("audit: unknown status %q", record.Status)
	}
	if record.Status.Ran() == (record.ExitCode == nil) && record.Status != StatusTimeout {
		// Rejections carry no exit code; completed/failed must carry
		// one. Timeouts may lack one if the process died to SIGKILL.
		return fmt.Errorf("audit: status %q inconsistent with exit code presence", record.Status)
	}

	arguments, err := json.Marshal(record.Arguments)
	if err != nil {
		return fmt.Errorf("audit: encoding arguments: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var exitCode any
	if record.ExitCode != nil {
		exitCode = int64(*record.ExitCode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = sqlitex.Execute(conn, `
		INSERT INTO audit_records
			(capability_id, trust_tier, arguments, status, exit_code,
			 stdout, stderr, started_at, finished_at, requester)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.CapabilityID,
				string(record.TrustTier),
				string(arguments),
				string(record.Status),
				exitCode,
				record.Stdout,
				record.Stderr,
				record.StartedAt.UnixNano(),
				record.FinishedAt.UnixNano(),
				record.Requester,
			},
		})
	if err != nil {
		return fmt.Errorf("audit: appending record for %s: %w", record.CapabilityID, err)
	}

	s.logger.Info("audit record appended",
		"capability", record.CapabilityID,
		"tier", record.TrustTier,
		"status", record.Status)
	return nil
}

// Query returns records matching the filter in append order.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.CapabilityID != "" {
		clauses = append(clauses, "capability_id = ?")
		args = append(args, filter.CapabilityID)
	}
	if filter.Tier != "" {
		clauses = append(clauses, "trust_tier = ?")
		args = append(args, string(filter.Tier))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "started_at < ?")
		args = append(args, filter.Until.UnixNano())
	}
	if filter.Failed {
		clauses = append(clauses, "status != ?")
		args = append(args, string(StatusCompleted))
	}

	query := `SELECT capability_id, trust_tier, arguments, status, exit_code,
		stdout, stderr, started_at, finished_at, requester FROM audit_records`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id"

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record := Record{
				CapabilityID: stmt.ColumnText(0),
				TrustTier:    catalog.TrustTier(stmt.ColumnText(1)),
				Status:       Status(stmt.ColumnText(3)),
				Stdout:       stmt.ColumnText(5),
				Stderr:       stmt.ColumnText(6),
				StartedAt:    time.Unix(0, stmt.ColumnInt64(7)),
				FinishedAt:   time.Unix(0, stmt.ColumnInt64(8)),
				Requester:    stmt.ColumnText(9),
			}
			if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &record.Arguments); err != nil {
				return fmt.Errorf("audit: decoding arguments for %s: %w", record.CapabilityID, err)
			}
			if stmt.ColumnType(4) != sqlite.TypeNull {
				code := stmt.ColumnInt(4)
				record.ExitCode = &code
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: querying records: %w", err)
	}
	return records, nil
}

// Purge deletes every record. There is no selective deletion.
func (s *Store) Purge(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := sqlitex.Execute(conn, "DELETE FROM audit_records", nil); err != nil {
		return fmt.Errorf("audit: purging records: %w", err)
	}
	s.logger.Info("audit log purged")
	return nil
}
