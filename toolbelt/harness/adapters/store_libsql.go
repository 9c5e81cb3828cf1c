package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// LibSQLAuditStore persists the dispatch journal in a libSQL database.
type LibSQLAuditStore struct {
	db *sql.DB
}

// NewLibSQLAuditStore creates a new libSQL-backed audit store. The audit_log
// table must already exist; see the db package migrations.
func NewLibSQLAuditStore(db *sql.DB) *LibSQLAuditStore {
	return &LibSQLAuditStore{db: db}
}

// Record appends one call outcome to the journal.
func (s *LibSQLAuditStore) Record(ctx context.Context, entry ports.AuditEntry) error {
	query := `
		INSERT INTO audit_log (call_id, tool, operation, success, error_kind, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.CallID,
		entry.Tool,
		entry.Operation,
		entry.Success,
		entry.ErrorKind,
		entry.ElapsedMs,
		entry.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	return nil
}

// Recent returns up to limit entries in chronological order, oldest first.
func (s *LibSQLAuditStore) Recent(ctx context.Context, limit int) ([]ports.AuditEntry, error) {
	query := `
		SELECT call_id, tool, operation, success, error_kind, elapsed_ms, created_at
		FROM audit_log
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []ports.AuditEntry
	for rows.Next() {
		var entry ports.AuditEntry
		var createdAt string
		if err := rows.Scan(
			&entry.CallID,
			&entry.Tool,
			&entry.Operation,
			&entry.Success,
			&entry.ErrorKind,
			&entry.ElapsedMs,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if at, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			entry.At = at
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	// Reverse to chronological order, oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}

// DeleteOlderThan drops entries recorded before the cutoff and reports how
// many went away. Used by retention sweeps.
func (s *LibSQLAuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Ensure LibSQLAuditStore implements the AuditStore interface.
var _ ports.AuditStore = (*LibSQLAuditStore)(nil)
