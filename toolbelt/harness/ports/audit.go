package harnessports

import (
	"context"
	"time"
)

// AuditEntry is one dispatched tool call as recorded in the journal.
type AuditEntry struct {
	CallID    string
	Tool      string
	Operation string // tool-level operation when the call declares one
	Success   bool
	ErrorKind string // empty on success
	ElapsedMs int64
	At        time.Time
}

// AuditStore persists the dispatch journal. Recording is best effort from
// the dispatcher's point of view: a failing journal never fails the call.
type AuditStore interface {
	Record(ctx context.Context, entry AuditEntry) error
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
}
