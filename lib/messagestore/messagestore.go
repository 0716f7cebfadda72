// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messagestore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// messageQuery mirrors the on-device message store schema. The left
// join keeps messages whose sender was never resolved to a handle;
// those rows surface with a null counterparty.
const messageQuery = `
SELECT message.date, handle.id, message.text
FROM message
LEFT JOIN handle ON message.handle_id = handle.ROWID
ORDER BY message.date DESC;`

// QueryError reports a failure to open or query the staged store.
type QueryError struct {
	// Op is the failing operation: "open" or "prepare".
	Op string
	// Path is the staged database file.
	Path string
	// Err is the underlying cause.
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("messagestore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Record is one extracted message.
type Record struct {
	// Time is the message timestamp in UTC.
	Time time.Time
	// Counterparty is the remote party's identifier, usually a phone
	// number. Empty when the store never resolved the sender.
	Counterparty string
	// Body is the message text.
	Body string
}

// Config configures an Extractor.
type Config struct {
	// Logger receives a warning per skipped row. Defaults to a
	// discard logger.
	Logger *slog.Logger
}

// Extractor pulls message records out of staged store copies.
type Extractor struct {
	logger *slog.Logger
}

// New returns an Extractor.
func New(config Config) *Extractor {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{logger: logger}
}

// Extract opens the staged database and prepares the message query.
// The store is opened read-only with query_only set; the staged copy
// is evidence and extraction must not write to it. The returned
// Records is a lazy one-shot sequence; the caller iterates with Next
// and must Close it.
//
// Failures to open or prepare return a *QueryError. Errors on
// individual rows do not: they surface through Records as skips or a
// terminal iteration error.
func (e *Extractor) Extract(ctx context.Context, databasePath string) (*Records, error) {
	conn, err := sqlite.OpenConn(databasePath, sqlite.OpenReadOnly)
	if err != nil {
		return nil, &QueryError{Op: "open", Path: databasePath, Err: err}
	}
	conn.SetInterrupt(ctx.Done())

	if err := sqlitex.ExecuteTransient(conn, "PRAGMA query_only = 1", nil); err != nil {
		conn.Close()
		return nil, &QueryError{Op: "open", Path: databasePath, Err: err}
	}

	stmt, _, err := conn.PrepareTransient(messageQuery)
	if err != nil {
		conn.Close()
		return nil, &QueryError{Op: "prepare", Path: databasePath, Err: err}
	}

	return &Records{
		conn:   conn,
		stmt:   stmt,
		path:   databasePath,
		logger: e.logger,
	}, nil
}

// Records is a lazy one-shot sequence of message records, newest
// first. Iterate with Next, read with Record, then check Err. The
// underlying connection is released when iteration finishes or on
// Close, whichever comes first.
type Records struct {
	conn   *sqlite.Conn
	stmt   *sqlite.Stmt
	path   string
	logger *slog.Logger

	current Record
	rows    int
	skipped int
	err     error
	done    bool
}

// Next advances to the next well-formed record. Returns false when
// the sequence is exhausted or a terminal error occurred; check Err
// to tell them apart.
func (r *Records) Next() bool {
	if r.done {
		return false
	}
	for {
		hasRow, err := r.stmt.Step()
		if err != nil {
			r.err = fmt.Errorf("stepping message query: %w", err)
			r.finish()
			return false
		}
		if !hasRow {
			r.finish()
			return false
		}
		r.rows++

		record, problem := r.scanRow()
		if problem != "" {
			r.skipped++
			r.logger.Warn("skipping malformed message row",
				"store", r.path,
				"row", r.rows,
				"problem", problem,
			)
			continue
		}
		r.current = record
		return true
	}
}

// scanRow converts the current row to a Record. A non-empty problem
// string marks the row malformed.
func (r *Records) scanRow() (Record, string) {
	switch r.stmt.ColumnType(0) {
	case sqlite.TypeInteger, sqlite.TypeFloat:
	default:
		return Record{}, "non-numeric date"
	}
	if r.stmt.ColumnType(2) == sqlite.TypeNull {
		return Record{}, "null body"
	}

	record := Record{
		Time: time.Unix(r.stmt.ColumnInt64(0), 0).UTC(),
		Body: r.stmt.ColumnText(2),
	}
	if r.stmt.ColumnType(1) != sqlite.TypeNull {
		record.Counterparty = r.stmt.ColumnText(1)
	}
	return record, ""
}

// Record returns the record produced by the last successful Next.
func (r *Records) Record() Record {
	return r.current
}

// Skipped returns the number of malformed rows passed over so far.
func (r *Records) Skipped() int {
	return r.skipped
}

// Err returns the terminal iteration error, if any. Exhausting the
// store normally leaves Err nil.
func (r *Records) Err() error {
	return r.err
}

// Close releases the statement and connection. Idempotent; iteration
// after Close reports exhaustion.
func (r *Records) Close() error {
	r.finish()
	return nil
}

func (r *Records) finish() {
	if r.done {
		return
	}
	r.done = true
	if err := r.stmt.Finalize(); err != nil && r.err == nil {
		r.err = fmt.Errorf("finalizing message query: %w", err)
	}
	if err := r.conn.Close(); err != nil && r.err == nil {
		r.err = fmt.Errorf("closing %s: %w", r.path, err)
	}
}
