// Package sqlite persists the event log in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/storage"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

// Open opens path (":memory:" for an in-process database) and applies the
// schema. Only one connection is kept so an in-memory database is shared.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `sequence_index, event_type, payload_json, previous_hash, hash, signature, signer_key_id, actor_id, signer_id, event_ts`

func (s *Store) Tail(ctx context.Context) (protocol.LedgerEvent, bool, error) {
	return tail(ctx, s.db)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func tail(ctx context.Context, q queryer) (protocol.LedgerEvent, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM ledger_events ORDER BY sequence_index DESC LIMIT 1`)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.LedgerEvent{}, false, nil
	}
	if err != nil {
		return protocol.LedgerEvent{}, false, err
	}
	return ev, true, nil
}

func (s *Store) CompareAndAppend(ctx context.Context, expectedPrevious string, ev protocol.LedgerEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, hasTail, err := tail(ctx, tx)
	if err != nil {
		return fmt.Errorf("read tail: %w", err)
	}
	if err := storage.CheckNext(current, hasTail, expectedPrevious, ev); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO ledger_events (`+selectColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SequenceIndex,
		ev.EventType,
		string(ev.Payload),
		ev.PreviousHash,
		ev.Hash,
		ev.Signature,
		ev.SignerKeyID,
		ev.ActorID,
		ev.SignerID,
		protocol.FormatTimestamp(ev.Timestamp),
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrTailConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *Store) ReadFrom(ctx context.Context, fromIndex int64) ([]protocol.LedgerEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM ledger_events WHERE sequence_index >= ? ORDER BY sequence_index ASC`, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	out := make([]protocol.LedgerEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (protocol.LedgerEvent, error) {
	var ev protocol.LedgerEvent
	var payload, ts string
	if err := row.Scan(
		&ev.SequenceIndex,
		&ev.EventType,
		&payload,
		&ev.PreviousHash,
		&ev.Hash,
		&ev.Signature,
		&ev.SignerKeyID,
		&ev.ActorID,
		&ev.SignerID,
		&ts,
	); err != nil {
		return protocol.LedgerEvent{}, err
	}
	parsed, err := time.Parse(protocol.TimestampLayout, ts)
	if err != nil {
		return protocol.LedgerEvent{}, fmt.Errorf("parse event %d timestamp: %w", ev.SequenceIndex, err)
	}
	ev.Payload = []byte(payload)
	ev.Timestamp = parsed.UTC()
	return ev, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

var _ storage.EventLog = (*Store)(nil)
