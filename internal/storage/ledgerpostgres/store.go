package ledgerpostgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/storage"
)

//go:embed migrations/001_init.sql
var migration001 string

// Payloads are kept as TEXT rather than JSONB so the stored bytes are the
// exact canonical bytes that were hashed.
type Store struct {
	pool   *pgxpool.Pool
	nodeID string
}

func Open(ctx context.Context, dsn string, maxConns, minConns int32, nodeID string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns >= 0 {
		cfg.MinConns = minConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &Store{pool: pool, nodeID: nodeID}
	if err := store.applyMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migration001)
	if err != nil {
		return fmt.Errorf("apply migration 001: %w", err)
	}
	return nil
}

const selectColumns = `sequence_index, event_type, payload_json, previous_hash, hash, signature, signer_key_id, actor_id, signer_id, event_ts`

func (s *Store) Tail(ctx context.Context) (protocol.LedgerEvent, bool, error) {
	return latest(ctx, s.pool)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func latest(ctx context.Context, q rowQuerier) (protocol.LedgerEvent, bool, error) {
	ev, err := scanEvent(q.QueryRow(ctx, `SELECT `+selectColumns+` FROM ledger_events ORDER BY sequence_index DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return protocol.LedgerEvent{}, false, nil
	}
	if err != nil {
		return protocol.LedgerEvent{}, false, err
	}
	return ev, true, nil
}

func (s *Store) CompareAndAppend(ctx context.Context, expectedPrevious string, ev protocol.LedgerEvent) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current, hasTail, err := latest(ctx, tx)
	if err != nil {
		return fmt.Errorf("read tail: %w", err)
	}
	if err := storage.CheckNext(current, hasTail, expectedPrevious, ev); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO ledger_events (
  sequence_index,
  event_type,
  payload_json,
  previous_hash,
  hash,
  signature,
  signer_key_id,
  actor_id,
  signer_id,
  event_ts,
  node_id
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, ev.SequenceIndex, ev.EventType, string(ev.Payload), ev.PreviousHash, ev.Hash, ev.Signature, ev.SignerKeyID, ev.ActorID, ev.SignerID, ev.Timestamp.UTC(), s.nodeID)
	if err != nil {
		if isAppendRace(err) {
			return storage.ErrTailConflict
		}
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		if isAppendRace(err) {
			return storage.ErrTailConflict
		}
		return err
	}
	return nil
}

func (s *Store) ReadFrom(ctx context.Context, fromIndex int64) ([]protocol.LedgerEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM ledger_events WHERE sequence_index >= $1 ORDER BY sequence_index ASC`, fromIndex)
	if err != nil {
		return nil, err
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
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (protocol.LedgerEvent, error) {
	var ev protocol.LedgerEvent
	var payload string
	err := row.Scan(
		&ev.SequenceIndex,
		&ev.EventType,
		&payload,
		&ev.PreviousHash,
		&ev.Hash,
		&ev.Signature,
		&ev.SignerKeyID,
		&ev.ActorID,
		&ev.SignerID,
		&ev.Timestamp,
	)
	if err != nil {
		return protocol.LedgerEvent{}, err
	}
	ev.Payload = []byte(payload)
	ev.Timestamp = ev.Timestamp.UTC()
	return ev, nil
}

// isAppendRace matches a duplicate sequence index or a serialization
// failure, both of which mean another writer won the tail.
func isAppendRace(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" || pgErr.Code == "40001"
}

var _ storage.EventLog = (*Store)(nil)
