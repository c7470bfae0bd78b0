package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/storage"
)

func event(index int64, prev string, ts time.Time) protocol.LedgerEvent {
	ev := protocol.LedgerEvent{
		SequenceIndex: index,
		EventType:     protocol.EventExamResultAdded,
		Payload:       json.RawMessage(`{"credential_id":"c1","score":70,"subject":"Mathematics","subject_id":"did:oan:1"}`),
		PreviousHash:  prev,
		Signature:     "00",
		SignerKeyID:   "ed25519:abcd",
		ActorID:       "waec",
		SignerID:      "waec",
		Timestamp:     ts,
	}
	ev.Hash = ev.ComputeHash()
	return ev
}

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteRoundTripPreservesHashInputs(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	ts := time.Date(2025, 6, 1, 12, 30, 0, 123_000_000, time.UTC)

	first := event(0, protocol.GenesisHash, ts)
	require.NoError(t, s.CompareAndAppend(ctx, protocol.GenesisHash, first))
	second := event(1, first.Hash, ts.Add(time.Second))
	require.NoError(t, s.CompareAndAppend(ctx, first.Hash, second))

	got, err := s.ReadFrom(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i, ev := range got {
		assert.Equal(t, ev.Hash, ev.ComputeHash(), "event %d hash must recompute after round trip", i)
	}
	assert.True(t, got[0].Timestamp.Equal(ts))
	assert.Equal(t, "waec", got[1].SignerID)

	tail, ok, err := s.Tail(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), tail.SequenceIndex)
}

func TestSQLiteRejectsStaleTail(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CompareAndAppend(ctx, protocol.GenesisHash, event(0, protocol.GenesisHash, ts)))

	err := s.CompareAndAppend(ctx, protocol.GenesisHash, event(0, protocol.GenesisHash, ts))
	assert.ErrorIs(t, err, storage.ErrTailConflict)
}

func TestSQLiteFileReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(ctx, path)
	require.NoError(t, err)
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CompareAndAppend(ctx, protocol.GenesisHash, event(0, protocol.GenesisHash, ts)))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.ReadFrom(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}
