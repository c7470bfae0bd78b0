// Package memory keeps the event log in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/xisvar/the-oan/internal/protocol"
	"github.com/xisvar/the-oan/internal/storage"
)

type Store struct {
	mu     sync.RWMutex
	events []protocol.LedgerEvent
}

func New() *Store {
	return &Store{}
}

func (s *Store) Tail(ctx context.Context) (protocol.LedgerEvent, bool, error) {
	if err := ctx.Err(); err != nil {
		return protocol.LedgerEvent{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return protocol.LedgerEvent{}, false, nil
	}
	return clone(s.events[len(s.events)-1]), true, nil
}

func (s *Store) CompareAndAppend(ctx context.Context, expectedPrevious string, ev protocol.LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var tail protocol.LedgerEvent
	hasTail := len(s.events) > 0
	if hasTail {
		tail = s.events[len(s.events)-1]
	}
	if err := storage.CheckNext(tail, hasTail, expectedPrevious, ev); err != nil {
		return err
	}
	s.events = append(s.events, clone(ev))
	return nil
}

func (s *Store) ReadFrom(ctx context.Context, fromIndex int64) ([]protocol.LedgerEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if fromIndex < 0 {
		fromIndex = 0
	}
	if fromIndex >= int64(len(s.events)) {
		return []protocol.LedgerEvent{}, nil
	}
	out := make([]protocol.LedgerEvent, 0, int64(len(s.events))-fromIndex)
	for _, ev := range s.events[fromIndex:] {
		out = append(out, clone(ev))
	}
	return out, nil
}

func (s *Store) Close() error { return nil }

func clone(ev protocol.LedgerEvent) protocol.LedgerEvent {
	ev.Payload = append([]byte(nil), ev.Payload...)
	return ev
}

var _ storage.EventLog = (*Store)(nil)
