// Package cache memoizes applicant profile projections. Entries are keyed by
// the hash of the applicant's last relevant ledger event, so a hit is always
// identical to a fresh fold and no invalidation is needed.
package cache

import (
	"context"
	"sync"

	"github.com/xisvar/the-oan/internal/state"
)

const keyPrefix = "oan:profile:v1:"

// Key is the cache key for applicantID at version.
func Key(applicantID, version string) string {
	return keyPrefix + applicantID + ":" + version
}

type ProfileCache interface {
	Get(ctx context.Context, applicantID, version string) (state.Profile, bool, error)
	Put(ctx context.Context, applicantID, version string, profile state.Profile) error
}

// Memory keeps the latest version of each profile in process.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	version string
	profile state.Profile
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, applicantID, version string) (state.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[applicantID]
	if !ok || e.version != version {
		return state.Profile{}, false, nil
	}
	return e.profile, true, nil
}

func (m *Memory) Put(_ context.Context, applicantID, version string, profile state.Profile) error {
	m.mu.Lock()
	m.entries[applicantID] = memoryEntry{version: version, profile: profile}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
