package blob

import (
	"context"
	"sync"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/domain"
)

// MemoryStore keeps encoded station records in memory. It backs local runs
// and tests, and goes through the same record codec as the real backends.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, stationID string) (domain.Series, bool, error) {
	m.mu.RLock()
	data, ok := m.records[stationID]
	m.mu.RUnlock()
	if !ok {
		return domain.Series{}, false, nil
	}

	series, _, err := domain.DecodeRecord(data)
	if err != nil {
		return domain.Series{}, false, err
	}
	return series, true, nil
}

func (m *MemoryStore) Save(_ context.Context, series domain.Series, report domain.Report) error {
	data, err := domain.EncodeRecord(series, report)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[series.StationID] = data
	m.mu.Unlock()
	return nil
}

// Record returns the raw stored document for a station, primarily for tests
// and the validate tool.
func (m *MemoryStore) Record(stationID string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[stationID]
	return data, ok
}
