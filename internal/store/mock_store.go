package store

import (
	"context"
	"sync"
	"time"

	"github.com/evyataryagoni/iptracker/internal/models"
)

// MockStore is a test double for the Store interface
// It allows tests to control behavior and verify interactions.
// Insert is atomic under the mutex, so it honours the uniqueness
// contract in concurrent tests.
type MockStore struct {
	mu sync.Mutex

	// Data holds the mock data (IP address -> record)
	Data map[string]*models.IPRecord

	// Track method calls for verification in tests
	ExistsCalls   []string
	InsertCalls   []string
	FindByIPCalls []string
	CloseCalled   bool

	// Control behavior for error scenarios
	ExistsError   error
	InsertError   error
	FindByIPError error
	PingError     error
	CloseError    error

	nextID uint
}

// NewMockStore creates a mock store with one stored record (1.1.1.1)
func NewMockStore() *MockStore {
	m := NewEmptyMockStore()
	m.Data["1.1.1.1"] = &models.IPRecord{
		ID:          1,
		IPAddress:   "1.1.1.1",
		Country:     "AU",
		CountryCode: "AU",
		City:        "Sydney",
		Org:         "AS13335 Cloudflare, Inc.",
		VPNType:     "none",
		Timestamp:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	m.nextID = 1
	return m
}

// NewEmptyMockStore creates a mock store with no data
func NewEmptyMockStore() *MockStore {
	return &MockStore{
		Data:          map[string]*models.IPRecord{},
		ExistsCalls:   []string{},
		InsertCalls:   []string{},
		FindByIPCalls: []string{},
	}
}

// Exists implements the Store interface
func (m *MockStore) Exists(ctx context.Context, ip string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExistsCalls = append(m.ExistsCalls, ip)
	if m.ExistsError != nil {
		return false, m.ExistsError
	}
	_, ok := m.Data[ip]
	return ok, nil
}

// Insert implements the Store interface
func (m *MockStore) Insert(ctx context.Context, rec *models.IPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InsertCalls = append(m.InsertCalls, rec.IPAddress)
	if m.InsertError != nil {
		return m.InsertError
	}
	if _, exists := m.Data[rec.IPAddress]; exists {
		return ErrDuplicate
	}

	m.nextID++
	rec.ID = m.nextID
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	stored := *rec
	m.Data[rec.IPAddress] = &stored
	return nil
}

// FindByIP implements the Store interface
func (m *MockStore) FindByIP(ctx context.Context, ip string) (*models.IPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FindByIPCalls = append(m.FindByIPCalls, ip)
	if m.FindByIPError != nil {
		return nil, m.FindByIPError
	}
	rec, ok := m.Data[ip]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

// Ping implements the Store interface
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingError
}

// Close implements the Store interface
// Tracks that close was called and returns configured error if any
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalled = true
	return m.CloseError
}

// Len returns the number of stored records
func (m *MockStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Data)
}

// Calls returns how many times Insert and FindByIP were invoked
func (m *MockStore) Calls() (inserts, finds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.InsertCalls), len(m.FindByIPCalls)
}
