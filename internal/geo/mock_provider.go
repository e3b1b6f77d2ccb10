package geo

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/evyataryagoni/iptracker/internal/models"
)

// MockProvider is a test double for the Provider interface.
// It is safe for concurrent use so it can back race tests.
type MockProvider struct {
	mu sync.Mutex

	// Results maps IP address -> canned result; unknown IPs get a blank result
	Results map[string]*models.GeoResult

	// LookupError is returned for every call when set
	LookupError error

	// LookupCalls records every IP passed to Lookup
	LookupCalls []string
}

// NewMockProvider creates a mock provider with results for common test IPs
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Results: map[string]*models.GeoResult{
			"8.8.8.8": {
				IP:          "8.8.8.8",
				Country:     "US",
				CountryCode: "US",
				Region:      "California",
				City:        "Mountain View",
				Org:         "Google LLC",
				VPNType:     "none",
				Raw:         json.RawMessage(`{"ip":"8.8.8.8","country":"US","org":"Google LLC"}`),
			},
			"185.220.101.1": {
				IP:          "185.220.101.1",
				Country:     "DE",
				CountryCode: "DE",
				Org:         "AS60729 Stiftung Erneuerbare Freiheit",
				VPNDetected: true,
				VPNType:     "tor",
				Raw:         json.RawMessage(`{"ip":"185.220.101.1","privacy":{"tor":true}}`),
			},
		},
	}
}

// Lookup implements the Provider interface
func (m *MockProvider) Lookup(ctx context.Context, ip string) (*models.GeoResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LookupCalls = append(m.LookupCalls, ip)

	if m.LookupError != nil {
		return nil, m.LookupError
	}

	if result, ok := m.Results[ip]; ok {
		copied := *result
		return &copied, nil
	}
	return &models.GeoResult{IP: ip, Raw: json.RawMessage(`{"ip":"` + ip + `"}`)}, nil
}

// Calls returns a snapshot of the recorded lookups
func (m *MockProvider) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.LookupCalls...)
}
