package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/evyataryagoni/iptracker/internal/geo"
	"github.com/evyataryagoni/iptracker/internal/logger"
	"github.com/evyataryagoni/iptracker/internal/models"
	"github.com/evyataryagoni/iptracker/internal/service"
	"github.com/evyataryagoni/iptracker/internal/store"
	"github.com/go-chi/chi/v5"
)

// setupHandler wires a handler over mocks and mounts it on a chi router
func setupHandler(mockStore *store.MockStore, provider *geo.MockProvider) http.Handler {
	svc := service.NewIngestService(mockStore, provider, nil, logger.NewNop())
	return newTestRouter(NewIngestHandler(svc))
}

func newTestRouter(h *IngestHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/ingest", h.Ingest)
	r.Post("/v1/analyze", h.Analyze)
	r.Get("/v1/analyze", h.Analyze)
	r.Get("/v1/records/{ip}", h.GetRecord)
	r.Get("/v1/records/{ip}/exists", h.RecordExists)
	return r
}

// postJSON sends body as a JSON request to path
func postJSON(handler http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeIngest(t *testing.T, rec *httptest.ResponseRecorder) models.IngestResponse {
	t.Helper()
	var resp models.IngestResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

// TestIngestHandler_Ingest_JSON tests a saved ingestion from a JSON body
func TestIngestHandler_Ingest_JSON(t *testing.T) {
	handler := setupHandler(store.NewEmptyMockStore(), geo.NewMockProvider())

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"ip":"8.8.8.8"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	resp := decodeIngest(t, rec)
	if resp.Status != "saved" || resp.IP != "8.8.8.8" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Record == nil {
		t.Fatal("expected record in response")
	}
	if resp.Record.Org != "Google LLC" || resp.Record.VPNDetected {
		t.Errorf("unexpected record: %+v", resp.Record.IPRecord)
	}
	if resp.Record.CountryFlag != "🇺🇸" {
		t.Errorf("expected US flag, got %q", resp.Record.CountryFlag)
	}
}

// TestIngestHandler_Ingest_Duplicate tests the duplicate outcome
func TestIngestHandler_Ingest_Duplicate(t *testing.T) {
	handler := setupHandler(store.NewMockStore(), geo.NewMockProvider())

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"ip":"1.1.1.1"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp := decodeIngest(t, rec)
	if resp.Status != "duplicate" {
		t.Errorf("expected status duplicate, got %s", resp.Status)
	}
	if resp.Record == nil || resp.Record.City != "Sydney" {
		t.Errorf("expected previously stored record, got %+v", resp.Record)
	}
}

// TestIngestHandler_Ingest_Form tests the form field used by HTML clients
func TestIngestHandler_Ingest_Form(t *testing.T) {
	mockStore := store.NewEmptyMockStore()
	handler := setupHandler(mockStore, geo.NewMockProvider())

	form := url.Values{"ip_address": {"8.8.8.8"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if _, ok := mockStore.Data["8.8.8.8"]; !ok {
		t.Error("expected 8.8.8.8 to be stored")
	}
}

// TestIngestHandler_Ingest_IPv6 tests that the stored address is canonical
func TestIngestHandler_Ingest_IPv6(t *testing.T) {
	handler := setupHandler(store.NewEmptyMockStore(), geo.NewMockProvider())

	rec := postJSON(handler, "/v1/ingest", `{"ip":"2001:DB8::1"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if resp := decodeIngest(t, rec); resp.IP != "2001:db8::1" {
		t.Errorf("expected canonical 2001:db8::1, got %s", resp.IP)
	}
}

// TestIngestHandler_Ingest_CallerAddress tests the fallback to the caller's address
func TestIngestHandler_Ingest_CallerAddress(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expectedIP string
	}{
		{
			name:       "X-Forwarded-For first entry",
			headers:    map[string]string{"X-Forwarded-For": "8.8.8.8, 10.0.0.1"},
			remoteAddr: "10.0.0.1:1234",
			expectedIP: "8.8.8.8",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "9.9.9.9"},
			remoteAddr: "10.0.0.1:1234",
			expectedIP: "9.9.9.9",
		},
		{
			name:       "RemoteAddr",
			remoteAddr: "203.0.113.5:5555",
			expectedIP: "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := setupHandler(store.NewEmptyMockStore(), geo.NewMockProvider())

			req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"ip":""}`))
			req.Header.Set("Content-Type", "application/json")
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			req.RemoteAddr = tt.remoteAddr
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusCreated {
				t.Fatalf("expected status 201, got %d", rec.Code)
			}
			if resp := decodeIngest(t, rec); resp.IP != tt.expectedIP {
				t.Errorf("expected IP %s, got %s", tt.expectedIP, resp.IP)
			}
		})
	}
}

type fixedResolver string

func (f fixedResolver) PublicIP(ctx context.Context) (string, error) {
	return string(f), nil
}

// TestIngestHandler_Ingest_LoopbackCaller tests public address substitution
func TestIngestHandler_Ingest_LoopbackCaller(t *testing.T) {
	svc := service.NewIngestService(store.NewEmptyMockStore(), geo.NewMockProvider(), nil, logger.NewNop()).
		WithPublicIPResolver(fixedResolver("203.0.113.9"))
	handler := newTestRouter(NewIngestHandler(svc))

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if resp := decodeIngest(t, rec); resp.IP != "203.0.113.9" {
		t.Errorf("expected resolved public IP, got %s", resp.IP)
	}
}

// TestIngestHandler_Ingest_InvalidIP tests invalid IP format
func TestIngestHandler_Ingest_InvalidIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
	}{
		{"invalid format", "not-an-ip"},
		{"incomplete", "192.168.1"},
		{"invalid chars", "abc.def.ghi.jkl"},
		{"too many octets", "192.168.1.1.1"},
		{"out of range", "300.300.300.300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := store.NewMockStore()
			provider := geo.NewMockProvider()
			handler := setupHandler(mockStore, provider)

			body, _ := json.Marshal(models.IngestRequest{IP: tt.ip})
			rec := postJSON(handler, "/v1/ingest", string(body))

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
			errResp := decodeError(t, rec)
			if errResp.Error != "invalid IP address format" {
				t.Errorf("expected 'invalid IP address format', got '%s'", errResp.Error)
			}
			if errResp.Status != "validation_failed" {
				t.Errorf("expected status validation_failed, got %s", errResp.Status)
			}
			if len(provider.Calls()) != 0 {
				t.Error("expected no provider calls")
			}
		})
	}
}

// TestIngestHandler_Ingest_EmptyJSONBody tests that an empty JSON body
// falls back to the caller's address
func TestIngestHandler_Ingest_EmptyJSONBody(t *testing.T) {
	handler := setupHandler(store.NewEmptyMockStore(), geo.NewMockProvider())

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.5:5555"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeIngest(t, rec); resp.IP != "203.0.113.5" {
		t.Errorf("expected caller address 203.0.113.5, got %s", resp.IP)
	}
}

// TestIngestHandler_Ingest_GetNotAllowed tests that GET cannot create records
func TestIngestHandler_Ingest_GetNotAllowed(t *testing.T) {
	mockStore := store.NewEmptyMockStore()
	handler := setupHandler(mockStore, geo.NewMockProvider())

	req := httptest.NewRequest(http.MethodGet, "/v1/ingest?ip=8.8.8.8", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
	if mockStore.Len() != 0 {
		t.Error("expected no record to be stored")
	}
}

// TestIngestHandler_Ingest_MalformedBody tests an unparseable JSON body
func TestIngestHandler_Ingest_MalformedBody(t *testing.T) {
	provider := geo.NewMockProvider()
	handler := setupHandler(store.NewMockStore(), provider)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"ip":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	if len(provider.Calls()) != 0 {
		t.Error("expected no provider calls")
	}
}

// TestIngestHandler_Ingest_Failures tests status mapping for failed ingestions
func TestIngestHandler_Ingest_Failures(t *testing.T) {
	tests := []struct {
		name            string
		lookupErr       error
		insertErr       error
		expectedStatus  int
		expectedOutcome string
	}{
		{
			name:            "provider error",
			lookupErr:       &geo.LookupError{IP: "8.8.8.8", Reason: geo.ReasonStatus, StatusCode: 503, Err: errors.New("unexpected status")},
			expectedStatus:  http.StatusBadGateway,
			expectedOutcome: "lookup_failed",
		},
		{
			name:            "provider timeout",
			lookupErr:       &geo.LookupError{IP: "8.8.8.8", Reason: geo.ReasonTimeout, Err: context.DeadlineExceeded},
			expectedStatus:  http.StatusGatewayTimeout,
			expectedOutcome: "lookup_failed",
		},
		{
			name:            "storage error",
			insertErr:       &store.StorageError{Op: "insert", Err: errors.New("disk full")},
			expectedStatus:  http.StatusInternalServerError,
			expectedOutcome: "storage_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := store.NewEmptyMockStore()
			mockStore.InsertError = tt.insertErr
			provider := geo.NewMockProvider()
			provider.LookupError = tt.lookupErr
			handler := setupHandler(mockStore, provider)

			rec := postJSON(handler, "/v1/ingest", `{"ip":"8.8.8.8"}`)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			errResp := decodeError(t, rec)
			if errResp.Status != tt.expectedOutcome {
				t.Errorf("expected status %s, got %s", tt.expectedOutcome, errResp.Status)
			}
			if strings.Contains(errResp.Error, "disk full") {
				t.Error("internal error details must not leak to clients")
			}
			if mockStore.Len() != 0 {
				t.Error("expected no record to be stored")
			}
		})
	}
}

// TestIngestHandler_GetRecord tests the read endpoint
func TestIngestHandler_GetRecord(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		findErr        error
		expectedStatus int
	}{
		{"found", "/v1/records/1.1.1.1", nil, http.StatusOK},
		{"not found", "/v1/records/10.0.0.1", nil, http.StatusNotFound},
		{"invalid", "/v1/records/not-an-ip", nil, http.StatusBadRequest},
		{"store error", "/v1/records/1.1.1.1", errors.New("database connection failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := store.NewMockStore()
			mockStore.FindByIPError = tt.findErr
			handler := setupHandler(mockStore, geo.NewMockProvider())

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var view models.RecordView
			if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if view.City != "Sydney" || view.CountryFlag != "🇦🇺" {
				t.Errorf("unexpected record view: %+v flag=%s", view.IPRecord, view.CountryFlag)
			}
		})
	}
}

// TestIngestHandler_RecordExists tests the membership endpoint
func TestIngestHandler_RecordExists(t *testing.T) {
	tests := []struct {
		name           string
		ip             string
		expectedStatus int
		expectedExists bool
	}{
		{"stored", "1.1.1.1", http.StatusOK, true},
		{"not stored", "10.0.0.1", http.StatusOK, false},
		{"invalid", "bogus", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := setupHandler(store.NewMockStore(), geo.NewMockProvider())

			req := httptest.NewRequest(http.MethodGet, "/v1/records/"+tt.ip+"/exists", nil)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var resp models.ExistsResponse
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Exists != tt.expectedExists || resp.IP != tt.ip {
				t.Errorf("unexpected response: %+v", resp)
			}
		})
	}
}

// TestIngestHandler_Analyze tests the read-only lookup endpoint
func TestIngestHandler_Analyze(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		target         string
		body           string
		expectedStatus string
		expectedFlag   string
	}{
		{"new address by JSON", http.MethodPost, "/v1/analyze", `{"ip":"8.8.8.8"}`, "new", "🇺🇸"},
		{"new address by query", http.MethodGet, "/v1/analyze?ip=8.8.8.8", "", "new", "🇺🇸"},
		{"stored address", http.MethodPost, "/v1/analyze", `{"ip":"1.1.1.1"}`, "duplicate", "🌍"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := store.NewMockStore()
			provider := geo.NewMockProvider()
			handler := setupHandler(mockStore, provider)

			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
			}

			var resp models.AnalyzeResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, resp.Status)
			}
			if resp.CountryFlag != tt.expectedFlag {
				t.Errorf("expected flag %s, got %s", tt.expectedFlag, resp.CountryFlag)
			}
			if len(provider.Calls()) != 1 {
				t.Errorf("expected one provider call, got %d", len(provider.Calls()))
			}
			if len(mockStore.InsertCalls) != 0 || mockStore.Len() != 1 {
				t.Error("expected analyze not to write to the store")
			}
		})
	}
}

// TestIngestHandler_Analyze_Failures tests that analyze shares the failure mapping
func TestIngestHandler_Analyze_Failures(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		lookupErr      error
		existsErr      error
		expectedStatus int
	}{
		{"invalid address", `{"ip":"not-an-ip"}`, nil, nil, http.StatusBadRequest},
		{"provider error", `{"ip":"8.8.8.8"}`, &geo.LookupError{IP: "8.8.8.8", Reason: geo.ReasonPayload, StatusCode: 200, Err: errors.New("bogon")}, nil, http.StatusBadGateway},
		{"provider timeout", `{"ip":"8.8.8.8"}`, &geo.LookupError{IP: "8.8.8.8", Reason: geo.ReasonTimeout, Err: context.DeadlineExceeded}, nil, http.StatusGatewayTimeout},
		{"store error", `{"ip":"8.8.8.8"}`, nil, &store.StorageError{Op: "exists", Err: errors.New("down")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockStore := store.NewEmptyMockStore()
			mockStore.ExistsError = tt.existsErr
			provider := geo.NewMockProvider()
			provider.LookupError = tt.lookupErr
			handler := setupHandler(mockStore, provider)

			rec := postJSON(handler, "/v1/analyze", tt.body)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if mockStore.Len() != 0 {
				t.Error("expected no record to be stored")
			}
		})
	}
}
