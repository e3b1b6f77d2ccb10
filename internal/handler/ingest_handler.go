package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/evyataryagoni/iptracker/internal/geo"
	"github.com/evyataryagoni/iptracker/internal/ipaddr"
	"github.com/evyataryagoni/iptracker/internal/models"
	"github.com/evyataryagoni/iptracker/internal/service"
	"github.com/evyataryagoni/iptracker/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes limits the size of an ingest request body
const maxBodyBytes = 4 << 10

// IngestHandler handles HTTP requests for IP ingestion and record reads
// This is the handler layer - it deals with HTTP concerns only
//
// Responsibilities:
//   - Parse HTTP requests (JSON body, form, query, path)
//   - Fall back to the caller's address when no IP is given
//   - Map ingestion outcomes to status codes
//   - NO business logic (that's in the service layer)
type IngestHandler struct {
	service *service.IngestService
}

// NewIngestHandler creates a new ingest handler with the given service
func NewIngestHandler(service *service.IngestService) *IngestHandler {
	return &IngestHandler{
		service: service,
	}
}

// Ingest handles POST /v1/ingest
// Writes happen on POST only; GET /v1/analyze is the read-only counterpart.
// @Summary      Ingest an IP address
// @Description  Look up an IP address with the geolocation provider and store the result once. An empty address ingests the caller's own address.
// @Tags         Ingestion
// @Accept       json
// @Accept       x-www-form-urlencoded
// @Produce      json
// @Param        request     body      models.IngestRequest  false  "IP address to ingest"
// @Success      201  {object}  models.IngestResponse  "Saved"
// @Success      200  {object}  models.IngestResponse  "Already recorded"
// @Failure      400  {object}  models.ErrorResponse   "Invalid IP format"
// @Failure      429  {object}  models.ErrorResponse   "Rate limit exceeded"
// @Failure      500  {object}  models.ErrorResponse   "Storage failure"
// @Failure      502  {object}  models.ErrorResponse   "Provider failure"
// @Failure      504  {object}  models.ErrorResponse   "Provider timeout"
// @Router       /v1/ingest [post]
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.targetIP(w, r)
	if !ok {
		return
	}

	result := h.service.Ingest(r.Context(), raw)

	switch result.Outcome {
	case service.OutcomeSaved:
		h.respondJSON(w, http.StatusCreated, ingestResponse(result))
	case service.OutcomeDuplicate:
		h.respondJSON(w, http.StatusOK, ingestResponse(result))
	default:
		h.respondFailure(w, result.Outcome, result.IP, result.Err)
	}
}

// Analyze handles POST /v1/analyze and GET /v1/analyze?ip=<ip>
// @Summary      Analyze an IP address
// @Description  Look up an IP address with the geolocation provider and report whether it is already stored. Nothing is saved. An empty address analyzes the caller's own address.
// @Tags         Ingestion
// @Accept       json
// @Accept       x-www-form-urlencoded
// @Produce      json
// @Param        request     body      models.IngestRequest  false  "IP address to analyze"
// @Param        ip          query     string                false  "IP address (GET form)"  example(8.8.8.8)
// @Success      200  {object}  models.AnalyzeResponse  "status is new or duplicate"
// @Failure      400  {object}  models.ErrorResponse    "Invalid IP format"
// @Failure      429  {object}  models.ErrorResponse    "Rate limit exceeded"
// @Failure      500  {object}  models.ErrorResponse    "Storage failure"
// @Failure      502  {object}  models.ErrorResponse    "Provider failure"
// @Failure      504  {object}  models.ErrorResponse    "Provider timeout"
// @Router       /v1/analyze [post]
// @Router       /v1/analyze [get]
func (h *IngestHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.targetIP(w, r)
	if !ok {
		return
	}

	result := h.service.Analyze(r.Context(), raw)

	switch result.Outcome {
	case service.OutcomeNew, service.OutcomeDuplicate:
		h.respondJSON(w, http.StatusOK, models.NewAnalyzeResponse(string(result.Outcome), result.IP, result.Geo))
	default:
		h.respondFailure(w, result.Outcome, result.IP, result.Err)
	}
}

// targetIP reads the requested address, falling back to the caller's.
// On a bad request body it writes the 400 itself and returns false.
func (h *IngestHandler) targetIP(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := requestedIP(w, r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "", "", "Invalid request body")
		return "", false
	}

	if strings.TrimSpace(raw) == "" {
		raw = h.service.ResolveCallerIP(r.Context(), ipaddr.ClientIP(r))
	}
	return raw, true
}

// respondFailure maps a failure outcome to its status code
func (h *IngestHandler) respondFailure(w http.ResponseWriter, outcome service.Outcome, ip string, err error) {
	switch outcome {
	case service.OutcomeValidationFailed:
		h.respondError(w, http.StatusBadRequest, outcome, ip, err.Error())
	case service.OutcomeLookupFailed:
		status := http.StatusBadGateway
		var lookupErr *geo.LookupError
		if errors.As(err, &lookupErr) && lookupErr.Timeout() {
			status = http.StatusGatewayTimeout
		}
		h.respondError(w, status, outcome, ip, "Geolocation lookup failed")
	default:
		h.respondError(w, http.StatusInternalServerError, outcome, ip, "Internal server error")
	}
}

// GetRecord handles GET /v1/records/{ip}
// @Summary      Get a stored record
// @Description  Return the stored record for an IP address
// @Tags         Records
// @Produce      json
// @Param        ip   path      string  true  "IP address (IPv4 or IPv6)"  example(8.8.8.8)
// @Success      200  {object}  models.RecordView
// @Failure      400  {object}  models.ErrorResponse  "Invalid IP format"
// @Failure      404  {object}  models.ErrorResponse  "IP not found"
// @Failure      500  {object}  models.ErrorResponse  "Internal server error"
// @Router       /v1/records/{ip} [get]
func (h *IngestHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")

	rec, err := h.service.Get(r.Context(), ip)
	if err != nil {
		var vErr *ipaddr.ValidationError
		switch {
		case errors.As(err, &vErr):
			h.respondError(w, http.StatusBadRequest, "", ip, err.Error())
		case errors.Is(err, store.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "", ip, err.Error())
		default:
			h.respondError(w, http.StatusInternalServerError, "", ip, "Internal server error")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, models.NewRecordView(rec))
}

// RecordExists handles GET /v1/records/{ip}/exists
// @Summary      Check whether an IP is stored
// @Tags         Records
// @Produce      json
// @Param        ip   path      string  true  "IP address (IPv4 or IPv6)"  example(8.8.8.8)
// @Success      200  {object}  models.ExistsResponse
// @Failure      400  {object}  models.ErrorResponse  "Invalid IP format"
// @Failure      500  {object}  models.ErrorResponse  "Internal server error"
// @Router       /v1/records/{ip}/exists [get]
func (h *IngestHandler) RecordExists(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "ip")

	ip, ok, err := h.service.Exists(r.Context(), raw)
	if err != nil {
		var vErr *ipaddr.ValidationError
		if errors.As(err, &vErr) {
			h.respondError(w, http.StatusBadRequest, "", raw, err.Error())
		} else {
			h.respondError(w, http.StatusInternalServerError, "", ip, "Internal server error")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, models.ExistsResponse{IP: ip, Exists: ok})
}

// requestedIP extracts the address from the query (GET), a JSON body or a
// form field (POST). An empty result means "use the caller's address".
func requestedIP(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.Method != http.MethodPost {
		return r.URL.Query().Get("ip"), nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req models.IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			// An empty body asks for the caller's address
			if errors.Is(err, io.EOF) {
				return "", nil
			}
			return "", err
		}
		return req.IP, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", err
	}
	if ip := r.PostForm.Get("ip_address"); ip != "" {
		return ip, nil
	}
	return r.Form.Get("ip"), nil
}

func ingestResponse(result *service.IngestResult) models.IngestResponse {
	return models.IngestResponse{
		Status: string(result.Outcome),
		IP:     result.IP,
		Record: models.NewRecordView(result.Record),
	}
}

// respondJSON writes a JSON response with the given status code
func (h *IngestHandler) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// If encoding fails, we can't change the status code since headers are already sent
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// respondError writes an error response with consistent formatting
func (h *IngestHandler) respondError(w http.ResponseWriter, statusCode int, outcome service.Outcome, ip, message string) {
	h.respondJSON(w, statusCode, models.ErrorResponse{Status: string(outcome), IP: ip, Error: message})
}
