package models

import (
	"encoding/json"
	"strings"
	"time"
)

// IPRecord is the stored result of one successful ingestion.
// Records are written once and never updated.
type IPRecord struct {
	ID          uint            `json:"id"`
	IPAddress   string          `json:"ip_address"`
	Country     string          `json:"country,omitempty"`
	CountryCode string          `json:"country_code,omitempty"`
	Region      string          `json:"region,omitempty"`
	City        string          `json:"city,omitempty"`
	Org         string          `json:"org,omitempty"`
	VPNDetected bool            `json:"vpn_detected"`
	VPNType     string          `json:"vpn_type,omitempty"` // vpn, proxy, tor or none
	RawGeoData  json.RawMessage `json:"raw_geo_data,omitempty" swaggertype:"object"`
	Timestamp   time.Time       `json:"timestamp"`
}

// GeoResult is a provider response normalised to the fields we store.
type GeoResult struct {
	IP          string
	Country     string
	CountryCode string
	Region      string
	City        string
	Org         string
	VPNDetected bool
	VPNType     string
	Raw         json.RawMessage // provider body, compacted
}

// NewIPRecord builds the record to persist for ip from a lookup result.
// The timestamp is left zero; stores stamp it on insert.
func NewIPRecord(ip string, geo *GeoResult) *IPRecord {
	return &IPRecord{
		IPAddress:   ip,
		Country:     geo.Country,
		CountryCode: geo.CountryCode,
		Region:      geo.Region,
		City:        geo.City,
		Org:         geo.Org,
		VPNDetected: geo.VPNDetected,
		VPNType:     geo.VPNType,
		RawGeoData:  geo.Raw,
	}
}

// CountryFlag converts an ISO 3166 alpha-2 code into its flag emoji.
// Anything that is not two ASCII letters yields the globe emoji.
func CountryFlag(code string) string {
	if len(code) != 2 {
		return "🌍"
	}
	code = strings.ToUpper(code)

	var b strings.Builder
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return "🌍"
		}
		// Regional indicator symbols start at U+1F1E6 for 'A'
		b.WriteRune(c - 'A' + 0x1F1E6)
	}
	return b.String()
}

// RecordView is an IPRecord as rendered by the API
type RecordView struct {
	*IPRecord
	CountryFlag string `json:"country_flag"`
}

// NewRecordView decorates rec for display. A nil record gives a nil view.
func NewRecordView(rec *IPRecord) *RecordView {
	if rec == nil {
		return nil
	}
	return &RecordView{IPRecord: rec, CountryFlag: CountryFlag(rec.CountryCode)}
}

// IngestRequest is the JSON body accepted by POST /v1/ingest and /v1/analyze
type IngestRequest struct {
	IP string `json:"ip" example:"8.8.8.8"`
}

// IngestResponse describes the outcome of one ingestion
type IngestResponse struct {
	Status string      `json:"status" example:"saved"` // saved, duplicate
	IP     string      `json:"ip" example:"8.8.8.8"`
	Record *RecordView `json:"record,omitempty"`
}

// ExistsResponse is returned by GET /v1/records/{ip}/exists
type ExistsResponse struct {
	IP     string `json:"ip" example:"8.8.8.8"`
	Exists bool   `json:"exists"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Status string `json:"status,omitempty" example:"validation_failed"`
	IP     string `json:"ip,omitempty"`
	Error  string `json:"error"`
}

// AnalyzeResponse is a fresh lookup result that was not stored
type AnalyzeResponse struct {
	Status      string `json:"status" example:"new"` // new, duplicate
	IP          string `json:"ip" example:"8.8.8.8"`
	Country     string `json:"country,omitempty" example:"US"`
	CountryCode string `json:"country_code,omitempty" example:"US"`
	CountryFlag string `json:"country_flag"`
	Region      string `json:"region,omitempty" example:"California"`
	City        string `json:"city,omitempty" example:"Mountain View"`
	Org         string `json:"org,omitempty" example:"AS15169 Google LLC"`
	VPNDetected bool   `json:"vpn_detected"`
	VPNType     string `json:"vpn_type,omitempty" example:"none"`
}

// NewAnalyzeResponse renders a lookup result with its storage status
func NewAnalyzeResponse(status, ip string, geo *GeoResult) AnalyzeResponse {
	return AnalyzeResponse{
		Status:      status,
		IP:          ip,
		Country:     geo.Country,
		CountryCode: geo.CountryCode,
		CountryFlag: CountryFlag(geo.CountryCode),
		Region:      geo.Region,
		City:        geo.City,
		Org:         geo.Org,
		VPNDetected: geo.VPNDetected,
		VPNType:     geo.VPNType,
	}
}
