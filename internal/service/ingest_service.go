package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evyataryagoni/iptracker/internal/geo"
	"github.com/evyataryagoni/iptracker/internal/ipaddr"
	"github.com/evyataryagoni/iptracker/internal/logger"
	"github.com/evyataryagoni/iptracker/internal/metrics"
	"github.com/evyataryagoni/iptracker/internal/models"
	"github.com/evyataryagoni/iptracker/internal/store"
)

// Outcome is the terminal state of one ingestion
type Outcome string

const (
	OutcomeSaved            Outcome = "saved"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomeLookupFailed     Outcome = "lookup_failed"
	OutcomeStorageFailed    Outcome = "storage_failed"

	// OutcomeNew is reported by Analyze for an address not stored yet
	OutcomeNew Outcome = "new"
)

// IngestResult describes how an ingestion ended.
//
// Record is the stored row for saved, and the previously stored row for
// duplicate when it could be read back. Err is set for the three failure
// outcomes.
type IngestResult struct {
	Outcome Outcome
	IP      string
	Record  *models.IPRecord
	Err     error
}

// AnalyzeResult describes a lookup that was not persisted.
//
// Outcome is new or duplicate on success, with Geo holding the fresh
// provider result; otherwise one of the failure outcomes with Err set.
type AnalyzeResult struct {
	Outcome Outcome
	IP      string
	Geo     *models.GeoResult
	Err     error
}

// PublicIPResolver finds this host's public address
type PublicIPResolver interface {
	PublicIP(ctx context.Context) (string, error)
}

// IngestService runs the ingestion flow:
//
//	Validating -> Looking up -> Persisting -> saved | duplicate
//
// with validation_failed, lookup_failed and storage_failed as the early
// exits. It holds no state between calls; the store's uniqueness
// constraint is the only coordination between concurrent ingestions.
type IngestService struct {
	store    store.Store
	provider geo.Provider
	resolver PublicIPResolver
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// NewIngestService creates a new ingestion service
//
// Parameters:
//   - store: any implementation of the Store interface
//   - provider: the geolocation provider
//   - m: metrics collector (optional, can be nil)
//   - log: logger (optional, can be nil)
func NewIngestService(store store.Store, provider geo.Provider, m *metrics.Metrics, log *logger.Logger) *IngestService {
	if log == nil {
		log = logger.NewDefault()
	}
	return &IngestService{
		store:    store,
		provider: provider,
		metrics:  m,
		logger:   log.WithComponent("IngestService"),
	}
}

// WithPublicIPResolver enables replacing loopback caller addresses with
// the host's public address in ResolveCallerIP.
func (s *IngestService) WithPublicIPResolver(r PublicIPResolver) *IngestService {
	s.resolver = r
	return s
}

// Ingest validates raw, looks it up with the provider and stores the result.
// It makes at most one provider call and never retries.
func (s *IngestService) Ingest(ctx context.Context, raw string) *IngestResult {
	ip, err := ipaddr.Normalize(raw)
	if err != nil {
		s.logger.Warn().Str("input", raw).Msg("Invalid IP address format")
		return s.finish(&IngestResult{Outcome: OutcomeValidationFailed, IP: raw, Err: err})
	}

	log := s.logger.WithIP(ip)
	log.Debug().Msg("Looking up IP address")

	geoResult, err := s.lookup(ctx, ip)
	if err != nil {
		log.Warn().Err(err).Msg("Geolocation lookup failed")
		return s.finish(&IngestResult{Outcome: OutcomeLookupFailed, IP: ip, Err: err})
	}

	rec := models.NewIPRecord(ip, geoResult)
	err = s.store.Insert(ctx, rec)
	switch {
	case err == nil:
		log.Info().
			Str("country", rec.Country).
			Str("city", rec.City).
			Bool("vpn_detected", rec.VPNDetected).
			Msg("IP address saved")
		return s.finish(&IngestResult{Outcome: OutcomeSaved, IP: ip, Record: rec})

	case errors.Is(err, store.ErrDuplicate):
		log.Info().Msg("IP address already recorded")
		result := &IngestResult{Outcome: OutcomeDuplicate, IP: ip}

		existing, findErr := s.store.FindByIP(ctx, ip)
		if findErr != nil {
			log.Error().Err(findErr).Msg("Failed to read back duplicate record")
		} else {
			result.Record = existing
		}
		return s.finish(result)

	default:
		log.Error().Err(err).Msg("Failed to store IP record")
		return s.finish(&IngestResult{Outcome: OutcomeStorageFailed, IP: ip, Err: err})
	}
}

// Analyze validates raw, looks it up with the provider and reports whether
// the address is already stored. Nothing is written.
func (s *IngestService) Analyze(ctx context.Context, raw string) *AnalyzeResult {
	ip, err := ipaddr.Normalize(raw)
	if err != nil {
		s.logger.Warn().Str("input", raw).Msg("Invalid IP address format")
		return &AnalyzeResult{Outcome: OutcomeValidationFailed, IP: raw, Err: err}
	}

	log := s.logger.WithIP(ip)

	geoResult, err := s.lookup(ctx, ip)
	if err != nil {
		log.Warn().Err(err).Msg("Geolocation lookup failed")
		return &AnalyzeResult{Outcome: OutcomeLookupFailed, IP: ip, Err: err}
	}

	stored, err := s.store.Exists(ctx, ip)
	if err != nil {
		log.Error().Err(err).Msg("Store error during analysis")
		return &AnalyzeResult{Outcome: OutcomeStorageFailed, IP: ip, Err: err}
	}

	result := &AnalyzeResult{Outcome: OutcomeNew, IP: ip, Geo: geoResult}
	if stored {
		result.Outcome = OutcomeDuplicate
	}
	log.Debug().Str("status", string(result.Outcome)).Msg("IP address analyzed")
	return result
}

func (s *IngestService) lookup(ctx context.Context, ip string) (*models.GeoResult, error) {
	start := time.Now()
	result, err := s.provider.Lookup(ctx, ip)

	if s.metrics != nil {
		s.metrics.GeoLookupDuration.Observe(time.Since(start).Seconds())
		s.metrics.GeoLookupsTotal.WithLabelValues(lookupResult(err)).Inc()
	}
	return result, err
}

// lookupResult is the metric label for a provider call
func lookupResult(err error) string {
	if err == nil {
		return "success"
	}
	var lookupErr *geo.LookupError
	if errors.As(err, &lookupErr) {
		return lookupErr.Reason
	}
	return "error"
}

func (s *IngestService) finish(result *IngestResult) *IngestResult {
	if s.metrics != nil {
		s.metrics.IngestionsTotal.WithLabelValues(string(result.Outcome)).Inc()
	}
	return result
}

// Get returns the stored record for an address.
// Returns *ipaddr.ValidationError, store.ErrNotFound or a storage error.
func (s *IngestService) Get(ctx context.Context, raw string) (*models.IPRecord, error) {
	ip, err := ipaddr.Normalize(raw)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.FindByIP(ctx, ip)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error().Err(err).Str("ip", ip).Msg("Store error during record lookup")
		}
		return nil, err
	}
	return rec, nil
}

// Exists reports whether an address has been stored.
// The returned string is the canonical form of raw.
func (s *IngestService) Exists(ctx context.Context, raw string) (string, bool, error) {
	ip, err := ipaddr.Normalize(raw)
	if err != nil {
		return raw, false, err
	}

	ok, err := s.store.Exists(ctx, ip)
	if err != nil {
		s.logger.Error().Err(err).Str("ip", ip).Msg("Store error during existence check")
		return ip, false, err
	}
	return ip, ok, nil
}

// ResolveCallerIP returns the address to ingest when the caller gave none.
// A loopback address is swapped for the host's public address when a
// resolver is configured, so local runs record something meaningful.
// Resolution failures keep the original address.
func (s *IngestService) ResolveCallerIP(ctx context.Context, addr string) string {
	if s.resolver == nil || !ipaddr.IsLoopback(addr) {
		return addr
	}

	public, err := s.resolver.PublicIP(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("ip", addr).Msg("Could not resolve public IP for loopback caller")
		return addr
	}
	s.logger.Debug().Str("ip", addr).Str("public_ip", public).Msg("Resolved loopback caller to public IP")
	return public
}

// Ping checks the underlying store
func (s *IngestService) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	return nil
}

// Close cleans up resources
// This will close the underlying store (database connections, etc.)
func (s *IngestService) Close() error {
	return s.store.Close()
}
