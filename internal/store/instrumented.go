package store

import (
	"context"
	"errors"
	"time"

	"github.com/evyataryagoni/iptracker/internal/metrics"
	"github.com/evyataryagoni/iptracker/internal/models"
)

// InstrumentedStore records datastore metrics around another Store
type InstrumentedStore struct {
	next    Store
	metrics *metrics.Metrics
	name    string
}

// Instrument wraps s so every call is counted and timed under the
// datastore label name. A nil metrics collector returns s unchanged.
func Instrument(s Store, m *metrics.Metrics, name string) Store {
	if m == nil {
		return s
	}
	return &InstrumentedStore{next: s, metrics: m, name: name}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrDuplicate):
		status = "duplicate"
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	default:
		status = "error"
	}

	s.metrics.DatastoreQueriesTotal.WithLabelValues(s.name, op, status).Inc()
	s.metrics.DatastoreQueryDuration.WithLabelValues(s.name, op).Observe(time.Since(start).Seconds())
}

// Exists implements the Store interface
func (s *InstrumentedStore) Exists(ctx context.Context, ip string) (bool, error) {
	start := time.Now()
	ok, err := s.next.Exists(ctx, ip)
	s.observe("exists", start, err)
	return ok, err
}

// Insert implements the Store interface
func (s *InstrumentedStore) Insert(ctx context.Context, rec *models.IPRecord) error {
	start := time.Now()
	err := s.next.Insert(ctx, rec)
	s.observe("insert", start, err)
	return err
}

// FindByIP implements the Store interface
func (s *InstrumentedStore) FindByIP(ctx context.Context, ip string) (*models.IPRecord, error) {
	start := time.Now()
	rec, err := s.next.FindByIP(ctx, ip)
	s.observe("find", start, err)
	return rec, err
}

// Ping implements the Store interface
func (s *InstrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.next.Ping(ctx)
	s.observe("ping", start, err)
	return err
}

// Close implements the Store interface
func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}
