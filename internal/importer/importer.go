// Package importer feeds a list of IP addresses through the ingestion flow
// with bounded concurrency.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/evyataryagoni/iptracker/internal/logger"
	"github.com/evyataryagoni/iptracker/internal/service"
	"golang.org/x/sync/errgroup"
)

// Ingester is the part of the ingestion service the importer needs
type Ingester interface {
	Ingest(ctx context.Context, raw string) *service.IngestResult
}

// Entry is one address read from the input, with its 1-based line number
type Entry struct {
	Line int
	IP   string
}

// Failure is an entry that ended in one of the failure outcomes
type Failure struct {
	Entry
	Outcome service.Outcome
	Err     error
}

// Summary counts the outcomes of an import run
type Summary struct {
	Total    int
	Outcomes map[service.Outcome]int
	Failures []Failure // sorted by line
}

// Failed returns how many entries did not end saved or duplicate
func (s *Summary) Failed() int {
	return len(s.Failures)
}

// ReadEntries parses a CSV list of addresses. The address is the first
// column; any other columns are ignored. Blank lines, lines starting with
// '#' and a leading header row ("ip" or "ip_address") are skipped.
// Addresses are not validated here so bad rows surface as
// validation_failed in the summary.
func ReadEntries(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	var entries []Entry
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		line, _ := reader.FieldPos(0)
		ip := strings.TrimSpace(record[0])
		if ip == "" {
			continue
		}
		if len(entries) == 0 && isHeader(ip) {
			continue
		}
		entries = append(entries, Entry{Line: line, IP: ip})
	}
	return entries, nil
}

func isHeader(cell string) bool {
	switch strings.ToLower(cell) {
	case "ip", "ip_address", "address":
		return true
	}
	return false
}

// Importer runs entries through an Ingester
type Importer struct {
	ingester    Ingester
	concurrency int
	logger      *logger.Logger
}

// New creates an importer that runs at most concurrency ingestions at once.
// A nil logger falls back to the default logger.
func New(ingester Ingester, concurrency int, log *logger.Logger) *Importer {
	if log == nil {
		log = logger.NewDefault()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Importer{
		ingester:    ingester,
		concurrency: concurrency,
		logger:      log.WithComponent("Importer"),
	}
}

// ImportFile reads path and imports every address in it
func (im *Importer) ImportFile(ctx context.Context, path string) (*Summary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	entries, err := ReadEntries(file)
	if err != nil {
		return nil, err
	}
	return im.Run(ctx, entries)
}

// Run ingests every entry. Per-entry failures are collected in the summary
// and never stop the run; cancelling ctx does, and Run then returns the
// partial summary together with the context error.
func (im *Importer) Run(ctx context.Context, entries []Entry) (*Summary, error) {
	summary := &Summary{Outcomes: map[service.Outcome]int{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)

	for _, entry := range entries {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			result := im.ingester.Ingest(gctx, entry.IP)

			mu.Lock()
			defer mu.Unlock()

			summary.Total++
			summary.Outcomes[result.Outcome]++
			if result.Err != nil {
				summary.Failures = append(summary.Failures, Failure{Entry: entry, Outcome: result.Outcome, Err: result.Err})
				im.logger.Warn().
					Err(result.Err).
					Int("line", entry.Line).
					Str("input", entry.IP).
					Str("outcome", string(result.Outcome)).
					Msg("Import entry failed")
			}
			return nil
		})
	}

	err := g.Wait()
	sort.Slice(summary.Failures, func(a, b int) bool {
		return summary.Failures[a].Line < summary.Failures[b].Line
	})

	if err == nil {
		err = ctx.Err()
	}

	im.logger.Info().
		Int("total", summary.Total).
		Int("saved", summary.Outcomes[service.OutcomeSaved]).
		Int("duplicate", summary.Outcomes[service.OutcomeDuplicate]).
		Int("failed", summary.Failed()).
		Msg("Import finished")

	return summary, err
}
