package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/evyataryagoni/iptracker/internal/config"
	"github.com/evyataryagoni/iptracker/internal/geo"
	"github.com/evyataryagoni/iptracker/internal/importer"
	"github.com/evyataryagoni/iptracker/internal/logger"
	"github.com/evyataryagoni/iptracker/internal/service"
	"github.com/evyataryagoni/iptracker/internal/store"
)

// This tool ingests a CSV list of IP addresses using the same
// configuration as the server.
// Usage: go run ./cmd/ingest -file ips.csv [-concurrency 8]
func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run returns the process exit code: 0 when every entry was saved or
// already recorded, 1 on failed entries or setup errors, 2 on bad usage.
func run(args []string, stdout io.Writer) int {
	appConfig := config.Load()

	flags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	filePath := flags.String("file", "", "CSV file with one IP address per line (first column)")
	concurrency := flags.Int("concurrency", appConfig.ImportConcurrency, "maximum concurrent ingestions")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	appLogger := logger.New(logger.Config{
		Level:      appConfig.LogLevel,
		Pretty:     appConfig.LogPretty,
		OutputFile: appConfig.LogFile,
	})

	if *filePath == "" {
		flags.Usage()
		return 2
	}
	if err := appConfig.Validate(); err != nil {
		appLogger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}

	var (
		dataStore store.Store
		err       error
	)
	if appConfig.DatastoreType == config.DatastoreRedis {
		dataStore, err = store.NewRedisStore(appConfig.RedisAddr, appConfig.RedisPassword, appConfig.RedisDB)
	} else {
		dataStore, err = store.NewSQLStore(appConfig.DatastoreType, appConfig.DSN())
	}
	if err != nil {
		appLogger.Error().Err(err).Str("type", appConfig.DatastoreType).Msg("Failed to initialize datastore")
		return 1
	}

	geoClient := geo.NewClient(geo.Config{
		URL:     appConfig.GeoAPIURL,
		Token:   appConfig.GeoAPIToken,
		Timeout: appConfig.GeoAPITimeout,
	}, appLogger)

	ingestService := service.NewIngestService(dataStore, geoClient, nil, appLogger)
	defer ingestService.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := importer.New(ingestService, *concurrency, appLogger).ImportFile(ctx, *filePath)
	if summary != nil {
		fmt.Fprintf(stdout, "processed %d: saved %d, duplicate %d, failed %d\n",
			summary.Total,
			summary.Outcomes[service.OutcomeSaved],
			summary.Outcomes[service.OutcomeDuplicate],
			summary.Failed())
		for _, f := range summary.Failures {
			fmt.Fprintf(stdout, "  line %d %q: %s: %v\n", f.Line, f.IP, f.Outcome, f.Err)
		}
	}
	if err != nil {
		appLogger.Error().Err(err).Msg("Import aborted")
		return 1
	}
	if summary.Failed() > 0 {
		return 1
	}
	return 0
}
