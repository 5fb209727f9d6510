// Package main is the entry point for the mktcalc optimizer service.
// It serves the portfolio optimizer over HTTP and websocket, keeps a journal
// of optimization runs, and ships that journal to S3 when configured.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/mktcalc/internal/config"
	"github.com/aristath/mktcalc/internal/database"
	"github.com/aristath/mktcalc/internal/metrics"
	"github.com/aristath/mktcalc/internal/modules/journal"
	"github.com/aristath/mktcalc/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/mktcalc/internal/modules/optimization/handlers"
	"github.com/aristath/mktcalc/internal/scheduler"
	"github.com/aristath/mktcalc/internal/server"
	"github.com/aristath/mktcalc/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Int("port", cfg.Port).
		Dur("solve_timeout", cfg.SolveTimeout).
		Bool("journal", cfg.Journal.Enabled).
		Bool("export", cfg.Export.Enabled()).
		Msg("Starting mktcalc")

	reg := metrics.NewRegistry()

	service := optimization.NewService(cfg.SolveTimeout, log)
	service.SetObserver(reg)

	sched := scheduler.New(log)

	var (
		journalDB *database.DB
		runs      optimizationhandlers.RunLister
	)
	if cfg.Journal.Enabled {
		journalDB, err = database.New(database.Config{
			Path:    cfg.JournalPath(),
			Profile: database.ProfileStandard,
			Name:    "journal",
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open journal database")
		}
		defer journalDB.Close()

		if err := journalDB.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate journal database")
		}

		repo := journal.NewRepository(journalDB, log)
		service.SetRecorder(repo)
		runs = repo

		if err := registerJournalJobs(cfg, sched, repo, journalDB, reg, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to register journal jobs")
		}
	} else {
		log.Warn().Msg("Run journal disabled")
	}

	optimizer := optimizationhandlers.NewHandler(service, runs, cfg.WSMessagesPerSecond, log)
	optimizer.SetMetrics(reg)

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		DataDir:   cfg.DataDir,
		Journal:   journalDB,
		Scheduler: sched,
		Metrics:   reg,
		Optimizer: optimizer,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	sched.Start()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Let running jobs finish before the journal closes
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// registerJournalJobs schedules journal retention and, when a bucket is
// configured, the S3 export
func registerJournalJobs(
	cfg *config.Config,
	sched *scheduler.Scheduler,
	repo *journal.Repository,
	db *database.DB,
	reg *metrics.Registry,
	log zerolog.Logger,
) error {
	retention := journal.NewRetentionJob(repo, db, cfg.Journal.RetentionDays, log)
	retention.OnDeleted(reg.ObserveRetention)
	if err := sched.AddJob(cfg.Journal.RetentionSchedule, retention); err != nil {
		return err
	}

	if !cfg.Export.Enabled() {
		log.Info().Msg("Journal export disabled, no bucket configured")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := journal.NewS3Client(ctx, cfg.Export)
	if err != nil {
		return err
	}

	export := journal.NewExportJob(repo, client, cfg.Export.Prefix, log)
	if err := sched.AddJob(cfg.Export.Schedule, export); err != nil {
		return err
	}

	log.Info().
		Str("bucket", client.Bucket()).
		Str("prefix", cfg.Export.Prefix).
		Msg("Journal export enabled")
	return nil
}
