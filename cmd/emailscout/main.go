package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/okrama/emailscout/internal/config"
	"github.com/okrama/emailscout/internal/httpapi"
	"github.com/okrama/emailscout/internal/jobs"
	"github.com/okrama/emailscout/internal/persistence"
	"github.com/okrama/emailscout/internal/retention"
	"github.com/okrama/emailscout/internal/scraper"
	"github.com/okrama/emailscout/pkg/log"
)

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	// Missing .env is fine; the environment itself may be set.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	store, err := persistence.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("Failed to open job store: %v", err)
	}
	defer store.Close()

	manager := jobs.NewManager(cfg.Scraper.JobWorkers, cfg.Scraper.MaxJobs, store)
	runner := scraper.NewRunner(time.Duration(cfg.Scraper.RequestTimeout) * time.Second)
	manager.Start(executorFor(manager, runner))
	defer manager.Stop()

	cronRunner := cron.New()
	sweeper := retention.NewSweeper(
		manager,
		cfg.Storage.UploadDir,
		cfg.Retention.CronExpr,
		time.Duration(cfg.Retention.MaxAge)*time.Hour,
		cronRunner,
	)

	server := httpapi.NewServer(manager, cfg.Storage.UploadDir,
		httpapi.WithDefaults(cfg.Scraper.DefaultWorkers, cfg.Scraper.DefaultBatchSize),
		httpapi.WithSweepSchedule(cfg.Retention.CronExpr),
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runWithComponents(ctx, cfg, sweeper, cronRunner, server); err != nil {
		log.Fatal("Server exited: %v", err)
	}
}

// executorFor bridges the crawl runner into the job queue: progress,
// discoveries and per-company errors flow back through the manager.
func executorFor(manager *jobs.Manager, runner *scraper.Runner) jobs.Executor {
	return func(ctx context.Context, job *jobs.Job) error {
		return runner.Run(ctx, job.FilesProcessed, job.Config.Workers, job.Config.BatchSize, job.Config.Verbose, scraper.Hooks{
			Progress: func(processed, emails int, fraction float64) {
				manager.UpdateProgress(job.ID, processed, emails, fraction)
			},
			Discovery: func(company, domain string, emails []string) {
				manager.AddDiscovery(job.ID, company, domain, emails)
			},
			Error: func(msg string) {
				manager.AppendError(job.ID, msg)
			},
		})
	}
}

// runWithComponents wires the cron runner and HTTP server together and
// blocks until the context is cancelled, then shuts both down.
func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	sched scheduler,
	cronRunner cronEngine,
	server httpServer,
) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.HTTP.Addr)
		errCh <- server.ListenAndServe(cfg.HTTP.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Drain the listener goroutine; ErrServerClosed is the clean path.
	<-errCh
	return nil
}
