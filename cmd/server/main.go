package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fitroom/cmd/server/config"
	"fitroom/internal/checkout"
	"fitroom/internal/httpapi"
	"fitroom/internal/jobs"
	"fitroom/internal/journal"
	"fitroom/internal/observability"
	"fitroom/internal/realtime"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func run(ctx context.Context, logger zerolog.Logger) error {
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	jobsCfg, err := config.LoadJobs()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	memory := jobs.NewMemoryStore()
	store, cleanupStore, err := buildJobStore(ctx, memory)
	if err != nil {
		return err
	}
	defer cleanupStore()

	publishers := []jobs.StatusPublisher{jobs.NewStorePublisher(store)}

	var jnl *journal.Journal
	if jobsCfg.JournalPath != "" {
		jnl, err = journal.Open(jobsCfg.JournalPath)
		if err != nil {
			return err
		}
		defer jnl.Close()

		entries, err := jnl.Replay()
		if err != nil {
			return err
		}
		logger.Info().Int("entries", len(entries)).Str("path", jobsCfg.JournalPath).Msg("journal replayed")
		publishers = append(publishers, journalPublisher{journal: jnl})
	}
	publishers = append(publishers, outcomeCounter{metrics: metrics})

	hub := realtime.NewHub()
	go hub.Run(ctx)

	publisher := jobs.NewFanoutPublisher(jobs.NewMultiPublisher(publishers...), hub)
	manager := jobs.NewManager(buildRunner(jobsCfg), publisher).WithLogf(func(format string, args ...any) {
		logger.Warn().Msgf(format, args...)
	})

	orderClient, cleanupOrders := checkout.BuildOrderClient(ctx, os.Getenv("DATABASE_URL"), func(format string, args ...any) {
		logger.Info().Msgf(format, args...)
	})
	defer cleanupOrders()

	api := httpapi.NewServer(manager, orderClient, hub, metrics, logger)
	if jnl != nil {
		api.WithJournal(jnl)
	}
	limiter := rate.NewLimiter(rate.Limit(httpCfg.RateLimitPerSecond), httpCfg.RateLimitBurst)
	handler := httpapi.Chain(api.Routes(),
		httpapi.RequestLogging(logger),
		httpapi.RateLimit(limiter, metrics),
	)

	srv := &http.Server{
		Addr:              httpCfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpCfg.Addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
		manager.Wait()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// buildRunner picks the inference runner. With SCAN_SCRIPT_PATH set the
// real pipeline subprocess runs; otherwise jobs complete via the stub,
// which keeps local development free of GPU dependencies.
func buildRunner(cfg config.JobsConfig) jobs.Runner {
	script := strings.TrimSpace(os.Getenv("SCAN_SCRIPT_PATH"))
	if script == "" {
		return &jobs.StubRunner{Delay: cfg.StubRunDelay}
	}

	python := strings.TrimSpace(os.Getenv("SCAN_PYTHON"))
	if python == "" {
		python = "python3"
	}
	return &jobs.CommandRunner{
		Python:     python,
		ScriptPath: script,
		BaseModel:  strings.TrimSpace(os.Getenv("SCAN_BASE_MODEL")),
		WorkDir:    strings.TrimSpace(os.Getenv("SCAN_WORK_DIR")),
	}
}

// journalPublisher records terminal job outcomes in the durability journal.
type journalPublisher struct {
	journal *journal.Journal
}

func (p journalPublisher) Publish(ctx context.Context, job jobs.Job) error {
	if !job.State.Terminal() {
		return nil
	}
	detail := job.AvatarURL
	if job.State == jobs.StateFailed {
		detail = job.Message
	}
	return p.journal.Append(ctx, journal.Entry{
		Kind:    "scan",
		ID:      job.ID,
		Outcome: string(job.State),
		Detail:  detail,
		At:      time.Now().UTC(),
	})
}

// outcomeCounter feeds the terminal-state counters.
type outcomeCounter struct {
	metrics *observability.Metrics
}

func (c outcomeCounter) Publish(_ context.Context, job jobs.Job) error {
	if job.State.Terminal() {
		c.metrics.CountJobOutcome(string(job.State))
	}
	return nil
}
