// Command scanwatch follows one avatar scan job to completion, polling the
// API server on a fixed interval and printing the outcome.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fitroom/internal/observability"
	"fitroom/internal/scan"

	"github.com/rs/zerolog"
)

func main() {
	baseURL := flag.String("server", "http://localhost:8080", "scan API base URL")
	scanID := flag.String("scan", "", "job id to watch")
	interval := flag.Duration("interval", time.Second, "poll interval")
	attempts := flag.Int("attempts", 30, "max poll attempts")
	deadline := flag.Duration("deadline", 30*time.Second, "overall deadline")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if *scanID == "" {
		logger.Fatal().Msg("-scan is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	client := scan.InstrumentedClient{
		Base:   scan.NewHTTPStatusClient(*baseURL, nil),
		OnTick: metrics.CountPollTick,
	}

	monitor := scan.NewMonitor(client, scan.MonitorConfig{
		Interval:    *interval,
		MaxAttempts: *attempts,
		Deadline:    *deadline,
	})

	outcome := make(chan scan.Snapshot, 1)
	monitor.OnTerminal(func(snap scan.Snapshot) {
		outcome <- snap
	})

	if err := monitor.Start(ctx, *scanID); err != nil {
		logger.Fatal().Err(err).Msg("start monitor")
	}

	select {
	case <-ctx.Done():
		monitor.Stop()
		logger.Warn().Str("scan_id", *scanID).Msg("interrupted")
		os.Exit(1)
	case snap := <-outcome:
		monitor.Stop()
		evt := logger.Info()
		if snap.Status != "completed" {
			evt = logger.Error()
		}
		evt.Str("scan_id", snap.ScanID).
			Str("status", snap.Status).
			Int("poll_attempts", snap.PollAttempts).
			Str("avatar_url", snap.AvatarURL).
			Str("error", snap.ErrorMessage).
			Msg("scan finished")
		if snap.Status != "completed" {
			os.Exit(1)
		}
	}
}
