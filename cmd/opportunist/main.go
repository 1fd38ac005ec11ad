package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"opportunist/internal/config"
	"opportunist/internal/engine"
	"opportunist/internal/metrics"
	"opportunist/internal/model"
	"opportunist/internal/notify"
	"opportunist/internal/scorer"
	"opportunist/internal/source"
	"opportunist/internal/storage"
)

var runDate string

func main() {
	rootCmd := &cobra.Command{
		Use:   "opportunist",
		Short: "Daily opportunity digest engine",
		Long:  "Collects opportunity listings, scores them against an interest profile, and delivers a once-per-day digest.",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a single digest run for today's window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context())
		},
	}
	runCmd.Flags().StringVar(&runDate, "date", "", "window date (YYYY-MM-DD), defaults to today in the delivery timezone")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run continuously, delivering a digest at the configured time each day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	testNotifyCmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test message to verify notification settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return testNotify()
		},
	}

	rootCmd.AddCommand(runCmd, serveCmd, testNotifyCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app bundles everything a command needs after wiring.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	store  storage.Store
	eng    *engine.Engine
	tg     *notify.Telegram
	serveM func(ctx context.Context) // metrics listener, nil when disabled
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	profile := cfg.Profile

	var store storage.Store
	if cfg.RedisURL != "" {
		store, err = storage.NewRedis(ctx, cfg.RedisURL, profile.Retention.Std())
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
	} else {
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
		store, err = storage.NewSQLite(cfg.DatabasePath, profile.Retention.Std())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	}

	tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create notifier: %w", err)
	}

	sources := make([]source.Source, 0, len(profile.Sources))
	for _, src := range profile.Sources {
		sources = append(sources, source.NewFeed(src.Name, src.URL, http.DefaultClient))
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	var serveMetrics func(ctx context.Context)
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		sink = metrics.NewPrometheusSink(reg)
		serveMetrics = metricsListener(cfg.MetricsAddr, reg, log)
	}

	sc := scorer.New(http.DefaultClient, cfg.EmbeddingAPIURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, scorer.DefaultOptions(), sink, log)

	eng := engine.New(store, sources, sc, tg, engine.Options{
		Interests: profile.Interests,
		Threshold: profile.Threshold,
		Quotas:    profile.Quotas,
		Order:     profile.CategoryOrder,
	}, sink, log)

	return &app{cfg: cfg, log: log, store: store, eng: eng, tg: tg, serveM: serveMetrics}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("close store", "error", err)
	}
}

func runOnce(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		slog.Error("startup", "error", err)
		return err
	}
	defer a.close()

	profile := a.cfg.Profile
	window := model.WindowFor(time.Now(), profile.Location(), profile.Freshness.Std())
	if runDate != "" {
		if _, err := time.Parse("2006-01-02", runDate); err != nil {
			a.log.Error("invalid date", "date", runDate)
			return fmt.Errorf("invalid --date %q: %w", runDate, err)
		}
		window.Date = runDate
	}

	result, err := a.eng.Run(ctx, window)
	if err != nil {
		a.log.Error("run failed", "window", window.Date, "error", err)
		return err
	}
	a.log.Info("run finished", "window", window.Date, "status", string(result.Status), "total", result.Total)
	return nil
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		slog.Error("startup", "error", err)
		return err
	}
	defer a.close()

	if a.serveM != nil {
		go a.serveM(ctx)
	}

	profile := a.cfg.Profile
	spec, err := cronSpec(profile.DeliveryTime)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithLocation(profile.Location()))
	_, err = c.AddFunc(spec, func() {
		window := model.WindowFor(time.Now(), profile.Location(), profile.Freshness.Std())
		if _, err := a.eng.Run(ctx, window); err != nil {
			a.log.Error("scheduled run failed", "window", window.Date, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule delivery: %w", err)
	}

	a.log.Info("serving", "delivery_time", profile.DeliveryTime, "timezone", profile.Timezone)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	a.log.Info("stopped")
	return nil
}

func testNotify() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		return err
	}
	log := newLogger(cfg.LogLevel)

	tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
	if err != nil {
		log.Error("create notifier", "error", err)
		return err
	}
	if err := tg.SendText("Opportunist test notification: settings look good."); err != nil {
		log.Error("send test message", "error", err)
		return err
	}
	log.Info("test message sent", "chat_id", cfg.TelegramChatID)
	return nil
}

// cronSpec converts an HH:MM delivery time into a daily cron expression.
func cronSpec(deliveryTime string) (string, error) {
	t, err := time.Parse("15:04", deliveryTime)
	if err != nil {
		return "", fmt.Errorf("invalid delivery time %q: %w", deliveryTime, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

func metricsListener(addr string, reg *prometheus.Registry, log *slog.Logger) func(ctx context.Context) {
	return func(ctx context.Context) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener", "error", err)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
