package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/plugshare/internal/auth"
	"github.com/jgoulah/plugshare/internal/config"
	"github.com/jgoulah/plugshare/internal/estimate"
	"github.com/jgoulah/plugshare/internal/httpapi"
	"github.com/jgoulah/plugshare/internal/metrics"
	"github.com/jgoulah/plugshare/internal/publisher"
	"github.com/jgoulah/plugshare/internal/ratelimit"
	"github.com/jgoulah/plugshare/internal/reading"
	"github.com/jgoulah/plugshare/internal/scheduler"
	"github.com/jgoulah/plugshare/internal/session"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves the device and usage API. When MQTT is configured, device state changes
and overdue sessions are published to the broker.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config or :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	m := metrics.New()
	readings := reading.NewSelector(cfg.DeviceAPI, reading.NewHTTPSource(cfg.DeviceAPI), reading.NewSimulatedSource())
	if cfg.DeviceAPI.UseRealAPI || len(cfg.DeviceAPI.SpecialIPs) > 0 {
		slog.Info("reading device meters from the real API", "url", cfg.DeviceAPI.URL, "special_ips", cfg.DeviceAPI.SpecialIPs)
	}

	sessionOpts := []session.Option{session.WithRate(cfg.RatePerKWh), session.WithRecorder(m)}

	var mq *publisher.MQTT
	if cfg.MQTT.Enabled {
		mq, err = publisher.NewMQTT(cfg.MQTT, cfg.GetTopicPrefix())
		if err != nil {
			return fmt.Errorf("creating publisher: %w", err)
		}
		defer mq.Close()
		sessionOpts = append(sessionOpts, session.WithEvents(mq))
		slog.Info("publishing device state", "broker", cfg.MQTT.Broker, "prefix", cfg.GetTopicPrefix())
	}

	var limiter ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		limiter = newRedisLimiter(cfg)
	}

	srv := httpapi.New(db, httpapi.Options{
		Sessions:  session.New(db, readings, sessionOpts...),
		Estimates: estimate.NewUpdater(db),
		Verifier:  verifier,
		Metrics:   m,
		Limiter:   limiter,
	})

	addr := serveAddr
	if addr == "" {
		addr = cfg.GetListenAddr()
	}
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("plugshare listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if mq != nil {
		watcher := scheduler.NewOverdueWatcher(db, mq, m)
		g.Go(func() error { return watcher.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRedisLimiter(cfg *config.Config) ratelimit.Limiter {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rps, burst := cfg.GetRateLimit()
	slog.Info("rate limiting device actions", "redis", cfg.Redis.Addr, "rps", rps, "burst", burst)
	return ratelimit.NewRedisLimiter(client, "plugshare:rl", rps, burst)
}
