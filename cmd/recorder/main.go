// recorder subscribes to the exchange feed and records every forwarded
// message in PostgreSQL.
// Usage: go run ./cmd/recorder --config configs/recorder.example.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/coinbase-feed/internal/config"
	"github.com/rickgao/coinbase-feed/internal/database"
	"github.com/rickgao/coinbase-feed/internal/feed"
	"github.com/rickgao/coinbase-feed/internal/metrics"
	"github.com/rickgao/coinbase-feed/internal/version"
	"github.com/rickgao/coinbase-feed/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/recorder.example.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Set up structured logging
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(*configPath, logger); err != nil {
		logger.Error("recorder failed", "error", err)
		os.Exit(1)
	}
	logger.Info("recorder stopped")
}

func run(configPath string, logger *slog.Logger) error {
	// Load configuration
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"feed_url", cfg.Feed.URL,
		"products", cfg.Feed.Products,
		"channels", cfg.Feed.Channels,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Metrics
	provider, err := metrics.New(metrics.Config{
		ServiceName:    "recorder",
		ServiceVersion: version.Version,
		InstanceID:     cfg.Instance.ID,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		provider.Shutdown(shutdownCtx)
	}()

	clientTelemetry, err := feed.NewTelemetryWithProvider(provider.MeterProvider())
	if err != nil {
		return fmt.Errorf("init feed telemetry: %w", err)
	}
	writerTelemetry, err := writer.NewTelemetryWithProvider(provider.MeterProvider())
	if err != nil {
		return fmt.Errorf("init writer telemetry: %w", err)
	}

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := metrics.RegisterPoolStats(provider.MeterProvider(), pool); err != nil {
		return fmt.Errorf("register pool stats: %w", err)
	}

	logger.Info("database connected")

	// Feed client
	client := feed.NewClient(
		cfg.Feed.ClientConfig(cfg.Writer.BufferSize),
		feed.WithLogger(logger),
		feed.WithTelemetry(clientTelemetry),
	)
	if err := metrics.RegisterBacklog(provider.MeterProvider(),
		"feed.client.output.backlog", "Messages waiting for the writer",
		client.Output().Len,
	); err != nil {
		return fmt.Errorf("register backlog: %w", err)
	}

	// Writer
	w := writer.NewMessageWriter(writer.WriterConfig{
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		InstanceID:    cfg.Instance.ID,
	}, client.Output(), pool, writerTelemetry, logger)

	// The writer outlives ctx so it can drain the output after the client stops.
	if err := w.Start(context.Background()); err != nil {
		return fmt.Errorf("start writer: %w", err)
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start feed client: %w", err)
	}
	client.Subscribe(cfg.Feed.Products, cfg.Feed.Channels)

	// HTTP server for health, stats and metrics
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(cfg.Metrics.Path, provider.Handler(), pool, client, w),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		select {
		case <-client.Done():
			if err := client.Err(); err != nil {
				return fmt.Errorf("feed client: %w", err)
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		logStats(gctx, logger, client, w)
		return nil
	})

	logger.Info("recorder running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for a signal, a fatal client error or a server failure
	<-gctx.Done()
	logger.Info("shutting down...")
	cancel()

	// Stopping the client closes its output; the writer drains it.
	client.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	select {
	case <-w.Drained():
	case <-shutdownCtx.Done():
		logger.Warn("writer did not drain before shutdown timeout")
	}
	w.Stop(shutdownCtx)

	return g.Wait()
}

func logStats(ctx context.Context, logger *slog.Logger, client *feed.Client, w *writer.MessageWriter) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs := client.Stats()
			ws := w.Stats()
			logger.Info("stats",
				"connected", cs.Connected,
				"reconnects", cs.Reconnects,
				"received", cs.MessagesReceived,
				"forwarded", cs.MessagesOutput,
				"backlog", cs.OutputBacklog,
				"seq_gaps", cs.SequenceGaps,
				"inserts", ws.Inserts,
				"conflicts", ws.Conflicts,
				"write_errors", ws.Errors,
			)
		}
	}
}

// newHandler creates the HTTP handler for health checks, stats and metrics.
func newHandler(metricsPath string, metricsHandler http.Handler, pool *pgxpool.Pool, client *feed.Client, w *writer.MessageWriter) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, metricsHandler)

	mux.HandleFunc("/health", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		// Check feed connection
		stats := client.Stats()
		health.Components["feed"] = map[string]any{
			"session":        stats.SessionState,
			"last_heartbeat": stats.LastHeartbeat,
			"reconnects":     stats.Reconnects,
		}
		if !stats.Connected && health.Status == "healthy" {
			health.Status = "degraded"
		}

		// Set response
		rw.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			rw.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(rw).Encode(health)
	})

	mux.HandleFunc("/stats", func(rw http.ResponseWriter, r *http.Request) {
		products, channels := client.Subscriptions()

		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(map[string]any{
			"version":  version.String(),
			"products": products,
			"channels": channels,
			"client":   client.Stats(),
			"writer":   w.Stats(),
		})
	})

	return mux
}
