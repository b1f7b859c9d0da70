package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "torrentd/internal/api/http"
	"torrentd/internal/app"
	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
	"torrentd/internal/metrics"
	"torrentd/internal/repository/jsonfile"
	mongorepo "torrentd/internal/repository/mongo"
	"torrentd/internal/resume"
	"torrentd/internal/services/torrent/client"
	"torrentd/internal/services/torrent/engine/anacrolix"
	"torrentd/internal/settings"
	"torrentd/internal/telemetry"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "torrentd")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "torrentd"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("dataDir", cfg.DataDir),
		slog.String("stateBackend", cfg.StateBackend),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateRepo, disconnect, err := newStateRepository(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("state repository init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer disconnect()

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:            cfg.DataDir,
		ListenPort:         cfg.ListenPort,
		DownloadRateLimit:  cfg.DownloadRateLimit,
		UploadRateLimit:    cfg.UploadRateLimit,
		MaxConnsPerTorrent: cfg.MaxConnsPerTorrent,
		DHTEnabled:         cfg.DHTEnabled,
		PEXEnabled:         cfg.PEXEnabled,
		UTPEnabled:         cfg.UTPEnabled,
		SeedingEnabled:     cfg.SeedingEnabled,
		MetadataTimeout:    time.Duration(cfg.MetadataTimeoutSec) * time.Second,
	}, logger)
	if err != nil {
		logger.Error("torrent engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	resumeStore := resume.NewStore(cfg.ResumeDir, logger)
	manager := client.NewManager(engine, resumeStore, logger, client.Config{
		AlertInterval:  time.Duration(cfg.AlertPollIntervalMs) * time.Millisecond,
		StatusInterval: time.Duration(cfg.StatusIntervalMs) * time.Millisecond,
		ShutdownGrace:  time.Duration(cfg.ShutdownGraceMs) * time.Millisecond,
	})

	reconciler := settings.NewReconciler(engine, logger)
	reconciler.OnReject(func(key string) {
		metrics.SettingsRejectedTotal.WithLabelValues(key).Inc()
	})

	loadCtx, loadCancel := context.WithTimeout(rootCtx, 30*time.Second)
	state, err := stateRepo.Load(loadCtx)
	if err != nil {
		logger.Warn("state load failed, starting empty", slog.String("error", err.Error()))
		state = domain.AppState{}
	}
	if len(state.Settings) > 0 {
		reconciler.Apply(state.Settings)
	}
	manager.Restore(loadCtx, state)
	loadCancel()

	saveState := func() {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		doc := manager.Export()
		doc.Settings = reconciler.Effective()
		if err := stateRepo.Save(saveCtx, doc); err != nil {
			logger.Warn("state save failed", slog.String("error", err.Error()))
		}
	}
	reconciler.OnApplied(func(domain.SettingsMap) { saveState() })

	handler := apihttp.NewServer(manager,
		apihttp.WithSettings(reconciler),
		apihttp.WithDefaultSaveDir(cfg.SaveDir),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithLogger(logger),
	)
	manager.Subscribe(handler)
	manager.Start(rootCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	manager.Stop(shutdownCtx)
	saveState()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// newStateRepository selects the persistence backend for the state document.
// The returned disconnect func is a no-op for the jsonfile backend.
func newStateRepository(ctx context.Context, cfg app.Config, logger *slog.Logger) (ports.StateRepository, func(), error) {
	switch cfg.StateBackend {
	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		mongoClient, err := mongorepo.Connect(connectCtx, cfg.MongoURI,
			options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			return nil, nil, err
		}
		if err := mongoClient.Ping(connectCtx, readpref.Primary()); err != nil {
			_ = mongoClient.Disconnect(context.Background())
			return nil, nil, err
		}
		disconnect := func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
			}
		}
		return mongorepo.NewStateRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection), disconnect, nil
	default:
		return jsonfile.NewStateRepository(cfg.StatePath), func() {}, nil
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
