package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stream-relay/internal/platform/config"
	"stream-relay/internal/platform/logger"
	"stream-relay/internal/platform/metrics"
	"stream-relay/internal/source"
	"stream-relay/internal/stream"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "10000")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	accessLogPath := config.GetEnv("ACCESS_LOG_PATH", "access.log")
	catalogPath := config.GetEnv("CATALOG_PATH", "channels.yaml")
	scheme := config.GetEnv("SOURCE_SCHEME", source.DefaultScheme)
	launcherCfg := stream.LauncherConfig{
		Binary:        config.GetEnv("FFMPEG_PATH", "ffmpeg"),
		RTSPTransport: config.GetEnv("FFMPEG_RTSP_TRANSPORT", ""),
		ChunkSize:     config.GetEnvInt("CHUNK_SIZE", stream.DefaultChunkSize),
		KillGrace:     config.GetEnvDuration("KILL_GRACE", stream.DefaultKillGrace),
	}
	sinkOpts := stream.SinkOptions{
		QueueChunks:  config.GetEnvInt("SINK_QUEUE_CHUNKS", stream.DefaultSinkQueue),
		WriteTimeout: config.GetEnvDuration("SINK_WRITE_TIMEOUT", 30*time.Second),
	}

	log := logger.New(logLevel, logFormat)

	catalog, err := loadCatalog(catalogPath, log)
	if err != nil {
		log.Error("catalog load failed", "path", catalogPath, "error", err)
		os.Exit(1)
	}
	log.Info("catalog loaded", "path", catalogPath, "channels", catalog.IDs())

	access, err := logger.OpenAccessLog(accessLogPath)
	if err != nil {
		log.Error("access log unavailable", "error", err)
		os.Exit(1)
	}
	defer access.Close()

	// Converter processes outlive individual requests; they are bound to
	// this context and interrupted together on shutdown.
	procCtx, cancelProcs := context.WithCancel(context.Background())
	defer cancelProcs()

	launcher := stream.NewLauncher(procCtx, launcherCfg, log)
	registry := stream.NewRegistry()
	met := metrics.New()
	svc := stream.NewService(registry, launcher.StartFunc(), log, met)
	resolver := source.NewResolver(catalog, scheme)
	h := stream.NewHandler(svc, resolver, log, access, sinkOpts)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetSharedSessions(svc.SharedCount()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/sessions", h.ListSessions)
	r.Get("/catchup/*", h.Catchup)
	r.Get("/tv/{channel}", h.Channel)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, stopping sessions")

		// Ending the sessions first lets the streaming handlers return, so
		// Shutdown does not wait on them until the timeout.
		svc.Shutdown()
		cancelProcs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("server starting",
		"port", port,
		"catalog_channels", catalog.Len(),
		"ffmpeg", launcherCfg.Binary,
		"log_level", logLevel,
	)

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

func loadCatalog(path string, log *slog.Logger) (*source.InMemoryCatalog, error) {
	catalog, err := source.LoadCatalog(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("catalog file not found, /tv requests will return 404", "path", path)
		return source.NewInMemoryCatalog()
	}
	return catalog, err
}
