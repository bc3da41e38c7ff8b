package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/vecbench/internal/ingest"
	"github.com/23skdu/vecbench/internal/logging"
	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/objstore"
	"github.com/23skdu/vecbench/internal/provider"
	"github.com/23skdu/vecbench/internal/telemetry"
)

// app holds the process-wide collaborators shared by every command.
type app struct {
	cfg     *Config
	logger  zerolog.Logger
	store   *metrics.Store
	files   *objstore.Accessor
	tracing *telemetry.Provider
	server  *http.Server
	out     io.Writer
	// abandoned is set when a run left tasks behind that may still record.
	abandoned bool
}

func newApp(ctx context.Context, cfg *Config, logOut, out io.Writer) (*app, error) {
	logger, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Output: logOut})
	if err != nil {
		return nil, err
	}

	tracing, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	files := objstore.NewAccessor(cfg.CacheDir, logger.With().Str("component", "objstore").Logger())
	s3, err := objstore.NewS3Backend(ctx, cfg.S3Config())
	if err != nil {
		logger.Warn().Err(err).Msg("S3 backend unavailable")
	} else {
		files.Register("s3", s3)
	}
	if cfg.MinioEndpoint != "" {
		mb, err := objstore.NewMinioBackend(cfg.MinioConfig())
		if err != nil {
			return nil, err
		}
		files.Register("minio", mb)
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   metrics.NewStore(metrics.WithObserver(metrics.NewPrometheusObserver())),
		files:   files,
		tracing: tracing,
		out:     out,
	}
	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr); err != nil {
			a.close(ctx)
			return nil, err
		}
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	a.logger.Info().Str("address", lis.Addr().String()).Msg("Starting metrics server")
	go func() {
		if err := a.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return nil
}

func (a *app) close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = a.server.Shutdown(shutdownCtx)
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	if a.abandoned {
		a.logger.Warn().Msg("Leaving metric store open for abandoned tasks")
		return
	}
	a.store.Close()
}

// finish records whether res left tasks running.
func (a *app) finish(res *ingest.Result) {
	if res != nil && res.Abandoned {
		a.abandoned = true
	}
}

func (a *app) provider(name string) (provider.Provider, error) {
	var tracer trace.Tracer
	if a.tracing.Enabled() {
		tracer = a.tracing.Tracer("github.com/23skdu/vecbench/internal/provider")
	}
	return newProvider(name, a.cfg, tracer)
}

func (a *app) deps(p provider.Provider, component string) ingest.Deps {
	return ingest.Deps{
		Provider: p,
		Store:    a.store,
		Files:    a.files,
		Logger:   a.logger.With().Str("component", component).Logger(),
		Out:      a.out,
	}
}

// export flushes every recorded metric to path. An empty path keeps them.
func (a *app) export(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	flushed := a.store.Flush()
	if err := metrics.Export(context.WithoutCancel(ctx), flushed, path, a.files); err != nil {
		return err
	}
	a.logger.Info().Int("metrics", len(flushed)).Str("path", path).Msg("Exported metrics")
	return nil
}
