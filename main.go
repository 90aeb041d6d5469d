package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"p9e.in/takweed/config"
	"p9e.in/takweed/handlers"
	"p9e.in/takweed/middleware"
	"p9e.in/takweed/pkg/archive"
	"p9e.in/takweed/pkg/geometry"
	"p9e.in/takweed/pkg/intersect"
	"p9e.in/takweed/pkg/ledger"
	"p9e.in/takweed/pkg/metrics"
	"p9e.in/takweed/pkg/registry"
	"p9e.in/takweed/pkg/report"
	"p9e.in/takweed/routes"
)

var (
	Version   = "dev"
	BuildTime = ""
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version info and exit")
	configPath := flag.String("config", "", "Optional YAML config file")
	seed := flag.Bool("seed", false, "Seed default crops, governorates and hubs")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("Version:   %s\n", Version)
		fmt.Printf("BuildTime: %s\n", BuildTime)
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config:", err)
		}
		os.Exit(1)
	}
	logger := config.NewLogger(cfg, os.Stdout)

	if err := run(cfg, logger, *seed); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, seed bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.Connect(cfg)
	if err != nil {
		return err
	}
	if err := config.Migrations(db); err != nil {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	if seed {
		if err := config.SeedReference(db, logger); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return err
	}

	arch, err := newArchiver(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchiver(arch, logger)

	plots := geometry.NewGormStore(db)
	refs := registry.NewGormStore(db)
	ledgers := ledger.NewGormStore(db)
	h := &handlers.Handler{
		Plots:    plots,
		Registry: refs,
		Resolver: intersect.NewResolver(plots, refs),
		Ledger:   ledger.New(ledgers, ledger.Options{Logger: logger, Metrics: m}),
		Reports:  report.New(plots, refs, ledgers, report.Options{Logger: logger, Metrics: m, MaxLimit: cfg.ReportMaxLimit}),
		Archive:  arch,
		Metrics:  m,
		Logger:   logger,
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           routes.RegisterRoutes(h, middleware.NewAuth(cfg.JWTSecret), reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "version", Version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newArchiver(ctx context.Context, cfg *config.Config) (archive.Archiver, error) {
	switch {
	case cfg.ExportBucket != "":
		b, err := archive.NewBucket(ctx, cfg.ExportBucket, cfg.ExportCredentialsFile)
		if err != nil {
			return nil, err
		}
		return b, nil
	case cfg.ExportDir != "":
		d, err := archive.NewDir(cfg.ExportDir)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, nil
}

// closeArchiver releases archivers that hold a client, such as a bucket.
func closeArchiver(a archive.Archiver, logger *slog.Logger) {
	c, ok := a.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("closing export archive failed", "error", err)
	}
}
