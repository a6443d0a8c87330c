// opsd is the observatory operations daemon: it decides on every tick
// whether the observatory may be open, drives the dome and telescope
// through the night's plan, and exposes the remote control surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/rockit-astro/opsd/internal/action"
	_ "github.com/rockit-astro/opsd/internal/action/clasp"
	"github.com/rockit-astro/opsd/internal/api"
	"github.com/rockit-astro/opsd/internal/config"
	"github.com/rockit-astro/opsd/internal/dome"
	"github.com/rockit-astro/opsd/internal/ops"
	"github.com/rockit-astro/opsd/internal/script"
	_ "github.com/rockit-astro/opsd/internal/script/clasp"
	"github.com/rockit-astro/opsd/internal/telemetry/events"
	"github.com/rockit-astro/opsd/internal/telemetry/logging"
	"github.com/rockit-astro/opsd/internal/telemetry/metrics"
	"github.com/rockit-astro/opsd/internal/telemetry/tracing"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		lockDir     string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the site configuration")
	flag.StringVar(&lockDir, "lock-dir", os.TempDir(), "Directory for the daemon lock file")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("opsd", version)
		return nil
	}
	if configPath == "" {
		return errors.New("-config is required")
	}

	cfg, err := config.Load(configPath, config.Registries{
		DomeModule:    dome.Registered,
		ActionsModule: action.ModuleRegistered,
		ScriptsModule: script.ModuleRegistered,
	})
	if err != nil {
		return err
	}

	// One daemon per site: lock before touching anything.
	lock := flock.New(filepath.Join(lockDir, cfg.Daemon+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon %q already running (lock held)", cfg.Daemon)
	}
	defer func() { _ = lock.Unlock() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.NewJSON(os.Stdout, cfg.LogName)
	provider := metrics.FromBackend(cfg.MetricsBackend)
	tracer, shutdownTracing := tracing.NewOTelTracer(cfg.Daemon)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()
	bus := events.NewBus(provider)

	// Every operations event also lands in the log.
	sub, err := bus.Subscribe(64)
	if err != nil {
		return err
	}
	go func() {
		for ev := range sub.C() {
			log.InfoCtx(ctx, "ops event",
				"category", ev.Category, "type", ev.Type, "severity", ev.Severity)
		}
	}()
	defer func() { _ = sub.Close() }()

	watcher, err := config.Watch(ctx, configPath)
	if err != nil {
		log.WarnCtx(ctx, "config watch unavailable", "error", err.Error())
	}

	daemon, err := ops.New(ops.Options{
		Config:  cfg,
		Logger:  log,
		Bus:     bus,
		Metrics: provider,
		Tracer:  tracer,
		Watcher: watcher,
	})
	if err != nil {
		return err
	}

	rpc := &http.Server{
		Addr:    cfg.RPCListen,
		Handler: api.NewServer(daemon, cfg, log).Handler(),
	}
	var metricsHandler http.Handler
	if pp, ok := provider.(*metrics.PrometheusProvider); ok {
		metricsHandler = pp.MetricsHandler()
	}
	obs := &http.Server{
		Addr:    cfg.OpsListen,
		Handler: api.ObservabilityHandler(daemon, metricsHandler),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := daemon.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return serve(gctx, rpc) })
	g.Go(func() error { return serve(gctx, obs) })

	log.InfoCtx(ctx, "opsd listening", "rpc", cfg.RPCListen, "ops", cfg.OpsListen)
	return g.Wait()
}

func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
