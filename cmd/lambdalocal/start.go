package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/lambdalocal/internal/builder"
	"github.com/oriys/lambdalocal/internal/config"
	"github.com/oriys/lambdalocal/internal/emulator"
	"github.com/oriys/lambdalocal/internal/logging"
	"github.com/oriys/lambdalocal/internal/metrics"
	"github.com/oriys/lambdalocal/internal/registry"
	"github.com/oriys/lambdalocal/internal/supervisor"
	"github.com/oriys/lambdalocal/internal/telemetrystub"
)

func newStartCmd() *cobra.Command {
	var functionName, sourceDir string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the local Lambda emulator and watch a function for changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if functionName == "" {
				functionName = registry.SentinelFunctionName
			}
			if sourceDir == "" {
				sourceDir, err = os.Getwd()
				if err != nil {
					return err
				}
			}
			return runStart(cmd.Context(), cfg, functionName, sourceDir)
		},
	}

	cmd.Flags().String("addr", "", "override the emulator's listen address")
	cmd.Flags().String("log-level", "", "override the log level")
	cmd.Flags().Int("max-concurrency", 0, "override the per-function instance concurrency cap")
	cmd.Flags().Bool("ignore-changes", false, "disable hot reload; spawn the function once")
	cmd.Flags().StringVar(&functionName, "function", "", "function name to serve (defaults to the single-binary sentinel when omitted)")
	cmd.Flags().StringVar(&sourceDir, "source", "", "function source directory (defaults to the current directory)")

	return cmd
}

func runStart(ctx context.Context, cfg *config.Config, functionName, sourceDir string) error {
	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
	if cfg.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Metrics.Namespace, cfg.Metrics.HistogramBuckets)
	}
	if cfg.OutputCapture.Enabled {
		if err := logging.InitOutputStore(cfg.OutputCapture.StorageDir, cfg.OutputCapture.MaxSize, cfg.OutputCapture.RetentionS); err != nil {
			return fmt.Errorf("initializing output capture: %w", err)
		}
	}

	var emulatorOpts []emulator.Option
	if cfg.Watcher.OnlyLambdaAPIs {
		emulatorOpts = append(emulatorOpts, emulator.WithOnlyLambdaAPIs())
	}
	srv := emulator.NewServer(cfg.Daemon.Addr, nil, emulatorOpts...)

	compiler := &localGoCompiler{outputDir: filepath.Join(os.TempDir(), "lambdalocal", "bin")}
	sup, err := supervisor.New(&builder.Adapter{
		Compiler: compiler,
		Specs:    map[string]builder.Spec{functionName: {FunctionName: functionName, SourceDir: sourceDir}},
	}, srv.Registry(), srv)
	if err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}
	srv.SetSpawner(sup)
	supervisor.WithRuntimeAPIResolver(func(name string) string {
		return fmt.Sprintf("%s/%s", cfg.Daemon.Addr, name)
	})

	if err := sup.Manage(ctx, functionName, supervisor.Config{
		BaseDir:        sourceDir,
		Env:            cfg.Env,
		IgnoreFiles:    cfg.Watcher.IgnoreFiles,
		IgnoreChanges:  cfg.Watcher.IgnoreChanges,
		ActionThrottle: cfg.Watcher.ActionThrottle,
		ShutdownGrace:  cfg.Watcher.ShutdownGrace,
		MaxConcurrency: cfg.Pool.MaxConcurrency,
	}); err != nil {
		return fmt.Errorf("starting %s: %w", functionName, err)
	}

	httpServer := &http.Server{Addr: cfg.Daemon.Addr, Handler: diagnosticRoutes(srv)}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigCtx.Done()
		logging.Op().Info("shutting down")

		// Stop accepting new triggers first; the drain below can only
		// finish once the supervisor has failed the outstanding
		// response slots, so the two run concurrently.
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		drained := make(chan struct{})
		go func() {
			httpServer.Shutdown(drainCtx)
			close(drained)
		}()

		sup.Shutdown(context.Background(), cfg.Watcher.ShutdownGrace)
		<-drained
		httpServer.Close()
	}()

	if telemetrystub.Enabled() {
		telemetrystub.Default().Event("start", map[string]string{"function": functionName})
	}

	logging.Op().Info("lambdalocal listening", "addr", cfg.Daemon.Addr, "function", functionName)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		// Manage already spawned the function's process; without this
		// it would outlive the daemon in its own process group.
		sup.Shutdown(context.Background(), cfg.Watcher.ShutdownGrace)
		return err
	}
	// The listener only closes as part of the shutdown sequence above;
	// wait it out so the process doesn't exit with function processes
	// still being torn down.
	<-shutdownDone
	return nil
}

// diagnosticRoutes mounts the daemon's own observability endpoints in
// front of the emulator: an in-process JSON metrics snapshot, the
// Prometheus scrape endpoint when metrics are enabled, and the captured
// output of recently exited function processes. The /lambdalocal/
// prefix keeps them clear of the emulator's catch-all trigger route.
func diagnosticRoutes(srv *emulator.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /lambdalocal/metrics", metrics.Global())
	if h := metrics.Handler(); h != nil {
		mux.Handle("GET /lambdalocal/metrics/prometheus", h)
	}
	mux.HandleFunc("GET /lambdalocal/functions/{name}/output", func(w http.ResponseWriter, r *http.Request) {
		entries := logging.GetOutputStore().GetByFunction(r.PathValue("name"), 20)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	})
	mux.Handle("/", srv)
	return mux
}
