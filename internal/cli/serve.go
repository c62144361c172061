package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fullvlad/lava-server/internal/config"
	"github.com/fullvlad/lava-server/internal/logging"
	"github.com/fullvlad/lava-server/internal/scheduler"
	"github.com/fullvlad/lava-server/internal/server"
	"github.com/fullvlad/lava-server/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling loop and the dispatcher API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	provider := config.NewProvider(cfg)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	src := scheduler.NewJobSource(st, provider, logger, scheduler.WithRegistry(reg))
	loop := scheduler.NewLoop(src, cfg.PollInterval, scheduler.LogHandler(logger), logger)
	srv := server.New(src, logger,
		server.WithRegistry(reg),
		server.WithVersion(Version),
		server.WithMaster(cfg.Master))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := loop.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Addr, "hostname", cfg.Hostname, "master", cfg.Master)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		notifySystemd("STOPPING=1")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if flagConfig != "" {
		g.Go(func() error {
			return config.Watch(gctx, flagConfig, provider, logger, func(c config.Config) {
				logLevel.Set(logging.ParseLevel(c.Log.Level))
			})
		})
	}

	notifySystemd("READY=1")
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		g.Go(func() error {
			watchdog(gctx, interval/2)
			return nil
		})
	}

	return g.Wait()
}

// openStore opens and migrates the configured database.
func openStore(ctx context.Context) (*store.SQLStore, error) {
	st, err := store.Open(cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, nil
}

func notifySystemd(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Warn("systemd notify failed", "state", state, "error", err)
	}
}

// watchdog pings the systemd watchdog every interval until ctx is done.
func watchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			notifySystemd("WATCHDOG=1")
		}
	}
}
