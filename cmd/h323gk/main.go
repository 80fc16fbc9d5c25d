// h323gk демон гейткипера H.323 с административным HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arzzra/h323/internal/config"
	"github.com/arzzra/h323/internal/httpapi"
	"github.com/arzzra/h323/internal/logging"
	"github.com/arzzra/h323/pkg/gatekeeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "h323gk:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("h323gk", pflag.ContinueOnError)
	config.GatekeeperFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadGatekeeper(fs)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gkCfg, err := cfg.Gatekeeper.ServerConfig(logger, reg)
	if err != nil {
		return err
	}
	gkCfg.EventHandler = func(ev gatekeeper.Event) {
		logger.Debug("main.event",
			slog.String("type", ev.Type.String()),
			slog.String("endpoint_id", ev.EndpointID),
			slog.String("reason", ev.Reason))
	}
	gk, err := gatekeeper.New(gkCfg)
	if err != nil {
		return err
	}
	if err := gk.Start(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.HTTP.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           httpapi.NewRouter(gk, httpapi.Options{Mode: cfg.HTTP.Mode, Gatherer: reg, Logger: logger}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("main.http", slog.String("address", cfg.HTTP.Listen))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("main.shutdown")
		return gk.Close()
	})
	return g.Wait()
}
