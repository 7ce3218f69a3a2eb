// lumen runs the two Lumen services.
//
//	lumen engine  [--config lumen.toml]   model side: agent loop, tools, consolidation
//	lumen gateway [--config lumen.toml]   client side: persistence and stream relay
//	lumen serve   [--config lumen.toml]   both in one process
//	lumen init-config [--config lumen.toml]
//
// Configuration comes from built-in defaults, the optional TOML file and
// LUMEN_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hupe1980/lumen"
	"github.com/hupe1980/lumen/config"
	"github.com/hupe1980/lumen/logging"
	"github.com/hupe1980/lumen/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "lumen: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errors.New("missing command")
	}

	command, rest := args[0], args[1:]
	var configPath string
	flagSet := pflag.NewFlagSet("lumen "+command, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("LUMEN_CONFIG"), "path to the TOML configuration file")

	switch command {
	case "engine", "gateway", "serve", "init-config":
	case "help", "-h", "--help":
		printUsage(stderr)
		return pflag.ErrHelp
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", command)
	}

	if err := flagSet.Parse(rest); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if command == "init-config" {
		if configPath == "" {
			configPath = "lumen.toml"
		}
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "wrote %s\n", configPath)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Log.LoggerConfig(command))

	switch command {
	case "engine":
		return runEngine(ctx, cfg, logger)
	case "gateway":
		return runGateway(ctx, cfg, logger)
	default:
		return runStandalone(ctx, cfg, logger)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Lumen streaming agent service.

Usage:
  lumen engine      [--config FILE]   run the model-side service
  lumen gateway     [--config FILE]   run the client-facing service
  lumen serve       [--config FILE]   run both in one process
  lumen init-config [--config FILE]   write a commented default configuration

The configuration file defaults to $LUMEN_CONFIG. LUMEN_* environment
variables override file values.
`)
}

func runEngine(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger) error {
	eng, err := lumen.NewEngine(cfg, logger)
	if err != nil {
		return err
	}

	if !cfg.HasModel() {
		logger.Warn("engine.model.unconfigured", "provider", string(cfg.Model.Provider),
			"hint", "requests must carry their own config")
	}
	logger.Info("engine.starting", "addr", cfg.Engine.Addr, "tools", eng.Registry().Names(),
		"provider", string(cfg.Model.Provider), "model", cfg.Model.Model)

	return serve(ctx, cfg.Engine.Addr, eng.Handler(), logger, nil)
}

func runGateway(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger) error {
	backend, err := store.Open(ctx, cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("gateway.storage.close_failed", "error", err.Error())
		}
	}()

	gw := lumen.NewGateway(cfg, backend, logger)

	logger.Info("gateway.starting", "addr", cfg.Gateway.Addr, "engine_url", cfg.Gateway.EngineURL,
		"storage", cfg.Storage.Driver)

	// Background memory writes must land before the store closes.
	return serve(ctx, cfg.Gateway.Addr, gw.Handler(), logger, gw.Relay().Wait)
}

// runStandalone serves the gateway API with an in-process engine.
func runStandalone(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger) error {
	l, err := lumen.New(ctx, cfg, func(o *lumen.Options) {
		o.Logger = logger
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			logger.Error("lumen.close_failed", "error", err.Error())
		}
	}()

	logger.Info("lumen.starting", "addr", cfg.Gateway.Addr, "storage", cfg.Storage.Driver,
		"provider", string(cfg.Model.Provider), "model", cfg.Model.Model)

	return serve(ctx, cfg.Gateway.Addr, l.Handler(), logger, nil)
}

// serve runs handler until ctx is done, then shuts down gracefully. drain,
// when set, runs after the listener stopped.
func serve(ctx context.Context, addr string, handler http.Handler, logger logging.Logger, drain func()) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	logger.Info("server.shutdown", "addr", addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.shutdown_incomplete", "error", err.Error())
	}

	if drain != nil {
		done := make(chan struct{})
		go func() {
			drain()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn("server.drain_incomplete")
		}
	}
	return nil
}
