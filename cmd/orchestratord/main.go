// Command orchestratord is the orchestrator's server binary: it wires the
// core components together (internal/bootstrap), serves the public HTTP
// surface, and shuts down in the mandatory order on interrupt (§4.H).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"orchestrator/internal/bootstrap"
	"orchestrator/internal/config"
	"orchestrator/internal/logger"
)

func main() {
	app := &cli.App{
		Name:  "orchestratord",
		Usage: "supervises analysis plugins and serves the orchestrator API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to the declarative plugin config file", EnvVars: []string{"ORCHESTRATOR_PLUGIN_CONFIG"}},
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address", EnvVars: []string{"ORCHESTRATOR_LISTEN_ADDR"}},
			&cli.StringFlag{Name: "log-level", Usage: "zerolog level (debug, info, warn, error)", EnvVars: []string{"ORCHESTRATOR_LOG_LEVEL"}},
			&cli.StringFlag{Name: "environment", Usage: "deployment environment (production enables stricter defaults)", EnvVars: []string{"ENVIRONMENT"}, Value: "development"},
			&cli.BoolFlag{Name: "log-pretty", Usage: "use a human-readable console log writer", EnvVars: []string{"ORCHESTRATOR_LOG_PRETTY"}},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Load()
	applyFlagOverrides(c, cfg)

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Component("main")

	if c.String("environment") == "production" && len(cfg.AllowedOrigins) == 0 {
		log.Warn().Msg("running in production with no ORCHESTRATOR_ALLOWED_ORIGINS configured; cross-origin requests will be rejected")
	}

	application, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	ctx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	application.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           application.Server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("orchestrator listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shut down")
	}

	cancelBackground()
	application.Shutdown()

	log.Info().Msg("orchestrator stopped")
	return nil
}

func applyFlagOverrides(c *cli.Context, cfg *config.Config) {
	if v := c.String("config"); v != "" {
		cfg.PluginConfigPath = v
	}
	if v := c.String("addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if c.Bool("log-pretty") {
		cfg.LogPretty = true
	}
}
