// Command kiro-gateway runs the OpenAI-compatible chat-completions
// surface backed by the upstream Kiro/CodeWhisperer protocol. Wiring
// follows the teacher's cmd/gateway (config → logger → application.App
// → signal-driven graceful shutdown), with the subcommand split done
// the way the corpus's cobra-based CLIs (goclaw's cmd/root.go) do it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sad1droid/kiro-openai-gateway/internal/application"
	"github.com/sad1droid/kiro-openai-gateway/internal/infrastructure/config"
	"github.com/sad1droid/kiro-openai-gateway/internal/infrastructure/logger"
)

const appName = "kiro-openai-gateway"

// version is set at build time via -ldflags "-X main.version=...".
var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   appName,
		Short: "OpenAI-compatible gateway in front of the Kiro chat backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting gateway",
		zap.String("name", appName),
		zap.String("version", version),
		zap.String("region", cfg.Region),
	)

	app, err := application.NewApp(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize application", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Fatal("failed to start application", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), application.ShutdownGrace())
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		return err
	}

	log.Info("gateway stopped successfully")
	return nil
}
