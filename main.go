package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/terabiome/nodeboot/internal/config"
	"github.com/terabiome/nodeboot/internal/configure"
	"github.com/terabiome/nodeboot/internal/metadata"
	"github.com/terabiome/nodeboot/internal/node"
	"github.com/terabiome/nodeboot/pkg/executor"
	"github.com/terabiome/nodeboot/pkg/logger"
	"github.com/terabiome/nodeboot/pkg/telemetry"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runID := uuid.NewString()

	var logOut io.Writer = os.Stdout
	logFile, err := logger.OpenLogFile(cfg.LogDir, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open log file, logging to stdout only: %v\n", err)
	} else {
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, logOut).With(slog.String("run_id", runID))
	log.Info("nodeboot starting",
		slog.String("node_config_path", cfg.NodeConfigPath),
		slog.String("log_level", cfg.LogLevel),
		slog.Bool("telemetry_enabled", cfg.TelemetryEnabled),
	)

	if cfg.TelemetryEnabled {
		tel, err := telemetry.Initialize("nodeboot", runID)
		if err != nil {
			log.Error("failed to initialize telemetry", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				log.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	meta := metadata.NewClient(cfg.MetadataURL, log)
	runner := executor.NewScriptRunner(executor.NewLocal(log), log)
	configurator := configure.New(cfg, meta, runner, log)

	app := &cli.App{
		Name:                 "nodeboot",
		Usage:                "First-boot configuration for database node images",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "configure",
				Usage: "Run the full first-boot configuration sequence",
				Action: func(cliCtx *cli.Context) error {
					return configurator.Configure(ctx)
				},
			},
			{
				Name:  "user-data",
				Usage: "Fetch and print the effective instance user data",
				Action: func(cliCtx *cli.Context) error {
					ud := configurator.FetchUserData(ctx)

					output, err := json.MarshalIndent(ud, "", "  ")
					if err != nil {
						return fmt.Errorf("unable to marshal user data: %w", err)
					}

					fmt.Println(string(output))
					return nil
				},
			},
			{
				Name:  "defaults",
				Usage: "Print the built-in node config defaults that would apply now",
				Action: func(cliCtx *cli.Context) error {
					privateIP, err := meta.LocalIPv4(ctx)
					if err != nil {
						return fmt.Errorf("unable to resolve instance private IP: %w", err)
					}

					output, err := json.MarshalIndent(node.Defaults(privateIP, time.Now()), "", "  ")
					if err != nil {
						return fmt.Errorf("unable to marshal defaults: %w", err)
					}

					fmt.Println(string(output))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
