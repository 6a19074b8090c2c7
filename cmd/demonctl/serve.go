package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/afewell-hh/demon/internal/config"
	"github.com/afewell-hh/demon/internal/service"
	"github.com/afewell-hh/demon/internal/telemetry"
)

var serveHTTPAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the orchestration core in this process (equivalent to demond)",
	Run: func(cmd *cobra.Command, args []string) {
		zl, err := zap.NewProduction()
		if err != nil {
			fail(cmd, exitError, fmt.Errorf("build logger: %w", err))
		}
		defer zl.Sync()
		logger := telemetry.NewZapLogger(zl)
		engineLogger := telemetry.NewZapLogrLogger(zl)

		ctx := context.Background()
		cfg, err := config.Load()
		if err != nil {
			fail(cmd, exitConfig, fmt.Errorf("invalid configuration: %w", err))
		}

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		interrupt := make(chan struct{})
		go func() {
			<-sigc
			close(interrupt)
		}()

		if err := service.Serve(ctx, cfg, logger, engineLogger, serveHTTPAddr, interrupt); err != nil {
			fail(cmd, exitError, err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http-addr", ":4180", "HTTP listen address")
	rootCmd.AddCommand(serveCmd)
}
