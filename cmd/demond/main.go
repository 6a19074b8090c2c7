// Command demond is the orchestration core's service process: it loads
// configuration and hands off to internal/service, which wires every
// component together and serves the HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/afewell-hh/demon/internal/config"
	"github.com/afewell-hh/demon/internal/service"
	"github.com/afewell-hh/demon/internal/telemetry"
)

func main() {
	httpAddrF := flag.String("http-addr", ":4180", "HTTP listen address")
	flag.Parse()

	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "demond: build logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	logger := telemetry.NewZapLogger(zl)
	engineLogger := telemetry.NewZapLogrLogger(zl)

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logger.Error(ctx, "invalid configuration", "error", err)
		os.Exit(2)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	interrupt := make(chan struct{})
	go func() {
		<-sigc
		close(interrupt)
	}()

	if err := service.Serve(ctx, cfg, logger, engineLogger, *httpAddrF, interrupt); err != nil {
		logger.Error(ctx, "exited with error", "error", err)
		os.Exit(1)
	}
}
