package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/airbusgeo/godal"

	"github.com/dynraster/tileserv/internal/core/config"
	"github.com/dynraster/tileserv/internal/core/server"
	"github.com/dynraster/tileserv/internal/logger"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	zl := logger.Build(logger.Config{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, os.Stdout)

	godal.RegisterAll()
	if err := os.Setenv("GDAL_NUM_THREADS", cfg.GDALThreads); err != nil {
		zl.Warn().Err(err).Msg("could not set GDAL_NUM_THREADS")
	}

	zl.Info().Str("addr", cfg.Addr).Str("version", Version).Msg("starting tileserv")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, zl, Version); err != nil {
		zl.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	zl.Info().Msg("server stopped")
}
