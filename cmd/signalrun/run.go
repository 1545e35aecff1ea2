package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/signalrun/internal/app"
	"github.com/sawpanic/signalrun/internal/config"
	"github.com/sawpanic/signalrun/internal/errs"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = cfg.LogLevel
	}
	setLogLevel(level)
	return cfg, nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Error().Err(err).Msg("configuration invalid")
		os.Exit(exitError)
	}
	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		cfg.Transport.DryRun = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := app.NewRunner(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		os.Exit(exitError)
	}

	err = runner.Run(ctx)
	switch {
	case err == nil && ctx.Err() != nil:
		os.Exit(exitInterrupted)
	case err != nil:
		log.Error().Err(err).Msg("pipeline exited with error")
		os.Exit(exitError)
	}
	os.Exit(exitOK)
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Error().Err(err).Msg("configuration invalid")
		os.Exit(exitError)
	}

	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		cfg.Pipeline.ScraperLimit = limit
	}
	channels := cfg.Channels
	if id, _ := cmd.Flags().GetString("channel"); id != "" {
		channels = filterChannel(cfg.Channels, id)
		if len(channels) == 0 {
			channels = []config.ChannelConfig{{ID: id}}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := app.NewRunner(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		os.Exit(exitError)
	}

	err = runner.Backfill(ctx, channels)
	switch {
	case errs.IsCancelled(err) || (err == nil && ctx.Err() != nil):
		log.Info().Msg("backfill interrupted, progress checkpointed")
		os.Exit(exitInterrupted)
	case err != nil:
		log.Error().Err(err).Msg("backfill failed")
		os.Exit(exitError)
	}
	log.Info().Msg("backfill complete")
	os.Exit(exitOK)
	return nil
}

func filterChannel(channels []config.ChannelConfig, id string) []config.ChannelConfig {
	for _, ch := range channels {
		if ch.ID == id {
			return []config.ChannelConfig{ch}
		}
	}
	return nil
}
