package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"eco-counselor/internal/config"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "eco-counselor",
		Short:         "Retrieval-augmented support chat for eco-anxiety",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				setupLogger(cmd.ErrOrStderr(), config.Default().Logging)
				return fmt.Errorf("error loading config: %w", err)
			}
			setupLogger(cmd.ErrOrStderr(), cfg.Logging)
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath, "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newIndexCmd(opts),
		newAskCmd(opts),
		newStatsCmd(opts),
	)
	return cmd
}

func setupLogger(w io.Writer, cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	logger := log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	if level <= zerolog.DebugLevel {
		logger = logger.With().Caller().Logger()
	}
	log.Logger = logger
}
