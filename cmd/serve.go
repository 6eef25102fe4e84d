package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"eco-counselor/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var snapshot string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts.cfg, snapshot)
			if err != nil {
				return fmt.Errorf("error initialising application: %w", err)
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn().Err(err).Msg("Error during shutdown")
				}
			}()

			srv, err := server.New(&opts.cfg.Server, a.pipeline, a.store, a.metrics)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "import an encrypted vector snapshot before serving")
	return cmd
}
