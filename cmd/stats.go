package main

import (
	"github.com/spf13/cobra"

	"eco-counselor/internal/helper"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print interaction log analytics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}
			helper.PrettyPrint(cmd.OutOrStdout(), summary)

			if recent > 0 {
				convs, err := store.RecentConversations(cmd.Context(), recent)
				if err != nil {
					return err
				}
				helper.PrettyPrint(cmd.OutOrStdout(), convs)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "also print this many of the most recent conversations")
	return cmd
}
