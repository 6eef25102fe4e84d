package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"eco-counselor/internal/rag"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Answer one query through the full chat pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if strings.TrimSpace(query) == "" {
				return rag.ErrInvalidQuery
			}

			a, err := newApp(cmd.Context(), opts.cfg, "")
			if err != nil {
				return fmt.Errorf("error initialising application: %w", err)
			}
			defer a.Close()

			resp, err := a.pipeline.Respond(cmd.Context(), query, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Query: %s\n", query)
			fmt.Fprintf(out, "Response: %s\n", resp.Text)
			if verbose {
				fmt.Fprintf(out, "Outcome: %s\n", resp.Outcome)
				if resp.TopDistance != nil {
					fmt.Fprintf(out, "Top distance: %.4f\n", *resp.TopDistance)
				}
				for _, src := range resp.Sources {
					fmt.Fprintf(out, "Source: %s\n", src)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the outcome, top distance and sources")
	return cmd
}
