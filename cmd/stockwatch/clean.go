package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/coachpo/stockwatch/internal/state"
)

func newCleanStateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-state",
		Short: "Trim whitespace from stored product codes and merge duplicates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := log.New(cmd.ErrOrStderr(), loggerPrefix, log.LstdFlags)
			cfg, err := loadConfig(ctx, logger, opts)
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			before, after, err := state.Clean(ctx, store)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Cleaned %d entries -> %d unique entries.\n", before, after)
			return err
		},
	}
}
