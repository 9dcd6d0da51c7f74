package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [document id]",
		Short: "Show live presence and section locks for a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("document id is required")
			}

			ctx := cmd.Context()
			session, coordinator, done, err := openDocument(ctx, args[0])
			if err != nil {
				return err
			}

			for {
				select {
				case err := <-done:
					return sessionResult(err)
				case <-coordinator.Updates():
					cmd.Printf("== %s [%s]\n", args[0], session.State())
					cmd.Printf("%s\n\n", renderPresence(coordinator))
					cmd.Printf("%s\n\n", renderLocks(coordinator))
				}
			}
		},
	}
}

func init() {
	rootCmd.AddCommand(newWatchCmd())
}
