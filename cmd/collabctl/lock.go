package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/charlesng35/sectionlock/internal/client"
)

const releaseGrace = 500 * time.Millisecond

func newLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock [document id] [section]",
		Short: "Acquire a section lock and hold it until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errors.New("document id and section are required")
			}
			documentID, section := args[0], args[1]

			// The session outlives the command context briefly so the lock can be
			// released explicitly on interrupt.
			sessionCtx, cancel := context.WithCancel(context.WithoutCancel(cmd.Context()))
			defer cancel()

			session, coordinator, done, err := openDocument(sessionCtx, documentID)
			if err != nil {
				return err
			}

			requested := false
			held := false
			for {
				select {
				case err := <-done:
					return sessionResult(err)
				case <-cmd.Context().Done():
					if held && session.State() == client.StateConnected {
						_ = coordinator.LeaveSection(section)
						time.Sleep(releaseGrace)
						cmd.Printf("released %s\n", section)
					}
					cancel()
					return sessionResult(<-done)
				case <-coordinator.Updates():
				}

				switch {
				case coordinator.Self() == "":
					// Reconnects are re-requested by the coordinator itself.
					held = false
				case !requested:
					if err := coordinator.EnterSection(section); err != nil {
						return fmt.Errorf("request lock: %w", err)
					}
					requested = true
				case coordinator.HeldByMe(section) && !held:
					held = true
					cmd.Printf("holding %s on %s, press Ctrl+C to release\n", section, documentID)
				default:
					if holder, denied := coordinator.Denial(section); denied {
						cancel()
						<-done
						return fmt.Errorf("section %s is locked by %s", section, holder)
					}
				}
			}
		},
	}
}

func init() {
	rootCmd.AddCommand(newLockCmd())
}
