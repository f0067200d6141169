// cmd/cancel.go
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpulend/gpulend-cli/internal/ui"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel your pending rent request or active session",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := requireLogin()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		res, err := newRelayClient(s).CancelRent(ctx, s.Username, s.Password)
		if err != nil {
			return err
		}

		switch {
		case res.CancelledActiveSession:
			ui.Success("active session cancelled")
		case res.CancelledPending:
			ui.Success("pending request cancelled")
		default:
			ui.Info("nothing to cancel")
		}
		if res.Refunded {
			ui.Info("credits refunded")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
