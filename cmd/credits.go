// cmd/credits.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show your credit balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := requireLogin()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		credits, err := newRelayClient(s).Credits(ctx, s.Username, s.Password)
		if err != nil {
			return err
		}
		fmt.Printf("credits: %.1f\n", credits)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(creditsCmd)
}
