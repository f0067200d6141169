// cmd/login.go
package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpulend/gpulend-cli/internal/config"
	"github.com/gpulend/gpulend-cli/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Log in and store credentials locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := strings.TrimSpace(args[0])

		pwd, err := promptPassword("Password: ")
		if err != nil {
			return err
		}

		s, err := loadSettings()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		credits, err := newRelayClient(s).Login(ctx, username, pwd)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		s.Username = username
		s.Password = pwd
		if err := config.Save(s); err != nil {
			return err
		}
		ui.Success("logged in as %s (credits: %.1f)", username, credits)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
