// cmd/register.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gpulend/gpulend-cli/internal/config"
	"github.com/gpulend/gpulend-cli/internal/ui"
)

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account on the relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username := strings.TrimSpace(args[0])
		if username == "" {
			return fmt.Errorf("username must not be empty")
		}

		pwd, err := promptPassword("Choose a password: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return err
		}
		if pwd != confirm {
			return fmt.Errorf("passwords do not match")
		}

		s, err := loadSettings()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		credits, err := newRelayClient(s).Register(ctx, username, pwd)
		if err != nil {
			return err
		}

		s.Username = username
		s.Password = pwd
		if err := config.Save(s); err != nil {
			return err
		}
		ui.Success("registered %s (starting credits: %.1f)", username, credits)
		return nil
	},
}

// promptPassword reads a password without echoing. Falls back to a
// plain read when stdin is not a terminal (piped input in scripts).
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pwd, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(pwd), nil
	}

	var pwd string
	if _, err := fmt.Fscanln(os.Stdin, &pwd); err != nil {
		return "", err
	}
	return pwd, nil
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
