// cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gpulend/gpulend-cli/internal/update"
)

// Version will be set at build time
var Version = "dev"

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of gpulend",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gpulend version %s\n", Version)
		if !versionCheck {
			return
		}
		release, err := update.NewClient(Version).CheckForUpdate()
		if err != nil {
			fmt.Printf("update check failed: %v\n", err)
			return
		}
		if release == nil {
			fmt.Println("you are on the latest version")
			return
		}
		fmt.Printf("newer version available: %s (%s)\n", release.TagName, release.HTMLURL)
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check for a newer release")
	rootCmd.AddCommand(versionCmd)
}
