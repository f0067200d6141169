// cmd/root.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gpulend/gpulend-cli/internal/config"
	"github.com/gpulend/gpulend-cli/internal/platform"
	"github.com/gpulend/gpulend-cli/internal/relay"
)

var relayURL string
var debugMode bool

// debugLogFile is the file handle for debug logging
var debugLogFile *os.File
var debugLogMu sync.Mutex
var debugLogInitOnce sync.Once

func initDebugLogFile() {
	logDir := filepath.Join(platform.ConfigDir(), "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return
	}

	f, err := os.OpenFile(filepath.Join(logDir, "debug.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	debugLogFile = f

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(debugLogFile, "\n=== Debug session started: %s ===\n", timestamp)
}

// Debug prints a message if debug mode is enabled and writes to the log file
func Debug(format string, args ...interface{}) {
	if !debugMode {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	fmt.Printf("[DEBUG] %s\n", msg)

	debugLogMu.Lock()
	debugLogInitOnce.Do(initDebugLogFile)
	if debugLogFile != nil {
		fmt.Fprintf(debugLogFile, "[%s] %s\n", timestamp, msg)
	}
	debugLogMu.Unlock()
}

// loadSettings reads the config file and applies the --relay override.
func loadSettings() (config.Settings, error) {
	s, err := config.Load()
	if err != nil {
		return s, err
	}
	if relayURL != "" {
		s.RelayURL = relayURL
	}
	return s, nil
}

// requireLogin loads settings and fails when no credentials are stored.
func requireLogin() (config.Settings, error) {
	s, err := loadSettings()
	if err != nil {
		return s, err
	}
	if !s.LoggedIn() {
		return s, fmt.Errorf("not logged in; run 'gpulend login' first")
	}
	return s, nil
}

func newRelayClient(s config.Settings) *relay.Client {
	return relay.NewClient(relay.ClientConfig{BaseURL: s.RelayURL})
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gpulend",
	Short: "gpulend lends idle GPUs between peers",
	Long: `A peer-to-peer GPU lending client. Sharers announce their hardware
and run other people's jobs inside a locked-down podman sandbox;
renters queue local job folders and ship them to a matched sharer,
getting logs and a result archive back. All traffic goes through a
plain HTTP relay, so no side needs a reachable address.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !debugMode {
			return
		}
		fullCmd := "gpulend " + cmd.Name()
		cmd.Flags().Visit(func(f *pflag.Flag) {
			if f.Name == "debug" {
				return
			}
			if f.Value.Type() == "bool" {
				fullCmd += " --" + f.Name
			} else {
				fullCmd += " --" + f.Name + "=" + f.Value.String()
			}
		})
		if len(args) > 0 {
			fullCmd += " " + strings.Join(args, " ")
		}
		Debug("command: %s", fullCmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", "", "relay server URL (overrides the config file)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug output")
}
