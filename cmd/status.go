// cmd/status.go
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"

	"github.com/gpulend/gpulend-cli/internal/platform"
	"github.com/gpulend/gpulend-cli/internal/usage"
)

var statusShowUsage bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show this machine's hardware, the relay's presence counters and job history",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}

		profile := platform.DetectProfile()
		bold := color.New(color.Bold)

		bold.Println("Hardware")
		gpu := profile.GPUName
		if gpu == "" {
			gpu = "none detected"
		}
		fmt.Printf("  GPU:     %s", gpu)
		if profile.VRAMGB > 0 {
			fmt.Printf(" (%.0f GB VRAM)", profile.VRAMGB)
		}
		fmt.Println()
		fmt.Printf("  CPU:     %d cores / %d threads\n", profile.CPUCores, profile.CPUThreads)
		fmt.Printf("  RAM:     %.0f GB\n", profile.RAMGB)
		if hi, err := host.Info(); err == nil {
			fmt.Printf("  OS:      %s %s (%s)\n", hi.Platform, hi.PlatformVersion, hi.KernelArch)
		}

		bold.Println("Account")
		if s.LoggedIn() {
			fmt.Printf("  user:    %s\n", s.Username)
		} else {
			fmt.Println("  user:    not logged in")
		}
		fmt.Printf("  relay:   %s\n", s.RelayURL)

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		if counts, err := newRelayClient(s).Counts(ctx); err == nil {
			bold.Println("Network")
			fmt.Printf("  sharing: %d\n", counts.Sharing)
			fmt.Printf("  renting: %d\n", counts.Renting)
		} else {
			Debug("fetching counts: %v", err)
		}

		if statusShowUsage {
			return printUsageSummary()
		}
		return nil
	},
}

func printUsageSummary() error {
	store, err := usage.OpenStore(filepath.Join(platform.ConfigDir(), "usage.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	sum, err := store.Summarize()
	if err != nil {
		return err
	}

	color.New(color.Bold).Println("Job history")
	if sum.Total == 0 {
		fmt.Println("  no jobs recorded yet")
		return nil
	}
	fmt.Printf("  total:   %d (%d ok, %d failed)\n", sum.Total, sum.Succeeded, sum.Failed)
	fmt.Printf("  shared:  %d   rented: %d\n", sum.SharedJobs, sum.RentedJobs)
	fmt.Printf("  runtime: %s\n", (time.Duration(sum.TotalTimeMs) * time.Millisecond).Round(time.Second))

	records, err := store.Recent(5)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("  %-20s %-7s %-7s exit=%d %s\n",
			r.JobName, r.Role, r.Status, r.ExitCode,
			(time.Duration(r.DurationMs) * time.Millisecond).Round(time.Second))
	}
	return nil
}

func init() {
	statusCmd.Flags().BoolVar(&statusShowUsage, "usage", false, "include the local job history summary")
	rootCmd.AddCommand(statusCmd)
}
