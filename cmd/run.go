// cmd/run.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpulend/gpulend-cli/internal/platform"
	"github.com/gpulend/gpulend-cli/internal/sandbox"
	"github.com/gpulend/gpulend-cli/internal/ui"
	"github.com/gpulend/gpulend-cli/internal/usage"
)

var runImage string
var runTimeout time.Duration
var runGPU bool
var runKeep bool
var runOut string

// runCmd executes a job folder in the local sandbox, the same way a
// sharer would run it for a renter. Useful for testing a job before
// queueing it.
var runCmd = &cobra.Command{
	Use:   "run <folder> <command>",
	Short: "Run a job folder in the local sandbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		runner, err := sandbox.NewRunner(cmd.Context())
		if err != nil {
			return err
		}

		spinner := ui.NewSpinner()
		spinner.Start(fmt.Sprintf("running %s", args[1]))

		start := time.Now()
		res, err := runner.Run(cmd.Context(), sandbox.Options{
			JobFolder: folder,
			Cmd:       args[1],
			Image:     runImage,
			Timeout:   runTimeout,
			GPU:       runGPU,
			KeepDirs:  runKeep,
		})
		if err != nil {
			spinner.Fail("run failed")
			return err
		}

		if res.OK {
			spinner.Success(fmt.Sprintf("finished in %s", res.Duration.Round(time.Second)))
		} else {
			spinner.Fail(fmt.Sprintf("exited %d after %s", res.ExitCode, res.Duration.Round(time.Second)))
		}

		if res.Stdout != "" {
			fmt.Print(res.Stdout)
		}
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
		}
		if res.Workspace != "" {
			ui.Info("workspace kept at %s", res.Workspace)
		}
		if runOut != "" && res.WorkspaceZip != "" {
			if err := os.Rename(res.WorkspaceZip, runOut); err != nil {
				return fmt.Errorf("moving result archive: %w", err)
			}
			ui.Info("result archive: %s", runOut)
		} else if res.WorkspaceZip != "" {
			os.RemoveAll(filepath.Dir(res.WorkspaceZip))
		}

		recordLocalRun(folder, res, start)
		if !res.OK {
			os.Exit(res.ExitCode & 0xff)
		}
		return nil
	},
}

func recordLocalRun(folder string, res *sandbox.Result, start time.Time) {
	store, err := usage.OpenStore(filepath.Join(platform.ConfigDir(), "usage.db"))
	if err != nil {
		Debug("opening usage ledger: %v", err)
		return
	}
	defer store.Close()

	status := "done"
	if !res.OK {
		status = "failed"
	}
	rec := usage.Record{
		JobName:     filepath.Base(folder),
		Role:        "local",
		Status:      status,
		ExitCode:    res.ExitCode,
		StartedAt:   start,
		CompletedAt: time.Now(),
		DurationMs:  res.Duration.Milliseconds(),
	}
	if err := store.Insert(rec); err != nil {
		Debug("recording run: %v", err)
	}
}

func init() {
	runCmd.Flags().StringVar(&runImage, "image", "", "container image (default python:3.11-slim)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "hard runtime limit (default 10m)")
	runCmd.Flags().BoolVar(&runGPU, "gpu", false, "expose GPUs to the container")
	runCmd.Flags().BoolVar(&runKeep, "keep", false, "keep the scratch workspace for inspection")
	runCmd.Flags().StringVar(&runOut, "out", "", "write the result archive to this path")
	rootCmd.AddCommand(runCmd)
}
