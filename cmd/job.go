// cmd/job.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gpulend/gpulend-cli/internal/queue"
	"github.com/gpulend/gpulend-cli/internal/ui"
)

var jobName string
var jobPriority string

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage the local job queue",
}

var jobAddCmd = &cobra.Command{
	Use:   "add <folder> <command>",
	Short: "Queue a job folder with the command to run inside it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		info, err := os.Stat(folder)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%s is not a directory", folder)
		}

		prio, err := queue.ParsePriority(jobPriority)
		if err != nil {
			return err
		}

		name := jobName
		if name == "" {
			name = filepath.Base(folder)
		}

		store := queue.NewStore()
		jobs, err := store.Load()
		if err != nil {
			return err
		}
		q := queue.NewQueue(jobs)
		job := queue.NewJob(name, folder, args[1], prio)
		q.Enqueue(job)
		if err := store.Save(q.Jobs()); err != nil {
			return err
		}
		ui.Success("queued %s (%s), %d job(s) waiting", job.Name, job.ID, q.Len())
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued jobs in dispatch order",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := queue.NewStore().Load()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("queue is empty")
			return nil
		}
		bold := color.New(color.Bold)
		bold.Printf("%-10s %-20s %-8s %-18s %s\n", "ID", "NAME", "PRIO", "STATUS", "COMMAND")
		for _, j := range jobs {
			fmt.Printf("%-10s %-20s %-8s %-18s %s\n", j.ID, j.Name, j.Priority, j.Status, j.Command)
		}
		return nil
	},
}

var jobRemoveCmd = &cobra.Command{
	Use:   "remove <id-or-name>",
	Short: "Remove a queued job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := queue.NewStore()
		jobs, err := store.Load()
		if err != nil {
			return err
		}
		q := queue.NewQueue(jobs)
		removed, err := q.Remove(args[0])
		if err != nil {
			return err
		}
		if err := store.Save(q.Jobs()); err != nil {
			return err
		}
		ui.Success("removed %s (%s)", removed.Name, removed.ID)
		return nil
	},
}

func init() {
	jobAddCmd.Flags().StringVar(&jobName, "name", "", "job name (defaults to the folder name)")
	jobAddCmd.Flags().StringVar(&jobPriority, "priority", "medium", "job priority: low, medium or high")
	jobCmd.AddCommand(jobAddCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobRemoveCmd)
	rootCmd.AddCommand(jobCmd)
}
