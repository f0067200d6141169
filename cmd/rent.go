// cmd/rent.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpulend/gpulend-cli/internal/platform"
	"github.com/gpulend/gpulend-cli/internal/queue"
	"github.com/gpulend/gpulend-cli/internal/relay"
	"github.com/gpulend/gpulend-cli/internal/session"
	"github.com/gpulend/gpulend-cli/internal/signal"
	"github.com/gpulend/gpulend-cli/internal/ui"
	"github.com/gpulend/gpulend-cli/internal/usage"
)

var rentVRAM int
var rentMaxTime time.Duration
var rentCPUCores int
var rentNumGPU int
var rentRAM int
var rentOutDir string
var rentEnd bool

const pendingPollInterval = 2 * time.Second

var rentCmd = &cobra.Command{
	Use:   "rent",
	Short: "Rent a GPU and run the queued jobs on it",
	Long: `Asks the relay for a sharer matching the given resource requirements.
Once a sharer accepts, every queued job is shipped over in turn: the
folder is zipped, uploaded and announced; the sharer runs it and sends
logs plus a result archive back. Results land in the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := requireLogin()
		if err != nil {
			return err
		}

		store := queue.NewStore()
		jobs, err := store.Load()
		if err != nil {
			return err
		}
		var waiting []*queue.Job
		for _, j := range jobs {
			if !j.Terminal() {
				j.Status = queue.StatusWaiting
				waiting = append(waiting, j)
			}
		}
		if len(waiting) == 0 {
			return fmt.Errorf("job queue is empty; add work with 'gpulend job add'")
		}
		q := queue.NewQueue(waiting)

		ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := newRelayClient(s)
		negotiator := session.NewRenter(client, s.Username, s.Password)

		req := relay.ResourceRequest{
			VRAM:     rentVRAM,
			MaxTime:  int(rentMaxTime.Minutes()),
			CPUCores: rentCPUCores,
			NumGPU:   rentNumGPU,
			RAMGB:    rentRAM,
		}
		sharer, err := negotiator.Request(ctx, req)
		if errors.Is(err, relay.ErrNoMatch) {
			return fmt.Errorf("no sharer currently matches the request; try again later or lower the requirements")
		}
		if err != nil {
			return err
		}
		ui.Info("matched with %s (%s), waiting for them to accept", sharer.Username, sharer.GPU)

		token, err := waitForAccept(ctx, negotiator)
		if err != nil {
			return err
		}
		ui.Success("session accepted")
		if credits, err := client.Credits(ctx, s.Username, s.Password); err == nil {
			ui.Info("credits after booking: %.1f", credits)
		}

		err = runRenterSession(ctx, client, negotiator, q, store, token)

		if rentEnd && negotiator.State() == session.StateActive {
			endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if endErr := negotiator.End(endCtx); endErr != nil {
				ui.Warn("ending session: %v", endErr)
			}
		}
		return err
	},
}

// waitForAccept polls the pending request until the sharer answers.
func waitForAccept(ctx context.Context, negotiator *session.Renter) (string, error) {
	spinner := ui.NewSpinner()
	spinner.Start("waiting for the sharer to accept")
	defer spinner.Stop("")

	ticker := time.NewTicker(pendingPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		ev, err := negotiator.PollPending(ctx)
		if err != nil {
			Debug("polling pending: %v", err)
			continue
		}
		switch ev {
		case session.PendingAccepted:
			return negotiator.Token(), nil
		case session.PendingClosed:
			return "", fmt.Errorf("request was declined or expired")
		}
	}
}

// renterEvents forwards signal channel deliveries onto channels the
// control loop can select on.
type renterEvents struct {
	outputs chan signal.Output
	dones   chan signal.Done
}

func newRenterEvents() *renterEvents {
	return &renterEvents{
		outputs: make(chan signal.Output, 16),
		dones:   make(chan signal.Done, 16),
	}
}

func (h *renterEvents) HandleBegin(signal.Begin) {} // sharer-bound

func (h *renterEvents) HandleOutput(o signal.Output) { h.outputs <- o }
func (h *renterEvents) HandleDone(d signal.Done)     { h.dones <- d }
func (h *renterEvents) HandleSessionEnded()          {}

// runRenterSession ships every queued job through the session and
// collects the results.
func runRenterSession(ctx context.Context, client *relay.Client, negotiator *session.Renter, q *queue.Queue, store *queue.Store, token string) error {
	pipeline := queue.NewPipeline(q, store, client, token, rentMaxTime)
	events := newRenterEvents()

	channel := signal.NewChannel(signal.RoleRenter)
	poller := signal.NewPoller(channel,
		func(ctx context.Context, since uint64) (signal.PollResult, error) {
			return client.PollSignals(ctx, token, signal.RoleRenter, since)
		},
		events,
		signal.PollerConfig{LogFn: func(level, msg string) { Debug("[poll %s] %s", level, msg) }},
	)

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(pollCtx)
	}()

	ledger, err := usage.OpenStore(filepath.Join(platform.ConfigDir(), "usage.db"))
	if err != nil {
		return err
	}
	defer ledger.Close()

	for {
		job, err := pipeline.Advance(ctx)
		if err != nil {
			ui.Warn("%v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		if job == nil {
			ui.Success("all jobs finished")
			return nil
		}
		ui.Info("job %s running on sharer", job.Name)
		start := time.Now()

		if err := waitForDone(ctx, client, token, events, pollerDone, pipeline, ledger, job, start); err != nil {
			return err
		}
	}
}

// waitForDone blocks until the in-flight job's done arrives, printing
// any intermediate output along the way.
func waitForDone(ctx context.Context, client *relay.Client, token string, events *renterEvents, pollerDone <-chan struct{}, pipeline *queue.Pipeline, ledger *usage.Store, job *queue.Job, start time.Time) error {
	for {
		select {
		case <-ctx.Done():
			pipeline.Abort()
			return ctx.Err()
		case <-pollerDone:
			// Session ended under us; the job never finished.
			pipeline.Abort()
			return fmt.Errorf("session ended by the sharer or relay before %s finished", job.Name)
		case o := <-events.outputs:
			pipeline.OnRemoteStatus(o.Status)
			printRemoteLogs(o.Status, o.Message)
		case d := <-events.dones:
			finished := pipeline.OnDone(d.Status)
			if finished == nil {
				continue
			}
			recordRemoteJob(ledger, finished, d, start)
			if d.Artifact != nil && d.Artifact.Uploaded {
				downloadResult(ctx, client, token, finished, d.Artifact)
			} else if d.Artifact != nil && d.Artifact.Error != "" {
				ui.Warn("no result archive: %s", d.Artifact.Error)
			}
			return nil
		}
	}
}

func printRemoteLogs(status, message string) {
	if status == "done" {
		ui.Info("remote logs:")
	} else {
		ui.Warn("remote job reported %s:", status)
	}
	for _, line := range strings.Split(strings.TrimRight(message, "\n"), "\n") {
		fmt.Printf("  %s\n", line)
	}
}

// downloadResult fetches the sharer's workspace archive into the
// output directory. Download failure is reported but never fails the
// job; the archive stays on the relay for a manual retry.
func downloadResult(ctx context.Context, client *relay.Client, token string, job *queue.Job, artifact *signal.Artifact) {
	if err := os.MkdirAll(rentOutDir, 0o755); err != nil {
		ui.Warn("creating output dir: %v", err)
		return
	}
	dest := filepath.Join(rentOutDir, fmt.Sprintf("%s-result.zip", job.Name))

	ref := relay.ArtifactRef{ArtifactID: artifact.ArtifactID}
	if ref.ArtifactID == "" {
		// Legacy relays store results under the session token.
		ref = relay.ArtifactRef{Token: token, Filename: artifact.Filename}
	}
	if err := client.DownloadArtifact(ctx, ref, dest); err != nil {
		ui.Warn("downloading result for %s: %v", job.Name, err)
		return
	}
	ui.Success("result archive: %s", dest)
}

func recordRemoteJob(ledger *usage.Store, job *queue.Job, d signal.Done, start time.Time) {
	rec := usage.Record{
		JobName:     job.Name,
		Role:        "renter",
		Status:      job.Status,
		StartedAt:   start,
		CompletedAt: time.Now(),
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if job.Status == queue.StatusFailed {
		rec.Error = d.Message
		rec.ExitCode = -1
	}
	if err := ledger.Insert(rec); err != nil {
		Debug("recording remote job: %v", err)
	}
}

func init() {
	rentCmd.Flags().IntVar(&rentVRAM, "vram", 0, "minimum GPU VRAM in GB")
	rentCmd.Flags().DurationVar(&rentMaxTime, "max-time", 30*time.Minute, "per-job runtime the sharer is asked to allow")
	rentCmd.Flags().IntVar(&rentCPUCores, "cpu-cores", 0, "minimum CPU cores")
	rentCmd.Flags().IntVar(&rentNumGPU, "num-gpu", 0, "minimum number of GPUs")
	rentCmd.Flags().IntVar(&rentRAM, "ram", 0, "minimum RAM in GB")
	rentCmd.Flags().StringVar(&rentOutDir, "out-dir", "results", "where result archives are written")
	rentCmd.Flags().BoolVar(&rentEnd, "end", false, "explicitly end the session once the queue drains")
	rootCmd.AddCommand(rentCmd)
}
