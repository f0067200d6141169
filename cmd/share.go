// cmd/share.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gpulend/gpulend-cli/internal/dispatch"
	"github.com/gpulend/gpulend-cli/internal/platform"
	"github.com/gpulend/gpulend-cli/internal/relay"
	"github.com/gpulend/gpulend-cli/internal/sandbox"
	"github.com/gpulend/gpulend-cli/internal/session"
	"github.com/gpulend/gpulend-cli/internal/signal"
	"github.com/gpulend/gpulend-cli/internal/ui"
	"github.com/gpulend/gpulend-cli/internal/usage"
)

var shareAutoAccept bool

const incomingPollInterval = 2 * time.Second

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Announce this machine's hardware and run jobs for renters",
	Long: `Puts this machine on the network as a sharer. The relay is told what
hardware is available (clamped to what is actually detected), then the
command waits for rent requests. Accepted sessions run the renter's
jobs inside the podman sandbox and ship the results back.

Press Ctrl-C to stop sharing; the relay is told you went idle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := requireLogin()
		if err != nil {
			return err
		}

		ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner, err := sandbox.NewRunner(ctx)
		if err != nil {
			return err
		}

		announce := platform.Clamp(s.Profile, platform.DetectProfile())
		client := newRelayClient(s)

		if err := client.UpdateStatus(ctx, s.Username, s.Password, "sharing", &announce); err != nil {
			return fmt.Errorf("announcing to relay: %w", err)
		}
		defer func() {
			// Fresh context: the loop's may already be cancelled.
			offCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.UpdateStatus(offCtx, s.Username, s.Password, "idle", nil); err != nil {
				ui.Warn("could not tell the relay we went idle: %v", err)
			}
		}()

		gpuLabel := announce.GPUName
		if gpuLabel == "" {
			gpuLabel = "no GPU"
		}
		ui.Success("sharing as %s (%s, %.0f GB VRAM)", s.Username, gpuLabel, announce.VRAMGB)
		ui.Info("waiting for rent requests (Ctrl-C to stop)")

		ledger, err := usage.OpenStore(filepath.Join(platform.ConfigDir(), "usage.db"))
		if err != nil {
			return err
		}
		defer ledger.Close()

		negotiator := session.NewSharer(client, s.Username)
		ticker := time.NewTicker(incomingPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				ui.Info("stopped sharing")
				return nil
			case <-ticker.C:
			}

			incoming, err := negotiator.PollIncoming(ctx)
			if err != nil {
				Debug("polling incoming requests: %v", err)
				continue
			}
			if incoming == nil {
				continue
			}

			accept := shareAutoAccept || s.AutoAccept
			if !accept {
				accept = promptAccept(incoming.Renter)
			} else {
				ui.Info("auto-accepting request from %s", incoming.Renter)
			}

			token, err := negotiator.Respond(ctx, accept)
			if err != nil {
				ui.Fail("answering request: %v", err)
				continue
			}
			if !accept {
				ui.Info("declined request from %s", incoming.Renter)
				continue
			}

			ui.Success("session started with %s", incoming.Renter)
			runSharerSession(ctx, client, runner, ledger, s.Image, s.MaxRuntime, token, announce.NumGPU > 0)
			negotiator.Teardown()
			if credits, err := client.Credits(ctx, s.Username, s.Password); err == nil {
				ui.Info("credit balance: %.1f", credits)
			}
			ui.Info("session over, waiting for rent requests")

			// Re-announce: some relays drop presence with the session.
			if err := client.UpdateStatus(ctx, s.Username, s.Password, "sharing", &announce); err != nil {
				Debug("re-announcing: %v", err)
			}
		}
	},
}

// runSharerSession services one session: polls the signal channel,
// dispatches begin events to the sandbox, and records completions.
// Returns when the session ends or the context is cancelled.
func runSharerSession(ctx context.Context, client *relay.Client, runner *sandbox.Runner, ledger *usage.Store, image string, ceiling time.Duration, token string, gpu bool) {
	dispatcher := dispatch.NewDispatcher(client, runner, dispatch.Config{
		Token:   token,
		Image:   image,
		Ceiling: ceiling,
		GPU:     gpu,
		Logf: func(format string, args ...any) {
			ui.Info(format, args...)
		},
	})

	channel := signal.NewChannel(signal.RoleSharer)
	poller := signal.NewPoller(channel,
		func(ctx context.Context, since uint64) (signal.PollResult, error) {
			return client.PollSignals(ctx, token, signal.RoleSharer, since)
		},
		dispatcher,
		signal.PollerConfig{LogFn: func(level, msg string) { Debug("[poll %s] %s", level, msg) }},
	)

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(ctx)
	}()

	for {
		select {
		case c := <-dispatcher.Completions():
			recordCompletion(ledger, c)
		case <-pollerDone:
			// Drain anything that finished while the session closed.
			for {
				select {
				case c := <-dispatcher.Completions():
					recordCompletion(ledger, c)
				default:
					return
				}
			}
		}
	}
}

func recordCompletion(ledger *usage.Store, c dispatch.Completion) {
	if c.Status == "done" {
		ui.Success("job %s finished (%s)", c.Filename, c.Duration.Round(time.Second))
	} else {
		ui.Warn("job %s failed (exit %d)", c.Filename, c.ExitCode)
	}
	rec := usage.Record{
		JobName:     c.Filename,
		Role:        "sharer",
		Status:      c.Status,
		ExitCode:    c.ExitCode,
		StartedAt:   time.Now().Add(-c.Duration),
		CompletedAt: time.Now(),
		DurationMs:  c.Duration.Milliseconds(),
	}
	if c.Err != nil {
		rec.Error = c.Err.Error()
	}
	if err := ledger.Insert(rec); err != nil {
		Debug("recording completion: %v", err)
	}
}

func promptAccept(renter string) bool {
	fmt.Printf("Accept rent request from %s? [y/N] ", renter)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	shareCmd.Flags().BoolVar(&shareAutoAccept, "auto-accept", false, "accept incoming requests without prompting")
	rootCmd.AddCommand(shareCmd)
}
