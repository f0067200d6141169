package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gpulend/gpulend-cli/internal/archive"
	"github.com/gpulend/gpulend-cli/internal/signal"
)

// Transport is the slice of the relay client the pipeline ships jobs
// through.
type Transport interface {
	UploadArtifact(ctx context.Context, token, role, path string) (string, error)
	SendSignal(ctx context.Context, token, role string, payload signal.Payload) error
}

// maxUploadAttempts bounds retries of a failing upload. The job keeps
// its place at the head of the queue between attempts; after the last
// one it is marked failed rather than blocking everything behind it.
const maxUploadAttempts = 3

// Pipeline feeds queued jobs into an active session one at a time:
// zip the folder, upload it, announce it over the signal channel, then
// wait for the sharer's done before advancing.
type Pipeline struct {
	queue     *Queue
	store     *Store
	transport Transport
	token     string
	maxTime   time.Duration

	current  *Job
	attempts int
	failed   []*Job
}

// NewPipeline wires a pipeline to an active session. maxTime is the
// per-job runtime the sharer is asked to honor.
func NewPipeline(q *Queue, store *Store, t Transport, token string, maxTime time.Duration) *Pipeline {
	return &Pipeline{queue: q, store: store, transport: t, token: token, maxTime: maxTime}
}

// Current returns the in-flight job, nil when idle.
func (p *Pipeline) Current() *Job { return p.current }

// Advance ships the next queued job. Returns the job now in flight,
// nil when the queue is drained. An upload error leaves the job at the
// head of the queue for the next attempt; the caller decides how long
// to wait before calling Advance again.
func (p *Pipeline) Advance(ctx context.Context) (*Job, error) {
	if p.current != nil {
		return p.current, nil
	}

	job := p.queue.Dequeue()
	if job == nil {
		return nil, nil
	}

	job.Status = StatusUploading
	p.persist(job)

	artifactID, err := p.upload(ctx, job)
	if err != nil {
		p.attempts++
		if p.attempts >= maxUploadAttempts {
			job.Status = StatusFailed
			p.attempts = 0
			p.failed = append(p.failed, job)
			p.persist(nil)
			return nil, fmt.Errorf("job %s: upload failed %d times, giving up: %w", job.Name, maxUploadAttempts, err)
		}
		job.Status = StatusWaiting
		p.queue.Requeue(job)
		p.persist(nil)
		return nil, fmt.Errorf("job %s: upload failed (attempt %d/%d): %w", job.Name, p.attempts, maxUploadAttempts, err)
	}
	p.attempts = 0

	begin := signal.Begin{
		Filename:   filepath.Base(job.Folder) + ".zip",
		Cmd:        job.Command,
		ArtifactID: artifactID,
		MaxTime:    int(p.maxTime.Seconds()),
	}
	if err := p.transport.SendSignal(ctx, p.token, signal.RoleRenter, begin); err != nil {
		job.Status = StatusWaiting
		p.queue.Requeue(job)
		p.persist(nil)
		return nil, fmt.Errorf("job %s: announcing job: %w", job.Name, err)
	}

	job.Status = StatusRunning
	p.current = job
	p.persist(job)
	return job, nil
}

// OnRemoteStatus mirrors the sharer's progress reports onto the
// in-flight job so a persisted queue shows what the remote side last
// said about it.
func (p *Pipeline) OnRemoteStatus(status string) {
	if p.current == nil || status == "" {
		return
	}
	p.current.Status = "remote: " + status
	p.persist(p.current)
}

// OnDone records the sharer's verdict for the in-flight job and clears
// the way for the next Advance.
func (p *Pipeline) OnDone(status string) *Job {
	job := p.current
	if job == nil {
		return nil
	}
	switch status {
	case "ok", "success", StatusDone:
		job.Status = StatusDone
	default:
		job.Status = StatusFailed
	}
	p.current = nil
	p.persist(nil)
	return job
}

// Abort returns the in-flight job to the head of the queue, used when
// the session dies under it.
func (p *Pipeline) Abort() {
	if p.current == nil {
		return
	}
	p.current.Status = StatusWaiting
	p.queue.Requeue(p.current)
	p.current = nil
	p.persist(nil)
}

func (p *Pipeline) upload(ctx context.Context, job *Job) (string, error) {
	tmp, err := os.MkdirTemp("", "gpulend-upload-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	zipPath := filepath.Join(tmp, filepath.Base(job.Folder)+".zip")
	if err := archive.ZipDir(job.Folder, zipPath); err != nil {
		return "", fmt.Errorf("zipping %s: %w", job.Folder, err)
	}
	return p.transport.UploadArtifact(ctx, p.token, signal.RoleRenter, zipPath)
}

// persist writes the queue plus the in-flight job (if any), with jobs
// that exhausted their upload retries appended after it, so a failure
// stays visible in the job list instead of silently vanishing.
func (p *Pipeline) persist(inFlight *Job) {
	if p.store == nil {
		return
	}
	jobs := p.queue.Jobs()
	if inFlight != nil {
		jobs = append([]*Job{inFlight}, jobs...)
	}
	jobs = append(jobs, p.failed...)
	p.store.Save(jobs)
}
