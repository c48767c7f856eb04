package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/feedbackloop/sentinel/internal/idgen"
	"github.com/feedbackloop/sentinel/internal/metrics"
	"github.com/feedbackloop/sentinel/internal/retry"
	"github.com/feedbackloop/sentinel/internal/session"
)

// JobState is the lifecycle stage of a queued processing job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobRetrying   JobState = "retrying"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// ErrQueueFull is returned by Submit when the job queue cannot accept more work.
var ErrQueueFull = errors.New("pipeline: job queue full")

// ErrShuttingDown is returned by Submit after Shutdown has begun.
var ErrShuttingDown = errors.New("pipeline: shutting down")

// failedJobsCap bounds the retained record of retry-exhausted jobs.
const failedJobsCap = 100

// Job tracks one session through the worker pool. State is only written by
// the owning worker after dequeue.
type Job struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	State      JobState  `json:"state"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`

	rec *session.Record
}

func newJob(rec *session.Record) *Job {
	return &Job{
		ID:         idgen.WithPrefix("job"),
		SessionID:  rec.ID,
		State:      JobPending,
		EnqueuedAt: time.Now(),
		rec:        rec,
	}
}

// worker drains the job channel until it is closed.
func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for j := range p.jobs {
		metrics.JobQueueDepth.Set(float64(len(p.jobs)))
		p.runJob(ctx, j)
	}
}

// runJob drives one job through the retry loop. Validation errors are
// permanent; everything else is retried with backoff up to MaxAttempts.
func (p *Pipeline) runJob(ctx context.Context, j *Job) {
	j.State = JobProcessing

	err := retry.Do(ctx, p.cfg.MaxAttempts, p.cfg.RetryBaseDelay, func() error {
		j.Attempts++
		if j.Attempts > 1 {
			j.State = JobRetrying
			metrics.JobRetriesTotal.Inc()
		}
		_, perr := p.ProcessSession(ctx, j.rec)
		if errors.Is(perr, session.ErrInvalidSession) {
			return retry.Permanent(perr)
		}
		return perr
	})

	if err == nil {
		j.State = JobCompleted
		return
	}

	j.State = JobFailed
	j.LastError = err.Error()
	metrics.JobsFailedTotal.Inc()
	p.recordFailedJob(j)
	p.logger.Error("job exhausted retries",
		"job", j.ID, "session", j.SessionID, "attempts", j.Attempts, "error", err)
	if p.hub != nil {
		p.hub.BroadcastJobFailed(map[string]any{
			"jobId":     j.ID,
			"sessionId": j.SessionID,
			"attempts":  j.Attempts,
			"error":     j.LastError,
		})
	}
}

func (p *Pipeline) recordFailedJob(j *Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.failedJobs) >= failedJobsCap {
		p.failedJobs = p.failedJobs[1:]
	}
	p.failedJobs = append(p.failedJobs, j)
}

// FailedJobs returns the retained retry-exhausted jobs, oldest first.
func (p *Pipeline) FailedJobs() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Job, len(p.failedJobs))
	copy(out, p.failedJobs)
	return out
}
