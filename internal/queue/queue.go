// Package queue runs pending export jobs on a bounded worker pool and
// sweeps expired jobs and their artifacts.
package queue

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/yokitheyo/jira-export/internal/archive"
	"github.com/yokitheyo/jira-export/internal/model"
	"github.com/yokitheyo/jira-export/internal/pipeline"
	"github.com/yokitheyo/jira-export/internal/progress"
	"github.com/yokitheyo/jira-export/internal/storage"
	"github.com/yokitheyo/jira-export/internal/store"
)

// Config tunes the worker pool and the retention sweep.
type Config struct {
	Workers       int
	DispatchDelay time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
}

// Queue dispatches pending jobs to workers. Claims go through the job
// store's conditional update, so several workers (or several processes
// sharing the store) never run the same job twice.
type Queue struct {
	store   *store.Store
	deps    pipeline.Deps
	storage storage.Storage
	cfg     Config
	logger  *log.Logger

	wake chan struct{}
	wg   sync.WaitGroup
}

func New(st *store.Store, deps pipeline.Deps, cfg Config, logger *log.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.DispatchDelay <= 0 {
		cfg.DispatchDelay = time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Queue{
		store:   st,
		deps:    deps,
		storage: deps.Storage,
		cfg:     cfg,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the workers and the retention sweeper. They run until
// ctx is cancelled; Wait blocks until all of them have drained.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	if q.cfg.Retention > 0 && q.cfg.SweepInterval > 0 {
		q.wg.Add(1)
		go q.sweeper(ctx)
	}
	q.logger.Printf("queue: started %d workers", q.cfg.Workers)
}

// Wait blocks until every worker has exited.
func (q *Queue) Wait() { q.wg.Wait() }

// Submit nudges an idle worker after a job was enqueued. Safe to call
// from any goroutine; a missed nudge only delays pickup until the next
// dispatch tick.
func (q *Queue) Submit() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.DispatchDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}

		for {
			job, ok := q.claimNext()
			if !ok {
				break
			}
			q.runJob(ctx, id, job)
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.cfg.DispatchDelay):
			}
		}
	}
}

// claimNext picks the highest-priority pending job the store will let us
// have. Losing a claim race is normal; we just try the next candidate.
func (q *Queue) claimNext() (*model.Job, bool) {
	pending, err := q.store.ListPendingJobs()
	if err != nil {
		q.logger.Printf("queue: list pending: %v", err)
		return nil, false
	}
	for _, job := range pending {
		claimed, err := q.store.ClaimJob(job.ID)
		if err != nil {
			q.logger.Printf("queue: claim %s: %v", job.ID, err)
			continue
		}
		if claimed {
			return job, true
		}
	}
	return nil, false
}

func (q *Queue) runJob(ctx context.Context, worker int, job *model.Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Printf("queue: worker %d: job %s panicked: %v", worker, job.ID, r)
			q.fail(job.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	q.logger.Printf("queue: worker %d: job %s started (%s %s)", worker, job.ID, job.DownloadType, job.ProjectKey)

	deps := q.deps
	deps.Reporter = progress.NewLogger(q.logger, job.ID)

	res, err := pipeline.Run(ctx, job, deps)
	if err != nil {
		q.logger.Printf("queue: worker %d: job %s failed: %v", worker, job.ID, err)
		q.fail(job.ID, err.Error())
		return
	}

	if err := q.store.CompleteJob(job.ID, res.TicketFile); err != nil {
		q.logger.Printf("queue: worker %d: job %s: record completion: %v", worker, job.ID, err)
		return
	}
	q.logger.Printf("queue: worker %d: job %s completed (%d segments, %d bytes)",
		worker, job.ID, len(res.Segments), res.TotalBytes)
}

func (q *Queue) fail(jobID, message string) {
	if err := q.store.FailJob(jobID, message); err != nil {
		q.logger.Printf("queue: record failure for %s: %v", jobID, err)
	}
}

func (q *Queue) sweeper(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Sweep(ctx)
		}
	}
}

// Sweep removes jobs past retention: their archives and ticket exports
// from storage, then their rows. Orphaned files with no surviving row
// are aged out by name pattern afterwards.
func (q *Queue) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-q.cfg.Retention)
	expired, err := q.store.ListExpiredJobs(cutoff)
	if err != nil {
		q.logger.Printf("queue: sweep: %v", err)
		return
	}

	for _, job := range expired {
		for _, seg := range job.Segments {
			if err := q.storage.Delete(ctx, seg.FilePath); err != nil {
				q.logger.Printf("queue: sweep: delete %s: %v", seg.FilePath, err)
			}
		}
		if job.TicketFile != "" {
			if err := q.storage.Delete(ctx, job.TicketFile); err != nil {
				q.logger.Printf("queue: sweep: delete %s: %v", job.TicketFile, err)
			}
		}
		if err := q.store.DeleteJob(job.ID); err != nil {
			q.logger.Printf("queue: sweep: delete job %s: %v", job.ID, err)
			continue
		}
		q.logger.Printf("queue: sweep: removed job %s", job.ID)
	}

	if q.deps.Builder != nil {
		if n, err := archive.CleanOrphans(q.deps.Builder.OutputDir(), q.cfg.Retention, q.logger); err != nil {
			q.logger.Printf("queue: sweep: orphans: %v", err)
		} else if n > 0 {
			q.logger.Printf("queue: sweep: removed %d orphaned files", n)
		}
	}
}
