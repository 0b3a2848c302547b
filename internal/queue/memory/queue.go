// Package memory implements the scrape job queue for single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mercadime/scraperd/internal/scraper"
)

const defaultWaitSlice = 250 * time.Millisecond

// journalTimeout bounds each write-through persistence call.
const journalTimeout = 5 * time.Second

// job wraps the public record with queue-internal bookkeeping.
type job struct {
	scraper.Job
	seq       uint64
	cancelled bool
}

// Queue is an in-memory prioritized job queue with the semantics the worker
// pool depends on: FIFO per store, per-store max concurrency enforced
// atomically at claim time, delayed retry with backoff, cooperative
// cancellation of active jobs.
//
// One mutex guards all state; a claim is therefore a compare-and-swap on the
// job status and no two workers can take the same job.
type Queue struct {
	mu       sync.Mutex
	jobs     map[string]*job
	seq      uint64
	active   map[string]int
	paused   map[string]bool
	settings scraper.SettingsStore
	policy   scraper.RetryPolicy
	clock    scraper.Clock
	journal  scraper.JobStore
	logger   *zap.Logger
	wake     chan struct{}
}

// New constructs a Queue. Settings are consulted fresh on every dequeue
// decision so operator edits to a store's concurrency take effect without a
// restart.
func New(
	settings scraper.SettingsStore,
	policy scraper.RetryPolicy,
	clock scraper.Clock,
	logger *zap.Logger,
) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		jobs:     make(map[string]*job),
		active:   make(map[string]int),
		paused:   make(map[string]bool),
		settings: settings,
		policy:   policy,
		clock:    clock,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// NewDurable constructs a Queue that writes every job transition through the
// journal and reloads persisted jobs on boot. Jobs that were active when the
// previous process stopped re-enter the queue as waiting; their attempt count
// is kept.
func NewDurable(
	ctx context.Context,
	settings scraper.SettingsStore,
	policy scraper.RetryPolicy,
	clock scraper.Clock,
	journal scraper.JobStore,
	logger *zap.Logger,
) (*Queue, error) {
	q := New(settings, policy, clock, logger)
	q.journal = journal
	jobs, err := journal.LoadJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore jobs: %w", err)
	}
	for _, j := range jobs {
		if j.Status == scraper.JobStatusActive {
			j.Status = scraper.JobStatusWaiting
			j.StartedAt = nil
			q.persist(j)
		}
		q.seq++
		q.jobs[j.ID] = &job{Job: j, seq: q.seq}
	}
	if len(jobs) > 0 {
		q.logger.Info("job queue restored", zap.Int("jobs", len(jobs)))
		q.signal()
	}
	return q, nil
}

// Enqueue adds a job in waiting state. Attempt caps come from the store's
// retry_count setting at submission time.
func (q *Queue) Enqueue(ctx context.Context, j scraper.Job) error {
	switch j.Type {
	case scraper.JobTypeDiscoverCategories, scraper.JobTypeDiscoverSubcategories, scraper.JobTypeScrapeProducts:
	default:
		return fmt.Errorf("%w: unknown job type %q", scraper.ErrValidation, j.Type)
	}
	if j.ID == "" || j.Store == "" {
		return fmt.Errorf("%w: job id and store are required", scraper.ErrValidation)
	}
	if j.MaxAttempts <= 0 {
		settings, err := q.settings.Settings(ctx, j.Store)
		if err != nil {
			return fmt.Errorf("load settings for %q: %w", j.Store, err)
		}
		j.MaxAttempts = settings.RetryCount + 1
	}
	j.Status = scraper.JobStatusWaiting
	if j.CreatedAt.IsZero() {
		j.CreatedAt = q.clock.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[j.ID]; exists {
		return fmt.Errorf("%w: job %s already exists", scraper.ErrConflict, j.ID)
	}
	if q.journal != nil {
		if err := q.journal.SaveJob(ctx, j); err != nil {
			return fmt.Errorf("%w: persist job %s: %v", scraper.ErrInfrastructure, j.ID, err)
		}
	}
	q.seq++
	q.jobs[j.ID] = &job{Job: j, seq: q.seq}
	q.signal()
	return nil
}

// Dequeue blocks until an eligible job can be claimed or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (scraper.Job, error) {
	for {
		claimed, wait := q.tryClaim(ctx)
		if claimed != nil {
			return *claimed, nil
		}
		if wait <= 0 || wait > defaultWaitSlice {
			wait = defaultWaitSlice
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return scraper.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// tryClaim promotes ready delayed jobs and claims the oldest eligible waiting
// job, returning either the claim or a hint for how long to sleep.
func (q *Queue) tryClaim(ctx context.Context) (*scraper.Job, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	candidates := make([]*job, 0, len(q.jobs))
	nextReady := time.Duration(0)
	for _, j := range q.jobs {
		switch j.Status {
		case scraper.JobStatusDelayed:
			if !j.ReadyAt.After(now) {
				j.Status = scraper.JobStatusWaiting
				candidates = append(candidates, j)
			} else if d := j.ReadyAt.Sub(now); nextReady == 0 || d < nextReady {
				nextReady = d
			}
		case scraper.JobStatusWaiting:
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].seq < candidates[k].seq })

	skippedStores := make(map[string]bool)
	for _, j := range candidates {
		if skippedStores[j.Store] {
			// FIFO within a store: a younger job must not overtake a
			// blocked older one.
			continue
		}
		if q.paused[j.Store] {
			skippedStores[j.Store] = true
			continue
		}
		settings, err := q.settings.Settings(ctx, j.Store)
		if err != nil {
			q.logger.Warn("settings lookup failed, skipping store",
				zap.String("store", j.Store), zap.Error(err))
			skippedStores[j.Store] = true
			continue
		}
		if !settings.Enabled {
			skippedStores[j.Store] = true
			continue
		}
		maxConc := settings.MaxConcurrency
		if maxConc < 1 {
			maxConc = 1
		}
		if q.active[j.Store] >= maxConc {
			skippedStores[j.Store] = true
			continue
		}

		j.Status = scraper.JobStatusActive
		j.Attempts++
		j.Counters.Retries = j.Attempts - 1
		if j.StartedAt == nil {
			started := now
			j.StartedAt = &started
		}
		q.active[j.Store]++
		q.persist(j.Job)
		claimed := j.Job
		return &claimed, 0
	}
	return nil, nextReady
}

// Complete finishes an active job successfully.
func (q *Queue) Complete(_ context.Context, jobID string, counters scraper.JobCounters) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	if j.Status != scraper.JobStatusActive {
		return fmt.Errorf("%w: job %s is %s, not active", scraper.ErrConflict, jobID, j.Status)
	}
	retries := j.Counters.Retries
	j.Counters = counters
	j.Counters.Retries = retries
	j.Status = scraper.JobStatusCompleted
	q.finish(j)
	q.persist(j.Job)
	return nil
}

// Fail records a failure for an active job. Retryable failures re-enter the
// queue as delayed with backoff until the attempt cap; cancellation and
// exhausted attempts are terminal.
func (q *Queue) Fail(_ context.Context, jobID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	if j.Status != scraper.JobStatusActive {
		return fmt.Errorf("%w: job %s is %s, not active", scraper.ErrConflict, jobID, j.Status)
	}
	j.FailedReason = reason
	if j.cancelled || reason == scraper.FailedReasonCancelled {
		j.FailedReason = scraper.FailedReasonCancelled
		j.Status = scraper.JobStatusFailed
		q.finish(j)
		q.persist(j.Job)
		return nil
	}
	if j.Attempts < j.MaxAttempts {
		j.Status = scraper.JobStatusDelayed
		j.ReadyAt = q.clock.Now().Add(q.policy.Backoff(j.Attempts))
		q.release(j.Store)
		q.signal()
		q.persist(j.Job)
		return nil
	}
	j.Status = scraper.JobStatusFailed
	q.finish(j)
	q.persist(j.Job)
	return nil
}

// Cancel aborts a job. Waiting and delayed jobs fail immediately; active jobs
// get a cooperative flag the worker observes between crawl steps.
func (q *Queue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	switch j.Status {
	case scraper.JobStatusWaiting, scraper.JobStatusDelayed:
		j.Status = scraper.JobStatusFailed
		j.FailedReason = scraper.FailedReasonCancelled
		now := q.clock.Now()
		j.CompletedAt = &now
		q.signal()
		q.persist(j.Job)
		return nil
	case scraper.JobStatusActive:
		j.cancelled = true
		return nil
	default:
		return fmt.Errorf("%w: job %s already %s", scraper.ErrConflict, jobID, j.Status)
	}
}

// Cancelled reports whether an active job has been asked to abort.
func (q *Queue) Cancelled(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	return ok && j.cancelled
}

// Get returns a job by id.
func (q *Queue) Get(_ context.Context, jobID string) (scraper.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return scraper.Job{}, fmt.Errorf("%w: job %s", scraper.ErrNotFound, jobID)
	}
	return j.Job, nil
}

// List returns all jobs in submission order.
func (q *Queue) List(_ context.Context) ([]scraper.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].seq < out[k].seq })
	jobs := make([]scraper.Job, len(out))
	for i, j := range out {
		jobs[i] = j.Job
	}
	return jobs, nil
}

// Stats counts jobs by status.
func (q *Queue) Stats(_ context.Context) (scraper.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s scraper.QueueStats
	for _, j := range q.jobs {
		switch j.Status {
		case scraper.JobStatusWaiting:
			s.Waiting++
		case scraper.JobStatusActive:
			s.Active++
		case scraper.JobStatusCompleted:
			s.Completed++
		case scraper.JobStatusFailed:
			s.Failed++
		case scraper.JobStatusDelayed:
			s.Delayed++
		}
	}
	return s, nil
}

// Remove deletes a terminal job.
func (q *Queue) Remove(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil
	}
	if !j.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", scraper.ErrConflict, jobID, j.Status)
	}
	delete(q.jobs, jobID)
	q.forget(jobID)
	return nil
}

// Purge removes every job that is not currently active.
func (q *Queue) Purge(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, j := range q.jobs {
		if j.Status == scraper.JobStatusActive {
			continue
		}
		delete(q.jobs, id)
		q.forget(id)
		removed++
	}
	return removed, nil
}

// PruneTerminal removes terminal jobs finished before the cutoff.
func (q *Queue) PruneTerminal(_ context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, j := range q.jobs {
		if !j.Status.IsTerminal() {
			continue
		}
		if j.CompletedAt != nil && j.CompletedAt.Before(olderThan) {
			delete(q.jobs, id)
			q.forget(id)
			removed++
		}
	}
	return removed, nil
}

// PauseStore stops dequeueing for a store; in-flight jobs complete.
func (q *Queue) PauseStore(store string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused[store] = true
}

// ResumeStore re-enables dequeueing for a store.
func (q *Queue) ResumeStore(store string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.paused, store)
	q.signal()
}

// Paused reports whether a store is paused.
func (q *Queue) Paused(store string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused[store]
}

// StopStore forcibly fails every non-terminal job for a store. Active jobs
// receive the cooperative cancel flag and fail once their worker observes it.
func (q *Queue) StopStore(_ context.Context, store string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	stopped := 0
	for _, j := range q.jobs {
		if j.Store != store || j.Status.IsTerminal() {
			continue
		}
		stopped++
		if j.Status == scraper.JobStatusActive {
			j.cancelled = true
			continue
		}
		j.Status = scraper.JobStatusFailed
		j.FailedReason = scraper.FailedReasonCancelled
		j.CompletedAt = &now
		q.persist(j.Job)
	}
	return stopped, nil
}

// finish marks terminal state and releases the store's concurrency slot.
// Callers hold q.mu.
func (q *Queue) finish(j *job) {
	now := q.clock.Now()
	j.CompletedAt = &now
	q.release(j.Store)
	q.signal()
}

func (q *Queue) release(store string) {
	if q.active[store] > 0 {
		q.active[store]--
	}
	if q.active[store] == 0 {
		delete(q.active, store)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// persist writes a job transition through to the journal. Transitions are
// best-effort after admission: a journal outage must not wedge the queue, so
// failures are logged and the in-memory state remains authoritative.
func (q *Queue) persist(j scraper.Job) {
	if q.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := q.journal.SaveJob(ctx, j); err != nil {
		q.logger.Error("job journal write failed", zap.String("job_id", j.ID), zap.Error(err))
	}
}

func (q *Queue) forget(jobID string) {
	if q.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := q.journal.DeleteJob(ctx, jobID); err != nil {
		q.logger.Error("job journal delete failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
