// Package scheduler owns the job registry and drives job runs: a tick
// loop finds due jobs and enqueues them, a fixed worker pool executes
// them, and terminal results are recorded back against the registry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"propscraper/internal/log"
	"propscraper/internal/scraper"
	"propscraper/internal/store"
	"propscraper/internal/types"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobAlreadyRunning enforces the no-re-entry rule for manual runs.
	ErrJobAlreadyRunning = errors.New("job already running")
)

// Executor runs one job invocation to a terminal RunResult.
type Executor interface {
	Execute(ctx context.Context, job types.Job) types.RunResult
}

// Publisher receives terminal run results, e.g. for a message queue.
// Publish failures never fail the run.
type Publisher interface {
	PublishRun(ctx context.Context, run types.RunResult) error
}

type Config struct {
	Workers    int
	RunTimeout time.Duration
	Jobs       store.JobStore
	Runs       store.RunStore
	Properties store.PropertyStore
	Executor   Executor
	Publisher  Publisher
}

// jobState is the registry entry for one job. running covers the span
// from enqueue to terminal record, so a queued job can not be enqueued
// twice. deleted defers row removal until the in-flight run observes it.
type jobState struct {
	job     types.Job
	running bool
	deleted bool
	missed  bool
	cancel  context.CancelFunc
}

type Coordinator struct {
	cfg Config

	mu       sync.Mutex
	cond     *sync.Cond
	registry map[uuid.UUID]*jobState
	queue    []uuid.UUID
	closed   bool

	baseCtx context.Context
	wg      sync.WaitGroup
}

// New loads the registry from the job store and starts the worker pool.
// Workers live until ctx is cancelled or Close is called.
func New(ctx context.Context, cfg Config) (*Coordinator, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}

	c := &Coordinator{
		cfg:      cfg,
		registry: map[uuid.UUID]*jobState{},
		baseCtx:  ctx,
	}
	c.cond = sync.NewCond(&c.mu)

	jobs, err := cfg.Jobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load job registry: %w", err)
	}
	now := time.Now().UTC()
	for _, job := range jobs {
		if job.Active && job.NextDue.IsZero() {
			if next, nerr := job.NextAfter(now); nerr == nil {
				job.NextDue = next
			}
		}
		c.registry[job.ID] = &jobState{job: job}
	}

	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return c, nil
}

// Close wakes the workers and waits for in-flight runs to finish. Queued
// but unstarted jobs are abandoned. Safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.cond.Broadcast()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Tick finds due active jobs, enqueues them FIFO and returns immediately.
// A job whose previous run is still going is skipped and logged as a
// missed run, never queued behind itself.
func (c *Coordinator) Tick(ctx context.Context) {
	logger := log.FromContext(ctx)
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	var due []*jobState
	for _, state := range c.registry {
		if state.deleted || !state.job.Active || now.Before(state.job.NextDue) {
			continue
		}
		if state.running {
			if !state.missed {
				state.missed = true
				logger.Warnf("job %q still running at next due time, skipping tick", state.job.Name)
			}
			continue
		}
		due = append(due, state)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].job.NextDue.Equal(due[j].job.NextDue) {
			return due[i].job.NextDue.Before(due[j].job.NextDue)
		}
		return due[i].job.Name < due[j].job.Name
	})
	for _, state := range due {
		c.enqueueLocked(state)
	}
}

// enqueueLocked marks the job running and appends it to the FIFO queue.
// Caller holds c.mu.
func (c *Coordinator) enqueueLocked(state *jobState) {
	state.running = true
	state.missed = false
	c.queue = append(c.queue, state.job.ID)
	c.cond.Signal()
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		id := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.runJob(id)
	}
}

func (c *Coordinator) runJob(id uuid.UUID) {
	c.mu.Lock()
	state, ok := c.registry[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	if state.deleted {
		// deleted while queued: drop before it ever starts
		delete(c.registry, id)
		c.mu.Unlock()
		c.removeJobRow(id)
		return
	}
	job := state.job
	runCtx, cancel := context.WithTimeout(c.baseCtx, c.cfg.RunTimeout)
	state.cancel = cancel
	c.mu.Unlock()

	run := c.cfg.Executor.Execute(runCtx, job)
	cancel()
	c.record(id, run)
}

// record applies one terminal run to the registry: last-run and next-due
// update, or the deferred deletion if the job went away mid-run (in which
// case the RunResult is discarded).
func (c *Coordinator) record(id uuid.UUID, run types.RunResult) {
	logger := log.FromContext(c.baseCtx)
	now := time.Now().UTC()

	c.mu.Lock()
	state, ok := c.registry[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	state.running = false
	state.cancel = nil
	if state.deleted {
		delete(c.registry, id)
		c.mu.Unlock()
		logger.Infof("job %s deleted mid-run, discarding run result", id)
		c.removeJobRow(id)
		return
	}

	state.job.LastRun = &run.StartedAt
	// next-due is computed against now, not the schedule load time, so a
	// long run never causes schedule drift
	if next, err := state.job.NextAfter(now); err == nil {
		state.job.NextDue = next
	}
	state.job.UpdatedAt = now
	job := state.job
	c.mu.Unlock()

	ctx, cancelPersist := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPersist()
	if err := c.cfg.Runs.Record(ctx, &run); err != nil {
		logger.Errorf("record run %s: %v", run.ID, err)
	}
	if err := c.cfg.Jobs.Update(ctx, &job); err != nil {
		logger.Errorf("persist job %s after run: %v", job.ID, err)
	}
	if c.cfg.Publisher != nil {
		if err := c.cfg.Publisher.PublishRun(ctx, run); err != nil {
			logger.Warnf("publish run %s: %v", run.ID, err)
		}
	}
}

func (c *Coordinator) removeJobRow(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.cfg.Jobs.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.FromContext(c.baseCtx).Errorf("delete job row %s: %v", id, err)
	}
}

// RunNow bypasses the due-check but still respects no-re-entry.
func (c *Coordinator) RunNow(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.registry[id]
	if !ok || state.deleted {
		return ErrJobNotFound
	}
	if state.running {
		return ErrJobAlreadyRunning
	}
	c.enqueueLocked(state)
	return nil
}

// CreateJob validates, persists and registers a new job. The first due
// time comes from evaluating the cron expression against now.
func (c *Coordinator) CreateJob(ctx context.Context, job *types.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if _, err := scraper.CompileFilters(job.Selectors.Filters); err != nil {
		return err
	}

	now := time.Now().UTC()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	next, err := job.NextAfter(now)
	if err != nil {
		return fmt.Errorf("%w: schedule %q: %v", types.ErrValidation, job.Schedule, err)
	}
	job.NextDue = next

	if err := c.cfg.Jobs.Create(ctx, job); err != nil {
		return err
	}

	c.mu.Lock()
	c.registry[job.ID] = &jobState{job: *job}
	c.mu.Unlock()
	return nil
}

// UpdateJob replaces a job's definition. Deactivating a job cancels its
// in-flight run cooperatively.
func (c *Coordinator) UpdateJob(ctx context.Context, job *types.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if _, err := scraper.CompileFilters(job.Selectors.Filters); err != nil {
		return err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	state, ok := c.registry[job.ID]
	if !ok || state.deleted {
		c.mu.Unlock()
		return ErrJobNotFound
	}
	job.CreatedAt = state.job.CreatedAt
	job.LastRun = state.job.LastRun
	job.UpdatedAt = now
	if next, err := job.NextAfter(now); err == nil {
		job.NextDue = next
	}
	state.job = *job
	if !job.Active && state.running && state.cancel != nil {
		state.cancel()
	}
	c.mu.Unlock()

	return c.cfg.Jobs.Update(ctx, job)
}

// DeleteJob removes a job. A running job finishes its current run first;
// the run's result is discarded and the row is removed once the run
// observes the deletion.
func (c *Coordinator) DeleteJob(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	state, ok := c.registry[id]
	if !ok || state.deleted {
		c.mu.Unlock()
		return ErrJobNotFound
	}
	if state.running {
		state.deleted = true
		if state.cancel != nil {
			state.cancel()
		}
		c.mu.Unlock()
		return nil
	}
	delete(c.registry, id)
	c.mu.Unlock()
	return c.cfg.Jobs.Delete(ctx, id)
}

// GetJob returns a copy of the registered job.
func (c *Coordinator) GetJob(id uuid.UUID) (types.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.registry[id]
	if !ok || state.deleted {
		return types.Job{}, ErrJobNotFound
	}
	return state.job, nil
}

// ListJobs returns all registered jobs, oldest first.
func (c *Coordinator) ListJobs() []types.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Job, 0, len(c.registry))
	for _, state := range c.registry {
		if state.deleted {
			continue
		}
		out = append(out, state.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListRuns serves the run history, uuid.Nil for all jobs.
func (c *Coordinator) ListRuns(ctx context.Context, jobID uuid.UUID, limit int) ([]types.RunResult, error) {
	return c.cfg.Runs.List(ctx, jobID, limit)
}

type Stats struct {
	TotalJobs       int   `json:"total_jobs"`
	ActiveJobs      int   `json:"active_jobs"`
	RunningJobs     int   `json:"running_jobs"`
	TotalRuns       int64 `json:"total_runs"`
	SucceededRuns   int64 `json:"succeeded_runs"`
	TotalProperties int64 `json:"total_properties"`
}

func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	c.mu.Lock()
	for _, state := range c.registry {
		if state.deleted {
			continue
		}
		s.TotalJobs++
		if state.job.Active {
			s.ActiveJobs++
		}
		if state.running {
			s.RunningJobs++
		}
	}
	c.mu.Unlock()

	var err error
	if s.TotalRuns, s.SucceededRuns, err = c.cfg.Runs.Counts(ctx); err != nil {
		return s, err
	}
	if s.TotalProperties, err = c.cfg.Properties.Count(ctx); err != nil {
		return s, err
	}
	return s, nil
}
