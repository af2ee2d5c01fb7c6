package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propscraper/internal/store"
	"propscraper/internal/types"
)

// fakeExecutor records execution order and can hold runs open until
// released, so tests can observe the queued/running window.
type fakeExecutor struct {
	mu      sync.Mutex
	order   []string
	started chan string
	release chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, job types.Job) types.RunResult {
	f.mu.Lock()
	f.order = append(f.order, job.Name)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- job.Name
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	now := time.Now().UTC()
	return types.RunResult{
		ID:         uuid.New(),
		JobID:      job.ID,
		Status:     types.RunSucceeded,
		StartedAt:  now,
		FinishedAt: &now,
	}
}

func (f *fakeExecutor) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func validJob(name string) types.Job {
	return types.Job{
		Name:      name,
		TargetURL: "https://example.com/listings",
		Schedule:  "0 0 2 * * *",
		Active:    true,
		Selectors: types.SelectorConfig{
			Fields: map[string][]string{
				types.FieldTitle:   {"h2.title"},
				types.FieldAddress: {".addr"},
			},
		},
	}
}

type fixture struct {
	jobs *store.MemoryJobStore
	runs *store.MemoryRunStore
	exec *fakeExecutor
}

func newCoordinator(t *testing.T, workers int, exec *fakeExecutor, seed ...types.Job) (*Coordinator, fixture) {
	t.Helper()
	f := fixture{
		jobs: store.NewMemoryJobStore(),
		runs: store.NewMemoryRunStore(),
		exec: exec,
	}
	ctx := context.Background()
	for i := range seed {
		require.NoError(t, f.jobs.Create(ctx, &seed[i]))
	}
	c, err := New(ctx, Config{
		Workers:    workers,
		RunTimeout: 5 * time.Second,
		Jobs:       f.jobs,
		Runs:       f.runs,
		Properties: store.NewMemoryPropertyStore(),
		Executor:   exec,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, f
}

func waitRuns(t *testing.T, runs *store.MemoryRunStore, want int) {
	t.Helper()
	assert.Eventually(t, func() bool {
		got, err := runs.List(context.Background(), uuid.Nil, 0)
		return err == nil && len(got) == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCreateJobValidates(t *testing.T) {
	c, _ := newCoordinator(t, 1, &fakeExecutor{})

	bad := validJob("bad")
	bad.Schedule = "every now and then"
	err := c.CreateJob(context.Background(), &bad)
	assert.ErrorIs(t, err, types.ErrValidation)

	good := validJob("good")
	require.NoError(t, c.CreateJob(context.Background(), &good))
	assert.NotEqual(t, uuid.Nil, good.ID)
	assert.False(t, good.NextDue.IsZero())

	clash := validJob("good")
	assert.ErrorIs(t, c.CreateJob(context.Background(), &clash), store.ErrDuplicateName)
}

func TestTickRunsDueJob(t *testing.T) {
	exec := &fakeExecutor{}
	job := validJob("due")
	job.ID = uuid.New()
	job.NextDue = time.Now().UTC().Add(-time.Minute)
	c, f := newCoordinator(t, 2, exec, job)

	c.Tick(context.Background())
	waitRuns(t, f.runs, 1)

	got, err := c.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.NextDue.After(time.Now().UTC()), "next due recomputed forward")
}

func TestTickSkipsInactiveAndNotDue(t *testing.T) {
	exec := &fakeExecutor{}
	inactive := validJob("inactive")
	inactive.ID = uuid.New()
	inactive.Active = false
	inactive.NextDue = time.Now().UTC().Add(-time.Minute)
	future := validJob("future")
	future.ID = uuid.New()
	future.NextDue = time.Now().UTC().Add(time.Hour)
	c, _ := newCoordinator(t, 2, exec, inactive, future)

	c.Tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, exec.executed())
}

func TestNoReentry(t *testing.T) {
	exec := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	job := validJob("slow")
	job.ID = uuid.New()
	job.Schedule = "* * * * * *"
	job.NextDue = time.Now().UTC().Add(-time.Minute)
	c, f := newCoordinator(t, 2, exec, job)

	c.Tick(context.Background())
	<-exec.started

	// still due, still running: the tick skips it
	c.Tick(context.Background())
	assert.ErrorIs(t, c.RunNow(context.Background(), job.ID), ErrJobAlreadyRunning)

	close(exec.release)
	waitRuns(t, f.runs, 1)
	assert.Len(t, exec.executed(), 1, "overlapping tick must not queue a second run")
}

func TestFIFOOrder(t *testing.T) {
	exec := &fakeExecutor{}
	older := validJob("older")
	older.ID = uuid.New()
	older.NextDue = time.Now().UTC().Add(-2 * time.Minute)
	newer := validJob("newer")
	newer.ID = uuid.New()
	newer.NextDue = time.Now().UTC().Add(-time.Minute)
	c, f := newCoordinator(t, 1, exec, newer, older)

	c.Tick(context.Background())
	waitRuns(t, f.runs, 2)
	assert.Equal(t, []string{"older", "newer"}, exec.executed())
}

func TestRunNowUnknownJob(t *testing.T) {
	c, _ := newCoordinator(t, 1, &fakeExecutor{})
	assert.ErrorIs(t, c.RunNow(context.Background(), uuid.New()), ErrJobNotFound)
}

func TestRunNow(t *testing.T) {
	exec := &fakeExecutor{}
	job := validJob("manual")
	job.ID = uuid.New()
	job.NextDue = time.Now().UTC().Add(time.Hour) // not due
	c, f := newCoordinator(t, 1, exec, job)

	require.NoError(t, c.RunNow(context.Background(), job.ID))
	waitRuns(t, f.runs, 1)
	assert.Equal(t, []string{"manual"}, exec.executed())
}

func TestDeleteMidRunDiscardsResult(t *testing.T) {
	exec := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	job := validJob("doomed")
	job.ID = uuid.New()
	job.NextDue = time.Now().UTC().Add(-time.Minute)
	c, f := newCoordinator(t, 1, exec, job)

	c.Tick(context.Background())
	<-exec.started

	require.NoError(t, c.DeleteJob(context.Background(), job.ID))
	_, err := c.GetJob(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	close(exec.release)
	assert.Eventually(t, func() bool {
		jobs, lerr := f.jobs.List(context.Background())
		return lerr == nil && len(jobs) == 0
	}, 2*time.Second, 5*time.Millisecond, "row removed once the run observes deletion")

	runs, err := f.runs.List(context.Background(), uuid.Nil, 0)
	require.NoError(t, err)
	assert.Empty(t, runs, "result of a deleted job is discarded")
}

func TestDeleteIdleJob(t *testing.T) {
	job := validJob("idle")
	job.ID = uuid.New()
	job.NextDue = time.Now().UTC().Add(time.Hour)
	c, f := newCoordinator(t, 1, &fakeExecutor{}, job)

	require.NoError(t, c.DeleteJob(context.Background(), job.ID))
	assert.ErrorIs(t, c.DeleteJob(context.Background(), job.ID), ErrJobNotFound)

	jobs, err := f.jobs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestUpdateJobPreservesHistory(t *testing.T) {
	exec := &fakeExecutor{}
	job := validJob("tuned")
	job.ID = uuid.New()
	job.CreatedAt = time.Now().UTC().Add(-time.Hour)
	job.NextDue = time.Now().UTC().Add(-time.Minute)
	c, f := newCoordinator(t, 1, exec, job)

	c.Tick(context.Background())
	waitRuns(t, f.runs, 1)

	updated := validJob("tuned")
	updated.ID = job.ID
	updated.Schedule = "0 30 3 * * *"
	require.NoError(t, c.UpdateJob(context.Background(), &updated))

	got, err := c.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "0 30 3 * * *", got.Schedule)
	assert.Equal(t, job.CreatedAt, got.CreatedAt)
	assert.NotNil(t, got.LastRun)
}

func TestUpdateDeactivationCancelsRun(t *testing.T) {
	exec := &fakeExecutor{started: make(chan string, 1), release: make(chan struct{})}
	job := validJob("busy")
	job.ID = uuid.New()
	job.NextDue = time.Now().UTC().Add(-time.Minute)
	c, f := newCoordinator(t, 1, exec, job)

	c.Tick(context.Background())
	<-exec.started

	// the executor only unblocks on release or ctx.Done; deactivation
	// cancels the run context
	updated := validJob("busy")
	updated.ID = job.ID
	updated.Active = false
	require.NoError(t, c.UpdateJob(context.Background(), &updated))

	waitRuns(t, f.runs, 1)
	got, err := c.GetJob(job.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestStats(t *testing.T) {
	exec := &fakeExecutor{}
	active := validJob("a")
	active.ID = uuid.New()
	active.NextDue = time.Now().UTC().Add(-time.Minute)
	dormant := validJob("b")
	dormant.ID = uuid.New()
	dormant.Active = false
	c, f := newCoordinator(t, 1, exec, active, dormant)

	c.Tick(context.Background())
	waitRuns(t, f.runs, 1)

	s, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalJobs)
	assert.Equal(t, 1, s.ActiveJobs)
	assert.Equal(t, int64(1), s.TotalRuns)
	assert.Equal(t, int64(1), s.SucceededRuns)
}
