package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJob() Job {
	return Job{
		Name:      "daily listings",
		TargetURL: "https://example.com/listings",
		Schedule:  "0 0 2 * * *",
		Selectors: SelectorConfig{
			Fields: map[string][]string{
				FieldTitle:   {"h2.title"},
				FieldAddress: {"div.address"},
			},
		},
		Active: true,
	}
}

func TestJobValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		job := validJob()
		require.NoError(t, job.Validate())
	})

	t.Run("empty name", func(t *testing.T) {
		job := validJob()
		job.Name = "   "
		assert.ErrorIs(t, job.Validate(), ErrValidation)
	})

	t.Run("relative url", func(t *testing.T) {
		job := validJob()
		job.TargetURL = "/listings"
		assert.ErrorIs(t, job.Validate(), ErrValidation)
	})

	t.Run("non-http scheme", func(t *testing.T) {
		job := validJob()
		job.TargetURL = "ftp://example.com/listings"
		assert.ErrorIs(t, job.Validate(), ErrValidation)
	})

	t.Run("bad cron", func(t *testing.T) {
		job := validJob()
		job.Schedule = "whenever"
		assert.ErrorIs(t, job.Validate(), ErrValidation)
	})

	t.Run("missing title selector", func(t *testing.T) {
		job := validJob()
		job.Selectors.Fields = map[string][]string{FieldAddress: {"div.address"}}
		assert.ErrorIs(t, job.Validate(), ErrValidation)
	})
}

func TestNextAfter(t *testing.T) {
	job := validJob()

	// scheduled at 01:00, due at 02:00 the same day
	at := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	next, err := job.NextAfter(at)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC), next)

	// past 02:00, due tomorrow
	at = time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC)
	next, err = job.NextAfter(at)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 2, 0, 0, 0, time.UTC), next)
}

func TestRunResultTerminal(t *testing.T) {
	r := RunResult{Status: RunRunning}
	assert.False(t, r.Terminal())
	for _, status := range []RunStatus{RunSucceeded, RunFailed, RunPartiallyFailed} {
		r.Status = status
		assert.True(t, r.Terminal(), string(status))
	}
}
