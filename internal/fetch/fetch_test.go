package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher() *Fetcher {
	return New(Config{
		RequestTimeout: 2 * time.Second,
		Policy: Backoff{
			MaxAttempts: 3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    5 * time.Millisecond,
		},
	})
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	body, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ok")
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	body, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "recovered")
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchExhaustsRetryBound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, http.StatusServiceUnavailable, ferr.StatusCode)
	assert.True(t, ferr.Retryable)
	// the default bound of three attempts, no more
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchClientErrorFailsFast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.False(t, ferr.Retryable)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchTooManyRequestsIsRetryable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchMalformedURL(t *testing.T) {
	_, err := testFetcher().Fetch(context.Background(), "not a url")
	var ferr *Error
	require.ErrorAs(t, err, &ferr)
	assert.False(t, ferr.Retryable)
}

func TestFetchHonoursPerHostGap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{
		RequestTimeout: 2 * time.Second,
		PerHostGap:     60 * time.Millisecond,
		Policy:         Backoff{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})

	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestFetchCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{
		RequestTimeout: 2 * time.Second,
		PerHostGap:     50 * time.Millisecond,
		Policy:         Backoff{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond},
	})
	// first waitTurn passes immediately, the retry path hits the
	// cancelled context
	_, err := f.Fetch(ctx, srv.URL)
	require.Error(t, err)
}
