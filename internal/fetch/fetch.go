// Package fetch retrieves target pages over the network. Transient
// failures are retried with exponential backoff and jitter; a per-target
// rate limit is enforced before every attempt, retries included.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// Error carries the classification the executor needs: retryable failures
// were retried up to the policy bound before surfacing here.
type Error struct {
	URL        string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Backoff is the retry policy: MaxAttempts total tries, exponential delay
// from BaseDelay capped at MaxDelay, with up to Jitter (fraction of the
// delay) of randomness added.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// DefaultBackoff matches the documented default of three attempts.
var DefaultBackoff = Backoff{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	Jitter:      0.25,
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.BaseDelay << uint(attempt-1)
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}

type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	PerHostGap     time.Duration
	Policy         Backoff
}

type Fetcher struct {
	base   *colly.Collector
	policy Backoff
	gap    time.Duration

	mu      sync.Mutex
	lastHit map[string]time.Time
}

func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = DefaultBackoff
	}

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(cfg.RequestTimeout)

	return &Fetcher{
		base:    c,
		policy:  cfg.Policy,
		gap:     cfg.PerHostGap,
		lastHit: map[string]time.Time{},
	}
}

// Fetch retrieves the raw markup of pageURL. Malformed URLs and
// non-retryable HTTP statuses fail immediately; timeouts, connection
// resets, 429 and 5xx are retried up to the policy bound.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	u, err := url.Parse(pageURL)
	if err != nil || !u.IsAbs() {
		return nil, &Error{URL: pageURL, Err: fmt.Errorf("malformed url: %v", err)}
	}

	var last *Error
	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		if err := f.waitTurn(ctx, u.Hostname()); err != nil {
			return nil, err
		}

		body, ferr := f.attempt(pageURL)
		if ferr == nil {
			return body, nil
		}
		last = ferr
		if !ferr.Retryable || attempt == f.policy.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, f.policy.delay(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, last
}

func (f *Fetcher) attempt(pageURL string) ([]byte, *Error) {
	c := f.base.Clone()

	var body []byte
	var ferr *Error
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		ferr = classify(pageURL, status, err)
	})

	if err := c.Visit(pageURL); err != nil && ferr == nil {
		ferr = classify(pageURL, 0, err)
	}
	c.Wait()

	if ferr != nil {
		return nil, ferr
	}
	if body == nil {
		return nil, &Error{URL: pageURL, Err: errors.New("empty response")}
	}
	return body, nil
}

func classify(pageURL string, status int, err error) *Error {
	e := &Error{URL: pageURL, StatusCode: status, Err: err}
	switch {
	case status == 429 || status >= 500:
		e.Retryable = true
	case status >= 400:
		e.Retryable = false
	default:
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			e.Retryable = true
		} else if err != nil && (strings.Contains(err.Error(), "connection reset") ||
			strings.Contains(err.Error(), "connection refused") ||
			strings.Contains(err.Error(), "EOF")) {
			e.Retryable = true
		}
	}
	return e
}

// waitTurn spaces out requests against the same host, also across retries
// of the same run and across concurrent executors.
func (f *Fetcher) waitTurn(ctx context.Context, host string) error {
	if f.gap <= 0 {
		return nil
	}
	for {
		f.mu.Lock()
		next := f.lastHit[host].Add(f.gap)
		now := time.Now()
		if !now.Before(next) {
			f.lastHit[host] = now
			f.mu.Unlock()
			return nil
		}
		f.mu.Unlock()
		if err := sleepCtx(ctx, next.Sub(now)); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
