// Package retry implements exponential backoff with jitter around a
// retryable operation, plus a separate, smaller retry budget for
// LFS-flagged git failures (component D).
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"

	"github.com/jmcampanini/branchsync/internal/gitfacade"
)

// Unlimited means Options.MaxAttempts places no cap on retries.
const Unlimited = 0

// Options configures a Run call. Zero values fall back to the defaults
// documented on each field.
type Options struct {
	// MaxAttempts is the total attempt budget, including the first try.
	// Unlimited (0) by default.
	MaxAttempts int
	// MaxLFSRetries separately bounds retries of LFS-classified errors,
	// regardless of remaining MaxAttempts budget. Default 2.
	MaxLFSRetries int
	// InitialDelay before the first retry. Default 1s.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff. Default 10 minutes.
	MaxDelay time.Duration
	// BackoffMultiplier grows the delay each attempt. Default 2.
	BackoffMultiplier float64
	// Jitter adds ±Jitter uniform noise to every computed delay.
	Jitter time.Duration
	// ShouldRetry overrides the default retryability predicate.
	ShouldRetry func(err error, attempt int) bool
	// OnRetry is called before each sleep, for logging/metrics.
	OnRetry func(err error, attempt int, delay time.Duration)
	// LFSRetryHandler, if set, runs once an error is classified as LFS
	// and before the LFS-budgeted retry (e.g. to toggle skipLfs).
	LFSRetryHandler func(ctx context.Context) error
}

func (o Options) withDefaults() Options {
	if o.InitialDelay == 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = 10 * time.Minute
	}
	if o.BackoffMultiplier == 0 {
		o.BackoffMultiplier = 2
	}
	if o.MaxLFSRetries == 0 {
		o.MaxLFSRetries = 2
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = DefaultShouldRetry
	}
	return o
}

// LFSBudgetExceeded wraps an error once the LFS retry budget is spent,
// with guidance to disable LFS smudging for this repository.
type LFSBudgetExceeded struct {
	Err error
}

func (e *LFSBudgetExceeded) Error() string {
	return "exceeded LFS retry budget; consider enabling skip_lfs for this repository: " + e.Err.Error()
}

func (e *LFSBudgetExceeded) Unwrap() error { return e.Err }

var networkErrorSubstrings = []string{
	"ENOTFOUND", "ECONNREFUSED", "ETIMEDOUT",
	"EBUSY", "ENOENT", "EACCES",
	"Could not read from remote repository",
	"fatal: unable to access",
}

// DefaultShouldRetry treats network errors, filesystem contention
// errors, and LFS-flagged git errors as retryable.
func DefaultShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if isLFSError(err) {
		return true
	}
	msg := err.Error()
	for _, s := range networkErrorSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func isLFSError(err error) bool {
	var gfErr *gitfacade.Error
	if errors.As(err, &gfErr) {
		return gfErr.Kind == gitfacade.KindLFS
	}
	return false
}

// Delay computes the backoff delay for the given 1-indexed attempt,
// before jitter: min(initial * multiplier^(attempt-1), maxDelay).
func Delay(opts Options, attempt int) time.Duration {
	opts = opts.withDefaults()
	raw := float64(opts.InitialDelay) * math.Pow(opts.BackoffMultiplier, float64(attempt-1))
	capped := math.Min(raw, float64(opts.MaxDelay))
	d := time.Duration(capped)
	if opts.Jitter > 0 {
		noise := time.Duration(rand.Int63n(int64(2*opts.Jitter+1))) - opts.Jitter
		d += noise
		if d < 0 {
			d = 0
		}
	}
	return d
}

// Run invokes fn, retrying per opts until it succeeds, the retry budget
// is exhausted, a non-retryable error surfaces, or ctx is cancelled.
func Run(ctx context.Context, log *clog.Logger, opts Options, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()

	var lastErr error
	lfsAttempts := 0
	for attempt := 1; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if isLFSError(lastErr) {
			lfsAttempts++
			if lfsAttempts > opts.MaxLFSRetries {
				return &LFSBudgetExceeded{Err: lastErr}
			}
			if opts.LFSRetryHandler != nil {
				if herr := opts.LFSRetryHandler(ctx); herr != nil {
					return herr
				}
			}
		}

		if !opts.ShouldRetry(lastErr, attempt) {
			return lastErr
		}
		if opts.MaxAttempts != Unlimited && attempt >= opts.MaxAttempts {
			return lastErr
		}

		delay := Delay(opts, attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(lastErr, attempt, delay)
		} else if log != nil {
			log.Warn("retrying after error", "attempt", attempt, "delay", delay, "error", lastErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
