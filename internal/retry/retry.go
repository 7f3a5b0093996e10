// Package retry classifies provider failures and retries the transient ones with
// exponential backoff, throttled by a token bucket.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/readmatrix/internal/models"
)

// Kind tells whether a provider failure is worth retrying.
type Kind int

const (
	Fatal Kind = iota
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "fatal"
}

// Error is the error returned at every provider boundary.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap exposes the cause and the matching sentinel from models.
func (e *Error) Unwrap() []error {
	sentinel := models.ErrProviderUnavailable
	if e.StatusCode == http.StatusTooManyRequests {
		sentinel = models.ErrRateLimited
	}
	return []error{e.Err, sentinel}
}

// FromStatus builds an Error for a non-2xx HTTP response.
func FromStatus(provider string, status int, body string) *Error {
	kind := Fatal
	if status == http.StatusTooManyRequests || status >= 500 {
		kind = Transient
	}
	return &Error{Kind: kind, Provider: provider, StatusCode: status, Err: fmt.Errorf("%s", body)}
}

// Classify wraps a transport-level error. Timeouts, refused or reset connections, and
// deadline expiry are transient; anything else is fatal. An existing *Error is returned as is.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	// Caller cancellation is not a provider failure.
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := Fatal
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = Transient
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = Transient
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		kind = Transient
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// IsTransient reports whether err is a transient provider error.
func IsTransient(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == Transient
}

// Policy retries transient errors with capped exponential backoff plus jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Limiter throttles every attempt; nil means unlimited.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// NewPolicy returns a Policy; requestsPerSecond <= 0 disables throttling.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, requestsPerSecond float64, burst int) *Policy {
	p := &Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: maxDelay}
	if requestsPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		p.Limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return p
}

// Default returns the policy used when nothing is configured: 5 attempts, 1s base, 30s cap.
func Default() *Policy {
	return NewPolicy(5, time.Second, 30*time.Second, 0, 0)
}

// Do runs fn until it succeeds, fails fatally, or attempts are exhausted.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if p.Limiter != nil {
			if werr := p.Limiter.Wait(ctx); werr != nil {
				return werr
			}
		}
		err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		delay := p.Delay(attempt)
		if p.Logger != nil {
			p.Logger.Debug("retrying provider call",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

// Delay returns BaseDelay*2^attempt plus jitter in [0, BaseDelay), never more than MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.BaseDelay > 0 {
		d += time.Duration(rand.Int64N(int64(p.BaseDelay)))
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
