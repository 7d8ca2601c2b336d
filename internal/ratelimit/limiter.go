package ratelimit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Counter is the sliding-window counting backend. Incr bumps the counter for
// key, starting a fresh window of the given length when none is open, and
// returns the new count plus the time remaining in the window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

// Result is the gating decision for one request.
type Result struct {
	Allowed bool
	ResetAt time.Time
}

// Endpoint ceilings. Starting a session is the expensive, abusable operation;
// answering is cheap and latency-sensitive.
const (
	EndpointStartSession = "challenge:start"
	EndpointSubmitAnswer = "challenge:answer"

	StartSessionLimit  = 10
	StartSessionWindow = time.Hour
	SubmitAnswerLimit  = 100
	SubmitAnswerWindow = time.Minute
)

// Limiter enforces per-(caller, endpoint) request ceilings. The counting
// backend failing is a distinct outcome from a denial: Check returns the
// backend error and callers fail open, so availability of the feature is
// never held hostage by the limiter's own infrastructure.
type Limiter struct {
	counter Counter
	log     *logrus.Entry
	clock   func() time.Time
}

func NewLimiter(counter Counter, log *logrus.Entry) *Limiter {
	return &Limiter{counter: counter, log: log, clock: time.Now}
}

// Check counts this request against the caller's window. A denial is recorded
// as a rate-limit-violation event. A non-nil error means the check itself
// could not run; the caller decides (and our callers allow).
func (l *Limiter) Check(ctx context.Context, userID, endpoint string, max int64, window time.Duration) (Result, error) {
	count, remaining, err := l.counter.Incr(ctx, userID+":"+endpoint, window)
	if err != nil {
		l.log.WithFields(logrus.Fields{
			"user_id":  userID,
			"endpoint": endpoint,
		}).WithError(err).Warn("rate limit backend unreachable, failing open")
		return Result{}, err
	}

	resetAt := l.clock().Add(remaining)
	if count > max {
		l.log.WithFields(logrus.Fields{
			"user_id":  userID,
			"endpoint": endpoint,
			"count":    count,
			"max":      max,
			"reset_at": resetAt,
		}).Warn("rate limit violation")
		return Result{Allowed: false, ResetAt: resetAt}, nil
	}
	return Result{Allowed: true, ResetAt: resetAt}, nil
}
