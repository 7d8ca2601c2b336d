package app

import (
	"fmt"
	"time"

	"challenge-service/internal/domain"
)

// RateLimitedError carries the window reset time alongside the denial.
type RateLimitedError struct {
	ResetAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitedError) Unwrap() error { return domain.ErrRateLimited }

// ChallengeLimitError is an abuse-heuristic denial with a user-presentable
// reason, distinct from a plain rate limit.
type ChallengeLimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *ChallengeLimitError) Error() string { return e.Reason }

func (e *ChallengeLimitError) Unwrap() error { return domain.ErrChallengeLimit }
