package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for the given id.
	ErrSessionNotFound = errors.New("challenge session not found")
	// ErrNotSessionOwner is returned when a caller touches a session they do not own.
	ErrNotSessionOwner = errors.New("challenge session not owned by caller")
	// ErrSessionNotActive is returned when an answer targets a terminal session.
	ErrSessionNotActive = errors.New("challenge session is not active")
	// ErrSessionConflict is returned when a concurrent update won the version race.
	ErrSessionConflict = errors.New("challenge session was modified concurrently")
	// ErrInvalidAnswer indicates an answer index outside the option range.
	ErrInvalidAnswer = errors.New("answer index out of range")
	// ErrInvalidDifficulty indicates a tier outside the closed enumeration.
	ErrInvalidDifficulty = errors.New("invalid difficulty")
	// ErrPoolUnavailable indicates the question pool is short and the
	// generation service could not top it up. Never papered over with
	// placeholder questions.
	ErrPoolUnavailable = errors.New("question pool unavailable")
	// ErrRateLimited is returned when a caller exceeds an endpoint ceiling.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrChallengeLimit is returned when abuse heuristics deny a new session.
	ErrChallengeLimit = errors.New("challenge limit reached")
)
