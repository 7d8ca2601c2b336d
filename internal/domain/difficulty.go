package domain

import (
	"fmt"
	"time"
)

// Difficulty is the closed set of challenge tiers. Question count, rewards and
// anti-cheat thresholds all derive from it.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// ParseDifficulty validates a client-supplied tier string.
func ParseDifficulty(raw string) (Difficulty, error) {
	switch Difficulty(raw) {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return Difficulty(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, raw)
}

// QuestionCount is the exact number of questions a session at this tier holds.
func (d Difficulty) QuestionCount() int {
	switch d {
	case DifficultyIntermediate:
		return 30
	case DifficultyAdvanced:
		return 45
	default:
		return 15
	}
}

// BaseXPReward is the full XP payout for completing a session at this tier.
func (d Difficulty) BaseXPReward() int {
	switch d {
	case DifficultyIntermediate:
		return 200
	case DifficultyAdvanced:
		return 500
	default:
		return 100
	}
}

// CoinReward is the currency payout for a completed session, before the
// premium multiplier.
func (d Difficulty) CoinReward() int {
	switch d {
	case DifficultyIntermediate:
		return 100
	case DifficultyAdvanced:
		return 250
	default:
		return 50
	}
}

// MinPerfectDuration is the floor below which a perfect-accuracy completion at
// this tier is treated as automation rather than skill. Zero means no floor.
func (d Difficulty) MinPerfectDuration() time.Duration {
	if d == DifficultyAdvanced {
		return 5 * time.Minute
	}
	return 0
}
