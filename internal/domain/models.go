package domain

import (
	"math"
	"time"

	"github.com/uptrace/bun"
)

// SessionStatus is the lifecycle state of a challenge session. Both terminal
// states are absorbing; no transition ever leaves them.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// StartingHearts is the number of mistakes allowed before a session fails.
const StartingHearts = 3

// QuizQuestion is a four-option multiple-choice question. Once embedded into a
// session it is the session's private copy; edits to source content never
// reach an in-progress session.
type QuizQuestion struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
}

// AnswerRecord is one submitted answer. The per-session list is append-only.
type AnswerRecord struct {
	QuestionIndex int       `json:"questionIndex"`
	ChosenIndex   int       `json:"chosenIndex"`
	Correct       bool      `json:"correct"`
	AnsweredAt    time.Time `json:"answeredAt"`
}

// ChallengeSession is one attempt at a challenge, from start to a terminal
// outcome. Mutable only while Status is active, except for the one-time
// RewardsAwarded flip at settlement. Version backs optimistic concurrency:
// every update is conditional on the version it read.
type ChallengeSession struct {
	bun.BaseModel `bun:"table:challenge_sessions"`

	ID     string `bun:"id,pk" json:"id"`
	UserID string `bun:"user_id,notnull" json:"userId"`

	TopicID        string     `bun:"topic_id" json:"topicId"`
	TopicName      string     `bun:"topic_name,notnull" json:"topicName"`
	Difficulty     Difficulty `bun:"difficulty,notnull" json:"difficulty"`
	TotalQuestions int        `bun:"total_questions,notnull" json:"totalQuestions"`
	BaseXPReward   int        `bun:"base_xp_reward,notnull" json:"baseXpReward"`

	Questions []QuizQuestion `bun:"questions,type:jsonb" json:"questions,omitempty"`

	CurrentQuestion int            `bun:"current_question,notnull" json:"currentQuestion"`
	HeartsRemaining int            `bun:"hearts_remaining,notnull" json:"heartsRemaining"`
	CorrectAnswers  int            `bun:"correct_answers,notnull" json:"correctAnswers"`
	Answers         []AnswerRecord `bun:"answers,type:jsonb" json:"answers,omitempty"`
	Status          SessionStatus  `bun:"status,notnull" json:"status"`

	XPEarned          int  `bun:"xp_earned,notnull" json:"xpEarned"`
	CompletionPercent int  `bun:"completion_percent,notnull" json:"completionPercentage"`
	RewardsAwarded    bool `bun:"rewards_awarded,notnull" json:"rewardsAwarded"`

	Version     int64      `bun:"version,notnull" json:"-"`
	StartedAt   time.Time  `bun:"started_at,notnull" json:"startedAt"`
	CompletedAt *time.Time `bun:"completed_at" json:"completedAt,omitempty"`
}

// Terminal reports whether the session has reached an absorbing state.
func (s *ChallengeSession) Terminal() bool {
	return s.Status != StatusActive
}

// Question returns the 1-based question at index, or false when out of range.
func (s *ChallengeSession) Question(index int) (QuizQuestion, bool) {
	if index < 1 || index > len(s.Questions) {
		return QuizQuestion{}, false
	}
	return s.Questions[index-1], true
}

// SettleXP computes the terminal XP payout: the full base reward on
// completion, proportional partial credit on failure.
func (s *ChallengeSession) SettleXP() int {
	if s.Status == StatusCompleted {
		return s.BaseXPReward
	}
	if s.TotalQuestions == 0 {
		return 0
	}
	return int(math.Round(float64(s.CorrectAnswers) / float64(s.TotalQuestions) * float64(s.BaseXPReward)))
}

// SettlePercent computes the frozen completion percentage.
func (s *ChallengeSession) SettlePercent() int {
	if s.TotalQuestions == 0 {
		return 0
	}
	return int(math.Round(float64(s.CorrectAnswers) / float64(s.TotalQuestions) * 100))
}

// Profile is a caller's persistent XP/currency record. It is shared with
// other features, so mutations must be atomic increments at the store layer.
type Profile struct {
	bun.BaseModel `bun:"table:profiles"`

	UserID            string  `bun:"user_id,pk" json:"userId"`
	XP                int64   `bun:"xp,notnull" json:"xp"`
	Coins             int64   `bun:"coins,notnull" json:"coins"`
	PremiumMultiplier float64 `bun:"premium_multiplier,notnull" json:"premiumMultiplier"`
}

// AbuseSignal is a write-once audit row describing a flagged pattern. The
// engine only ever reads these back in aggregate.
type AbuseSignal struct {
	bun.BaseModel `bun:"table:abuse_signals"`

	ID            string            `bun:"id,pk" json:"id"`
	UserID        string            `bun:"user_id,notnull" json:"userId"`
	DetectionType string            `bun:"detection_type,notnull" json:"detectionType"`
	Severity      string            `bun:"severity,notnull" json:"severity"`
	Description   string            `bun:"description" json:"description"`
	Metadata      map[string]string `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	Status        string            `bun:"status,notnull" json:"status"`
	CreatedAt     time.Time         `bun:"created_at,notnull" json:"createdAt"`
}

// ChallengeStats is the aggregate slice of a caller's recent history that the
// abuse heuristics run against.
type ChallengeStats struct {
	Completed       int
	PerfectScores   int
	LastCompletedAt time.Time
}
