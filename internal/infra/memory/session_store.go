package memory

import (
	"context"
	"sync"
	"time"

	"challenge-service/internal/domain"
)

// SessionStore is an in-memory implementation of the session repository,
// reward ledger, abuse history and signal stores. It mirrors the atomicity
// guarantees of the Postgres store: version-checked session updates and a
// settle operation that flips the rewards flag and applies the profile
// increments under one lock.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.ChallengeSession
	profiles map[string]*domain.Profile
	signals  []*domain.AbuseSignal
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.ChallengeSession),
		profiles: make(map[string]*domain.Profile),
	}
}

func (s *SessionStore) Create(_ context.Context, session *domain.ChallengeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneSession(session)
	s.sessions[session.ID] = clone
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (*domain.ChallengeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

// Update applies a read session back only if nobody else won the version race.
func (s *SessionStore) Update(_ context.Context, session *domain.ChallengeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if stored.Version != session.Version {
		return domain.ErrSessionConflict
	}
	session.Version++
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

// SettleRewards flips rewards_awarded and applies the profile increments as
// one guarded step. Reports false when the flag was already set.
func (s *SessionStore) SettleRewards(_ context.Context, sessionID, userID string, xp, coins int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.RewardsAwarded {
		return false, nil
	}
	session.RewardsAwarded = true

	profile := s.profileLocked(userID)
	profile.XP += xp
	profile.Coins += coins
	return true, nil
}

func (s *SessionStore) PremiumMultiplier(_ context.Context, userID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profileLocked(userID).PremiumMultiplier, nil
}

// Profile returns a copy of the caller's profile for assertions and reads.
func (s *SessionStore) Profile(userID string) domain.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.profileLocked(userID)
}

// SetPremiumMultiplier seeds a premium tier for tests and demos.
func (s *SessionStore) SetPremiumMultiplier(userID string, multiplier float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileLocked(userID).PremiumMultiplier = multiplier
}

// ChallengeStats aggregates completed sessions since the cutoff, the shape
// the abuse heuristics consume. Failed runs never count toward the ceiling.
func (s *SessionStore) ChallengeStats(_ context.Context, userID string, since time.Time) (domain.ChallengeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats domain.ChallengeStats
	for _, session := range s.sessions {
		if session.UserID != userID || session.Status != domain.StatusCompleted || session.CompletedAt == nil {
			continue
		}
		if session.CompletedAt.Before(since) {
			continue
		}
		stats.Completed++
		if session.CorrectAnswers == session.TotalQuestions {
			stats.PerfectScores++
		}
		if session.CompletedAt.After(stats.LastCompletedAt) {
			stats.LastCompletedAt = *session.CompletedAt
		}
	}
	return stats, nil
}

func (s *SessionStore) RecordSignal(_ context.Context, signal *domain.AbuseSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signal)
	return nil
}

// OpenSignals counts a caller's open signals of one detection type since the
// cutoff.
func (s *SessionStore) OpenSignals(_ context.Context, userID, detectionType string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, signal := range s.signals {
		if signal.UserID != userID || signal.DetectionType != detectionType || signal.Status != "open" {
			continue
		}
		if signal.CreatedAt.Before(since) {
			continue
		}
		n++
	}
	return n, nil
}

// Signals returns recorded abuse signals for a caller, for assertions.
func (s *SessionStore) Signals(userID string) []*domain.AbuseSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AbuseSignal
	for _, signal := range s.signals {
		if signal.UserID == userID {
			out = append(out, signal)
		}
	}
	return out
}

func (s *SessionStore) profileLocked(userID string) *domain.Profile {
	profile, ok := s.profiles[userID]
	if !ok {
		profile = &domain.Profile{UserID: userID, PremiumMultiplier: 1.0}
		s.profiles[userID] = profile
	}
	return profile
}

func cloneSession(session *domain.ChallengeSession) *domain.ChallengeSession {
	clone := *session
	clone.Questions = append([]domain.QuizQuestion(nil), session.Questions...)
	clone.Answers = append([]domain.AnswerRecord(nil), session.Answers...)
	if session.CompletedAt != nil {
		completed := *session.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}
