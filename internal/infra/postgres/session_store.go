package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"challenge-service/internal/domain"
)

// SessionStore persists challenge sessions, profiles and abuse signals in
// Postgres. Session updates are optimistic (conditional on the version the
// caller read) and reward settlement runs the flag flip and the profile
// increments in one transaction.
type SessionStore struct {
	db *bun.DB
}

func NewSessionStore(db *bun.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, session *domain.ChallengeSession) error {
	if _, err := s.db.NewInsert().Model(session).Exec(ctx); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*domain.ChallengeSession, error) {
	session := new(domain.ChallengeSession)
	err := s.db.NewSelect().Model(session).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return session, nil
}

// Update writes the mutable columns conditional on the version the session
// was read at. Zero rows affected means a concurrent writer won the race.
func (s *SessionStore) Update(ctx context.Context, session *domain.ChallengeSession) error {
	readVersion := session.Version
	session.Version++

	res, err := s.db.NewUpdate().Model(session).
		Column("current_question", "hearts_remaining", "correct_answers", "answers",
			"status", "xp_earned", "completion_percent", "completed_at", "version").
		WherePK().
		Where("version = ?", readVersion).
		Exec(ctx)
	if err != nil {
		session.Version = readVersion
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		session.Version = readVersion
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		session.Version = readVersion
		return domain.ErrSessionConflict
	}
	return nil
}

// SettleRewards flips rewards_awarded and applies the profile increments in
// the same transaction. The conditional flip makes retries no-ops, and the
// increments are expressed in SQL so concurrent writers from other features
// never lose updates.
func (s *SessionStore) SettleRewards(ctx context.Context, sessionID, userID string, xp, coins int64) (bool, error) {
	applied := false
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*domain.ChallengeSession)(nil)).
			Set("rewards_awarded = TRUE").
			Where("id = ? AND rewards_awarded = FALSE", sessionID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark rewarded: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		_, err = tx.NewInsert().
			Model(&domain.Profile{UserID: userID, XP: xp, Coins: coins, PremiumMultiplier: 1.0}).
			On("CONFLICT (user_id) DO UPDATE").
			Set("xp = profiles.xp + EXCLUDED.xp").
			Set("coins = profiles.coins + EXCLUDED.coins").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("apply rewards: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *SessionStore) PremiumMultiplier(ctx context.Context, userID string) (float64, error) {
	var multiplier float64
	err := s.db.NewSelect().Model((*domain.Profile)(nil)).
		Column("premium_multiplier").
		Where("user_id = ?", userID).
		Scan(ctx, &multiplier)
	if errors.Is(err, sql.ErrNoRows) {
		return 1.0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select premium multiplier: %w", err)
	}
	return multiplier, nil
}

func (s *SessionStore) ChallengeStats(ctx context.Context, userID string, since time.Time) (domain.ChallengeStats, error) {
	var (
		completed int
		perfect   int
		last      sql.NullTime
	)
	err := s.db.NewRaw(`
		SELECT count(*),
		       count(*) FILTER (WHERE correct_answers = total_questions),
		       max(completed_at)
		FROM challenge_sessions
		WHERE user_id = ? AND status = 'completed' AND completed_at IS NOT NULL AND completed_at >= ?`,
		userID, since,
	).Scan(ctx, &completed, &perfect, &last)
	if err != nil {
		return domain.ChallengeStats{}, fmt.Errorf("challenge stats: %w", err)
	}
	stats := domain.ChallengeStats{Completed: completed, PerfectScores: perfect}
	if last.Valid {
		stats.LastCompletedAt = last.Time
	}
	return stats, nil
}

func (s *SessionStore) OpenSignals(ctx context.Context, userID, detectionType string, since time.Time) (int, error) {
	count, err := s.db.NewSelect().Model((*domain.AbuseSignal)(nil)).
		Where("user_id = ? AND detection_type = ? AND status = 'open' AND created_at >= ?",
			userID, detectionType, since).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count abuse signals: %w", err)
	}
	return count, nil
}

func (s *SessionStore) RecordSignal(ctx context.Context, signal *domain.AbuseSignal) error {
	if _, err := s.db.NewInsert().Model(signal).Exec(ctx); err != nil {
		return fmt.Errorf("insert abuse signal: %w", err)
	}
	return nil
}
