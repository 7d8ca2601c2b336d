package app

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"challenge-service/internal/domain"
)

// RewardIssuer applies a terminated session's XP and currency to the caller's
// profile exactly once. Idempotency rests on the ledger's conditional flag
// flip, which happens in the same atomic operation as the profile increments;
// the check here is only a fast path.
type RewardIssuer struct {
	ledger RewardLedger
	fraud  FraudChecker
	log    *logrus.Entry
}

func NewRewardIssuer(ledger RewardLedger, fraud FraudChecker, log *logrus.Entry) *RewardIssuer {
	return &RewardIssuer{ledger: ledger, fraud: fraud, log: log}
}

// Issue settles the session. Returns false with a nil error when rewards were
// already awarded; retried or duplicated termination calls are safe.
func (i *RewardIssuer) Issue(ctx context.Context, session *domain.ChallengeSession) (bool, error) {
	if session.RewardsAwarded {
		return false, nil
	}

	// Penalty status can change mid-session, so it is looked up fresh at
	// issuance time. The fraud check failing means no penalty, not no reward.
	penalty := 1.0
	decision, err := i.fraud.CheckChallengeLimits(ctx, session.UserID)
	if err == nil && decision.Flagged {
		penalty = decision.PenaltyMultiplier
	}

	xp := int64(math.Round(float64(session.XPEarned) * penalty))

	// Currency only on full completion, scaled by tier and premium status.
	var coins int64
	if session.Status == domain.StatusCompleted {
		premium, err := i.ledger.PremiumMultiplier(ctx, session.UserID)
		if err != nil || premium <= 0 {
			premium = 1.0
		}
		coins = int64(math.Round(float64(session.Difficulty.CoinReward()) * premium))
	}

	applied, err := i.ledger.SettleRewards(ctx, session.ID, session.UserID, xp, coins)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	session.RewardsAwarded = true

	// Completion metrics feed future abuse heuristics; emitting them must
	// never fail or delay the settlement.
	go i.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"user_id":    session.UserID,
		"status":     session.Status,
		"difficulty": session.Difficulty,
		"xp":         xp,
		"coins":      coins,
		"penalty":    penalty,
		"percent":    session.CompletionPercent,
	}).Info("challenge rewards settled")

	return true, nil
}
