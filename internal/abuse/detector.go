package abuse

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"challenge-service/internal/domain"
)

// HistoryStore aggregates a caller's recent challenge history.
type HistoryStore interface {
	ChallengeStats(ctx context.Context, userID string, since time.Time) (domain.ChallengeStats, error)
}

// SignalStore persists flagged patterns for later human review, and reads
// open ones back so past flags keep scaling future settlements.
type SignalStore interface {
	RecordSignal(ctx context.Context, signal *domain.AbuseSignal) error
	OpenSignals(ctx context.Context, userID, detectionType string, since time.Time) (int, error)
}

// Farming thresholds.
const (
	maxChallengesPerDay  = 10
	ceilingCooldown      = time.Hour
	maxPerfectPerDay     = 5
	flaggedPenaltyFactor = 0.5
)

// Decision is the gating outcome for one start request. A denial
// (Allowed=false) is separate from the penalty path: a flagged caller may
// still proceed with rewards scaled down by PenaltyMultiplier, which is
// always > 0 so progress is reduced, never silently discarded.
type Decision struct {
	Allowed           bool
	Reason            string
	RetryAfter        time.Duration
	Flagged           bool
	PenaltyMultiplier float64
}

func allow() Decision {
	return Decision{Allowed: true, PenaltyMultiplier: 1.0}
}

// Detector evaluates farming/fraud heuristics against a caller's rolling-day
// history. The heuristic query failing is a distinct outcome from a denial:
// CheckChallengeLimits returns the error and callers fail open.
type Detector struct {
	history HistoryStore
	signals SignalStore
	log     *logrus.Entry
	clock   func() time.Time
}

func NewDetector(history HistoryStore, signals SignalStore, log *logrus.Entry) *Detector {
	return &Detector{history: history, signals: signals, log: log, clock: time.Now}
}

// CheckChallengeLimits gates a session start and computes the caller's
// current penalty multiplier.
func (d *Detector) CheckChallengeLimits(ctx context.Context, userID string) (Decision, error) {
	now := d.clock()
	since := now.Add(-24 * time.Hour)
	stats, err := d.history.ChallengeStats(ctx, userID, since)
	if err != nil {
		d.log.WithField("user_id", userID).WithError(err).
			Warn("abuse history query failed, failing open")
		return Decision{}, err
	}

	if stats.Completed >= maxChallengesPerDay {
		cooldownEnds := stats.LastCompletedAt.Add(ceilingCooldown)
		if now.Before(cooldownEnds) {
			d.flagOnce(ctx, userID, since, "challenge_farming", "medium",
				"daily challenge ceiling reached",
				map[string]string{"completed_today": strconv.Itoa(stats.Completed)})
			return Decision{
				Allowed:           false,
				Reason:            "daily challenge limit reached, take a break",
				RetryAfter:        cooldownEnds.Sub(now),
				Flagged:           true,
				PenaltyMultiplier: flaggedPenaltyFactor,
			}, nil
		}
	}

	if stats.PerfectScores >= maxPerfectPerDay {
		d.flagOnce(ctx, userID, since, "perfect_score_streak", "high",
			"suspicious number of perfect scores in one day",
			map[string]string{"perfect_today": strconv.Itoa(stats.PerfectScores)})
		return Decision{
			Allowed:           true,
			Flagged:           true,
			PenaltyMultiplier: flaggedPenaltyFactor,
		}, nil
	}

	// A recorded speed flag keeps scaling settlements for the rest of its
	// rolling day even though it never blocks new sessions.
	if d.openSignals(ctx, userID, "impossible_speed", since) > 0 {
		return Decision{
			Allowed:           true,
			Flagged:           true,
			PenaltyMultiplier: flaggedPenaltyFactor,
		}, nil
	}

	return allow(), nil
}

// InspectCompletion runs the post-hoc speed heuristic on a just-terminated
// session: an advanced-tier perfect score finished implausibly fast is
// automation, not skill. The flag feeds later reward settlements via
// CheckChallengeLimits; the session that tripped it keeps its payout.
func (d *Detector) InspectCompletion(ctx context.Context, session *domain.ChallengeSession) {
	if session.Status != domain.StatusCompleted {
		return
	}
	if session.CorrectAnswers != session.TotalQuestions {
		return
	}
	floor := session.Difficulty.MinPerfectDuration()
	if floor == 0 || session.CompletedAt == nil {
		return
	}
	elapsed := session.CompletedAt.Sub(session.StartedAt)
	if elapsed >= floor {
		return
	}
	d.flag(ctx, session.UserID, "impossible_speed", "high",
		"perfect advanced score finished below the plausible duration floor",
		map[string]string{
			"session_id": session.ID,
			"elapsed":    elapsed.String(),
			"floor":      floor.String(),
		})
}

// flagOnce records a signal only when no open one of the same type exists in
// the window, so a client retrying into a denial does not spam the audit trail.
func (d *Detector) flagOnce(ctx context.Context, userID string, since time.Time, detectionType, severity, description string, metadata map[string]string) {
	if d.openSignals(ctx, userID, detectionType, since) > 0 {
		return
	}
	d.flag(ctx, userID, detectionType, severity, description, metadata)
}

// openSignals treats a failed lookup as zero; the audit trail is best-effort
// and must never block the gating decision.
func (d *Detector) openSignals(ctx context.Context, userID, detectionType string, since time.Time) int {
	n, err := d.signals.OpenSignals(ctx, userID, detectionType, since)
	if err != nil {
		d.log.WithField("user_id", userID).WithError(err).Warn("abuse signal lookup failed")
		return 0
	}
	return n
}

func (d *Detector) flag(ctx context.Context, userID, detectionType, severity, description string, metadata map[string]string) {
	signal := &domain.AbuseSignal{
		ID:            uuid.NewString(),
		UserID:        userID,
		DetectionType: detectionType,
		Severity:      severity,
		Description:   description,
		Metadata:      metadata,
		Status:        "open",
		CreatedAt:     d.clock(),
	}
	if err := d.signals.RecordSignal(ctx, signal); err != nil {
		// The audit trail is best-effort; the real-time decision stands.
		d.log.WithField("user_id", userID).WithError(err).Warn("failed to record abuse signal")
		return
	}
	d.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"detection_type": detectionType,
		"severity":       severity,
	}).Info("abuse pattern flagged")
}
