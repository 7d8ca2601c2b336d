package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"challenge-service/internal/abuse"
	"challenge-service/internal/domain"
	"challenge-service/internal/ratelimit"
)

// SessionRepository abstracts how challenge sessions are stored (in-memory,
// Postgres, etc). Update is a version-checked conditional write: it succeeds
// only when the stored version matches the one the session was read at, and
// bumps the version on success. A mismatch returns domain.ErrSessionConflict.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.ChallengeSession) error
	Get(ctx context.Context, id string) (*domain.ChallengeSession, error)
	Update(ctx context.Context, session *domain.ChallengeSession) error
}

// RewardLedger applies settled rewards to the caller's profile. SettleRewards
// flips the session's rewards-awarded flag and applies the profile increments
// as one atomic operation; it reports false when the flag was already set.
type RewardLedger interface {
	SettleRewards(ctx context.Context, sessionID, userID string, xp, coins int64) (applied bool, err error)
	PremiumMultiplier(ctx context.Context, userID string) (float64, error)
}

// RateChecker gates requests against per-endpoint ceilings. An error means
// the check itself could not run and the caller fails open.
type RateChecker interface {
	Check(ctx context.Context, userID, endpoint string, max int64, window time.Duration) (ratelimit.Result, error)
}

// FraudChecker evaluates farming heuristics. Same fail-open contract.
type FraudChecker interface {
	CheckChallengeLimits(ctx context.Context, userID string) (abuse.Decision, error)
	InspectCompletion(ctx context.Context, session *domain.ChallengeSession)
}

// QuestionView is a question as shown to the caller: the answer key and
// explanation are withheld until the question has been answered.
type QuestionView struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// StartResult is the response payload for a freshly created session.
type StartResult struct {
	SessionID       string            `json:"id"`
	CurrentQuestion int               `json:"currentQuestion"`
	TotalQuestions  int               `json:"totalQuestions"`
	HeartsRemaining int               `json:"heartsRemaining"`
	Question        QuestionView      `json:"question"`
	XPReward        int               `json:"xpReward"`
	Difficulty      domain.Difficulty `json:"difficulty"`
}

// SubmitResult is the response payload for an answer submission. NextQuestion
// is present only while the session stays active; the settlement fields are
// present only at termination.
type SubmitResult struct {
	IsCorrect       bool                 `json:"isCorrect"`
	Explanation     string               `json:"explanation"`
	HeartsRemaining int                  `json:"heartsRemaining"`
	CorrectAnswers  int                  `json:"correctAnswers"`
	Status          domain.SessionStatus `json:"status"`
	CurrentQuestion int                  `json:"currentQuestion"`
	NextQuestion    *QuestionView        `json:"nextQuestion,omitempty"`

	SessionEnded      bool `json:"sessionEnded,omitempty"`
	XPEarned          int  `json:"xpEarned,omitempty"`
	CompletionPercent int  `json:"completionPercentage,omitempty"`
}

// SessionView is the full persisted record minus the embedded answer keys.
type SessionView struct {
	ID                string                `json:"id"`
	TopicID           string                `json:"topicId,omitempty"`
	TopicName         string                `json:"topicName"`
	Difficulty        domain.Difficulty     `json:"difficulty"`
	TotalQuestions    int                   `json:"totalQuestions"`
	BaseXPReward      int                   `json:"baseXpReward"`
	CurrentQuestion   int                   `json:"currentQuestion"`
	HeartsRemaining   int                   `json:"heartsRemaining"`
	CorrectAnswers    int                   `json:"correctAnswers"`
	Answers           []domain.AnswerRecord `json:"answers"`
	Status            domain.SessionStatus  `json:"status"`
	XPEarned          int                   `json:"xpEarned"`
	CompletionPercent int                   `json:"completionPercentage"`
	RewardsAwarded    bool                  `json:"rewardsAwarded"`
	StartedAt         time.Time             `json:"startedAt"`
	CompletedAt       *time.Time            `json:"completedAt,omitempty"`
}

// ChallengeService owns the challenge session lifecycle: gating, question
// assembly, answer evaluation, terminal-state determination and reward
// settlement. Handlers are stateless; all session state lives in the store.
type ChallengeService struct {
	sessions  SessionRepository
	assembler *PoolAssembler
	limiter   RateChecker
	fraud     FraudChecker
	rewards   *RewardIssuer
	progress  *ProgressBroker
	log       *logrus.Entry
	clock     func() time.Time
}

func NewChallengeService(
	sessions SessionRepository,
	assembler *PoolAssembler,
	limiter RateChecker,
	fraud FraudChecker,
	rewards *RewardIssuer,
	log *logrus.Entry,
) *ChallengeService {
	return &ChallengeService{
		sessions:  sessions,
		assembler: assembler,
		limiter:   limiter,
		fraud:     fraud,
		rewards:   rewards,
		progress:  NewProgressBroker(),
		log:       log,
		clock:     time.Now,
	}
}

// Start creates a new active session after rate-limit and abuse gating. The
// first question is returned with the answer key withheld.
func (s *ChallengeService) Start(ctx context.Context, userID, topicID, topicName string, difficulty domain.Difficulty) (*StartResult, error) {
	res, err := s.limiter.Check(ctx, userID, ratelimit.EndpointStartSession, ratelimit.StartSessionLimit, ratelimit.StartSessionWindow)
	if err == nil && !res.Allowed {
		return nil, &RateLimitedError{ResetAt: res.ResetAt}
	}

	decision, err := s.fraud.CheckChallengeLimits(ctx, userID)
	if err == nil && !decision.Allowed {
		return nil, &ChallengeLimitError{Reason: decision.Reason, RetryAfter: decision.RetryAfter}
	}

	questions, err := s.assembler.Assemble(ctx, topicID, topicName, difficulty)
	if err != nil {
		return nil, err
	}

	session := &domain.ChallengeSession{
		ID:              uuid.NewString(),
		UserID:          userID,
		TopicID:         topicID,
		TopicName:       topicName,
		Difficulty:      difficulty,
		TotalQuestions:  len(questions),
		BaseXPReward:    difficulty.BaseXPReward(),
		Questions:       questions,
		CurrentQuestion: 1,
		HeartsRemaining: domain.StartingHearts,
		Status:          domain.StatusActive,
		StartedAt:       s.clock(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	sessionsStarted.WithLabelValues(string(difficulty)).Inc()

	s.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"user_id":    userID,
		"topic":      topicName,
		"difficulty": difficulty,
	}).Info("challenge session started")

	first := questions[0]
	return &StartResult{
		SessionID:       session.ID,
		CurrentQuestion: 1,
		TotalQuestions:  session.TotalQuestions,
		HeartsRemaining: session.HeartsRemaining,
		Question:        QuestionView{Text: first.Text, Options: first.Options},
		XPReward:        session.BaseXPReward,
		Difficulty:      difficulty,
	}, nil
}

// SubmitAnswer evaluates one answer against the server-side current question
// and advances the state machine. The whole mutation is a single
// version-checked write: of two concurrent submissions only one lands, and
// the loser gets a definitive conflict error instead of corrupting counters.
func (s *ChallengeService) SubmitAnswer(ctx context.Context, sessionID, userID string, answerIndex int) (*SubmitResult, error) {
	res, err := s.limiter.Check(ctx, userID, ratelimit.EndpointSubmitAnswer, ratelimit.SubmitAnswerLimit, ratelimit.SubmitAnswerWindow)
	if err == nil && !res.Allowed {
		return nil, &RateLimitedError{ResetAt: res.ResetAt}
	}

	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session.Terminal() {
		return nil, domain.ErrSessionNotActive
	}

	question, ok := session.Question(session.CurrentQuestion)
	if !ok {
		return nil, domain.ErrSessionNotActive
	}
	if answerIndex < 0 || answerIndex >= len(question.Options) {
		return nil, domain.ErrInvalidAnswer
	}

	now := s.clock()
	correct := answerIndex == question.CorrectIndex
	if correct {
		session.CorrectAnswers++
	} else if session.HeartsRemaining > 0 {
		session.HeartsRemaining--
	}
	session.Answers = append(session.Answers, domain.AnswerRecord{
		QuestionIndex: session.CurrentQuestion,
		ChosenIndex:   answerIndex,
		Correct:       correct,
		AnsweredAt:    now,
	})

	// Termination order matters: hearts first, then last question, else advance.
	switch {
	case session.HeartsRemaining == 0:
		s.terminate(session, domain.StatusFailed, now)
	case session.CurrentQuestion >= session.TotalQuestions:
		s.terminate(session, domain.StatusCompleted, now)
	default:
		session.CurrentQuestion++
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		if errors.Is(err, domain.ErrSessionConflict) {
			return nil, domain.ErrSessionConflict
		}
		return nil, err
	}

	if session.Terminal() {
		sessionsSettled.WithLabelValues(string(session.Status)).Inc()
		// Settle before inspecting: a speed flag scales later settlements,
		// not the run that tripped it.
		_, issueErr := s.rewards.Issue(ctx, session)
		s.fraud.InspectCompletion(ctx, session)
		if issueErr != nil {
			// The terminal state is persisted; the unset rewards flag marks
			// this session for reconciliation.
			s.publishProgress(session)
			return nil, issueErr
		}
	}
	s.publishProgress(session)

	result := &SubmitResult{
		IsCorrect:       correct,
		HeartsRemaining: session.HeartsRemaining,
		CorrectAnswers:  session.CorrectAnswers,
		Status:          session.Status,
		CurrentQuestion: session.CurrentQuestion,
	}
	if session.Terminal() {
		result.Explanation = question.Explanation
		result.SessionEnded = true
		result.XPEarned = session.XPEarned
		result.CompletionPercent = session.CompletionPercent
		return result, nil
	}

	result.Explanation = question.Explanation
	next, _ := session.Question(session.CurrentQuestion)
	result.NextQuestion = &QuestionView{Text: next.Text, Options: next.Options}
	return result, nil
}

// Get returns the owning caller's session record, without embedded answer keys.
func (s *ChallengeService) Get(ctx context.Context, sessionID, userID string) (*SessionView, error) {
	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	answers := session.Answers
	if answers == nil {
		answers = []domain.AnswerRecord{}
	}
	return &SessionView{
		ID:                session.ID,
		TopicID:           session.TopicID,
		TopicName:         session.TopicName,
		Difficulty:        session.Difficulty,
		TotalQuestions:    session.TotalQuestions,
		BaseXPReward:      session.BaseXPReward,
		CurrentQuestion:   session.CurrentQuestion,
		HeartsRemaining:   session.HeartsRemaining,
		CorrectAnswers:    session.CorrectAnswers,
		Answers:           answers,
		Status:            session.Status,
		XPEarned:          session.XPEarned,
		CompletionPercent: session.CompletionPercent,
		RewardsAwarded:    session.RewardsAwarded,
		StartedAt:         session.StartedAt,
		CompletedAt:       session.CompletedAt,
	}, nil
}

// Watch subscribes to progress updates for the owning caller's session. The
// returned cancel must be called to avoid leaks.
func (s *ChallengeService) Watch(ctx context.Context, sessionID, userID string) (<-chan ProgressUpdate, func(), error) {
	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.progress.Subscribe(session.ID)
	return ch, cancel, nil
}

func (s *ChallengeService) ownedSession(ctx context.Context, sessionID, userID string) (*domain.ChallengeSession, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, domain.ErrNotSessionOwner
	}
	return session, nil
}

func (s *ChallengeService) terminate(session *domain.ChallengeSession, status domain.SessionStatus, now time.Time) {
	session.Status = status
	session.CompletedAt = &now
	session.XPEarned = session.SettleXP()
	session.CompletionPercent = session.SettlePercent()
}

func (s *ChallengeService) publishProgress(session *domain.ChallengeSession) {
	s.progress.Publish(ProgressUpdate{
		SessionID:       session.ID,
		CurrentQuestion: session.CurrentQuestion,
		TotalQuestions:  session.TotalQuestions,
		HeartsRemaining: session.HeartsRemaining,
		CorrectAnswers:  session.CorrectAnswers,
		Status:          session.Status,
		XPEarned:        session.XPEarned,
	})
}
