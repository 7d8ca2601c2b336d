package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"challenge-service/internal/domain"
)

// QuestionSource supplies existing questions tied to a topic's content.
type QuestionSource interface {
	TopicQuestions(ctx context.Context, topicID string) ([]domain.QuizQuestion, error)
}

// QuestionGenerator produces synthetic questions when the existing pool is
// short. Implementations call an external generation service.
type QuestionGenerator interface {
	Generate(ctx context.Context, topicName string, difficulty domain.Difficulty, count int) ([]domain.QuizQuestion, error)
}

// PoolAssembler builds the exact-size question set for a new session: the
// topic's existing pool, topped up by the generation service when short, then
// shuffled and truncated. A short pool with the generator down is a loud
// failure; the user must never receive placeholder quiz content.
type PoolAssembler struct {
	source     QuestionSource
	generator  QuestionGenerator
	genTimeout time.Duration
	log        *logrus.Entry

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPoolAssembler(source QuestionSource, generator QuestionGenerator, genTimeout time.Duration, log *logrus.Entry) *PoolAssembler {
	return &PoolAssembler{
		source:     source,
		generator:  generator,
		genTimeout: genTimeout,
		log:        log,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Assemble returns exactly difficulty.QuestionCount() questions in uniform
// random order. The returned slice is a private copy the session owns.
func (a *PoolAssembler) Assemble(ctx context.Context, topicID, topicName string, difficulty domain.Difficulty) ([]domain.QuizQuestion, error) {
	required := difficulty.QuestionCount()

	pool, err := a.source.TopicQuestions(ctx, topicID)
	if err != nil {
		// A broken source is recoverable if generation can cover the set.
		a.log.WithField("topic_id", topicID).WithError(err).Warn("question source unavailable")
		pool = nil
	}
	pool = clonePool(pool)

	if len(pool) < required {
		genCtx, cancel := context.WithTimeout(ctx, a.genTimeout)
		defer cancel()

		generated, err := a.generator.Generate(genCtx, topicName, difficulty, required-len(pool))
		if err != nil {
			return nil, fmt.Errorf("%w: pool has %d of %d questions: %v",
				domain.ErrPoolUnavailable, len(pool), required, err)
		}
		pool = append(pool, generated...)
	}
	if len(pool) < required {
		return nil, fmt.Errorf("%w: pool has %d of %d questions",
			domain.ErrPoolUnavailable, len(pool), required)
	}

	a.shuffle(pool)
	return pool[:required], nil
}

// shuffle applies an unbiased Fisher-Yates permutation.
func (a *PoolAssembler) shuffle(pool []domain.QuizQuestion) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(pool) - 1; i > 0; i-- {
		j := a.rnd.Intn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}
}

// clonePool deep-copies questions so a session never shares option slices
// with source content.
func clonePool(pool []domain.QuizQuestion) []domain.QuizQuestion {
	out := make([]domain.QuizQuestion, len(pool))
	for i, q := range pool {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}
