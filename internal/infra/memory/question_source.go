package memory

import (
	"context"
	"fmt"

	"challenge-service/internal/domain"
)

// StaticQuestionSource serves topic questions from an in-memory map (useful
// for tests/demos).
type StaticQuestionSource struct {
	questions map[string][]domain.QuizQuestion
}

func NewStaticQuestionSource(questions map[string][]domain.QuizQuestion) *StaticQuestionSource {
	return &StaticQuestionSource{questions: questions}
}

func (s *StaticQuestionSource) TopicQuestions(_ context.Context, topicID string) ([]domain.QuizQuestion, error) {
	return s.questions[topicID], nil
}

// DisabledGenerator stands in when no generation service is configured. Any
// attempt to top up a short pool fails, which keeps the no-placeholder
// guarantee intact.
type DisabledGenerator struct{}

func (DisabledGenerator) Generate(context.Context, string, domain.Difficulty, int) ([]domain.QuizQuestion, error) {
	return nil, fmt.Errorf("question generation not configured")
}
