package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"challenge-service/internal/domain"
)

// QuestionLoader loads a topic's question pool (JSONB) from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) TopicQuestions(ctx context.Context, topicID string) ([]domain.QuizQuestion, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM topic_questions WHERE topic_id=$1`, topicID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		// A topic with no stored pool is not an error; generation covers it.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load topic questions: %w", err)
	}
	var questions []domain.QuizQuestion
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal topic questions: %w", err)
	}
	return questions, nil
}
