package app_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"challenge-service/internal/app"
	"challenge-service/internal/domain"
	"challenge-service/internal/infra/memory"
)

func TestAssembleExactCountFromExistingPool(t *testing.T) {
	source := memory.NewStaticQuestionSource(map[string][]domain.QuizQuestion{
		"topic-1": makeQuestions(40),
	})
	assembler := app.NewPoolAssembler(source, memory.DisabledGenerator{}, time.Second, testLog())

	set, err := assembler.Assemble(context.Background(), "topic-1", "Biology", domain.DifficultyIntermediate)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(set) != 30 {
		t.Fatalf("intermediate set has %d questions, want 30", len(set))
	}

	// Every assembled question comes from the candidate pool, and the shuffle
	// introduces no duplicates.
	seen := map[string]int{}
	for _, q := range set {
		seen[q.Text]++
	}
	for text, n := range seen {
		if n != 1 {
			t.Fatalf("question %q appears %d times", text, n)
		}
	}
}

func TestAssembleShuffleIsNotANoop(t *testing.T) {
	source := memory.NewStaticQuestionSource(map[string][]domain.QuizQuestion{
		"topic-1": makeQuestions(15),
	})
	assembler := app.NewPoolAssembler(source, memory.DisabledGenerator{}, time.Second, testLog())

	original := makeQuestions(15)
	for attempt := 0; attempt < 20; attempt++ {
		set, err := assembler.Assemble(context.Background(), "topic-1", "Biology", domain.DifficultyBeginner)
		if err != nil {
			t.Fatalf("assemble: %v", err)
		}
		for i := range set {
			if set[i].Text != original[i].Text {
				return // order differs from source order
			}
		}
	}
	t.Fatalf("20 consecutive assemblies preserved source order; shuffle looks like a no-op")
}

func TestAssembleTopsUpFromGenerator(t *testing.T) {
	source := memory.NewStaticQuestionSource(map[string][]domain.QuizQuestion{
		"topic-1": makeQuestions(5),
	})
	gen := &countingGenerator{}
	assembler := app.NewPoolAssembler(source, gen, time.Second, testLog())

	set, err := assembler.Assemble(context.Background(), "topic-1", "Biology", domain.DifficultyBeginner)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(set) != 15 {
		t.Fatalf("set has %d questions, want 15", len(set))
	}
	if gen.lastCount != 10 {
		t.Fatalf("generator asked for %d questions, want the 10 missing", gen.lastCount)
	}
}

func TestAssembleFailsLoudlyWhenShort(t *testing.T) {
	source := memory.NewStaticQuestionSource(map[string][]domain.QuizQuestion{
		"topic-1": makeQuestions(5),
	})
	assembler := app.NewPoolAssembler(source, memory.DisabledGenerator{}, time.Second, testLog())

	_, err := assembler.Assemble(context.Background(), "topic-1", "Biology", domain.DifficultyBeginner)
	if !errors.Is(err, domain.ErrPoolUnavailable) {
		t.Fatalf("expected pool-unavailable error, got %v", err)
	}
}

func TestAssembleReturnsPrivateCopies(t *testing.T) {
	pool := makeQuestions(15)
	source := memory.NewStaticQuestionSource(map[string][]domain.QuizQuestion{"topic-1": pool})
	assembler := app.NewPoolAssembler(source, memory.DisabledGenerator{}, time.Second, testLog())

	set, err := assembler.Assemble(context.Background(), "topic-1", "Biology", domain.DifficultyBeginner)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	set[0].Options[0] = "tampered"
	for _, q := range pool {
		if q.Options[0] == "tampered" {
			t.Fatalf("assembled set shares option storage with the source pool")
		}
	}
}

type countingGenerator struct {
	lastCount int
}

func (g *countingGenerator) Generate(_ context.Context, _ string, _ domain.Difficulty, count int) ([]domain.QuizQuestion, error) {
	g.lastCount = count
	questions := make([]domain.QuizQuestion, count)
	for i := range questions {
		questions[i] = domain.QuizQuestion{
			Text:         "Generated " + strconv.Itoa(i),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 0,
			Explanation:  "generated",
		}
	}
	return questions, nil
}
