package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"challenge-service/internal/domain"
)

const systemPrompt = `You are a quiz question generator for a science learning app. Respond with ONLY a valid JSON array (no markdown, no code fences, no explanations) in this format:

[
  {
    "text": "Question text?",
    "options": ["Option A", "Option B", "Option C", "Option D"],
    "correctIndex": 0,
    "explanation": "One or two sentences explaining the correct answer."
  }
]

Rules:
- Every question must have exactly 4 options and exactly one correct answer
- correctIndex is the 0-based position of the correct option
- Questions must be factually accurate
- Return ONLY the JSON array, nothing else`

// Client requests synthetic questions from an external chat-completion
// service. Calls carry the caller's deadline and retry transient failures
// with exponential backoff.
type Client struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	model      string
}

func NewClient(apiURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		apiKey:     apiKey,
		model:      model,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate requests count questions about topicName with difficulty-matched
// phrasing. Malformed entries in the reply are dropped; the assembler decides
// whether what remains is enough.
func (c *Client) Generate(ctx context.Context, topicName string, difficulty domain.Difficulty, count int) ([]domain.QuizQuestion, error) {
	prompt := fmt.Sprintf("Generate %d multiple-choice questions about %s, focusing on %s.",
		count, topicName, difficultyPhrase(difficulty))

	var questions []domain.QuizQuestion
	operation := func() error {
		content, err := c.complete(ctx, prompt)
		if err != nil {
			return err
		}
		parsed, err := parseQuestions(content)
		if err != nil {
			return err
		}
		questions = parsed
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	return questions, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation service returned %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("generation service error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("generation response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func parseQuestions(content string) ([]domain.QuizQuestion, error) {
	content = stripFences(content)

	var raw []domain.QuizQuestion
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse generated questions: %w", err)
	}

	questions := raw[:0]
	for _, q := range raw {
		if q.Text == "" || len(q.Options) != 4 {
			continue
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			continue
		}
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no usable questions in generation response")
	}
	return questions, nil
}

// stripFences tolerates models that wrap JSON in markdown fences despite the
// prompt.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}

func difficultyPhrase(difficulty domain.Difficulty) string {
	switch difficulty {
	case domain.DifficultyAdvanced:
		return "complex theories and problem solving"
	case domain.DifficultyIntermediate:
		return "applied concepts and reasoning"
	default:
		return "basic fundamentals"
	}
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
