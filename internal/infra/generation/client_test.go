package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"challenge-service/internal/domain"
)

func questionsJSON(n int) string {
	type q struct {
		Text         string   `json:"text"`
		Options      []string `json:"options"`
		CorrectIndex int      `json:"correctIndex"`
		Explanation  string   `json:"explanation"`
	}
	out := make([]q, n)
	for i := range out {
		out[i] = q{
			Text:         "What is photosynthesis?",
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i % 4,
			Explanation:  "Plants convert light into chemical energy.",
		}
	}
	raw, _ := json.Marshal(out)
	return string(raw)
}

func chatReply(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(raw)
}

func TestGenerateParsesChatCompletion(t *testing.T) {
	var gotAuth string
	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) == 2 {
			gotPrompt = req.Messages[1].Content
		}
		w.Write([]byte(chatReply(questionsJSON(10))))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "test-model", 5*time.Second)
	questions, err := client.Generate(context.Background(), "Biology", domain.DifficultyAdvanced, 10)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(questions) != 10 {
		t.Fatalf("got %d questions, want 10", len(questions))
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if !strings.Contains(gotPrompt, "10 multiple-choice questions") || !strings.Contains(gotPrompt, "Biology") {
		t.Fatalf("prompt missing request details: %q", gotPrompt)
	}
	if !strings.Contains(gotPrompt, "complex theories") {
		t.Fatalf("advanced tier should steer the prompt, got %q", gotPrompt)
	}
}

func TestGenerateToleratesMarkdownFences(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fenced := "```json\n" + questionsJSON(3) + "\n```"
		w.Write([]byte(chatReply(fenced)))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "m", 5*time.Second)
	questions, err := client.Generate(context.Background(), "Biology", domain.DifficultyBeginner, 3)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(questions))
	}
}

func TestGenerateDropsMalformedQuestions(t *testing.T) {
	content := `[
		{"text": "ok?", "options": ["a","b","c","d"], "correctIndex": 1, "explanation": "e"},
		{"text": "three options", "options": ["a","b","c"], "correctIndex": 0},
		{"text": "bad index", "options": ["a","b","c","d"], "correctIndex": 7},
		{"text": "", "options": ["a","b","c","d"], "correctIndex": 0}
	]`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(chatReply(content)))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "m", 5*time.Second)
	questions, err := client.Generate(context.Background(), "Biology", domain.DifficultyBeginner, 4)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(questions) != 1 || questions[0].Text != "ok?" {
		t.Fatalf("expected only the well-formed question to survive, got %+v", questions)
	}
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(chatReply(questionsJSON(2))))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "m", 5*time.Second)
	questions, err := client.Generate(context.Background(), "Biology", domain.DifficultyBeginner, 2)
	if err != nil {
		t.Fatalf("generate after retry: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(questions))
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("server hit %d times, want a single retry", hits)
	}
}

func TestGenerateSurfacesServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"error": {"message": "model overloaded"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "m", 5*time.Second)
	if _, err := client.Generate(context.Background(), "Biology", domain.DifficultyBeginner, 2); err == nil {
		t.Fatalf("expected the in-band service error to surface")
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{`[{"a":1}]`, `[{"a":1}]`},
		{"```json\n[1,2]\n```", "[1,2]"},
		{"```\n[1,2]\n```", "[1,2]"},
		{"  [1,2]  ", "[1,2]"},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Fatalf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
